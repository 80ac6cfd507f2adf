package ingress

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-wayfinder/pkg/command"
	"github.com/teslashibe/go-wayfinder/pkg/hub"
	"github.com/teslashibe/go-wayfinder/pkg/protocol"
)

// RouteRegistrar mounts extra routes, such as the detector websocket.
type RouteRegistrar interface {
	RegisterRoutes(r fiber.Router)
}

// ServerConfig configures a Server.
type ServerConfig struct {
	Addr string
	// Status returns the body of GET /api/status.
	Status func() any
	// Frame returns the latest annotated JPEG, or nil.
	Frame  func() []byte
	Logger *slog.Logger
}

// Server is the device and dashboard HTTP server.
type Server struct {
	app    *fiber.App
	cfg    ServerConfig
	intake *Intake
	events *hub.Hub
	logger *slog.Logger
}

// NewServer builds the app. events may be nil to disable /ws/events.
func NewServer(cfg ServerConfig, intake *Intake, events *hub.Hub, extra ...RouteRegistrar) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		intake: intake,
		events: events,
		logger: logger.With("component", "ingress.server"),
	}

	app := fiber.New(fiber.Config{
		AppName:               "Wayfinder",
		DisableStartupMessage: true,
		BodyLimit:             64 * 1024,
	})
	app.Use(recover.New())
	app.Use(cors.New())

	app.Get("/healthz", func(c *fiber.Ctx) error { return c.SendString("ok") })
	app.Post("/esp32/data", s.handleDevice)

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/frame.jpg", s.handleFrame)
	api.Post("/voice", s.handleVoice)
	api.Post("/commands/:code", s.handleCommand)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	if events != nil {
		app.Get("/ws/events", websocket.New(func(c *websocket.Conn) {
			hub.NewClient(s.events, c).Run()
		}))
	}
	for _, r := range extra {
		r.RegisterRoutes(app)
	}

	s.app = app
	return s
}

// Run serves until ctx is cancelled, then shuts down within 3s.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.cfg.Addr)
		errCh <- s.app.Listen(s.cfg.Addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.app.ShutdownWithTimeout(3 * time.Second)
	}
}

func (s *Server) handleDevice(c *fiber.Ctx) error {
	p, err := protocol.ParseDevicePayload(c.Body())
	if err != nil {
		s.logger.Debug("bad device payload", "error", err, "ip", c.IP())
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	s.intake.Apply(TransportHTTP, p)
	return c.JSON(fiber.Map{"status": "ok"})
}

// VoiceRequest is the body of POST /api/voice.
type VoiceRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleVoice(c *fiber.Ctx) error {
	var req VoiceRequest
	if err := c.BodyParser(&req); err != nil || req.Text == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "text is required",
		})
	}
	if s.intake.SubmitVoice(req.Text) {
		return c.JSON(fiber.Map{"status": "answered"})
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"status": "queued",
		"intent": command.Classify(req.Text),
	})
}

func (s *Server) handleCommand(c *fiber.Ctx) error {
	code := c.Params("code")
	cmd, ok := command.FromCode(command.SourceAPI, code)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "unknown command code " + code,
		})
	}
	if !s.intake.Submit(cmd) {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "command queue full",
		})
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"id":     cmd.ID,
		"intent": cmd.Intent,
	})
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	if s.cfg.Status == nil {
		return c.JSON(fiber.Map{"intake": s.intake.Stats()})
	}
	return c.JSON(s.cfg.Status())
}

func (s *Server) handleFrame(c *fiber.Ctx) error {
	if s.cfg.Frame == nil {
		return fiber.ErrNotFound
	}
	frame := s.cfg.Frame()
	if len(frame) == 0 {
		return fiber.ErrNotFound
	}
	c.Set(fiber.HeaderContentType, "image/jpeg")
	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.Send(frame)
}
