// Package wayfinder wires the wearable's components together and runs them
// as supervised tasks.
package wayfinder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/teslashibe/go-wayfinder/internal/config"
	"github.com/teslashibe/go-wayfinder/pkg/actions"
	"github.com/teslashibe/go-wayfinder/pkg/command"
	"github.com/teslashibe/go-wayfinder/pkg/crowd"
	"github.com/teslashibe/go-wayfinder/pkg/detection"
	"github.com/teslashibe/go-wayfinder/pkg/events"
	"github.com/teslashibe/go-wayfinder/pkg/feed"
	"github.com/teslashibe/go-wayfinder/pkg/haptic"
	"github.com/teslashibe/go-wayfinder/pkg/hub"
	"github.com/teslashibe/go-wayfinder/pkg/ingress"
	"github.com/teslashibe/go-wayfinder/pkg/navigation"
	"github.com/teslashibe/go-wayfinder/pkg/power"
	"github.com/teslashibe/go-wayfinder/pkg/protocol"
	"github.com/teslashibe/go-wayfinder/pkg/sensor"
	"github.com/teslashibe/go-wayfinder/pkg/speech"
	"github.com/teslashibe/go-wayfinder/pkg/store"
	"github.com/teslashibe/go-wayfinder/pkg/telemetry"
	"github.com/teslashibe/go-wayfinder/pkg/threshold"
	"github.com/teslashibe/go-wayfinder/pkg/tts"
)

// fixMaxAge is how long a pushed GPS fix stays usable.
const fixMaxAge = 30 * time.Second

// Publisher receives events for the dashboard and telemetry.
type Publisher interface {
	Publish(msgType protocol.MessageType, data any)
}

// App is the wayfinder orchestrator. It owns every component and the
// shared State.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	state     *State
	events    *events.Bus
	dashboard *hub.Hub

	// Core
	power      *power.Manager
	thresholds *threshold.Adaptive
	voice      *tts.Voice
	broker     *speech.Broker
	speaker    *eventSpeaker
	crowd      *crowd.Monitor
	sensors    *sensor.Array
	haptic     *haptic.Controller
	dispatcher *command.Dispatcher
	pipeline   *Pipeline

	// Collaborators
	store     store.Store
	fixes     *navigation.LatestLocator
	navigator *navigation.Navigator
	alerter   *telemetry.AMQPAlerter
	mqtt      mqtt.Client
	publisher *telemetry.MQTTPublisher
	srcClose  io.Closer
	source    feed.Source
	detIn     *feed.Ingress

	// Transports
	intake *ingress.Intake
	server *ingress.Server
	poller *ingress.Poller
	udp    *ingress.UDPListener

	supervisor *Supervisor

	dashboardSub <-chan *protocol.Message
	telemetrySub <-chan *protocol.Message
}

// New validates cfg and returns an App. Call Init before Run.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &App{cfg: cfg, logger: logger.With("component", "wayfinder")}, nil
}

// Init builds every component. Optional collaborators that cannot be
// reached are logged and left out; only a broken core is an error.
func (a *App) Init(ctx context.Context) error {
	a.events = events.NewBus(a.logger)
	a.dashboard = hub.New("events", a.logger)

	if err := a.initSpeech(); err != nil {
		return fmt.Errorf("speech init: %w", err)
	}
	a.state = NewState(a.broker)

	a.initPower()
	a.initThresholds()
	a.crowd = crowd.New(a.speaker, crowd.Config{
		InactivityTimeout: a.cfg.Crowd.InactivityTimeout,
		PersonLimit:       a.cfg.Crowd.PersonLimit,
		CrowdCooldown:     a.cfg.Crowd.CrowdCooldown,
		Logger:            a.logger,
	})
	a.pipeline = NewPipeline(PipelineConfig{
		Thresholds: a.thresholds,
		Crowd:      a.crowd,
		Speaker:    a.speaker,
		State:      a.state,
		LowPower:   a.power.IsLowPower,
		MaxPerSide: a.cfg.Detection.MaxNamesPerSide,
		Events:     a.events,
	})

	if err := a.initStore(); err != nil {
		return fmt.Errorf("store init: %w", err)
	}

	a.initMessaging(ctx)
	if err := a.initHaptics(); err != nil {
		return fmt.Errorf("haptic init: %w", err)
	}

	a.fixes = navigation.NewLatestLocator(fixMaxAge)
	a.intake = ingress.NewIntake(ingress.DefaultBuffer, a.sensors, a.fixes, a.logger)
	a.initCommands()
	a.initFeed()
	a.initTransports()

	a.supervisor = NewSupervisor(SupervisorConfig{
		Stagger:          a.cfg.Orchestrator.Stagger,
		LivenessInterval: a.cfg.Orchestrator.LivenessInterval,
		MaxRestarts:      a.cfg.Orchestrator.MaxRestarts,
		RestartDelay:     a.cfg.Orchestrator.RestartDelay,
		Events:           a.events,
		Logger:           a.logger,
	})

	a.dashboardSub = a.events.Subscribe()
	if a.publisher != nil {
		a.telemetrySub = a.events.Subscribe()
	}
	return nil
}

// Run starts the tasks and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	tasks := a.Tasks()
	a.logger.Info("starting", "tasks", len(tasks), "stagger", a.cfg.Orchestrator.Stagger)
	return a.supervisor.Run(ctx, tasks)
}

// Shutdown halts announcements, drains speech within the configured
// bound and releases resources. Tasks are not waited for.
func (a *App) Shutdown() {
	a.logger.Info("shutting down")
	a.state.SetHalted(true)

	if err := a.broker.Stop(a.cfg.Speech.StopTimeout); err != nil {
		a.logger.Warn("speech did not stop cleanly", "error", err)
	}
	if !a.dispatcher.Wait(a.cfg.Commands.HandlerDrainTimeout) {
		a.logger.Warn("command handlers still running at shutdown")
	}
	if a.haptic != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Haptic.Timeout)
		if err := a.haptic.Off(ctx); err != nil {
			a.logger.Warn("failed to switch vibration off", "error", err)
		}
		cancel()
	}

	var errs []error
	if a.alerter != nil {
		errs = append(errs, a.alerter.Close())
	}
	if a.srcClose != nil {
		errs = append(errs, a.srcClose.Close())
	}
	if a.mqtt != nil && a.mqtt.IsConnected() {
		a.mqtt.Disconnect(250)
	}
	errs = append(errs, a.voice.Close(), a.store.Close())
	a.events.Close()

	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("shutdown errors", "error", err)
	}
	a.logger.Info("goodbye")
}

func (a *App) initSpeech() error {
	provider, err := a.newProvider()
	if err != nil {
		return err
	}

	player := tts.NewPlayer("aplay", "-q")
	if p := a.cfg.Speech.Player; len(p) > 0 {
		player = tts.NewPlayer(p[0], p[1:]...)
	}
	a.voice = tts.NewVoice(provider, player)

	a.broker = speech.New(a.voice, speech.Config{
		QueueSize: a.cfg.Speech.QueueSize,
		Timeout:   a.cfg.Speech.Timeout,
		Logger:    a.logger,
	})
	a.speaker = &eventSpeaker{broker: a.broker, events: a.events}
	return nil
}

func (a *App) newProvider() (tts.Provider, error) {
	sc := a.cfg.Speech

	local := func() (tts.Provider, error) {
		opts := []tts.Option{tts.WithLogger(a.logger), tts.WithTimeout(sc.Timeout)}
		if len(sc.Command) > 0 {
			opts = append(opts, tts.WithCommand(sc.Command[0], sc.Command[1:]...))
		}
		return tts.NewCommand(opts...)
	}
	openai := func() (tts.Provider, error) {
		return tts.NewOpenAI(
			tts.WithAPIKey(sc.OpenAIKey),
			tts.WithVoice(sc.OpenAIVoice),
			tts.WithModel(sc.OpenAIModel),
			tts.WithLogger(a.logger),
		)
	}

	switch sc.Provider {
	case "openai":
		return openai()
	case "chain":
		cloud, err := openai()
		if err != nil {
			return nil, err
		}
		device, err := local()
		if err != nil {
			return nil, err
		}
		return tts.NewChain(a.logger, cloud, device)
	default:
		return local()
	}
}

func (a *App) initPower() {
	pc := a.cfg.Power
	intervals := make(map[power.Task]time.Duration, len(pc.Intervals))
	for name, d := range pc.Intervals {
		intervals[power.Task(name)] = d
	}
	a.power = power.New(power.Config{
		Window:          pc.Window,
		HighLoad:        pc.HighLoad,
		LowLoad:         pc.LowLoad,
		Intervals:       intervals,
		SampleInterval:  pc.SampleInterval,
		ReclaimInterval: pc.ReclaimInterval,
		Sampler:         power.SystemSampler{},
		Logger:          a.logger,
	})
	a.power.OnChange(func(s power.State) {
		a.events.Publish(protocol.TypePower, protocol.PowerData{State: s.String(), AvgLoad: a.power.Average()})
	})
}

func (a *App) initThresholds() {
	dc := a.cfg.Detection
	mapper := detection.CategoryMapper(detection.Identity)
	if dc.UseCategories {
		mapper = detection.Category
	}
	a.thresholds = threshold.New(threshold.Config{
		Base:          dc.BaseThreshold,
		Classes:       dc.ClassThresholds,
		Cooldown:      dc.Cooldown,
		HistorySize:   dc.HistorySize,
		MinHistory:    dc.MinHistory,
		LowPowerScale: dc.LowPowerScale,
		Mapper:        mapper,
		LowPower:      a.power.IsLowPower,
		Logger:        a.logger,
	})
}

func (a *App) initStore() error {
	sc := a.cfg.Store
	var err error
	switch sc.Backend {
	case "sqlite":
		a.store, err = store.NewSQLiteStore(sc.SQLitePath)
	default:
		a.store, err = store.NewJSONStore(sc.LocationsPath, sc.ContactPath)
	}
	if err != nil {
		return err
	}
	if number, err := a.store.Contact(context.Background()); err == nil {
		a.logger.Info("emergency contact loaded", "number", number)
	}
	return nil
}

// initMessaging connects MQTT and prepares the AMQP alerter. Both are
// optional and reconnect on their own.
func (a *App) initMessaging(ctx context.Context) {
	mc := a.cfg.MQTT
	if mc.Enabled {
		tcfg := telemetry.MQTTConfig{
			Broker:      mc.Broker,
			ClientID:    mc.ClientID,
			Username:    mc.Username,
			Password:    mc.Password,
			TopicPrefix: mc.TopicPrefix,
			QoS:         mc.QoS,
			Logger:      a.logger,
		}
		a.mqtt = telemetry.NewMQTTClient(tcfg)
		if err := telemetry.Connect(a.mqtt, telemetry.ConnectTimeout); err != nil {
			a.logger.Warn("mqtt not connected yet, retrying in background", "error", err)
		}
		a.publisher = telemetry.NewMQTTPublisher(a.mqtt, tcfg)
	}

	if a.cfg.AMQP.Enabled {
		a.alerter = telemetry.NewAMQPAlerter(a.cfg.AMQP.URL, a.cfg.AMQP.Exchange, a.cfg.AMQP.RoutingKey, a.logger)
	}
}

func (a *App) initHaptics() error {
	hc := a.cfg.Haptic
	a.sensors = sensor.NewArray(hc.Sensors, hc.SensorMaxAge)
	if len(hc.Sensors) == 0 {
		return nil
	}

	var actuator haptic.Actuator
	switch hc.Transport {
	case "mqtt":
		if a.mqtt == nil {
			return errors.New("mqtt actuator requires mqtt to be enabled")
		}
		topic := hc.ActuatorTopic
		if topic == "" {
			topic = a.cfg.MQTT.TopicPrefix + "/vibrate"
		}
		actuator = haptic.NewMQTTActuator(a.mqtt, topic, a.cfg.MQTT.QoS, hc.Timeout)
	default:
		actuator = haptic.NewHTTPActuator(hc.ActuatorURL, hc.Timeout)
	}

	a.haptic = haptic.NewController(a.sensors.Sensors(), actuator, haptic.Config{
		SensorCount: hc.SensorCount,
		ThresholdCM: hc.ThresholdCM,
		Timeout:     hc.Timeout,
		OnChange: func(on bool, readings []float64) {
			a.events.Publish(protocol.TypeHaptic, protocol.HapticData{On: on, Readings: readings})
		},
		Logger: a.logger,
	})
	return nil
}

func (a *App) initNavigation() (*navigation.Navigator, navigation.Locator) {
	nc := a.cfg.Navigation

	var locator navigation.Locator = a.fixes
	if nc.GPSURL != "" {
		locator = navigation.NewHTTPLocator(nc.GPSURL, nc.Timeout)
	}

	var online, offline navigation.Geocoder
	if nc.GeocodeKey != "" {
		online = navigation.NewOpenCage(nc.GeocodeURL, nc.GeocodeKey, nc.CountryCode, nc.Timeout)
	}
	if gaz, err := navigation.LoadGazetteer(nc.GazetteerPath, nc.FuzzyCutoff); err != nil {
		a.logger.Warn("offline gazetteer unavailable", "path", nc.GazetteerPath, "error", err)
	} else if gaz.Len() > 0 {
		offline = gaz
	}

	resolver := navigation.NewResolver(a.store, online, offline, a.logger)
	router := navigation.NewGraphHopper(nc.RoutingURL, nc.Vehicle, nc.Timeout, a.logger)
	nav := navigation.NewNavigator(locator, resolver, router, a.speaker, navigation.NavigatorConfig{
		ArrivalRadiusM: nc.ArrivalRadiusM,
		StepInterval:   nc.StepInterval,
		Logger:         a.logger,
	})
	return nav, locator
}

func (a *App) initCommands() {
	var locator navigation.Locator
	a.navigator, locator = a.initNavigation()

	deps := actions.Deps{
		Speaker:    a.speaker,
		Thresholds: a.thresholds,
		Halt:       a.state,
		Navigator:  a.navigator,
		Listener:   a.intake,
		Locator:    locator,
		Locations:  a.store,
		Contacts:   a.store,
		Events:     a.events,
	}
	if a.alerter != nil {
		deps.Alerter = a.alerter
	}
	handlers := actions.New(deps, actions.Config{
		PredefinedContactPath: a.cfg.Commands.PredefinedContact,
		DefaultContact:        a.cfg.Commands.DefaultContact,
		Logger:                a.logger,
	})

	a.dispatcher = command.NewDispatcher(command.Config{
		Cooldown: a.cfg.Commands.Cooldown,
		OnDispatch: func(cmd command.Command) {
			a.events.Publish(protocol.TypeCommand, protocol.CommandData{
				ID:     cmd.ID,
				Source: cmd.Source,
				Code:   cmd.Code,
				Intent: cmd.Intent.String(),
				Text:   cmd.Text,
			})
		},
		Logger: a.logger,
	})
	handlers.Register(a.dispatcher)
}

func (a *App) initFeed() {
	fc := a.cfg.Detection.Feed
	switch fc.Mode {
	case "websocket":
		a.source = feed.NewWSClient(fc.URL, fc.ReconnectDelay, a.logger)
	case "ingress":
		a.detIn = feed.NewIngress(8, a.logger)
		a.source = a.detIn
	case "", "none":
	default:
		src, err := feed.Open(fc.Mode, feed.Options{
			Device:         fc.CameraURL,
			ModelPath:      fc.ModelPath,
			ScoreThreshold: fc.ScoreThreshold,
			Annotate:       fc.Annotate,
			Interval:       a.power.Interval(power.TaskDetection),
			Logger:         a.logger,
		})
		if err != nil {
			a.logger.Warn("detection source unavailable, detection disabled", "mode", fc.Mode, "error", err)
			return
		}
		a.source = src
		if c, ok := src.(io.Closer); ok {
			a.srcClose = c
		}
	}
}

func (a *App) initTransports() {
	cc := a.cfg.Commands
	if cc.PollURL != "" {
		a.poller = ingress.NewPoller(cc.PollURL, cc.PollTimeout, a.power.Interval(power.TaskButtons), a.intake, a.logger)
	}
	if cc.UDPAddr != "" {
		a.udp = ingress.NewUDPListener(cc.UDPAddr, a.intake, a.logger)
	}
	if a.cfg.Server.Enabled {
		var extra []ingress.RouteRegistrar
		if a.detIn != nil {
			extra = append(extra, a.detIn)
		}
		a.server = ingress.NewServer(ingress.ServerConfig{
			Addr:   a.cfg.Server.Addr,
			Status: func() any { return a.Status() },
			Frame:  a.state.Frame,
			Logger: a.logger,
		}, a.intake, a.dashboard, extra...)
	}
}

// eventSpeaker forwards to the broker and reports each utterance.
type eventSpeaker struct {
	broker *speech.Broker
	events Publisher
}

func (s *eventSpeaker) Speak(text string) bool {
	ok := s.broker.Speak(text)
	s.events.Publish(protocol.TypeSpeech, protocol.SpeechData{Text: text, Queued: ok})
	return ok
}

func (s *eventSpeaker) SpeakPriority(text string) bool {
	ok := s.broker.SpeakPriority(text)
	s.events.Publish(protocol.TypeSpeech, protocol.SpeechData{Text: text, Priority: true, Queued: ok})
	return ok
}

var (
	_ actions.Speaker    = (*eventSpeaker)(nil)
	_ actions.HaltSwitch = (*State)(nil)
	_ actions.Listener   = (*ingress.Intake)(nil)
	_ Halter             = (*speech.Broker)(nil)
)
