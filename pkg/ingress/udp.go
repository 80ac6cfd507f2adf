package ingress

import (
	"context"
	"errors"
	"log/slog"
	"net"

	"github.com/teslashibe/go-wayfinder/pkg/protocol"
)

// maxDatagram bounds one board payload.
const maxDatagram = 2048

// UDPListener accepts board payloads as JSON datagrams.
type UDPListener struct {
	addr   string
	intake *Intake
	logger *slog.Logger
}

// NewUDPListener listens on addr, e.g. ":9999".
func NewUDPListener(addr string, intake *Intake, logger *slog.Logger) *UDPListener {
	if logger == nil {
		logger = slog.Default()
	}
	return &UDPListener{
		addr:   addr,
		intake: intake,
		logger: logger.With("component", "ingress.udp", "addr", addr),
	}
}

// Run binds the socket and serves until ctx is cancelled.
func (u *UDPListener) Run(ctx context.Context) error {
	var lc net.ListenConfig
	pc, err := lc.ListenPacket(ctx, "udp", u.addr)
	if err != nil {
		return err
	}
	u.logger.Info("listening")
	return u.Serve(ctx, pc)
}

// Serve reads datagrams from pc and closes it when ctx is cancelled.
func (u *UDPListener) Serve(ctx context.Context, pc net.PacketConn) error {
	defer pc.Close()
	stop := context.AfterFunc(ctx, func() { pc.Close() })
	defer stop()

	buf := make([]byte, maxDatagram)
	for {
		n, from, err := pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		p, err := protocol.ParseDevicePayload(buf[:n])
		if err != nil {
			u.logger.Debug("dropping datagram", "from", from, "error", err)
			continue
		}
		u.intake.Apply(TransportUDP, p)
	}
}
