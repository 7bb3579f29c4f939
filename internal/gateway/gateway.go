package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/campusgate/doorlock/internal/doorlock"
	"github.com/campusgate/doorlock/internal/platform/httpx"
	"github.com/campusgate/doorlock/internal/protocol"
	"github.com/campusgate/doorlock/internal/shared"
)

// TokenHeader carries the device bearer token on channel open.
const TokenHeader = "X-Device-Token"

const (
	pushBuffer   = 16
	writeTimeout = 5 * time.Second
)

// Directory resolves devices and the credentials they should hold.
type Directory interface {
	DeviceByToken(ctx context.Context, token string) (doorlock.Device, error)
	DeviceCredentials(ctx context.Context, deviceID int64) ([]doorlock.Credential, error)
}

// Options tunes the gateway.
type Options struct {
	// RateLimit is the channel-open requests allowed per IP per minute. Zero disables limiting.
	RateLimit int
	Metrics   *Metrics
}

// Gateway accepts device channels and pushes messages to them.
type Gateway struct {
	directory Directory
	hub       *Hub
	commands  *CommandDispatcher
	logger    *slog.Logger
	metrics   *Metrics
	rateLimit int
}

// New builds a Gateway publishing through hub.
func New(directory Directory, hub *Hub, logger *slog.Logger, opts Options) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "gateway"))
	return &Gateway{
		directory: directory,
		hub:       hub,
		commands:  NewCommandDispatcher(hub, logger),
		logger:    logger,
		metrics:   opts.Metrics,
		rateLimit: opts.RateLimit,
	}
}

// MountRoutes registers the channel endpoint.
func (g *Gateway) MountRoutes(r chi.Router) {
	if g.rateLimit > 0 {
		r = r.With(httprate.LimitByIP(g.rateLimit, time.Minute))
	}
	r.Get("/", g.ServeHTTP)
}

// ServeHTTP authenticates the device and runs the channel until either side closes it.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.Header.Get(TokenHeader))
	if token == "" {
		g.metrics.reject("missing_token")
		httpx.RespondError(w, fmt.Errorf("%w: missing device token", shared.ErrUnauthorizedChannel))
		return
	}
	device, err := g.directory.DeviceByToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, doorlock.ErrNotFound) {
			g.metrics.reject("unknown_token")
			httpx.RespondError(w, fmt.Errorf("%w: unknown device token", shared.ErrUnauthorizedChannel))
			return
		}
		g.metrics.reject("error")
		g.logger.Error("channel authentication", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		g.logger.Warn("channel upgrade failed", slog.Int64("device_id", device.ID), slog.Any("error", err))
		return
	}
	g.metrics.opened()
	defer g.metrics.closed()

	ctx, cancel := context.WithCancel(ContextWithDevice(r.Context(), device))
	defer cancel()
	g.serve(ctx, conn, device)
}

func (g *Gateway) serve(ctx context.Context, conn *websocket.Conn, device doorlock.Device) {
	logger := g.logger.With(slog.Int64("device_id", device.ID))
	sub := g.hub.Subscribe(DeviceTopic(device.ID), pushBuffer)
	defer g.hub.Unsubscribe(sub)
	logger.Info("channel opened", slog.String("subscription", sub.ID))

	creds, err := g.directory.DeviceCredentials(ctx, device.ID)
	if err != nil {
		logger.Error("initial credential sync", slog.Any("error", err))
	} else if err := g.write(ctx, conn, protocol.SyncDatabase(creds)); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "write_failed")
		return
	}

	readErr := make(chan error, 1)
	go func() {
		for {
			typ, data, err := conn.Read(ctx)
			if err != nil {
				readErr <- err
				return
			}
			if typ != websocket.MessageText {
				logger.Debug("ignoring binary frame")
				continue
			}
			g.commands.Dispatch(ctx, string(data))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusGoingAway, "closed")
			return
		case err := <-readErr:
			logger.Info("channel closed", slog.String("reason", closeReason(err)))
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case msg, ok := <-sub.C():
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "shutdown")
				return
			}
			if err := g.write(ctx, conn, msg); err != nil {
				logger.Warn("channel push failed", slog.String("type", msg.Type), slog.Any("error", err))
				_ = conn.Close(websocket.StatusInternalError, "write_failed")
				return
			}
		}
	}
}

func (g *Gateway) write(ctx context.Context, conn *websocket.Conn, msg protocol.ChannelMessage) error {
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := wsjson.Write(writeCtx, conn, msg); err != nil {
		g.metrics.push(msg.Type, "error")
		return err
	}
	g.metrics.push(msg.Type, "ok")
	return nil
}

// SyncDevice pushes the device's current credential list to its open channels.
func (g *Gateway) SyncDevice(ctx context.Context, deviceID int64) error {
	creds, err := g.directory.DeviceCredentials(ctx, deviceID)
	if err != nil {
		return fmt.Errorf("gateway: sync device %d: %w", deviceID, err)
	}
	n := g.hub.Publish(ctx, DeviceTopic(deviceID), protocol.SyncDatabase(creds))
	g.logger.Debug("credential sync queued", slog.Int64("device_id", deviceID), slog.Int("channels", n))
	return nil
}

// PushUpdate asks the device's open channels to fetch firmware from url.
func (g *Gateway) PushUpdate(ctx context.Context, deviceID int64, url string) int {
	return g.hub.Publish(ctx, DeviceTopic(deviceID), protocol.Update(url))
}

func closeReason(err error) string {
	if status := websocket.CloseStatus(err); status != -1 {
		return status.String()
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return err.Error()
}
