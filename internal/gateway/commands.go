package gateway

import (
	"context"
	"log/slog"
	"strings"

	"golang.org/x/text/cases"

	"github.com/campusgate/doorlock/internal/protocol"
)

// CommandUnlock is the only in-channel command devices may send.
const CommandUnlock = "unlock"

// CommandDispatcher interprets free-text frames sent by a device.
type CommandDispatcher struct {
	hub    *Hub
	logger *slog.Logger
}

// NewCommandDispatcher builds a dispatcher replying through hub.
func NewCommandDispatcher(hub *Hub, logger *slog.Logger) *CommandDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandDispatcher{hub: hub, logger: logger}
}

// Normalize trims and case-folds a raw frame. A Caser holds state, so each call gets its own.
func Normalize(frame string) string {
	return cases.Fold().String(strings.TrimSpace(frame))
}

// Dispatch handles one frame from the device bound to ctx by ContextWithDevice.
// It reports whether the command was recognized.
func (d *CommandDispatcher) Dispatch(ctx context.Context, frame string) bool {
	device, ok := DeviceFromContext(ctx)
	if !ok {
		d.logger.Error("channel command without device context")
		return false
	}
	logger := d.logger.With(slog.Int64("device_id", device.ID))
	switch cmd := Normalize(frame); cmd {
	case CommandUnlock:
		n := d.hub.Publish(ctx, DeviceTopic(device.ID), protocol.OpenDoor(device.Name))
		logger.Info("channel unlock", slog.Int("delivered", n))
		return true
	default:
		logger.Warn("ignoring unknown channel command", slog.String("command", cmd))
		return false
	}
}
