package gateway

import (
	"context"

	"github.com/campusgate/doorlock/internal/doorlock"
)

type deviceContextKey struct{}

// ContextWithDevice attaches the authenticated device to ctx.
func ContextWithDevice(ctx context.Context, device doorlock.Device) context.Context {
	return context.WithValue(ctx, deviceContextKey{}, device)
}

// DeviceFromContext returns the device bound to a channel context.
func DeviceFromContext(ctx context.Context) (doorlock.Device, bool) {
	device, ok := ctx.Value(deviceContextKey{}).(doorlock.Device)
	return device, ok
}
