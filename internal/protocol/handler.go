package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"github.com/campusgate/doorlock/internal/doorlock"
)

// Directory is the card/device lookup surface the handler needs.
type Directory interface {
	FetchCardByTag(ctx context.Context, tag string) (doorlock.CardCredential, error)
	RecordHeartbeat(ctx context.Context, deviceID int64, telemetry doorlock.Telemetry) error
}

// Publisher sends a payload on the message transport.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Handler processes inbound transport messages.
type Handler struct {
	directory Directory
	publisher Publisher
	namespace string
	logger    *slog.Logger
	metrics   *Metrics
	validate  *validator.Validate
}

// NewHandler builds a Handler publishing commands under namespace.
func NewHandler(directory Directory, publisher Publisher, namespace string, logger *slog.Logger, metrics *Metrics) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		directory: directory,
		publisher: publisher,
		namespace: namespace,
		logger:    logger.With(slog.String("component", "protocol")),
		metrics:   metrics,
		validate:  validator.New(),
	}
}

// HandleMessage routes one inbound message. It never returns an error:
// malformed input is logged and dropped, lookup failures become deny commands.
func (h *Handler) HandleMessage(ctx context.Context, topic string, payload []byte) {
	t, err := ParseTopic(topic)
	if err != nil {
		h.metrics.event("unknown", "malformed")
		h.logger.Warn("ignoring message on unrecognised topic", slog.String("topic", topic), slog.Any("error", err))
		return
	}
	logger := h.logger.With(slog.String("topic", topic), slog.Int64("device_id", t.DeviceID))

	if t.Kind == KindStatus {
		h.handleStatus(ctx, logger, t, payload)
		return
	}
	switch t.Event {
	case EventRFID:
		h.handleCardRead(ctx, logger, t, payload)
	case EventButton:
		h.handleButton(ctx, logger, t)
	default:
		h.metrics.event(t.Event, "ignored")
		logger.Debug("ignoring unsupported event type", slog.String("event", t.Event))
	}
}

func (h *Handler) handleCardRead(ctx context.Context, logger *slog.Logger, t Topic, payload []byte) {
	var read CardRead
	if err := json.Unmarshal(payload, &read); err != nil {
		h.metrics.event(EventRFID, "malformed")
		logger.Warn("rfid payload is not valid json", slog.Any("error", err))
		return
	}
	if err := h.validate.Struct(read); err != nil {
		h.metrics.event(EventRFID, "malformed")
		logger.Warn("rfid payload rejected", slog.Any("error", err))
		return
	}

	card, lookupErr := h.directory.FetchCardByTag(ctx, read.Tag)
	decision := Decide(card, lookupErr)
	if lookupErr != nil && !errors.Is(lookupErr, doorlock.ErrNotFound) {
		logger.Error("card lookup failed, denying", slog.String("tag", read.Tag), slog.Any("error", lookupErr))
	}
	if read.Authorized != nil && *read.Authorized != (decision.Action == ActionOpen) {
		logger.Debug("device verdict overridden", slog.Bool("device_authorized", *read.Authorized))
	}

	attrs := []any{
		slog.String("tag", read.Tag),
		slog.String("action", string(decision.Action)),
		slog.String("reason", decision.Reason),
	}
	if card.OwnerID != nil {
		attrs = append(attrs, slog.Int64("user_id", *card.OwnerID))
	}
	logger.Info("access decision", attrs...)
	h.metrics.event(EventRFID, "ok")
	h.metrics.decision(decision)

	h.send(ctx, logger, t.DeviceID, decision.Command())
}

func (h *Handler) handleButton(ctx context.Context, logger *slog.Logger, t Topic) {
	logger.Info("exit button pressed")
	if err := h.directory.RecordHeartbeat(ctx, t.DeviceID, doorlock.Telemetry{}); err != nil {
		h.metrics.event(EventButton, "error")
		logger.Warn("record heartbeat for button event", slog.Any("error", err))
		return
	}
	h.metrics.event(EventButton, "ok")
}

func (h *Handler) handleStatus(ctx context.Context, logger *slog.Logger, t Topic, payload []byte) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		h.metrics.event(TypePing, "malformed")
		logger.Warn("status payload is not valid json", slog.Any("error", err))
		return
	}
	if env.Type != TypePing {
		h.metrics.event("status", "ignored")
		logger.Debug("ignoring status message", slog.String("type", env.Type))
		return
	}
	var ping Ping
	if err := json.Unmarshal(payload, &ping); err != nil {
		h.metrics.event(TypePing, "malformed")
		logger.Warn("ping payload rejected", slog.Any("error", err))
		return
	}
	if err := h.directory.RecordHeartbeat(ctx, t.DeviceID, ping.Telemetry); err != nil {
		h.metrics.event(TypePing, "error")
		if errors.Is(err, doorlock.ErrNotFound) {
			logger.Warn("heartbeat from unknown device")
			return
		}
		logger.Error("record heartbeat", slog.Any("error", err))
		return
	}
	h.metrics.event(TypePing, "ok")
	for subsystem, failing := range ping.Errors {
		if failing {
			logger.Warn("device reports subsystem error", slog.String("subsystem", subsystem))
		}
	}
}

func (h *Handler) send(ctx context.Context, logger *slog.Logger, deviceID int64, cmd Command) {
	raw, err := json.Marshal(cmd)
	if err != nil {
		logger.Error("encode command", slog.Any("error", err))
		return
	}
	topic := CommandTopic(h.namespace, deviceID)
	if err := h.publisher.Publish(ctx, topic, raw); err != nil {
		logger.Error("publish command", slog.String("command_topic", topic), slog.Any("error", err))
	}
}
