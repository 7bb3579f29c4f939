package doorlock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/campusgate/doorlock/internal/shared"
)

// RepositoryPort is the persistence surface of the directory.
type RepositoryPort interface {
	ListCards(ctx context.Context, filter CardFilter) ([]CardWithRelations, error)
	GetCard(ctx context.Context, id int64) (CardWithRelations, error)
	CardByTag(ctx context.Context, tag string) (CardCredential, error)
	ReplaceCardDevices(ctx context.Context, cardID int64, deviceIDs []int64) ([]int64, bool, error)
	SetCardState(ctx context.Context, cardID int64, input CardStateInput) ([]int64, error)
	DeviceCredentials(ctx context.Context, deviceID int64) ([]Credential, error)
	DeviceByToken(ctx context.Context, digest string) (Device, error)
	RecordHeartbeat(ctx context.Context, deviceID int64, at time.Time, telemetry Telemetry) error
}

// Syncer pushes the current credential list to a connected device.
type Syncer interface {
	SyncDevice(ctx context.Context, deviceID int64) error
}

// Service is the card/device directory.
type Service struct {
	repo   RepositoryPort
	logger *slog.Logger
	clock  func() time.Time

	mu     sync.RWMutex
	syncer Syncer
}

// NewService builds the directory.
func NewService(repo RepositoryPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		logger: logger.With(slog.String("component", "directory")),
		clock:  func() time.Time { return time.Now().UTC() },
	}
}

// SetSyncer attaches the push path used after authorization changes.
// The gateway depends on the directory, so it is wired after construction.
func (s *Service) SetSyncer(syncer Syncer) {
	s.mu.Lock()
	s.syncer = syncer
	s.mu.Unlock()
}

// FetchCards returns cards with owner and authorized devices, most recently updated first.
func (s *Service) FetchCards(ctx context.Context, filter CardFilter) ([]CardWithRelations, error) {
	cards, err := s.repo.ListCards(ctx, filter)
	if err != nil {
		return nil, storeErr("fetch cards", err)
	}
	return cards, nil
}

// FetchCardByID returns ErrNotFound when the card does not exist.
func (s *Service) FetchCardByID(ctx context.Context, id int64) (CardWithRelations, error) {
	card, err := s.repo.GetCard(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return CardWithRelations{}, err
		}
		return CardWithRelations{}, storeErr("fetch card", err)
	}
	return card, nil
}

// FetchCardByTag is the authorization hot path. Unknown tags yield ErrNotFound
// tagged with shared.ErrUnknownCredential.
func (s *Service) FetchCardByTag(ctx context.Context, tag string) (CardCredential, error) {
	card, err := s.repo.CardByTag(ctx, tag)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return CardCredential{}, fmt.Errorf("%w: %w", err, shared.ErrUnknownCredential)
		}
		return CardCredential{}, storeErr("fetch card by tag", err)
	}
	return card, nil
}

// ReplaceAuthorizedDevices atomically replaces the device set of a card with
// the de-duplicated deviceIDs. Replacing on an unknown card succeeds and
// changes nothing. Every device that gained or lost the card is re-synced.
func (s *Service) ReplaceAuthorizedDevices(ctx context.Context, cardID int64, deviceIDs []int64) error {
	sanitized := SanitizeDeviceIDs(deviceIDs)
	previous, found, err := s.repo.ReplaceCardDevices(ctx, cardID, sanitized)
	if err != nil {
		if errors.Is(err, ErrUnknownDevice) {
			return err
		}
		return storeErr("replace authorized devices", err)
	}
	if !found {
		s.logger.Debug("replace on unknown card ignored", slog.Int64("card_id", cardID))
		return nil
	}
	s.logger.Info("authorized devices replaced",
		slog.Int64("card_id", cardID),
		slog.Any("previous", previous),
		slog.Any("current", sanitized),
	)
	s.resync(ctx, append(previous, sanitized...))
	return nil
}

// SetCardState freezes/unfreezes or disables/enables a card and re-syncs its devices.
func (s *Service) SetCardState(ctx context.Context, cardID int64, input CardStateInput) error {
	deviceIDs, err := s.repo.SetCardState(ctx, cardID, input)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return storeErr("set card state", err)
	}
	s.logger.Info("card state changed",
		slog.Int64("card_id", cardID),
		slog.Any("frozen", input.Frozen),
		slog.Any("disabled", input.Disabled),
	)
	s.resync(ctx, deviceIDs)
	return nil
}

// DeviceCredentials returns the {name, uid} list a device should recognize.
func (s *Service) DeviceCredentials(ctx context.Context, deviceID int64) ([]Credential, error) {
	creds, err := s.repo.DeviceCredentials(ctx, deviceID)
	if err != nil {
		return nil, storeErr("device credentials", err)
	}
	if creds == nil {
		creds = []Credential{}
	}
	return creds, nil
}

// DeviceByToken resolves a channel bearer token. Blank and unknown tokens yield ErrNotFound.
func (s *Service) DeviceByToken(ctx context.Context, token string) (Device, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Device{}, ErrNotFound
	}
	device, err := s.repo.DeviceByToken(ctx, HashToken(token))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Device{}, err
		}
		return Device{}, storeErr("device by token", err)
	}
	return device, nil
}

// RecordHeartbeat is the only path that brings a device back online.
func (s *Service) RecordHeartbeat(ctx context.Context, deviceID int64, telemetry Telemetry) error {
	err := s.repo.RecordHeartbeat(ctx, deviceID, s.clock(), telemetry)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return storeErr("record heartbeat", err)
	}
	return nil
}

func (s *Service) resync(ctx context.Context, deviceIDs []int64) {
	s.mu.RLock()
	syncer := s.syncer
	s.mu.RUnlock()
	if syncer == nil {
		return
	}
	for _, id := range SanitizeDeviceIDs(deviceIDs) {
		if err := syncer.SyncDevice(ctx, id); err != nil {
			s.logger.Warn("device resync failed", slog.Int64("device_id", id), slog.Any("error", err))
		}
	}
}

// SanitizeDeviceIDs drops non-positive ids and duplicates, returning ids in ascending order.
func SanitizeDeviceIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func storeErr(op string, err error) error {
	return fmt.Errorf("doorlock: %s: %w: %w", op, shared.ErrStore, err)
}
