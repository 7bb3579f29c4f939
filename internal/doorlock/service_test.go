package doorlock

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/campusgate/doorlock/internal/shared"
)

type memoryRepo struct {
	mu      sync.Mutex
	cards   map[int64]Card
	devices map[int64]Device
	links   map[int64]map[int64]struct{}
	err     error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		cards:   make(map[int64]Card),
		devices: make(map[int64]Device),
		links:   make(map[int64]map[int64]struct{}),
	}
}

func (r *memoryRepo) joinedRows(filter func(Card) bool) []cardRow {
	ids := make([]int64, 0, len(r.cards))
	for id := range r.cards {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := r.cards[ids[i]], r.cards[ids[j]]
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.ID > b.ID
	})
	var rows []cardRow
	for _, id := range ids {
		card := r.cards[id]
		if filter != nil && !filter(card) {
			continue
		}
		if len(r.links[id]) == 0 {
			rows = append(rows, cardRow{card: card})
			continue
		}
		for deviceID := range r.links[id] {
			d := r.devices[deviceID]
			rows = append(rows, cardRow{card: card, device: &DeviceRef{ID: d.ID, Name: d.Name, Status: d.Status}})
		}
	}
	return rows
}

func (r *memoryRepo) ListCards(ctx context.Context, filter CardFilter) ([]CardWithRelations, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	return groupCardRows(r.joinedRows(func(c Card) bool {
		return filter.Frozen == nil || c.Frozen == *filter.Frozen
	})), nil
}

func (r *memoryRepo) GetCard(ctx context.Context, id int64) (CardWithRelations, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cards := groupCardRows(r.joinedRows(func(c Card) bool { return c.ID == id }))
	if len(cards) == 0 {
		return CardWithRelations{}, ErrNotFound
	}
	return cards[0], nil
}

func (r *memoryRepo) CardByTag(ctx context.Context, tag string) (CardCredential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return CardCredential{}, r.err
	}
	for _, c := range r.cards {
		if c.Tag == tag {
			return CardCredential{ID: c.ID, Label: c.Name, OwnerID: c.UserID, Frozen: c.Frozen, Disabled: c.Disabled}, nil
		}
	}
	return CardCredential{}, ErrNotFound
}

func (r *memoryRepo) ReplaceCardDevices(ctx context.Context, cardID int64, deviceIDs []int64) ([]int64, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, false, r.err
	}
	if _, ok := r.cards[cardID]; !ok {
		return nil, false, nil
	}
	for _, id := range deviceIDs {
		if _, ok := r.devices[id]; !ok {
			return nil, false, ErrUnknownDevice
		}
	}
	var previous []int64
	for id := range r.links[cardID] {
		previous = append(previous, id)
	}
	next := make(map[int64]struct{}, len(deviceIDs))
	for _, id := range deviceIDs {
		if _, dup := next[id]; dup {
			return nil, false, errors.New("duplicate key value violates unique constraint")
		}
		next[id] = struct{}{}
	}
	r.links[cardID] = next
	return previous, true, nil
}

func (r *memoryRepo) SetCardState(ctx context.Context, cardID int64, input CardStateInput) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	card, ok := r.cards[cardID]
	if !ok {
		return nil, ErrNotFound
	}
	if input.Frozen != nil {
		card.Frozen = *input.Frozen
	}
	if input.Disabled != nil {
		card.Disabled = *input.Disabled
	}
	r.cards[cardID] = card
	var ids []int64
	for id := range r.links[cardID] {
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *memoryRepo) DeviceCredentials(ctx context.Context, deviceID int64) ([]Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var creds []Credential
	for cardID, devices := range r.links {
		if _, ok := devices[deviceID]; !ok {
			continue
		}
		c := r.cards[cardID]
		if c.Frozen || c.Disabled {
			continue
		}
		creds = append(creds, Credential{Name: c.Name, UID: c.Tag})
	}
	sort.Slice(creds, func(i, j int) bool { return creds[i].Name < creds[j].Name })
	return creds, nil
}

func (r *memoryRepo) DeviceByToken(ctx context.Context, digest string) (Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.devices {
		if d.TokenHash == digest {
			return d, nil
		}
	}
	return Device{}, ErrNotFound
}

func (r *memoryRepo) RecordHeartbeat(ctx context.Context, deviceID int64, at time.Time, telemetry Telemetry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[deviceID]
	if !ok {
		return ErrNotFound
	}
	d.Status = DeviceOnline
	d.LastSeenAt = &at
	r.devices[deviceID] = d
	return nil
}

type recordingSyncer struct {
	mu     sync.Mutex
	synced []int64
}

func (s *recordingSyncer) SyncDevice(ctx context.Context, deviceID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.synced = append(s.synced, deviceID)
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seededRepo() *memoryRepo {
	repo := newMemoryRepo()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	repo.cards[1] = Card{ID: 1, Name: "Ana", Tag: "04A1B2", UpdatedAt: base}
	repo.cards[2] = Card{ID: 2, Name: "Budi", Tag: "04C3D4", UpdatedAt: base.Add(time.Hour)}
	for _, id := range []int64{10, 11, 12} {
		repo.devices[id] = Device{ID: id, Name: "door", Status: DeviceOnline, TokenHash: HashToken(fmt.Sprintf("tok-%d", id))}
	}
	return repo
}

func deviceIDs(card CardWithRelations) []int64 {
	ids := make([]int64, 0, len(card.AuthorizedDevices))
	for _, d := range card.AuthorizedDevices {
		ids = append(ids, d.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func TestReplaceAuthorizedDevicesCollapsesDuplicates(t *testing.T) {
	repo := seededRepo()
	svc := NewService(repo, quietLogger())
	ctx := context.Background()

	require.NoError(t, svc.ReplaceAuthorizedDevices(ctx, 1, []int64{10, 10, 11}))
	card, err := svc.FetchCardByID(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, []int64{10, 11}, deviceIDs(card))

	require.NoError(t, svc.ReplaceAuthorizedDevices(ctx, 1, nil))
	card, err = svc.FetchCardByID(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, card.AuthorizedDevices)
	require.Empty(t, card.AuthorizedDevices)
}

func TestReplaceAuthorizedDevicesUnknownCardIsNoop(t *testing.T) {
	repo := seededRepo()
	syncer := &recordingSyncer{}
	svc := NewService(repo, quietLogger())
	svc.SetSyncer(syncer)

	require.NoError(t, svc.ReplaceAuthorizedDevices(context.Background(), 999, []int64{10}))
	require.Empty(t, syncer.synced)
	_, ok := repo.links[999]
	require.False(t, ok)
}

func TestReplaceAuthorizedDevicesResyncsOldAndNew(t *testing.T) {
	repo := seededRepo()
	syncer := &recordingSyncer{}
	svc := NewService(repo, quietLogger())
	svc.SetSyncer(syncer)
	ctx := context.Background()

	require.NoError(t, svc.ReplaceAuthorizedDevices(ctx, 1, []int64{10, 11}))
	syncer.synced = nil
	require.NoError(t, svc.ReplaceAuthorizedDevices(ctx, 1, []int64{12}))
	require.Equal(t, []int64{10, 11, 12}, syncer.synced)
}

func TestReplaceAuthorizedDevicesUnknownDevice(t *testing.T) {
	svc := NewService(seededRepo(), quietLogger())
	err := svc.ReplaceAuthorizedDevices(context.Background(), 1, []int64{77})
	require.ErrorIs(t, err, ErrUnknownDevice)
}

func TestFetchCardsOrderAndEmptyDevices(t *testing.T) {
	repo := seededRepo()
	svc := NewService(repo, quietLogger())
	ctx := context.Background()
	require.NoError(t, svc.ReplaceAuthorizedDevices(ctx, 1, []int64{10}))
	card := repo.cards[2]
	card.UpdatedAt = card.UpdatedAt.Add(24 * time.Hour)
	repo.cards[2] = card

	cards, err := svc.FetchCards(ctx, CardFilter{})
	require.NoError(t, err)
	require.Len(t, cards, 2)
	require.Equal(t, int64(2), cards[0].ID)
	require.Empty(t, cards[0].AuthorizedDevices)
	require.Equal(t, []int64{10}, deviceIDs(cards[1]))
}

func TestFetchCardByTag(t *testing.T) {
	svc := NewService(seededRepo(), quietLogger())
	ctx := context.Background()

	card, err := svc.FetchCardByTag(ctx, "04A1B2")
	require.NoError(t, err)
	require.Equal(t, "Ana", card.Label)

	_, err = svc.FetchCardByTag(ctx, "FFFF")
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, err, shared.ErrUnknownCredential)
}

func TestStoreFailuresAreTagged(t *testing.T) {
	repo := seededRepo()
	repo.err = errors.New("conn reset")
	svc := NewService(repo, quietLogger())

	_, err := svc.FetchCardByTag(context.Background(), "04A1B2")
	require.ErrorIs(t, err, shared.ErrStore)
	_, err = svc.FetchCards(context.Background(), CardFilter{})
	require.ErrorIs(t, err, shared.ErrStore)
}

func TestSetCardStateResyncsAndHidesCredential(t *testing.T) {
	repo := seededRepo()
	syncer := &recordingSyncer{}
	svc := NewService(repo, quietLogger())
	ctx := context.Background()
	require.NoError(t, svc.ReplaceAuthorizedDevices(ctx, 1, []int64{10}))
	require.NoError(t, svc.ReplaceAuthorizedDevices(ctx, 2, []int64{10}))
	svc.SetSyncer(syncer)

	creds, err := svc.DeviceCredentials(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, []Credential{{Name: "Ana", UID: "04A1B2"}, {Name: "Budi", UID: "04C3D4"}}, creds)

	frozen := true
	require.NoError(t, svc.SetCardState(ctx, 1, CardStateInput{Frozen: &frozen}))
	require.Equal(t, []int64{10}, syncer.synced)

	creds, err = svc.DeviceCredentials(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, []Credential{{Name: "Budi", UID: "04C3D4"}}, creds)

	require.ErrorIs(t, svc.SetCardState(ctx, 404, CardStateInput{Frozen: &frozen}), ErrNotFound)
}

func TestDeviceByTokenRejectsBlank(t *testing.T) {
	svc := NewService(seededRepo(), quietLogger())
	_, err := svc.DeviceByToken(context.Background(), "   ")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeviceByTokenMatchesDigest(t *testing.T) {
	svc := NewService(seededRepo(), quietLogger())
	device, err := svc.DeviceByToken(context.Background(), " tok-11 ")
	require.NoError(t, err)
	require.Equal(t, int64(11), device.ID)

	_, err = svc.DeviceByToken(context.Background(), HashToken("tok-11"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGenerateToken(t *testing.T) {
	token, digest, err := GenerateToken()
	require.NoError(t, err)
	require.Len(t, token, 43)
	require.Equal(t, HashToken(token), digest)
	require.NotEqual(t, HashToken(token+"x"), digest)
}

func TestRecordHeartbeatBringsDeviceOnline(t *testing.T) {
	repo := seededRepo()
	d := repo.devices[10]
	d.Status = DeviceOffline
	repo.devices[10] = d
	svc := NewService(repo, quietLogger())

	require.NoError(t, svc.RecordHeartbeat(context.Background(), 10, Telemetry{FirmwareVersion: "1.4.2"}))
	require.Equal(t, DeviceOnline, repo.devices[10].Status)
	require.NotNil(t, repo.devices[10].LastSeenAt)
	require.ErrorIs(t, svc.RecordHeartbeat(context.Background(), 404, Telemetry{}), ErrNotFound)
}

func TestSanitizeDeviceIDs(t *testing.T) {
	require.Equal(t, []int64{1, 2, 5}, SanitizeDeviceIDs([]int64{5, 1, 0, -3, 2, 5, 1}))
	require.Empty(t, SanitizeDeviceIDs(nil))
}
