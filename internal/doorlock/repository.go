package doorlock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campusgate/doorlock/internal/platform/db"
)

// Repository persists cards, devices and their authorization links in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const cardRowsQuery = `SELECT c.id, c.name, c.user_id, c.frozen, c.disabled, c.tag, c.created_at, c.updated_at,
		u.id, u.display_name, u.nickname,
		d.id, d.name, d.status
	FROM picked p
	JOIN cards c ON c.id = p.id
	LEFT JOIN users u ON u.id = c.user_id
	LEFT JOIN card_devices cd ON cd.card_id = c.id
	LEFT JOIN devices d ON d.id = cd.device_id
	ORDER BY c.updated_at DESC, c.id DESC, d.id`

// ListCards returns the joined card rows matching filter, grouped per card.
func (r *Repository) ListCards(ctx context.Context, filter CardFilter) ([]CardWithRelations, error) {
	where, args := buildCardFilter(filter)
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	args = append(args, limit)
	query := fmt.Sprintf(`WITH picked AS (
		SELECT c.id FROM cards c %s ORDER BY c.updated_at DESC, c.id DESC LIMIT $%d
	) %s`, where, len(args), cardRowsQuery)
	return r.queryCards(ctx, query, args...)
}

// GetCard returns one card with its relations.
func (r *Repository) GetCard(ctx context.Context, id int64) (CardWithRelations, error) {
	cards, err := r.queryCards(ctx, `WITH picked AS (SELECT id FROM cards WHERE id = $1) `+cardRowsQuery, id)
	if err != nil {
		return CardWithRelations{}, err
	}
	if len(cards) == 0 {
		return CardWithRelations{}, ErrNotFound
	}
	return cards[0], nil
}

func (r *Repository) queryCards(ctx context.Context, query string, args ...any) ([]CardWithRelations, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var joined []cardRow
	for rows.Next() {
		var (
			row         cardRow
			ownerID     *int64
			ownerName   *string
			ownerNick   *string
			deviceID    *int64
			deviceName  *string
			deviceState *string
		)
		if err := rows.Scan(
			&row.card.ID, &row.card.Name, &row.card.UserID, &row.card.Frozen, &row.card.Disabled, &row.card.Tag,
			&row.card.CreatedAt, &row.card.UpdatedAt,
			&ownerID, &ownerName, &ownerNick,
			&deviceID, &deviceName, &deviceState,
		); err != nil {
			return nil, err
		}
		if ownerID != nil {
			row.owner = &Owner{ID: *ownerID, DisplayName: deref(ownerName), Nickname: deref(ownerNick)}
		}
		if deviceID != nil {
			row.device = &DeviceRef{ID: *deviceID, Name: deref(deviceName), Status: DeviceStatus(deref(deviceState))}
		}
		joined = append(joined, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return groupCardRows(joined), nil
}

// CardByTag returns the narrow credential projection for tag.
func (r *Repository) CardByTag(ctx context.Context, tag string) (CardCredential, error) {
	var c CardCredential
	err := r.pool.QueryRow(ctx, `SELECT id, name, user_id, frozen, disabled FROM cards WHERE tag = $1`, tag).
		Scan(&c.ID, &c.Label, &c.OwnerID, &c.Frozen, &c.Disabled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CardCredential{}, ErrNotFound
		}
		return CardCredential{}, err
	}
	return c, nil
}

// ReplaceCardDevices swaps the full authorized-device set of a card in one
// transaction and returns the device ids that were linked before. found is
// false when the card does not exist, in which case nothing is written.
func (r *Repository) ReplaceCardDevices(ctx context.Context, cardID int64, deviceIDs []int64) (previous []int64, found bool, err error) {
	err = db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE cards SET updated_at = NOW() WHERE id = $1`, cardID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		found = true

		rows, err := tx.Query(ctx, `DELETE FROM card_devices WHERE card_id = $1 RETURNING device_id`, cardID)
		if err != nil {
			return err
		}
		previous, err = pgx.CollectRows(rows, pgx.RowTo[int64])
		if err != nil {
			return err
		}

		if len(deviceIDs) == 0 {
			return nil
		}
		_, err = tx.Exec(ctx, `INSERT INTO card_devices (card_id, device_id)
			SELECT $1, unnest($2::bigint[])`, cardID, deviceIDs)
		if db.IsForeignKeyViolation(err) {
			return ErrUnknownDevice
		}
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return previous, found, nil
}

// SetCardState updates freeze/disable switches and returns the card's linked devices.
func (r *Repository) SetCardState(ctx context.Context, cardID int64, input CardStateInput) ([]int64, error) {
	var deviceIDs []int64
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE cards
			SET frozen = COALESCE($2, frozen), disabled = COALESCE($3, disabled), updated_at = NOW()
			WHERE id = $1`, cardID, input.Frozen, input.Disabled)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		rows, err := tx.Query(ctx, `SELECT device_id FROM card_devices WHERE card_id = $1`, cardID)
		if err != nil {
			return err
		}
		deviceIDs, err = pgx.CollectRows(rows, pgx.RowTo[int64])
		return err
	})
	if err != nil {
		return nil, err
	}
	return deviceIDs, nil
}

// DeviceCredentials lists the usable cards a device should recognize.
func (r *Repository) DeviceCredentials(ctx context.Context, deviceID int64) ([]Credential, error) {
	rows, err := r.pool.Query(ctx, `SELECT c.name, c.tag
		FROM card_devices cd
		JOIN cards c ON c.id = cd.card_id
		WHERE cd.device_id = $1 AND NOT c.frozen AND NOT c.disabled
		ORDER BY c.name, c.id`, deviceID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Credential, error) {
		var c Credential
		err := row.Scan(&c.Name, &c.UID)
		return c, err
	})
}

// DeviceByToken resolves a device by the digest of its bearer token.
func (r *Repository) DeviceByToken(ctx context.Context, digest string) (Device, error) {
	var d Device
	err := r.pool.QueryRow(ctx, `SELECT id, name, api_token, status, last_seen_at, ttl_seconds, created_at, updated_at
		FROM devices WHERE api_token = $1`, digest).
		Scan(&d.ID, &d.Name, &d.TokenHash, &d.Status, &d.LastSeenAt, &d.TTLSeconds, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Device{}, ErrNotFound
		}
		return Device{}, err
	}
	return d, nil
}

// RecordHeartbeat marks the device online and stores its telemetry.
// Empty telemetry keeps the previously stored value.
func (r *Repository) RecordHeartbeat(ctx context.Context, deviceID int64, at time.Time, telemetry Telemetry) error {
	var raw []byte
	if !telemetry.Empty() {
		encoded, err := json.Marshal(telemetry)
		if err != nil {
			return err
		}
		raw = encoded
	}
	tag, err := r.pool.Exec(ctx, `UPDATE devices
		SET status = 'online', last_seen_at = $2, telemetry = COALESCE($3::jsonb, telemetry), updated_at = $2
		WHERE id = $1`, deviceID, at, raw)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkStaleOffline flips every expired, not-yet-offline device to offline and returns their ids.
func (r *Repository) MarkStaleOffline(ctx context.Context, now time.Time) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `UPDATE devices
		SET status = 'offline', updated_at = $1
		WHERE status <> 'offline'
		  AND last_seen_at IS NOT NULL
		  AND last_seen_at + make_interval(secs => ttl_seconds) < $1
		RETURNING id`, now)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

type cardRow struct {
	card   Card
	owner  *Owner
	device *DeviceRef
}

// groupCardRows folds joined card×device rows into one entry per card,
// keeping first-seen card order and de-duplicating devices by id.
func groupCardRows(rows []cardRow) []CardWithRelations {
	out := make([]CardWithRelations, 0)
	index := make(map[int64]int)
	seenDevices := make(map[int64]map[int64]struct{})
	for _, row := range rows {
		pos, ok := index[row.card.ID]
		if !ok {
			pos = len(out)
			index[row.card.ID] = pos
			out = append(out, CardWithRelations{Card: row.card, Owner: row.owner, AuthorizedDevices: []DeviceRef{}})
			seenDevices[row.card.ID] = make(map[int64]struct{})
		}
		if row.device == nil {
			continue
		}
		if _, dup := seenDevices[row.card.ID][row.device.ID]; dup {
			continue
		}
		seenDevices[row.card.ID][row.device.ID] = struct{}{}
		out[pos].AuthorizedDevices = append(out[pos].AuthorizedDevices, *row.device)
	}
	return out
}

func buildCardFilter(filter CardFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if filter.UserID != nil {
		add("c.user_id = $%d", *filter.UserID)
	}
	if filter.Frozen != nil {
		add("c.frozen = $%d", *filter.Frozen)
	}
	if filter.Disabled != nil {
		add("c.disabled = $%d", *filter.Disabled)
	}
	if filter.DeviceID != nil {
		add("c.id IN (SELECT card_id FROM card_devices WHERE device_id = $%d)", *filter.DeviceID)
	}
	if s := strings.TrimSpace(filter.Search); s != "" {
		add(`(c.name ILIKE $%[1]d ESCAPE '\' OR c.tag ILIKE $%[1]d ESCAPE '\')`, "%"+likeEscaper.Replace(s)+"%")
	}
	if len(clauses) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
