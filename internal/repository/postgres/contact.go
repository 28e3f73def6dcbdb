package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ignite/contact-orchestrator/internal/domain"
	"github.com/ignite/contact-orchestrator/internal/service/contact"
)

// ContactRepo implements contact.Repository against PostgreSQL. The record
// is stored as one jsonb document keyed by id; see
// migrations/001_contacts.sql.
type ContactRepo struct{ db *sql.DB }

// NewContactRepo creates a Postgres-backed contact repository.
func NewContactRepo(db *sql.DB) *ContactRepo { return &ContactRepo{db: db} }

func (r *ContactRepo) Create(ctx context.Context, c *domain.Contact) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode contact: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO orchestrator_contacts (id, created_at, payload)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING
	`, c.ID, c.CreatedAt, payload)
	if err != nil {
		return fmt.Errorf("insert contact: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return contact.ErrDuplicateID
	}
	return nil
}

func (r *ContactRepo) Get(ctx context.Context, id string) (*domain.Contact, error) {
	var payload []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT payload FROM orchestrator_contacts WHERE id = $1`, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, contact.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get contact: %w", err)
	}
	return decode(payload)
}

func (r *ContactRepo) List(ctx context.Context) ([]domain.Contact, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT payload FROM orchestrator_contacts ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	return collect(rows)
}

func (r *ContactRepo) ListByChannelState(ctx context.Context, state domain.DispatchState) ([]domain.Contact, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT payload FROM orchestrator_contacts
		WHERE EXISTS (
			SELECT 1 FROM jsonb_each(payload->'channelStatus') s
			WHERE s.value->>'state' = $1
		)
		ORDER BY id DESC
	`, string(state))
	if err != nil {
		return nil, fmt.Errorf("list contacts by state: %w", err)
	}
	return collect(rows)
}

func (r *ContactRepo) UpdateChannelStatus(ctx context.Context, id string, ch domain.Channel, st domain.DispatchStatus) error {
	return setChannel(ctx, r.db, id, ch, st)
}

// TransitionChannel locks the row for the duration of the compare-and-set.
func (r *ContactRepo) TransitionChannel(ctx context.Context, id string, ch domain.Channel, from domain.DispatchState, next domain.DispatchStatus) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transition: %w", err)
	}
	defer tx.Rollback()

	var payload []byte
	err = tx.QueryRowContext(ctx,
		`SELECT payload FROM orchestrator_contacts WHERE id = $1 FOR UPDATE`, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return contact.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock contact: %w", err)
	}
	c, err := decode(payload)
	if err != nil {
		return err
	}
	if cur := c.Status(ch); cur.State != from {
		return &contact.StateConflictError{Channel: ch, Current: cur.State}
	}

	if err := setChannel(ctx, tx, id, ch, next); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transition: %w", err)
	}
	return nil
}

func (r *ContactRepo) Close() error { return r.db.Close() }

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func setChannel(ctx context.Context, db execer, id string, ch domain.Channel, st domain.DispatchStatus) error {
	status, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode status: %w", err)
	}
	res, err := db.ExecContext(ctx, `
		UPDATE orchestrator_contacts
		SET payload = jsonb_set(payload, ARRAY['channelStatus', $2::text], $3::jsonb, true)
		WHERE id = $1
	`, id, string(ch), string(status))
	if err != nil {
		return fmt.Errorf("update channel status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return contact.ErrNotFound
	}
	return nil
}

func decode(payload []byte) (*domain.Contact, error) {
	var c domain.Contact
	if err := json.Unmarshal(payload, &c); err != nil {
		return nil, fmt.Errorf("decode contact: %w", err)
	}
	if c.ChannelStatus == nil {
		c.ChannelStatus = make(map[domain.Channel]domain.DispatchStatus)
	}
	return &c, nil
}

func collect(rows *sql.Rows) ([]domain.Contact, error) {
	defer rows.Close()
	var out []domain.Contact
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		c, err := decode(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}
