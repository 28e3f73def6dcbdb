package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/contact-orchestrator/internal/domain"
	"github.com/ignite/contact-orchestrator/internal/service/contact"
	"github.com/ignite/contact-orchestrator/internal/service/contact/contacttest"
)

func newMock(t *testing.T) (*ContactRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewContactRepo(db), mock
}

func fixture(t *testing.T) (*domain.Contact, []byte) {
	t.Helper()
	c := contacttest.NewContact(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), "abcd1234")
	payload, err := json.Marshal(c)
	require.NoError(t, err)
	return c, payload
}

func TestContactRepo_Create(t *testing.T) {
	repo, mock := newMock(t)
	c, _ := fixture(t)

	mock.ExpectExec(`INSERT INTO orchestrator_contacts`).
		WithArgs(c.ID, c.CreatedAt, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO orchestrator_contacts`).
		WithArgs(c.ID, c.CreatedAt, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.Create(context.Background(), c))
	assert.ErrorIs(t, repo.Create(context.Background(), c), contact.ErrDuplicateID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestContactRepo_Get(t *testing.T) {
	repo, mock := newMock(t)
	c, payload := fixture(t)

	mock.ExpectQuery(`SELECT payload FROM orchestrator_contacts WHERE id = \$1`).
		WithArgs(c.ID).
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow(payload))
	mock.ExpectQuery(`SELECT payload FROM orchestrator_contacts WHERE id = \$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}))

	got, err := repo.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)
	assert.Equal(t, domain.StatePending, got.Status(domain.ChannelConnector).State)

	_, err = repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, contact.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestContactRepo_ListByChannelState(t *testing.T) {
	repo, mock := newMock(t)
	_, payload := fixture(t)

	mock.ExpectQuery(`jsonb_each\(payload->'channelStatus'\)`).
		WithArgs("pending").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow(payload))

	list, err := repo.ListByChannelState(context.Background(), domain.StatePending)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestContactRepo_TransitionChannel(t *testing.T) {
	repo, mock := newMock(t)
	c, payload := fixture(t)
	next := domain.DispatchStatus{State: domain.StateInProgress, Attempts: 1, UpdatedAt: c.CreatedAt}

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT payload FROM orchestrator_contacts WHERE id = \$1 FOR UPDATE`).
		WithArgs(c.ID).
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow(payload))
	mock.ExpectExec(`UPDATE orchestrator_contacts`).
		WithArgs(c.ID, "messaging", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.TransitionChannel(context.Background(), c.ID, domain.ChannelMessaging, domain.StatePending, next)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestContactRepo_TransitionChannelConflict(t *testing.T) {
	repo, mock := newMock(t)
	c, payload := fixture(t)
	next := domain.DispatchStatus{State: domain.StatePending, UpdatedAt: c.CreatedAt}

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs(c.ID).
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow(payload))
	mock.ExpectRollback()

	err := repo.TransitionChannel(context.Background(), c.ID, domain.ChannelMessaging, domain.StateFailed, next)
	require.ErrorIs(t, err, contact.ErrStateConflict)
	var conflict *contact.StateConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, domain.StatePending, conflict.Current)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestContactRepo_UpdateChannelStatusNotFound(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectExec(`UPDATE orchestrator_contacts`).
		WithArgs("missing", "notifier", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateChannelStatus(context.Background(), "missing", domain.ChannelNotifier,
		domain.DispatchStatus{State: domain.StateFailed})
	assert.ErrorIs(t, err, contact.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
