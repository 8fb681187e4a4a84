package database

import (
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func newMockRepository(t *testing.T) (*PgNotificationRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("error creating mock database: %s", err)
	}
	t.Cleanup(func() { db.Close() })
	return &PgNotificationRepository{conn: db}, mock
}

func TestAppendNotification(t *testing.T) {
	repo, mock := newMockRepository(t)

	createdAt := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta(insertNotificationQuery)).
		WithArgs(int64(7), "new_alert", "Incendie", "Marché de Kaloum", "high", "quartier:Kaloum", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(42), createdAt))
	mock.ExpectExec(regexp.QuoteMeta(trimBacklogQuery)).
		WithArgs(int64(7), BacklogLimit).
		WillReturnResult(sqlmock.NewResult(0, 0))

	n, err := repo.AppendNotification(AppendNotificationParams{
		UserId:   7,
		Type:     "new_alert",
		Title:    "Incendie",
		Body:     "Marché de Kaloum",
		Priority: "high",
		RoomKey:  "quartier:Kaloum",
	})
	assert.NoError(t, err)
	assert.Equal(t, int64(42), n.Id, "expected the server-assigned id")
	assert.Equal(t, createdAt, n.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendNotification_insertError(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery(regexp.QuoteMeta(insertNotificationQuery)).
		WillReturnError(errors.New("connection reset"))

	_, err := repo.AppendNotification(AppendNotificationParams{UserId: 7})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBacklogFor(t *testing.T) {
	repo, mock := newMockRepository(t)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "user_id", "type", "title", "body", "priority", "room_key", "read", "created_at"}).
		AddRow(int64(3), int64(7), "new_post", "t3", "b3", "normal", "quartier:Kaloum", false, now).
		AddRow(int64(2), int64(7), "system", "t2", "b2", "low", "", true, now.Add(-time.Minute))
	mock.ExpectQuery(regexp.QuoteMeta(backlogQuery)).
		WithArgs(int64(7), BacklogLimit).
		WillReturnRows(rows)

	backlog, err := repo.BacklogFor(7, 0) // zero limit falls back to the cap
	assert.NoError(t, err)
	assert.Len(t, backlog, 2)
	assert.Equal(t, int64(3), backlog[0].Id, "expected newest first")
	assert.True(t, backlog[1].Read)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkRead(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE notifications SET read = TRUE WHERE user_id = $1 AND id = $2")).
		WithArgs(int64(7), int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, repo.MarkRead(7, 42))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkAllRead(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE notifications SET read = TRUE WHERE user_id = $1 AND read = FALSE")).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 3))

	assert.NoError(t, repo.MarkAllRead(7))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteExpiredNotifications(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM notifications WHERE created_at < $1")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 5))

	deleted, err := repo.DeleteExpiredNotifications(30)
	assert.NoError(t, err)
	assert.Equal(t, int64(5), deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscribeRooms(t *testing.T) {
	repo, mock := newMockRepository(t)

	keys := []string{"quartier:Kaloum", "commune:Kaloum"}
	mock.ExpectExec("INSERT INTO room_subscriptions").
		WithArgs(int64(7), pq.Array(keys), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))

	assert.NoError(t, repo.SubscribeRooms(7, keys))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnsubscribeRooms(t *testing.T) {
	repo, mock := newMockRepository(t)

	keys := []string{"quartier:Kaloum"}
	mock.ExpectExec("DELETE FROM room_subscriptions").
		WithArgs(int64(7), pq.Array(keys)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, repo.UnsubscribeRooms(7, keys))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscribersFor(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT user_id FROM room_subscriptions WHERE room_key = $1")).
		WithArgs("quartier:Kaloum").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(int64(7)).AddRow(int64(8)))

	userIds, err := repo.SubscribersFor("quartier:Kaloum")
	assert.NoError(t, err)
	assert.Equal(t, []int64{7, 8}, userIds)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAccount(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery("INSERT INTO accounts").
		WithArgs("mamadou", "mamadou@example.com", "hash", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "email"}).
			AddRow(int64(7), "mamadou", "mamadou@example.com"))

	account, err := repo.CreateAccount(CreateAccountParams{
		Username:     "mamadou",
		EmailAddress: "mamadou@example.com",
		PasswordHash: "hash",
	})
	assert.NoError(t, err)
	assert.Equal(t, int64(7), account.Id)
	assert.Equal(t, "mamadou", account.Username)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAccountByEmail(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery("SELECT id, username, email, password_hash FROM accounts").
		WithArgs("mamadou@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "email", "password_hash"}).
			AddRow(int64(7), "mamadou", "mamadou@example.com", "hash"))

	account, err := repo.GetAccountByEmail("mamadou@example.com")
	assert.NoError(t, err)
	assert.Equal(t, int64(7), account.Id)
	assert.Equal(t, "hash", account.PasswordHash)
	assert.NoError(t, mock.ExpectationsWereMet())
}
