package database

import (
	"time"

	"github.com/lib/pq"
)

const (
	insertNotificationQuery = "INSERT INTO notifications (user_id, type, title, body, priority, room_key, read, created_at) " +
		"VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7) RETURNING id, created_at"
	// trimBacklogQuery drops everything older than the newest BacklogLimit
	// entries for a user.
	trimBacklogQuery = "DELETE FROM notifications WHERE user_id = $1 AND id < " +
		"(SELECT min(id) FROM (SELECT id FROM notifications WHERE user_id = $1 ORDER BY id DESC LIMIT $2) AS recent)"
	backlogQuery = "SELECT id, user_id, type, title, body, priority, room_key, read, created_at " +
		"FROM notifications WHERE user_id = $1 ORDER BY id DESC LIMIT $2"
)

func (db *PgNotificationRepository) AppendNotification(params AppendNotificationParams) (Notification, error) {
	n := Notification{
		UserId:   params.UserId,
		Type:     params.Type,
		Title:    params.Title,
		Body:     params.Body,
		Priority: params.Priority,
		RoomKey:  params.RoomKey,
	}

	row := db.conn.QueryRow(
		insertNotificationQuery,
		params.UserId,
		params.Type,
		params.Title,
		params.Body,
		params.Priority,
		params.RoomKey,
		time.Now().UTC(),
	)
	if err := row.Scan(&n.Id, &n.CreatedAt); err != nil {
		return Notification{}, err
	}

	if _, err := db.conn.Exec(trimBacklogQuery, params.UserId, BacklogLimit); err != nil {
		return Notification{}, err
	}

	return n, nil
}

func (db *PgNotificationRepository) BacklogFor(userId int64, limit int) ([]Notification, error) {
	if limit <= 0 || limit > BacklogLimit {
		limit = BacklogLimit
	}

	rows, err := db.conn.Query(backlogQuery, userId, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifications []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(
			&n.Id,
			&n.UserId,
			&n.Type,
			&n.Title,
			&n.Body,
			&n.Priority,
			&n.RoomKey,
			&n.Read,
			&n.CreatedAt,
		); err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}

	return notifications, rows.Err()
}

func (db *PgNotificationRepository) MarkRead(userId, notificationId int64) error {
	_, err := db.conn.Exec(
		"UPDATE notifications SET read = TRUE WHERE user_id = $1 AND id = $2",
		userId, notificationId,
	)
	return err
}

func (db *PgNotificationRepository) MarkAllRead(userId int64) error {
	_, err := db.conn.Exec(
		"UPDATE notifications SET read = TRUE WHERE user_id = $1 AND read = FALSE",
		userId,
	)
	return err
}

func (db *PgNotificationRepository) DeleteExpiredNotifications(retentionDays int) (int64, error) {
	res, err := db.conn.Exec(
		"DELETE FROM notifications WHERE created_at < $1",
		time.Now().UTC().AddDate(0, 0, -retentionDays),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (db *PgNotificationRepository) SubscribeRooms(userId int64, roomKeys []string) error {
	_, err := db.conn.Exec(
		"INSERT INTO room_subscriptions (user_id, room_key, created_at) "+
			"SELECT $1, unnest($2::text[]), $3 ON CONFLICT (user_id, room_key) DO NOTHING",
		userId, pq.Array(roomKeys), time.Now().UTC(),
	)
	return err
}

func (db *PgNotificationRepository) UnsubscribeRooms(userId int64, roomKeys []string) error {
	_, err := db.conn.Exec(
		"DELETE FROM room_subscriptions WHERE user_id = $1 AND room_key = ANY($2::text[])",
		userId, pq.Array(roomKeys),
	)
	return err
}

func (db *PgNotificationRepository) SubscribersFor(roomKey string) ([]int64, error) {
	rows, err := db.conn.Query(
		"SELECT user_id FROM room_subscriptions WHERE room_key = $1",
		roomKey,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var userIds []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		userIds = append(userIds, id)
	}

	return userIds, rows.Err()
}

func (db *PgNotificationRepository) CreateAccount(params CreateAccountParams) (Account, error) {
	row := db.conn.QueryRow(
		"INSERT INTO accounts (username, email, password_hash, created_at) "+
			"VALUES ($1, $2, $3, $4) RETURNING id, username, email",
		params.Username,
		params.EmailAddress,
		params.PasswordHash,
		time.Now().UTC(),
	)

	var a Account
	err := row.Scan(&a.Id, &a.Username, &a.EmailAddress)
	return a, err
}

func (db *PgNotificationRepository) GetAccountByEmail(email string) (Account, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email, password_hash FROM accounts WHERE email = $1 LIMIT 1",
		email,
	)

	var a Account
	err := row.Scan(&a.Id, &a.Username, &a.EmailAddress, &a.PasswordHash)
	return a, err
}

func (db *PgNotificationRepository) GetAccountById(id int64) (Account, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email FROM accounts WHERE id = $1 LIMIT 1",
		id,
	)

	var a Account
	err := row.Scan(&a.Id, &a.Username, &a.EmailAddress)
	return a, err
}
