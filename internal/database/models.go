package database

import "time"

type Notification struct {
	Id        int64
	UserId    int64
	Type      string
	Title     string
	Body      string
	Priority  string
	RoomKey   string
	Read      bool
	CreatedAt time.Time
}

type Account struct {
	Id           int64
	Username     string
	EmailAddress string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type CreateAccountParams struct {
	Username     string
	EmailAddress string
	PasswordHash string
}

type AppendNotificationParams struct {
	UserId   int64
	Type     string
	Title    string
	Body     string
	Priority string
	RoomKey  string
}
