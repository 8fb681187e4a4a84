package database

// BacklogLimit bounds the per-user backlog; appending beyond it evicts the
// oldest entries.
const BacklogLimit = 100

type NotificationRepository interface {
	Ping() error
	AppendNotification(params AppendNotificationParams) (Notification, error)
	BacklogFor(userId int64, limit int) ([]Notification, error)
	MarkRead(userId, notificationId int64) error
	MarkAllRead(userId int64) error
	DeleteExpiredNotifications(retentionDays int) (int64, error)
	SubscribeRooms(userId int64, roomKeys []string) error
	UnsubscribeRooms(userId int64, roomKeys []string) error
	SubscribersFor(roomKey string) ([]int64, error)
	CreateAccount(params CreateAccountParams) (Account, error)
	GetAccountByEmail(email string) (Account, error)
	GetAccountById(id int64) (Account, error)
	Close() error
}
