package database

import (
	"github.com/stretchr/testify/mock"
)

type MockNotificationRepository struct {
	mock.Mock
}

func (m *MockNotificationRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockNotificationRepository) AppendNotification(params AppendNotificationParams) (Notification, error) {
	args := m.Called(params)
	return args.Get(0).(Notification), args.Error(1)
}
func (m *MockNotificationRepository) BacklogFor(userId int64, limit int) ([]Notification, error) {
	args := m.Called(userId, limit)
	if notifications, ok := args.Get(0).([]Notification); ok {
		return notifications, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockNotificationRepository) MarkRead(userId, notificationId int64) error {
	args := m.Called(userId, notificationId)
	return args.Error(0)
}
func (m *MockNotificationRepository) MarkAllRead(userId int64) error {
	args := m.Called(userId)
	return args.Error(0)
}
func (m *MockNotificationRepository) DeleteExpiredNotifications(retentionDays int) (int64, error) {
	args := m.Called(retentionDays)
	return args.Get(0).(int64), args.Error(1)
}
func (m *MockNotificationRepository) SubscribeRooms(userId int64, roomKeys []string) error {
	args := m.Called(userId, roomKeys)
	return args.Error(0)
}
func (m *MockNotificationRepository) UnsubscribeRooms(userId int64, roomKeys []string) error {
	args := m.Called(userId, roomKeys)
	return args.Error(0)
}
func (m *MockNotificationRepository) SubscribersFor(roomKey string) ([]int64, error) {
	args := m.Called(roomKey)
	if userIds, ok := args.Get(0).([]int64); ok {
		return userIds, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockNotificationRepository) CreateAccount(params CreateAccountParams) (Account, error) {
	args := m.Called(params)
	return args.Get(0).(Account), args.Error(1)
}
func (m *MockNotificationRepository) GetAccountByEmail(email string) (Account, error) {
	args := m.Called(email)
	return args.Get(0).(Account), args.Error(1)
}
func (m *MockNotificationRepository) GetAccountById(id int64) (Account, error) {
	args := m.Called(id)
	return args.Get(0).(Account), args.Error(1)
}
func (m *MockNotificationRepository) Close() error {
	args := m.Called()
	return args.Error(0)
}
