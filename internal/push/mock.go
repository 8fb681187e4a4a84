package push

import "github.com/stretchr/testify/mock"

type MockSink struct {
	mock.Mock
}

func (m *MockSink) Send(userId int64, payload Payload) bool {
	args := m.Called(userId, payload)
	return args.Bool(0)
}
