package auth

import "github.com/stretchr/testify/mock"

type MockVerifier struct {
	mock.Mock
}

func (m *MockVerifier) Verify(token string) (int64, error) {
	args := m.Called(token)
	return args.Get(0).(int64), args.Error(1)
}
