package user

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockDirectory struct {
	mock.Mock
}

func (m *MockDirectory) FindUser(ctx context.Context, id string) (User, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(User), args.Error(1)
}
