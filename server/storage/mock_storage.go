package storage

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockStorage implements the Storage interface for testing
type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) GetUser(ctx context.Context, userID string) (*User, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*User), args.Error(1)
}

func (m *MockStorage) GetCollection(ctx context.Context, userID, calendarID string) (*Collection, error) {
	args := m.Called(ctx, userID, calendarID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Collection), args.Error(1)
}

func (m *MockStorage) ListCollections(ctx context.Context, userID string) ([]Collection, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Collection), args.Error(1)
}

func (m *MockStorage) CreateCollection(ctx context.Context, c *Collection) error {
	return m.Called(ctx, c).Error(0)
}

func (m *MockStorage) DeleteCollection(ctx context.Context, userID, calendarID string) error {
	return m.Called(ctx, userID, calendarID).Error(0)
}

func (m *MockStorage) GetObject(ctx context.Context, collectionID, name string) (*StoredObject, error) {
	args := m.Called(ctx, collectionID, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*StoredObject), args.Error(1)
}

func (m *MockStorage) GetObjectByUID(ctx context.Context, collectionID, uid string) (*StoredObject, error) {
	args := m.Called(ctx, collectionID, uid)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*StoredObject), args.Error(1)
}

func (m *MockStorage) ListObjects(ctx context.Context, collectionID string) ([]StoredObject, error) {
	args := m.Called(ctx, collectionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]StoredObject), args.Error(1)
}

func (m *MockStorage) PutObject(ctx context.Context, collectionID string, obj StoredObject) error {
	return m.Called(ctx, collectionID, obj).Error(0)
}

func (m *MockStorage) DeleteObject(ctx context.Context, collectionID, name string) error {
	return m.Called(ctx, collectionID, name).Error(0)
}

// SetupCollection makes the mock serve an empty collection owned by userID.
func (m *MockStorage) SetupCollection(userID, calendarID string) *Collection {
	c := &Collection{UserID: userID, ID: calendarID, DisplayName: calendarID}
	m.On("GetCollection", mock.Anything, userID, calendarID).Return(c, nil)
	m.On("ListObjects", mock.Anything, c.Key()).Return([]StoredObject{}, nil).Maybe()
	return c
}

var _ Storage = (*MockStorage)(nil)
