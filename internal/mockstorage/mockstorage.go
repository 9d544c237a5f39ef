// Package mockstorage provides a testify-based mock implementation
// of the storage interfaces used by the service, auth and router packages.
// It is used for unit testing error paths that real storages cannot produce.
package mockstorage

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/patric-chuzhbe/geoplaces/internal/models"
	"github.com/patric-chuzhbe/geoplaces/internal/user"
)

// StorageMock is a testify mock that implements every storage method.
type StorageMock struct {
	mock.Mock

	// OnGetNumberOfUsers is an optional function field that can be assigned
	// to define custom mock behavior for GetNumberOfUsers in tests.
	//
	// If set, GetNumberOfUsers will delegate to this function instead of
	// returning zero.
	OnGetNumberOfUsers func(ctx context.Context) (int64, error)

	// OnGetNumberOfLocations works like OnGetNumberOfUsers for GetNumberOfLocations.
	OnGetNumberOfLocations func(ctx context.Context) (int64, error)
}

// Ping mocks the pinger interface to simulate a health check.
func (m *StorageMock) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// CreateUser mocks user creation and returns a generated ID.
func (m *StorageMock) CreateUser(ctx context.Context, usr *user.User) (int64, error) {
	args := m.Called(ctx, usr)
	return args.Get(0).(int64), args.Error(1)
}

// GetUserByEmail mocks fetching a user by email.
func (m *StorageMock) GetUserByEmail(ctx context.Context, email string) (*user.User, error) {
	args := m.Called(ctx, email)
	usr, _ := args.Get(0).(*user.User)
	return usr, args.Error(1)
}

// GetUserByID mocks fetching a user by their ID.
func (m *StorageMock) GetUserByID(ctx context.Context, userID int64) (*user.User, error) {
	args := m.Called(ctx, userID)
	usr, _ := args.Get(0).(*user.User)
	return usr, args.Error(1)
}

func (m *StorageMock) CreateLocation(ctx context.Context, location *models.Location) (*models.Location, error) {
	args := m.Called(ctx, location)
	created, _ := args.Get(0).(*models.Location)
	return created, args.Error(1)
}

func (m *StorageMock) GetUserLocations(ctx context.Context, userID int64) (models.Locations, error) {
	args := m.Called(ctx, userID)
	locations, _ := args.Get(0).(models.Locations)
	return locations, args.Error(1)
}

func (m *StorageMock) GetUserLocation(ctx context.Context, userID, locationID int64) (*models.Location, error) {
	args := m.Called(ctx, userID, locationID)
	location, _ := args.Get(0).(*models.Location)
	return location, args.Error(1)
}

func (m *StorageMock) UpdateUserLocation(ctx context.Context, location *models.Location) (*models.Location, error) {
	args := m.Called(ctx, location)
	updated, _ := args.Get(0).(*models.Location)
	return updated, args.Error(1)
}

func (m *StorageMock) DeleteUserLocation(ctx context.Context, userID, locationID int64) error {
	args := m.Called(ctx, userID, locationID)
	return args.Error(0)
}

// InsertLocations mocks the batch insert used by the archive import.
func (m *StorageMock) InsertLocations(ctx context.Context, locations models.Locations) (int64, error) {
	args := m.Called(ctx, locations)
	return args.Get(0).(int64), args.Error(1)
}

func (m *StorageMock) RevokeToken(ctx context.Context, token models.RevokedToken) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

func (m *StorageMock) IsTokenRevoked(ctx context.Context, tokenID string) (bool, error) {
	args := m.Called(ctx, tokenID)
	return args.Bool(0), args.Error(1)
}

func (m *StorageMock) PurgeExpiredTokens(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

// Close mocks closing the storage and releasing resources.
func (m *StorageMock) Close() error {
	args := m.Called()
	return args.Error(0)
}

// GetNumberOfUsers returns the number of users as defined by the mock.
//
// If OnGetNumberOfUsers is non-nil, it will be called to produce the result.
// Otherwise, the method returns 0 and no error by default.
func (m *StorageMock) GetNumberOfUsers(ctx context.Context) (int64, error) {
	if m.OnGetNumberOfUsers != nil {
		return m.OnGetNumberOfUsers(ctx)
	}
	return 0, nil
}

// GetNumberOfLocations returns the number of stored locations.
//
// If OnGetNumberOfLocations is defined, the method will call it and return
// its result. Otherwise, it defaults to returning 0 and no error.
func (m *StorageMock) GetNumberOfLocations(ctx context.Context) (int64, error) {
	if m.OnGetNumberOfLocations != nil {
		return m.OnGetNumberOfLocations(ctx)
	}
	return 0, nil
}
