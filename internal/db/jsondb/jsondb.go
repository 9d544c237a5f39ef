// Package jsondb keeps users, locations and revoked tokens in memory and
// persists them as a single JSON document when the storage is closed.
package jsondb

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/patric-chuzhbe/geoplaces/internal/models"
	"github.com/patric-chuzhbe/geoplaces/internal/user"
)

type JSONDB struct {
	fileName string
	mu       sync.RWMutex
	Cache    CacheStruct
}

type CacheStruct struct {
	Users          map[int64]*user.User
	Locations      map[int64]*models.Location
	RevokedTokens  map[string]models.RevokedToken
	NextUserID     int64
	NextLocationID int64
}

// NewCache returns an empty cache with identifiers starting at 1.
func NewCache() CacheStruct {
	return CacheStruct{
		Users:          map[int64]*user.User{},
		Locations:      map[int64]*models.Location{},
		RevokedTokens:  map[string]models.RevokedToken{},
		NextUserID:     1,
		NextLocationID: 1,
	}
}

// NewInMemory returns a JSONDB that is never written to disk.
func NewInMemory() *JSONDB {
	return &JSONDB{Cache: NewCache()}
}

func writeToJSONFile(fileName string, cache interface{}) error {
	jsonData, err := json.MarshalIndent(cache, "", "\t")
	if err != nil {
		return fmt.Errorf("error marshaling JSON: %w", err)
	}

	file, err := os.OpenFile(fileName, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0600)
	if err != nil {
		return fmt.Errorf("error opening file: %w", err)
	}
	defer file.Close()

	_, err = file.Write(jsonData)
	if err != nil {
		return fmt.Errorf("error writing to file: %w", err)
	}

	return nil
}

func parseJSONFile(fileName string, cache *CacheStruct) error {
	file, err := os.Open(fileName)
	if err != nil {
		return err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	err = decoder.Decode(cache)
	if err != nil {
		return err
	}

	return nil
}

func (c *CacheStruct) fillGaps() {
	if c.Users == nil {
		c.Users = map[int64]*user.User{}
	}
	if c.Locations == nil {
		c.Locations = map[int64]*models.Location{}
	}
	if c.RevokedTokens == nil {
		c.RevokedTokens = map[string]models.RevokedToken{}
	}
	if c.NextUserID < 1 {
		c.NextUserID = 1
	}
	if c.NextLocationID < 1 {
		c.NextLocationID = 1
	}
}

// New loads the storage from fileName. A missing file yields an empty storage
// that will be created on Close.
func New(fileName string) (*JSONDB, error) {
	db := &JSONDB{
		fileName: fileName,
		Cache:    NewCache(),
	}

	err := parseJSONFile(db.fileName, &db.Cache)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("in internal/db/jsondb/jsondb.go/New(): error while `parseJSONFile()` calling: %w", err)
	}
	db.Cache.fillGaps()

	return db, nil
}

func (db *JSONDB) Ping(ctx context.Context) error {
	return nil
}

// Close writes the snapshot to the file, if the storage has one.
func (db *JSONDB) Close() error {
	if db.fileName == "" {
		return nil
	}

	db.mu.RLock()
	defer db.mu.RUnlock()

	return writeToJSONFile(db.fileName, db.Cache)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (db *JSONDB) CreateUser(ctx context.Context, usr *user.User) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, existing := range db.Cache.Users {
		if normalizeEmail(existing.Email) == normalizeEmail(usr.Email) {
			return 0, models.ErrUserExists
		}
	}

	stored := *usr
	stored.ID = db.Cache.NextUserID
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	db.Cache.Users[stored.ID] = &stored
	db.Cache.NextUserID++

	return stored.ID, nil
}

func (db *JSONDB) GetUserByEmail(ctx context.Context, email string) (*user.User, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	for _, existing := range db.Cache.Users {
		if normalizeEmail(existing.Email) == normalizeEmail(email) {
			found := *existing
			return &found, nil
		}
	}

	return nil, models.ErrNotFound
}

func (db *JSONDB) GetUserByID(ctx context.Context, userID int64) (*user.User, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	existing, ok := db.Cache.Users[userID]
	if !ok {
		return nil, models.ErrNotFound
	}
	found := *existing

	return &found, nil
}

func (db *JSONDB) insertLocation(location models.Location, now time.Time) models.Location {
	location.ID = db.Cache.NextLocationID
	location.CreatedAt = now
	location.UpdatedAt = now
	db.Cache.Locations[location.ID] = &location
	db.Cache.NextLocationID++

	return location
}

func (db *JSONDB) CreateLocation(ctx context.Context, location *models.Location) (*models.Location, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.Cache.Users[location.UserID]; !ok {
		return nil, fmt.Errorf("in internal/db/jsondb/jsondb.go/CreateLocation(): unknown user %d", location.UserID)
	}

	created := db.insertLocation(*location, time.Now().UTC())

	return &created, nil
}

// InsertLocations stores the whole batch or nothing.
func (db *JSONDB) InsertLocations(ctx context.Context, locations models.Locations) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, location := range locations {
		if _, ok := db.Cache.Users[location.UserID]; !ok {
			return 0, fmt.Errorf("in internal/db/jsondb/jsondb.go/InsertLocations(): unknown user %d", location.UserID)
		}
	}

	now := time.Now().UTC()
	for _, location := range locations {
		db.insertLocation(location, now)
	}

	return int64(len(locations)), nil
}

func (db *JSONDB) GetUserLocations(ctx context.Context, userID int64) (models.Locations, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	result := models.Locations{}
	for _, location := range db.Cache.Locations {
		if location.UserID == userID {
			result = append(result, *location)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	return result, nil
}

func (db *JSONDB) GetUserLocation(ctx context.Context, userID, locationID int64) (*models.Location, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	location, ok := db.Cache.Locations[locationID]
	if !ok || location.UserID != userID {
		return nil, models.ErrNotFound
	}
	found := *location

	return &found, nil
}

func (db *JSONDB) UpdateUserLocation(ctx context.Context, location *models.Location) (*models.Location, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	existing, ok := db.Cache.Locations[location.ID]
	if !ok || existing.UserID != location.UserID {
		return nil, models.ErrNotFound
	}

	existing.Name = location.Name
	existing.Lat = location.Lat
	existing.Lng = location.Lng
	existing.UpdatedAt = time.Now().UTC()
	updated := *existing

	return &updated, nil
}

func (db *JSONDB) DeleteUserLocation(ctx context.Context, userID, locationID int64) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	existing, ok := db.Cache.Locations[locationID]
	if !ok || existing.UserID != userID {
		return models.ErrNotFound
	}
	delete(db.Cache.Locations, locationID)

	return nil
}

func (db *JSONDB) RevokeToken(ctx context.Context, token models.RevokedToken) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.Cache.RevokedTokens[token.ID] = token

	return nil
}

func (db *JSONDB) IsTokenRevoked(ctx context.Context, tokenID string) (bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	_, revoked := db.Cache.RevokedTokens[tokenID]

	return revoked, nil
}

// PurgeExpiredTokens forgets revocations whose tokens expired before the given moment.
func (db *JSONDB) PurgeExpiredTokens(ctx context.Context, before time.Time) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var purged int64
	for id, token := range db.Cache.RevokedTokens {
		if token.ExpiresAt.Before(before) {
			delete(db.Cache.RevokedTokens, id)
			purged++
		}
	}

	return purged, nil
}

func (db *JSONDB) GetNumberOfUsers(ctx context.Context) (int64, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return int64(len(db.Cache.Users)), nil
}

func (db *JSONDB) GetNumberOfLocations(ctx context.Context) (int64, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return int64(len(db.Cache.Locations)), nil
}
