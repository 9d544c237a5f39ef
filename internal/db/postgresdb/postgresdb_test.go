package postgresdb

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patric-chuzhbe/geoplaces/internal/models"
	"github.com/patric-chuzhbe/geoplaces/internal/user"
)

var locationColumns = []string{"id", "name", "lat", "lng", "user_id", "created_at", "updated_at"}

func newDBWithMock(t *testing.T) (*PostgresDB, sqlmock.Sqlmock) {
	t.Helper()

	database, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = database.Close()
	})

	return newFromDB(database, time.Second), mock
}

func TestCreateUser(t *testing.T) {
	db, mock := newDBWithMock(t)

	mock.ExpectQuery(`(?s)^INSERT\s+INTO\s+users\s*\(name,\s*email,\s*password_hash\)\s*VALUES\s*\(\$1,\s*\$2,\s*\$3\)\s*RETURNING\s+id$`).
		WithArgs("Alice", "alice@example.com", "hash").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

	userID, err := db.CreateUser(context.Background(), &user.User{Name: "Alice", Email: "alice@example.com", PasswordHash: "hash"})
	require.NoError(t, err)
	assert.Equal(t, int64(7), userID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	db, mock := newDBWithMock(t)

	mock.ExpectQuery(`INSERT\s+INTO\s+users`).
		WillReturnError(&pgconn.PgError{Code: uniqueViolationCode})

	_, err := db.CreateUser(context.Background(), &user.User{Name: "Alice", Email: "alice@example.com", PasswordHash: "hash"})
	assert.ErrorIs(t, err, models.ErrUserExists)
}

func TestGetUserByEmail(t *testing.T) {
	db, mock := newDBWithMock(t)
	createdAt := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectQuery(`(?s)^SELECT\s+id,\s*name,\s*email,\s*password_hash,\s*created_at\s+FROM\s+users\s+WHERE\s+email\s*=\s*\$1$`).
		WithArgs("alice@example.com").
		WillReturnRows(
			sqlmock.NewRows([]string{"id", "name", "email", "password_hash", "created_at"}).
				AddRow(int64(1), "Alice", "alice@example.com", "hash", createdAt),
		)

	usr, err := db.GetUserByEmail(context.Background(), "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, &user.User{ID: 1, Name: "Alice", Email: "alice@example.com", PasswordHash: "hash", CreatedAt: createdAt}, usr)
}

func TestGetUserByIDNotFound(t *testing.T) {
	db, mock := newDBWithMock(t)

	mock.ExpectQuery(`FROM\s+users\s+WHERE\s+id\s*=\s*\$1`).
		WithArgs(int64(5)).
		WillReturnError(sql.ErrNoRows)

	_, err := db.GetUserByID(context.Background(), 5)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestGetUserLocations(t *testing.T) {
	db, mock := newDBWithMock(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`(?s)FROM\s+locations\s+WHERE\s+user_id\s*=\s*\$1\s+ORDER\s+BY\s+created_at\s+DESC`).
		WithArgs(int64(1)).
		WillReturnRows(
			sqlmock.NewRows(locationColumns).
				AddRow(int64(2), "Zoo Negara", 3.2105416, 101.75920504, int64(1), now, now).
				AddRow(int64(1), "Suria KLCC", 3.157324409, 101.7121981, int64(1), now.Add(-time.Minute), now),
		)

	locations, err := db.GetUserLocations(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, locations, 2)
	assert.Equal(t, "Zoo Negara", locations[0].Name)
	assert.Equal(t, 101.7121981, locations[1].Lng)
}

func TestGetUserLocationNotFound(t *testing.T) {
	db, mock := newDBWithMock(t)

	mock.ExpectQuery(`(?s)FROM\s+locations\s+WHERE\s+id\s*=\s*\$1\s+AND\s+user_id\s*=\s*\$2`).
		WithArgs(int64(9), int64(1)).
		WillReturnRows(sqlmock.NewRows(locationColumns))

	_, err := db.GetUserLocation(context.Background(), 1, 9)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestUpdateUserLocationNotFound(t *testing.T) {
	db, mock := newDBWithMock(t)

	mock.ExpectQuery(`(?s)UPDATE\s+locations\s+SET.*WHERE\s+id\s*=\s*\$4\s+AND\s+user_id\s*=\s*\$5`).
		WithArgs("KLCC", 3.1, 101.7, int64(9), int64(1)).
		WillReturnError(sql.ErrNoRows)

	_, err := db.UpdateUserLocation(context.Background(), &models.Location{ID: 9, UserID: 1, Name: "KLCC", Lat: 3.1, Lng: 101.7})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestDeleteUserLocation(t *testing.T) {
	db, mock := newDBWithMock(t)

	mock.ExpectExec(`DELETE\s+FROM\s+locations\s+WHERE\s+id\s*=\s*\$1\s+AND\s+user_id\s*=\s*\$2`).
		WithArgs(int64(3), int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE\s+FROM\s+locations`).
		WithArgs(int64(3), int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, db.DeleteUserLocation(context.Background(), 1, 3))
	assert.ErrorIs(t, db.DeleteUserLocation(context.Background(), 1, 3), models.ErrNotFound)
}

func TestInsertLocationsCommits(t *testing.T) {
	db, mock := newDBWithMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`(?s)INSERT\s+INTO\s+locations\s*\(name,\s*lat,\s*lng,\s*user_id\)\s*VALUES\s*\(\$1,\s*\$2,\s*\$3,\s*\$4\),\(\$5,\s*\$6,\s*\$7,\s*\$8\)$`).
		WithArgs("A", 1.0, 2.0, int64(1), "B", 3.0, 4.0, int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	inserted, err := db.InsertLocations(context.Background(), models.Locations{
		{Name: "A", Lat: 1, Lng: 2, UserID: 1},
		{Name: "B", Lat: 3, Lng: 4, UserID: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertLocationsRollsBack(t *testing.T) {
	db, mock := newDBWithMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT\s+INTO\s+locations`).
		WillReturnError(errors.New("db down"))
	mock.ExpectRollback()

	_, err := db.InsertLocations(context.Background(), models.Locations{{Name: "A", Lat: 1, Lng: 2, UserID: 1}})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertLocationsSplitsLargeBatches(t *testing.T) {
	db, mock := newDBWithMock(t)

	locations := make(models.Locations, insertBatchSize+1)
	for i := range locations {
		locations[i] = models.Location{Name: "A", Lat: 1, Lng: 2, UserID: 1}
	}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT\s+INTO\s+locations`).WillReturnResult(sqlmock.NewResult(0, insertBatchSize))
	mock.ExpectExec(`INSERT\s+INTO\s+locations`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	inserted, err := db.InsertLocations(context.Background(), locations)
	require.NoError(t, err)
	assert.Equal(t, int64(insertBatchSize+1), inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRevokedTokens(t *testing.T) {
	db, mock := newDBWithMock(t)
	expiresAt := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(`(?s)INSERT\s+INTO\s+revoked_tokens.*ON\s+CONFLICT\s+\(id\)\s+DO\s+NOTHING`).
		WithArgs("jti", int64(1), expiresAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT\s+EXISTS`).
		WithArgs("jti").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectExec(`DELETE\s+FROM\s+revoked_tokens\s+WHERE\s+expires_at\s*<\s*\$1`).
		WithArgs(expiresAt).
		WillReturnResult(sqlmock.NewResult(0, 3))

	ctx := context.Background()
	require.NoError(t, db.RevokeToken(ctx, models.RevokedToken{ID: "jti", UserID: 1, ExpiresAt: expiresAt}))

	revoked, err := db.IsTokenRevoked(ctx, "jti")
	require.NoError(t, err)
	assert.True(t, revoked)

	purged, err := db.PurgeExpiredTokens(ctx, expiresAt)
	require.NoError(t, err)
	assert.Equal(t, int64(3), purged)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCounters(t *testing.T) {
	db, mock := newDBWithMock(t)

	mock.ExpectQuery(`SELECT\s+COUNT\(\*\)\s+FROM\s+users`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(4)))
	mock.ExpectQuery(`SELECT\s+COUNT\(\*\)\s+FROM\s+locations`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(12)))

	users, err := db.GetNumberOfUsers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), users)

	locations, err := db.GetNumberOfLocations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(12), locations)
}

func TestResetDBQuotesTableNames(t *testing.T) {
	db, mock := newDBWithMock(t)

	mock.ExpectQuery(`SELECT\s+tablename\s+FROM\s+pg_tables`).
		WillReturnRows(sqlmock.NewRows([]string{"tablename"}).AddRow("users").AddRow(`odd"name`))
	mock.ExpectExec(`DROP\s+TABLE\s+IF\s+EXISTS\s+"users"\s+CASCADE`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DROP\s+TABLE\s+IF\s+EXISTS\s+"odd""name"\s+CASCADE`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, db.resetDB(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
