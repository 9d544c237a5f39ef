// Package postgresdb provides a PostgreSQL-based implementation of the storage
// used for users, their locations and revoked session tokens.
// The schema is managed with goose migrations embedded into the binary.
package postgresdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/thoas/go-funk"

	"github.com/patric-chuzhbe/geoplaces/internal/db/postgresdb/migrations"
	"github.com/patric-chuzhbe/geoplaces/internal/models"
	"github.com/patric-chuzhbe/geoplaces/internal/user"
)

const (
	uniqueViolationCode = "23505"

	// insertBatchSize keeps a multi-row INSERT well below the PostgreSQL
	// limit of 65535 bind parameters.
	insertBatchSize = 1000
)

// PostgresDB is a PostgreSQL-backed implementation of the storage.
type PostgresDB struct {
	database          *sql.DB
	connectionTimeout time.Duration
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type initOptions struct {
	DBPreReset bool
}

// InitOption defines a functional option for configuring database initialization.
type InitOption func(*initOptions)

// WithDBPreReset enables or disables dropping every table before migration.
// It can be used for test setups or development purposes.
func WithDBPreReset(value bool) InitOption {
	return func(options *initOptions) {
		options.DBPreReset = value
	}
}

// New establishes a connection to the PostgreSQL database,
// runs schema migrations, and returns a configured PostgresDB instance.
func New(
	ctx context.Context,
	databaseDSN string,
	connectionTimeout time.Duration,
	optionsProto ...InitOption,
) (*PostgresDB, error) {
	options := &initOptions{
		DBPreReset: false,
	}
	for _, protoOption := range optionsProto {
		protoOption(options)
	}

	database, err := sql.Open("pgx", databaseDSN)
	if err != nil {
		return nil, err
	}

	result := newFromDB(database, connectionTimeout)

	if err := result.Ping(ctx); err != nil {
		_ = database.Close()
		return nil,
			fmt.Errorf(
				"in internal/db/postgresdb/postgresdb.go/New(): error while `result.Ping()` calling: %w",
				err,
			)
	}

	if options.DBPreReset {
		if err := result.resetDB(ctx); err != nil {
			_ = database.Close()
			return nil,
				fmt.Errorf(
					"in internal/db/postgresdb/postgresdb.go/New(): error while `result.resetDB()` calling: %w",
					err,
				)
		}
	}

	if err := result.migrate(ctx); err != nil {
		_ = database.Close()
		return nil,
			fmt.Errorf(
				"in internal/db/postgresdb/postgresdb.go/New(): error while `result.migrate()` calling: %w",
				err,
			)
	}

	return result, nil
}

func newFromDB(database *sql.DB, connectionTimeout time.Duration) *PostgresDB {
	return &PostgresDB{
		database:          database,
		connectionTimeout: connectionTimeout,
	}
}

func (db *PostgresDB) migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)

	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	return goose.UpContext(ctx, db.database, ".")
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError

	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}

// CreateUser inserts a new user and returns its identifier.
// A duplicate email yields models.ErrUserExists.
func (db *PostgresDB) CreateUser(ctx context.Context, usr *user.User) (int64, error) {
	row := db.database.QueryRowContext(
		ctx,
		`INSERT INTO users (name, email, password_hash) VALUES ($1, $2, $3) RETURNING id`,
		usr.Name,
		usr.Email,
		usr.PasswordHash,
	)
	var userID int64
	err := row.Scan(&userID)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, models.ErrUserExists
		}
		return 0, fmt.Errorf("in internal/db/postgresdb/postgresdb.go/CreateUser(): error while `row.Scan()` calling: %w", err)
	}

	return userID, nil
}

func (db *PostgresDB) getUser(ctx context.Context, database queryer, where string, arg interface{}) (*user.User, error) {
	row := database.QueryRowContext(
		ctx,
		`SELECT id, name, email, password_hash, created_at FROM users WHERE `+where,
		arg,
	)
	usr := &user.User{}
	err := row.Scan(&usr.ID, &usr.Name, &usr.Email, &usr.PasswordHash, &usr.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}

	return usr, nil
}

// GetUserByEmail finds a user by email or returns models.ErrNotFound.
func (db *PostgresDB) GetUserByEmail(ctx context.Context, email string) (*user.User, error) {
	return db.getUser(ctx, db.database, `email = $1`, email)
}

// GetUserByID finds a user by identifier or returns models.ErrNotFound.
func (db *PostgresDB) GetUserByID(ctx context.Context, userID int64) (*user.User, error) {
	return db.getUser(ctx, db.database, `id = $1`, userID)
}

// CreateLocation inserts a location and returns it with the generated
// identifier and timestamps.
func (db *PostgresDB) CreateLocation(ctx context.Context, location *models.Location) (*models.Location, error) {
	row := db.database.QueryRowContext(
		ctx,
		`
			INSERT INTO locations (name, lat, lng, user_id)
				VALUES ($1, $2, $3, $4)
				RETURNING id, created_at, updated_at
		`,
		location.Name,
		location.Lat,
		location.Lng,
		location.UserID,
	)
	created := *location
	err := row.Scan(&created.ID, &created.CreatedAt, &created.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("in internal/db/postgresdb/postgresdb.go/CreateLocation(): error while `row.Scan()` calling: %w", err)
	}

	return &created, nil
}

func scanLocations(rows *sql.Rows) (models.Locations, error) {
	result := models.Locations{}
	for rows.Next() {
		var location models.Location
		err := rows.Scan(
			&location.ID,
			&location.Name,
			&location.Lat,
			&location.Lng,
			&location.UserID,
			&location.CreatedAt,
			&location.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		result = append(result, location)
	}

	err := rows.Err()
	if err != nil {
		return nil, err
	}

	return result, nil
}

// GetUserLocations returns the user's locations, newest first.
func (db *PostgresDB) GetUserLocations(ctx context.Context, userID int64) (models.Locations, error) {
	rows, err := db.database.QueryContext(
		ctx,
		`
			SELECT id, name, lat, lng, user_id, created_at, updated_at
				FROM locations
				WHERE user_id = $1
				ORDER BY created_at DESC, id DESC
		`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanLocations(rows)
}

// GetUserLocation returns a location owned by the user or models.ErrNotFound.
func (db *PostgresDB) GetUserLocation(ctx context.Context, userID, locationID int64) (*models.Location, error) {
	rows, err := db.database.QueryContext(
		ctx,
		`
			SELECT id, name, lat, lng, user_id, created_at, updated_at
				FROM locations
				WHERE id = $1 AND user_id = $2
		`,
		locationID,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	locations, err := scanLocations(rows)
	if err != nil {
		return nil, err
	}
	if len(locations) == 0 {
		return nil, models.ErrNotFound
	}

	return &locations[0], nil
}

// UpdateUserLocation overwrites name and coordinates of a location owned by
// location.UserID. Ownership is enforced by the WHERE clause.
func (db *PostgresDB) UpdateUserLocation(ctx context.Context, location *models.Location) (*models.Location, error) {
	row := db.database.QueryRowContext(
		ctx,
		`
			UPDATE locations
				SET name = $1, lat = $2, lng = $3, updated_at = NOW()
				WHERE id = $4 AND user_id = $5
				RETURNING created_at, updated_at
		`,
		location.Name,
		location.Lat,
		location.Lng,
		location.ID,
		location.UserID,
	)
	updated := *location
	err := row.Scan(&updated.CreatedAt, &updated.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("in internal/db/postgresdb/postgresdb.go/UpdateUserLocation(): error while `row.Scan()` calling: %w", err)
	}

	return &updated, nil
}

// DeleteUserLocation removes a location owned by the user or returns models.ErrNotFound.
func (db *PostgresDB) DeleteUserLocation(ctx context.Context, userID, locationID int64) error {
	result, err := db.database.ExecContext(
		ctx,
		`DELETE FROM locations WHERE id = $1 AND user_id = $2`,
		locationID,
		userID,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return models.ErrNotFound
	}

	return nil
}

func insertLocationsBatch(ctx context.Context, database executor, batch []models.Location) (int64, error) {
	placeholders := make([]string, len(batch))
	queryParams := make([]interface{}, 0, len(batch)*4)
	for i, location := range batch {
		placeholders[i] = fmt.Sprintf("($%d, $%d, $%d, $%d)", i*4+1, i*4+2, i*4+3, i*4+4)
		queryParams = append(queryParams, location.Name, location.Lat, location.Lng, location.UserID)
	}

	result, err := database.ExecContext(
		ctx,
		fmt.Sprintf(
			`INSERT INTO locations (name, lat, lng, user_id) VALUES %s`,
			strings.Join(placeholders, ","),
		),
		queryParams...,
	)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

// InsertLocations stores the batch in a single transaction: either every
// location is inserted or none is.
func (db *PostgresDB) InsertLocations(ctx context.Context, locations models.Locations) (int64, error) {
	if len(locations) == 0 {
		return 0, nil
	}

	transaction, err := db.database.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}

	var inserted int64
	batches := funk.Chunk([]models.Location(locations), insertBatchSize).([][]models.Location)
	for _, batch := range batches {
		affected, err := insertLocationsBatch(ctx, transaction, batch)
		if err != nil {
			err2 := transaction.Rollback()
			if err2 != nil {
				return 0, errors.Join(err, err2)
			}
			return 0, fmt.Errorf("in internal/db/postgresdb/postgresdb.go/InsertLocations(): error while `insertLocationsBatch()` calling: %w", err)
		}
		inserted += affected
	}

	err = transaction.Commit()
	if err != nil {
		return 0, err
	}

	return inserted, nil
}

// RevokeToken records a token ID as revoked until its expiry.
func (db *PostgresDB) RevokeToken(ctx context.Context, token models.RevokedToken) error {
	_, err := db.database.ExecContext(
		ctx,
		`
			INSERT INTO revoked_tokens (id, user_id, expires_at)
				VALUES ($1, $2, $3)
				ON CONFLICT (id) DO NOTHING
		`,
		token.ID,
		token.UserID,
		token.ExpiresAt,
	)

	return err
}

// IsTokenRevoked reports whether the token ID has been revoked.
func (db *PostgresDB) IsTokenRevoked(ctx context.Context, tokenID string) (bool, error) {
	row := db.database.QueryRowContext(
		ctx,
		`SELECT EXISTS (SELECT 1 FROM revoked_tokens WHERE id = $1)`,
		tokenID,
	)
	var revoked bool
	err := row.Scan(&revoked)
	if err != nil {
		return false, err
	}

	return revoked, nil
}

// PurgeExpiredTokens deletes revocations of tokens that expired before the given moment.
func (db *PostgresDB) PurgeExpiredTokens(ctx context.Context, before time.Time) (int64, error) {
	result, err := db.database.ExecContext(
		ctx,
		`DELETE FROM revoked_tokens WHERE expires_at < $1`,
		before,
	)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

func (db *PostgresDB) count(ctx context.Context, query string) (int64, error) {
	row := db.database.QueryRowContext(ctx, query)
	var result int64
	err := row.Scan(&result)
	if err != nil {
		return 0, err
	}

	return result, nil
}

// GetNumberOfUsers returns the number of registered users.
func (db *PostgresDB) GetNumberOfUsers(ctx context.Context) (int64, error) {
	return db.count(ctx, `SELECT COUNT(*) FROM users`)
}

// GetNumberOfLocations returns the number of stored locations.
func (db *PostgresDB) GetNumberOfLocations(ctx context.Context) (int64, error) {
	return db.count(ctx, `SELECT COUNT(*) FROM locations`)
}

// Ping verifies connectivity with the PostgreSQL database within the configured timeout.
func (db *PostgresDB) Ping(ctx context.Context) error {
	ctxWithTimeout, cancel := context.WithTimeout(ctx, db.connectionTimeout)
	defer cancel()

	return db.database.PingContext(ctxWithTimeout)
}

// Close closes the database connection and releases any associated resources.
func (db *PostgresDB) Close() error {
	err := db.database.Close()
	if err != nil {
		return err
	}

	return nil
}

func (db *PostgresDB) resetDB(ctx context.Context) error {
	rows, err := db.database.QueryContext(
		ctx,
		`SELECT tablename FROM pg_tables WHERE schemaname = 'public'`,
	)
	if err != nil {
		return fmt.Errorf(
			"in internal/db/postgresdb/postgresdb.go/resetDB(): error while `db.database.QueryContext()` calling: %w",
			err,
		)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var table string
		if err := rows.Scan(&table); err != nil {
			return err
		}
		tables = append(tables, table)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, table := range tables {
		_, err := db.database.ExecContext(ctx, `DROP TABLE IF EXISTS `+pq.QuoteIdentifier(table)+` CASCADE`)
		if err != nil {
			return fmt.Errorf(
				"in internal/db/postgresdb/postgresdb.go/resetDB(): error while `db.database.ExecContext()` calling: %w",
				err,
			)
		}
	}

	return nil
}
