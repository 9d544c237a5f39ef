// Package service holds the business rules of the location manager:
// account registration and login, ownership-scoped location CRUD and the
// bulk import of locations from an uploaded ZIP archive.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/thoas/go-funk"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/patric-chuzhbe/geoplaces/internal/importer"
	"github.com/patric-chuzhbe/geoplaces/internal/logger"
	"github.com/patric-chuzhbe/geoplaces/internal/models"
	"github.com/patric-chuzhbe/geoplaces/internal/user"
)

type userKeeper interface {
	CreateUser(ctx context.Context, usr *user.User) (int64, error)
	GetUserByEmail(ctx context.Context, email string) (*user.User, error)
	GetUserByID(ctx context.Context, userID int64) (*user.User, error)
}

type locationsKeeper interface {
	CreateLocation(ctx context.Context, location *models.Location) (*models.Location, error)
	GetUserLocations(ctx context.Context, userID int64) (models.Locations, error)
	GetUserLocation(ctx context.Context, userID, locationID int64) (*models.Location, error)
	UpdateUserLocation(ctx context.Context, location *models.Location) (*models.Location, error)
	DeleteUserLocation(ctx context.Context, userID, locationID int64) error
	InsertLocations(ctx context.Context, locations models.Locations) (int64, error)
}

type statsKeeper interface {
	GetNumberOfUsers(ctx context.Context) (int64, error)
	GetNumberOfLocations(ctx context.Context) (int64, error)
}

type pinger interface {
	Ping(ctx context.Context) error
}

type storage interface {
	userKeeper
	locationsKeeper
	statsKeeper
	pinger
}

type archiveKeeper interface {
	Put(ctx context.Context, userID int64, payload []byte) (string, error)
}

const (
	defaultMaxUploadSize  = 5 << 20
	defaultMaxContentSize = 50 << 20

	archiveRetentionTimeout = 30 * time.Second
)

var (
	ErrRegisterFieldsRequired = models.NewValidationError("name, email, and password are required")
	ErrInvalidEmail           = models.NewValidationError("Invalid email address")
	ErrPasswordTooShort       = models.NewValidationError("Password must be at least 6 characters")
	ErrLoginFieldsRequired    = models.NewValidationError("email and password are required")
	ErrLocationFieldsRequired = models.NewValidationError("name, lat, and lng are required")
	ErrNameRequired           = models.NewValidationError("name must not be empty")
	ErrEmptyPatch             = models.NewValidationError("at least one of name, lat, lng is required")
	ErrFileRequired           = models.NewValidationError("file is required (zip containing a single .txt file)")
	ErrNotAnArchive           = models.NewValidationError("file must be a .zip archive")
	ErrFileTooLarge           = models.NewValidationError("file is too large")
	ErrContentTooLarge        = models.NewValidationError("text file is too large")
	ErrNoValidRows            = models.NewValidationError("No valid rows found in text file")
)

type Service struct {
	db             storage
	archives       archiveKeeper
	maxUploadSize  int64
	maxContentSize int64
	validate       *validator.Validate
}

type Option func(*Service)

// WithArchiveKeeper keeps a copy of every successfully imported archive.
func WithArchiveKeeper(archives archiveKeeper) Option {
	return func(s *Service) {
		s.archives = archives
	}
}

// WithMaxUploadSize limits the size of an imported archive in bytes.
func WithMaxUploadSize(size int64) Option {
	return func(s *Service) {
		s.maxUploadSize = size
	}
}

// WithMaxContentSize limits the size of the text file once it is inflated.
func WithMaxContentSize(size int64) Option {
	return func(s *Service) {
		s.maxContentSize = size
	}
}

func New(db storage, options ...Option) *Service {
	s := &Service{
		db:             db,
		maxUploadSize:  defaultMaxUploadSize,
		maxContentSize: defaultMaxContentSize,
		validate:       validator.New(),
	}
	for _, option := range options {
		option(s)
	}

	return s
}

// MaxUploadSize is the largest archive ImportArchive accepts.
func (s *Service) MaxUploadSize() int64 {
	return s.maxUploadSize
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates an account. The password is stored only as a bcrypt hash.
func (s *Service) Register(ctx context.Context, request models.RegisterRequest) (*user.User, error) {
	request.Name = strings.TrimSpace(request.Name)
	request.Email = normalizeEmail(request.Email)
	if request.Name == "" || request.Email == "" || request.Password == "" {
		return nil, ErrRegisterFieldsRequired
	}

	if err := s.validate.Struct(request); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) && validationErrors[0].Field() == "Password" {
			return nil, ErrPasswordTooShort
		}
		return nil, ErrInvalidEmail
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(request.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("in internal/service/service.go/Register(): error while `bcrypt.GenerateFromPassword()` calling: %w", err)
	}

	usr := &user.User{
		Name:         request.Name,
		Email:        request.Email,
		PasswordHash: string(hash),
	}
	usr.ID, err = s.db.CreateUser(ctx, usr)
	if err != nil {
		if errors.Is(err, models.ErrUserExists) {
			return nil, models.ErrUserExists
		}
		return nil, fmt.Errorf("in internal/service/service.go/Register(): error while `s.db.CreateUser()` calling: %w", err)
	}

	return usr, nil
}

// Login checks the credentials. An unknown email and a wrong password
// produce the same models.ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, request models.LoginRequest) (*user.User, error) {
	email := normalizeEmail(request.Email)
	if email == "" || request.Password == "" {
		return nil, ErrLoginFieldsRequired
	}

	usr, err := s.db.GetUserByEmail(ctx, email)
	if errors.Is(err, models.ErrNotFound) {
		return nil, models.ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("in internal/service/service.go/Login(): error while `s.db.GetUserByEmail()` calling: %w", err)
	}

	err = bcrypt.CompareHashAndPassword([]byte(usr.PasswordHash), []byte(request.Password))
	if err != nil {
		return nil, models.ErrInvalidCredentials
	}

	return usr, nil
}

// CurrentUser returns the account behind an authenticated session.
func (s *Service) CurrentUser(ctx context.Context, userID int64) (*user.User, error) {
	usr, err := s.db.GetUserByID(ctx, userID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, models.ErrUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("in internal/service/service.go/CurrentUser(): error while `s.db.GetUserByID()` calling: %w", err)
	}

	return usr, nil
}

func (s *Service) ListLocations(ctx context.Context, userID int64) (models.Locations, error) {
	return s.db.GetUserLocations(ctx, userID)
}

// GetLocation returns models.ErrNotFound for missing and foreign locations alike.
func (s *Service) GetLocation(ctx context.Context, userID, locationID int64) (*models.Location, error) {
	return s.db.GetUserLocation(ctx, userID, locationID)
}

func (s *Service) CreateLocation(
	ctx context.Context,
	userID int64,
	request models.CreateLocationRequest,
) (*models.Location, error) {
	if request.Name == nil || request.Lat == nil || request.Lng == nil {
		return nil, ErrLocationFieldsRequired
	}

	name := strings.TrimSpace(*request.Name)
	if name == "" {
		return nil, ErrLocationFieldsRequired
	}

	lat, lng := float64(*request.Lat), float64(*request.Lng)
	if err := models.ValidateCoordinates(lat, lng); err != nil {
		return nil, err
	}

	return s.db.CreateLocation(ctx, &models.Location{
		Name:   name,
		Lat:    lat,
		Lng:    lng,
		UserID: userID,
	})
}

func validatePatch(patch models.LocationPatch) error {
	if patch.IsEmpty() {
		return ErrEmptyPatch
	}

	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return ErrNameRequired
	}

	return nil
}

// UpdateLocation applies a partial update to a location owned by the user.
func (s *Service) UpdateLocation(
	ctx context.Context,
	userID,
	locationID int64,
	patch models.LocationPatch,
) (*models.Location, error) {
	if err := validatePatch(patch); err != nil {
		return nil, err
	}

	existing, err := s.db.GetUserLocation(ctx, userID, locationID)
	if err != nil {
		return nil, err
	}

	merged := *existing
	if patch.Name != nil {
		merged.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Lat != nil {
		merged.Lat = float64(*patch.Lat)
	}
	if patch.Lng != nil {
		merged.Lng = float64(*patch.Lng)
	}

	if err := models.ValidateCoordinates(merged.Lat, merged.Lng); err != nil {
		return nil, err
	}

	return s.db.UpdateUserLocation(ctx, &merged)
}

func (s *Service) DeleteLocation(ctx context.Context, userID, locationID int64) error {
	return s.db.DeleteUserLocation(ctx, userID, locationID)
}

func importError(err error) error {
	switch {
	case errors.Is(err, importer.ErrNotSingleTextEntry):
		return models.NewValidationError(importer.ErrNotSingleTextEntry.Error())
	case errors.Is(err, importer.ErrInvalidArchive):
		return models.NewValidationError(importer.ErrInvalidArchive.Error())
	case errors.Is(err, importer.ErrEntryTooLarge):
		return ErrContentTooLarge
	}

	return err
}

// ImportArchive parses an uploaded ZIP archive and stores all of its valid
// rows for the user in one batch.
func (s *Service) ImportArchive(
	ctx context.Context,
	userID int64,
	fileName string,
	payload []byte,
) (models.ImportResult, error) {
	if len(payload) == 0 {
		return models.ImportResult{}, ErrFileRequired
	}
	if int64(len(payload)) > s.maxUploadSize {
		return models.ImportResult{}, ErrFileTooLarge
	}
	if !importer.HasArchiveExtension(fileName) {
		return models.ImportResult{}, ErrNotAnArchive
	}

	archive, err := importer.OpenArchive(payload)
	if err != nil {
		return models.ImportResult{}, importError(err)
	}

	entry, err := importer.ContentEntry(archive.File)
	if err != nil {
		return models.ImportResult{}, importError(err)
	}

	content, err := importer.ReadText(entry, s.maxContentSize)
	if err != nil {
		return models.ImportResult{}, importError(err)
	}

	parsed := importer.ParseRows(content)
	if len(parsed.Rows) == 0 {
		return models.ImportResult{}, ErrNoValidRows
	}

	batch := funk.Map(parsed.Rows, func(row importer.Row) models.Location {
		return models.Location{
			Name:   row.Name,
			Lat:    row.Lat,
			Lng:    row.Lng,
			UserID: userID,
		}
	}).([]models.Location)

	inserted, err := s.db.InsertLocations(ctx, batch)
	if err != nil {
		return models.ImportResult{}, fmt.Errorf("in internal/service/service.go/ImportArchive(): error while `s.db.InsertLocations()` calling: %w", err)
	}

	s.retainArchive(ctx, userID, payload)

	return models.ImportResult{
		Inserted:    inserted,
		TotalParsed: parsed.Total(),
		InvalidRows: parsed.Invalid,
	}, nil
}

func (s *Service) retainArchive(ctx context.Context, userID int64, payload []byte) {
	if s.archives == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveRetentionTimeout)
	defer cancel()

	key, err := s.archives.Put(ctx, userID, payload)
	if err != nil {
		logger.Log.Warnw("Unable to retain the imported archive", "userID", userID, zap.Error(err))
		return
	}

	logger.Log.Debugw("Imported archive retained", "userID", userID, "key", key)
}

// Ping checks the health of the storage layer.
func (s *Service) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// GetInternalStats returns the number of users and stored locations.
func (s *Service) GetInternalStats(ctx context.Context) (models.InternalStatsResponse, error) {
	users, err := s.db.GetNumberOfUsers(ctx)
	if err != nil {
		return models.InternalStatsResponse{}, err
	}

	locations, err := s.db.GetNumberOfLocations(ctx)
	if err != nil {
		return models.InternalStatsResponse{}, err
	}

	return models.InternalStatsResponse{
		Users:     users,
		Locations: locations,
	}, nil
}
