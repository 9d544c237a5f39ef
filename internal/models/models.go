package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/patric-chuzhbe/geoplaces/internal/user"
)

// Location is a named point owned by a single user.
type Location struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	UserID    int64     `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Locations []Location

type LocationsResponse struct {
	Locations Locations `json:"locations"`
}

// Coordinate is a JSON number that also accepts its string form ("3.15").
type Coordinate float64

func (c *Coordinate) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(str), 64)
		if err != nil {
			return ErrNotANumber
		}
		*c = Coordinate(value)

		return nil
	}

	var value float64
	if err := json.Unmarshal(data, &value); err != nil {
		return ErrNotANumber
	}
	*c = Coordinate(value)

	return nil
}

// CreateLocationRequest carries pointers so that absent fields can be told apart from zero values.
type CreateLocationRequest struct {
	Name *string     `json:"name"`
	Lat  *Coordinate `json:"lat"`
	Lng  *Coordinate `json:"lng"`
}

// LocationPatch is a partial update: nil fields are left unchanged.
type LocationPatch struct {
	Name *string     `json:"name"`
	Lat  *Coordinate `json:"lat"`
	Lng  *Coordinate `json:"lng"`
}

// IsEmpty reports whether the patch changes nothing.
func (p *LocationPatch) IsEmpty() bool {
	return p.Name == nil && p.Lat == nil && p.Lng == nil
}

// ImportResult summarises one bulk import call. It is never persisted.
type ImportResult struct {
	Inserted    int64 `json:"inserted"`
	TotalParsed int   `json:"totalParsed"`
	InvalidRows int   `json:"invalidRows"`
}

type RegisterRequest struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type UserResponse struct {
	User user.Public `json:"user"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

type InternalStatsResponse struct {
	Users     int64 `json:"users"`
	Locations int64 `json:"locations"`
}

const (
	StorageTypePostgresql = iota
	StorageTypeFile
	StorageTypeMemory
)

// RevokedToken marks a session credential as unusable until it expires on its own.
type RevokedToken struct {
	ID        string
	UserID    int64
	ExpiresAt time.Time
}

var (
	ErrNotFound           = errors.New("not found")
	ErrUserExists         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrForbidden          = errors.New("forbidden")
	ErrNotANumber         = errors.New("value is not a number")
)

// ValidationError is a client mistake reported as 400 with its message.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func NewValidationError(message string) error {
	return &ValidationError{Message: message}
}
