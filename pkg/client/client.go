// Package client is a Go client for the location management API.
//
// A Client is bound to a Session: Login and Register fill it in and save it,
// Logout clears it, and every other call presents its credential as a
// bearer token.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultTimeout = 30 * time.Second

// User is the public view of an account.
type User struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Location is a named point owned by the current user.
type Location struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	UserID    int64     `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// LocationPatch changes only the fields that are set.
type LocationPatch struct {
	Name *string  `json:"name,omitempty"`
	Lat  *float64 `json:"lat,omitempty"`
	Lng  *float64 `json:"lng,omitempty"`
}

// ImportResult summarises an archive import.
type ImportResult struct {
	Inserted    int64 `json:"inserted"`
	TotalParsed int   `json:"totalParsed"`
	InvalidRows int   `json:"invalidRows"`
}

type userResponse struct {
	User User `json:"user"`
}

type locationsResponse struct {
	Locations []Location `json:"locations"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// HTTPError is a non-2xx answer from the server.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server answered %d", e.StatusCode)
	}
	return fmt.Sprintf("server answered %d: %s", e.StatusCode, e.Message)
}

// ErrNotLoggedIn is returned by calls that need a session when there is none.
var ErrNotLoggedIn = errors.New("not logged in")

// IsStatus reports whether err is an HTTPError with the given status code.
func IsStatus(err error, statusCode int) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == statusCode
}

// Client talks to one server on behalf of one session.
type Client struct {
	http    *resty.Client
	session *Session
}

// Option tunes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.http = resty.NewWithClient(httpClient).SetBaseURL(c.http.BaseURL)
	}
}

// WithTimeout limits every request.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.http.SetTimeout(timeout)
	}
}

// New creates a client for baseURL. A nil session is replaced by an
// in-memory one.
func New(baseURL string, session *Session, options ...Option) *Client {
	if session == nil {
		session = NewSession("")
	}

	c := &Client{
		http:    resty.New().SetCookieJar(nil).SetBaseURL(baseURL).SetTimeout(defaultTimeout),
		session: session,
	}
	for _, option := range options {
		option(c)
	}

	return c
}

// Session returns the state the client works with.
func (c *Client) Session() *Session {
	return c.session
}

func (c *Client) request(ctx context.Context) *resty.Request {
	request := c.http.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetError(&errorResponse{})
	if c.session.Authenticated() {
		request.SetAuthToken(c.session.Token)
	}

	return request
}

func (c *Client) authenticatedRequest(ctx context.Context) (*resty.Request, error) {
	if !c.session.Authenticated() {
		return nil, ErrNotLoggedIn
	}

	return c.request(ctx), nil
}

func checkResponse(response *resty.Response, err error) error {
	if err != nil {
		return err
	}
	if !response.IsError() {
		return nil
	}

	httpErr := &HTTPError{StatusCode: response.StatusCode()}
	if body, ok := response.Error().(*errorResponse); ok {
		httpErr.Message = body.Error
	}

	return httpErr
}

func (c *Client) startSession(response *resty.Response, usr User) error {
	token := response.Header().Get("Authorization")
	if token == "" {
		return errors.New("the server did not issue a session credential")
	}

	c.session.Token = token
	c.session.User = &usr

	return c.session.Save()
}

// Register creates an account and starts a session for it.
func (c *Client) Register(ctx context.Context, name, email, password string) (*User, error) {
	var result userResponse
	response, err := c.request(ctx).
		SetBody(map[string]string{"name": name, "email": email, "password": password}).
		SetResult(&result).
		Post("/auth/register")
	if err := checkResponse(response, err); err != nil {
		return nil, err
	}

	if err := c.startSession(response, result.User); err != nil {
		return nil, err
	}

	return &result.User, nil
}

// Login starts a session for an existing account.
func (c *Client) Login(ctx context.Context, email, password string) (*User, error) {
	var result userResponse
	response, err := c.request(ctx).
		SetBody(map[string]string{"email": email, "password": password}).
		SetResult(&result).
		Post("/auth/login")
	if err := checkResponse(response, err); err != nil {
		return nil, err
	}

	if err := c.startSession(response, result.User); err != nil {
		return nil, err
	}

	return &result.User, nil
}

// Logout revokes the credential on the server and clears the session. The
// session is cleared even when the server cannot be reached.
func (c *Client) Logout(ctx context.Context) error {
	var serverErr error
	if c.session.Authenticated() {
		response, err := c.request(ctx).Post("/auth/logout")
		serverErr = checkResponse(response, err)
	}

	if err := c.session.Clear(); err != nil {
		return err
	}

	return serverErr
}

// Me asks the server who the session belongs to. A rejected credential
// clears the session.
func (c *Client) Me(ctx context.Context) (*User, error) {
	request, err := c.authenticatedRequest(ctx)
	if err != nil {
		return nil, err
	}

	var result userResponse
	response, err := request.SetResult(&result).Get("/auth/me")
	if err := checkResponse(response, err); err != nil {
		if IsStatus(err, http.StatusUnauthorized) {
			_ = c.session.Clear()
		}
		return nil, err
	}

	c.session.User = &result.User
	if err := c.session.Save(); err != nil {
		return nil, err
	}

	return &result.User, nil
}

// ListLocations returns the caller's locations, newest first.
func (c *Client) ListLocations(ctx context.Context) ([]Location, error) {
	request, err := c.authenticatedRequest(ctx)
	if err != nil {
		return nil, err
	}

	var result locationsResponse
	response, err := request.SetResult(&result).Get("/locations")
	if err := checkResponse(response, err); err != nil {
		return nil, err
	}

	return result.Locations, nil
}

// GetLocation returns one of the caller's locations.
func (c *Client) GetLocation(ctx context.Context, id int64) (*Location, error) {
	request, err := c.authenticatedRequest(ctx)
	if err != nil {
		return nil, err
	}

	var result Location
	response, err := request.
		SetResult(&result).
		SetPathParam("id", strconv.FormatInt(id, 10)).
		Get("/locations/{id}")
	if err := checkResponse(response, err); err != nil {
		return nil, err
	}

	return &result, nil
}

// CreateLocation stores a new location.
func (c *Client) CreateLocation(ctx context.Context, name string, lat, lng float64) (*Location, error) {
	request, err := c.authenticatedRequest(ctx)
	if err != nil {
		return nil, err
	}

	var result Location
	response, err := request.
		SetBody(map[string]interface{}{"name": name, "lat": lat, "lng": lng}).
		SetResult(&result).
		Post("/locations")
	if err := checkResponse(response, err); err != nil {
		return nil, err
	}

	return &result, nil
}

// UpdateLocation applies patch to one of the caller's locations.
func (c *Client) UpdateLocation(ctx context.Context, id int64, patch LocationPatch) (*Location, error) {
	request, err := c.authenticatedRequest(ctx)
	if err != nil {
		return nil, err
	}

	var result Location
	response, err := request.
		SetBody(patch).
		SetResult(&result).
		SetPathParam("id", strconv.FormatInt(id, 10)).
		Put("/locations/{id}")
	if err := checkResponse(response, err); err != nil {
		return nil, err
	}

	return &result, nil
}

// DeleteLocation removes one of the caller's locations.
func (c *Client) DeleteLocation(ctx context.Context, id int64) error {
	request, err := c.authenticatedRequest(ctx)
	if err != nil {
		return err
	}

	response, err := request.
		SetPathParam("id", strconv.FormatInt(id, 10)).
		Delete("/locations/{id}")

	return checkResponse(response, err)
}

// ImportArchive uploads a ZIP archive holding a single text file of
// "name,lat,lng" rows.
func (c *Client) ImportArchive(ctx context.Context, fileName string, archive io.Reader) (*ImportResult, error) {
	request, err := c.authenticatedRequest(ctx)
	if err != nil {
		return nil, err
	}

	var result ImportResult
	response, err := request.
		SetFileReader("file", fileName, archive).
		SetResult(&result).
		Post("/upload")
	if err := checkResponse(response, err); err != nil {
		return nil, err
	}

	return &result, nil
}
