// Package auth provides middleware and helpers for JWT-based sessions.
// A session credential is an HS256-signed token carrying the user ID, an
// expiry and a token ID. It travels in an HTTP-only cookie or in the
// Authorization header ("Bearer <token>" or the bare token).
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"github.com/patric-chuzhbe/geoplaces/internal/httpresponse"
	"github.com/patric-chuzhbe/geoplaces/internal/models"
)

type revocationKeeper interface {
	RevokeToken(ctx context.Context, token models.RevokedToken) error
	IsTokenRevoked(ctx context.Context, tokenID string) (bool, error)
}

// Auth issues, validates and revokes session credentials.
type Auth struct {
	// db keeps the IDs of tokens revoked by logout.
	db revocationKeeper

	// authCookieName is the name of the cookie used to store the JWT.
	authCookieName string

	// authCookieSigningSecretKey is the key used to sign JWTs.
	authCookieSigningSecretKey []byte

	sessionTTL   time.Duration
	secureCookie bool
	now          func() time.Time
}

// Claims represents the JWT claims used by the system.
// It embeds standard JWT claims and adds the owning user identifier.
type Claims struct {
	jwt.RegisteredClaims
	UserID int64 `json:"user_id"`
}

// ContextKey is a custom type for storing values in context to avoid collisions.
type ContextKey string

// UserIDKey is the context key used to store and retrieve the authenticated user's ID.
const UserIDKey ContextKey = "userID"

// ErrInvalidToken covers malformed, badly signed, expired and revoked tokens.
var ErrInvalidToken = models.ErrInvalidToken

// Option tunes an Auth instance.
type Option func(*Auth)

// WithSecureCookie marks the session cookie as HTTPS-only.
func WithSecureCookie(value bool) Option {
	return func(a *Auth) {
		a.secureCookie = value
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Auth) {
		a.now = now
	}
}

// New creates a new Auth with the given revocation store,
// cookie name, JWT signing secret and session lifetime.
func New(
	db revocationKeeper,
	authCookieName string,
	authCookieSigningSecretKey []byte,
	sessionTTL time.Duration,
	options ...Option,
) *Auth {
	a := &Auth{
		db:                         db,
		authCookieName:             authCookieName,
		authCookieSigningSecretKey: authCookieSigningSecretKey,
		sessionTTL:                 sessionTTL,
		now:                        time.Now,
	}
	for _, option := range options {
		option(a)
	}

	return a
}

// UserIDFromContext returns the user ID placed into the context by AuthenticateUser.
func UserIDFromContext(ctx context.Context) (int64, bool) {
	userID, ok := ctx.Value(UserIDKey).(int64)

	return userID, ok && userID > 0
}

// BuildJWTString signs a fresh session token for the user.
func (a *Auth) BuildJWTString(userID int64) (string, error) {
	now := a.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.sessionTTL)),
		},
		UserID: userID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	return token.SignedString(a.authCookieSigningSecretKey)
}

// ParseToken checks the signature and expiry of tokenString and returns its claims.
// It does not consult the revocation list.
func (a *Auth) ParseToken(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrInvalidToken
	}

	claims := &Claims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	token, err := parser.ParseWithClaims(
		tokenString,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return a.authCookieSigningSecretKey, nil
		},
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	if claims.UserID <= 0 || claims.ExpiresAt == nil || !claims.ExpiresAt.After(a.now()) {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// Verify parses the token and rejects it when it was revoked.
func (a *Auth) Verify(ctx context.Context, tokenString string) (*Claims, error) {
	claims, err := a.ParseToken(tokenString)
	if err != nil {
		return nil, err
	}

	if claims.ID == "" {
		return claims, nil
	}

	revoked, err := a.db.IsTokenRevoked(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("in internal/auth/auth.go/Verify(): error while `a.db.IsTokenRevoked()` calling: %w", err)
	}
	if revoked {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// TokenFromRequest extracts the credential from the Authorization header or the cookie.
func (a *Auth) TokenFromRequest(request *http.Request) string {
	header := strings.TrimSpace(request.Header.Get("Authorization"))
	if header != "" {
		if strings.HasPrefix(header, "Bearer ") {
			return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		}
		return header
	}

	cookie, err := request.Cookie(a.authCookieName)
	if err == nil {
		return cookie.Value
	}

	return ""
}

// StartSession issues a credential for userID and hands it to the client
// as an HTTP-only cookie and as the Authorization response header.
func (a *Auth) StartSession(response http.ResponseWriter, userID int64) error {
	JWTString, err := a.BuildJWTString(userID)
	if err != nil {
		return fmt.Errorf("in internal/auth/auth.go/StartSession(): error while `a.BuildJWTString()` calling: %w", err)
	}

	response.Header().Set("Authorization", JWTString)

	http.SetCookie(
		response,
		&http.Cookie{
			Name:     a.authCookieName,
			Value:    JWTString,
			Path:     "/",
			MaxAge:   int(a.sessionTTL / time.Second),
			HttpOnly: true,
			Secure:   a.secureCookie,
			SameSite: http.SameSiteStrictMode,
		},
	)

	return nil
}

// EndSession revokes the credential presented with the request, if any is
// valid, and clears the cookie. An absent or invalid credential is not an error.
func (a *Auth) EndSession(response http.ResponseWriter, request *http.Request) error {
	defer http.SetCookie(
		response,
		&http.Cookie{
			Name:     a.authCookieName,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			Expires:  time.Unix(0, 0),
			HttpOnly: true,
			Secure:   a.secureCookie,
			SameSite: http.SameSiteStrictMode,
		},
	)

	claims, err := a.ParseToken(a.TokenFromRequest(request))
	if err != nil || claims.ID == "" {
		return nil
	}

	err = a.db.RevokeToken(
		request.Context(),
		models.RevokedToken{
			ID:        claims.ID,
			UserID:    claims.UserID,
			ExpiresAt: claims.ExpiresAt.Time,
		},
	)
	if err != nil {
		return fmt.Errorf("in internal/auth/auth.go/EndSession(): error while `a.db.RevokeToken()` calling: %w", err)
	}

	return nil
}

// AuthenticateUser is an HTTP middleware that rejects requests without a
// valid, unexpired and unrevoked credential, and stores the user ID in the
// request context otherwise.
func (a *Auth) AuthenticateUser(h http.Handler) http.Handler {
	middleware := func(response http.ResponseWriter, request *http.Request) {
		tokenString := a.TokenFromRequest(request)
		if tokenString == "" {
			httpresponse.RespondError(response, request, models.ErrUnauthorized)
			return
		}

		claims, err := a.Verify(request.Context(), tokenString)
		if err != nil {
			httpresponse.RespondError(response, request, err)
			return
		}

		ctx := context.WithValue(request.Context(), UserIDKey, claims.UserID)
		h.ServeHTTP(response, request.WithContext(ctx))
	}

	return http.HandlerFunc(middleware)
}
