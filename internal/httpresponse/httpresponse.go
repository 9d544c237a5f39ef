// Package httpresponse writes JSON answers. RespondError is the only place
// where an error becomes an HTTP status; handlers and middleware alike
// report failures through it.
package httpresponse

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/patric-chuzhbe/geoplaces/internal/logger"
	"github.com/patric-chuzhbe/geoplaces/internal/models"
)

// WriteJSON answers with status and body encoded as JSON.
func WriteJSON(response http.ResponseWriter, status int, body interface{}) {
	response.Header().Set("Content-Type", "application/json")
	response.WriteHeader(status)

	if err := json.NewEncoder(response).Encode(body); err != nil {
		logger.Log.Debugw("Unable to write the response body", zap.Error(err))
	}
}

// WriteError answers with {"error": message}.
func WriteError(response http.ResponseWriter, status int, message string) {
	WriteJSON(response, status, models.ErrorResponse{Error: message})
}

// RespondError turns an error into a status and a message. Unexpected errors
// are logged and answered with a generic 500.
func RespondError(response http.ResponseWriter, request *http.Request, err error) {
	var validationErr *models.ValidationError

	switch {
	case errors.As(err, &validationErr):
		WriteError(response, http.StatusBadRequest, validationErr.Message)
	case errors.Is(err, models.ErrInvalidCredentials):
		WriteError(response, http.StatusUnauthorized, "Invalid credentials")
	case errors.Is(err, models.ErrInvalidToken):
		WriteError(response, http.StatusUnauthorized, "Invalid or expired token")
	case errors.Is(err, models.ErrUnauthorized):
		WriteError(response, http.StatusUnauthorized, "Unauthorized")
	case errors.Is(err, models.ErrForbidden):
		WriteError(response, http.StatusForbidden, "Forbidden")
	case errors.Is(err, models.ErrUserExists):
		WriteError(response, http.StatusConflict, "Email already registered")
	case errors.Is(err, models.ErrNotFound):
		WriteError(response, http.StatusNotFound, "Not found")
	default:
		logger.Log.Errorw(
			"Unhandled error",
			"method", request.Method,
			"uri", request.RequestURI,
			"request_id", middleware.GetReqID(request.Context()),
			zap.Error(err),
		)
		WriteError(response, http.StatusInternalServerError, "Internal Server Error")
	}
}
