// Package router defines the HTTP surface of the location manager:
// account endpoints under /auth, ownership-scoped CRUD under /locations,
// the archive import at /upload and a few service endpoints.
// Every handler reports failures through httpresponse.RespondError, the
// single place where errors become HTTP statuses.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/patric-chuzhbe/geoplaces/internal/auth"
	"github.com/patric-chuzhbe/geoplaces/internal/gzippedhttp"
	"github.com/patric-chuzhbe/geoplaces/internal/httpresponse"
	"github.com/patric-chuzhbe/geoplaces/internal/logger"
	"github.com/patric-chuzhbe/geoplaces/internal/models"
	"github.com/patric-chuzhbe/geoplaces/internal/user"
)

const (
	serviceName = "location-management-backend"

	uploadFieldName = "file"

	// multipartOverhead leaves room for boundaries and part headers on top
	// of the archive itself.
	multipartOverhead = 64 << 10
)

type accountService interface {
	Register(ctx context.Context, request models.RegisterRequest) (*user.User, error)
	Login(ctx context.Context, request models.LoginRequest) (*user.User, error)
	CurrentUser(ctx context.Context, userID int64) (*user.User, error)
}

type locationService interface {
	ListLocations(ctx context.Context, userID int64) (models.Locations, error)
	GetLocation(ctx context.Context, userID, locationID int64) (*models.Location, error)
	CreateLocation(ctx context.Context, userID int64, request models.CreateLocationRequest) (*models.Location, error)
	UpdateLocation(ctx context.Context, userID, locationID int64, patch models.LocationPatch) (*models.Location, error)
	DeleteLocation(ctx context.Context, userID, locationID int64) error
}

type importService interface {
	ImportArchive(ctx context.Context, userID int64, fileName string, payload []byte) (models.ImportResult, error)
	MaxUploadSize() int64
}

type systemService interface {
	Ping(ctx context.Context) error
	GetInternalStats(ctx context.Context) (models.InternalStatsResponse, error)
}

type appService interface {
	accountService
	locationService
	importService
	systemService
}

type authenticator interface {
	AuthenticateUser(h http.Handler) http.Handler
	StartSession(response http.ResponseWriter, userID int64) error
	EndSession(response http.ResponseWriter, request *http.Request) error
}

type trustedSubnetGuard interface {
	TrustedSubnetOnly(h http.Handler) http.Handler
}

type handlers struct {
	svc  appService
	auth authenticator
}

var (
	errInvalidJSON   = models.NewValidationError("Invalid JSON body")
	errInvalidNumber = models.NewValidationError("lat and lng must be valid numbers")
	errInvalidID     = models.NewValidationError("Invalid id")
	errFileRequired  = models.NewValidationError("file is required (zip containing a single .txt file)")
	errFileTooLarge  = models.NewValidationError("file is too large")
)

func recoverer(h http.Handler) http.Handler {
	middleware := func(response http.ResponseWriter, request *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}
				logger.Log.Errorw("Panic while serving a request", "panic", rvr, "uri", request.RequestURI)
				httpresponse.WriteError(response, http.StatusInternalServerError, "Internal Server Error")
			}
		}()

		h.ServeHTTP(response, request)
	}

	return http.HandlerFunc(middleware)
}

func decodeJSON(request *http.Request, target interface{}) error {
	err := json.NewDecoder(request.Body).Decode(target)
	if err == nil {
		return nil
	}
	if errors.Is(err, models.ErrNotANumber) {
		return errInvalidNumber
	}

	return errInvalidJSON
}

func currentUserID(request *http.Request) (int64, error) {
	userID, ok := auth.UserIDFromContext(request.Context())
	if !ok {
		return 0, models.ErrUnauthorized
	}

	return userID, nil
}

func locationID(request *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(request, "id"), 10, 64)
	if err != nil {
		return 0, errInvalidID
	}

	return id, nil
}

func (h *handlers) getHealth(response http.ResponseWriter, request *http.Request) {
	httpresponse.WriteJSON(response, http.StatusOK, models.HealthResponse{Status: "ok", Service: serviceName})
}

func (h *handlers) getPing(response http.ResponseWriter, request *http.Request) {
	if err := h.svc.Ping(request.Context()); err != nil {
		httpresponse.RespondError(response, request, err)
		return
	}

	httpresponse.WriteJSON(response, http.StatusOK, models.HealthResponse{Status: "ok", Service: serviceName})
}

func (h *handlers) postRegister(response http.ResponseWriter, request *http.Request) {
	var body models.RegisterRequest
	if err := decodeJSON(request, &body); err != nil {
		httpresponse.RespondError(response, request, err)
		return
	}

	usr, err := h.svc.Register(request.Context(), body)
	if err != nil {
		httpresponse.RespondError(response, request, err)
		return
	}

	if err := h.auth.StartSession(response, usr.ID); err != nil {
		httpresponse.RespondError(response, request, err)
		return
	}

	httpresponse.WriteJSON(response, http.StatusCreated, models.UserResponse{User: usr.Public()})
}

func (h *handlers) postLogin(response http.ResponseWriter, request *http.Request) {
	var body models.LoginRequest
	if err := decodeJSON(request, &body); err != nil {
		httpresponse.RespondError(response, request, err)
		return
	}

	usr, err := h.svc.Login(request.Context(), body)
	if err != nil {
		httpresponse.RespondError(response, request, err)
		return
	}

	if err := h.auth.StartSession(response, usr.ID); err != nil {
		httpresponse.RespondError(response, request, err)
		return
	}

	httpresponse.WriteJSON(response, http.StatusOK, models.UserResponse{User: usr.Public()})
}

func (h *handlers) postLogout(response http.ResponseWriter, request *http.Request) {
	if err := h.auth.EndSession(response, request); err != nil {
		logger.Log.Warnw("Unable to revoke the session token", zap.Error(err))
	}

	httpresponse.WriteJSON(response, http.StatusOK, models.MessageResponse{Message: "Logged out successfully"})
}

func (h *handlers) getMe(response http.ResponseWriter, request *http.Request) {
	userID, err := currentUserID(request)
	if err != nil {
		httpresponse.RespondError(response, request, err)
		return
	}

	usr, err := h.svc.CurrentUser(request.Context(), userID)
	if err != nil {
		httpresponse.RespondError(response, request, err)
		return
	}

	httpresponse.WriteJSON(response, http.StatusOK, models.UserResponse{User: usr.Public()})
}

func (h *handlers) getLocations(response http.ResponseWriter, request *http.Request) {
	userID, err := currentUserID(request)
	if err != nil {
		httpresponse.RespondError(response, request, err)
		return
	}

	locations, err := h.svc.ListLocations(request.Context(), userID)
	if err != nil {
		httpresponse.RespondError(response, request, err)
		return
	}

	httpresponse.WriteJSON(response, http.StatusOK, models.LocationsResponse{Locations: locations})
}

func (h *handlers) postLocation(response http.ResponseWriter, request *http.Request) {
	userID, err := currentUserID(request)
	if err != nil {
		httpresponse.RespondError(response, request, err)
		return
	}

	var body models.CreateLocationRequest
	if err := decodeJSON(request, &body); err != nil {
		httpresponse.RespondError(response, request, err)
		return
	}

	created, err := h.svc.CreateLocation(request.Context(), userID, body)
	if err != nil {
		httpresponse.RespondError(response, request, err)
		return
	}

	httpresponse.WriteJSON(response, http.StatusCreated, created)
}

func (h *handlers) getLocation(response http.ResponseWriter, request *http.Request) {
	userID, err := currentUserID(request)
	if err != nil {
		httpresponse.RespondError(response, request, err)
		return
	}

	id, err := locationID(request)
	if err != nil {
		httpresponse.RespondError(response, request, err)
		return
	}

	location, err := h.svc.GetLocation(request.Context(), userID, id)
	if err != nil {
		httpresponse.RespondError(response, request, err)
		return
	}

	httpresponse.WriteJSON(response, http.StatusOK, location)
}

func (h *handlers) putLocation(response http.ResponseWriter, request *http.Request) {
	userID, err := currentUserID(request)
	if err != nil {
		httpresponse.RespondError(response, request, err)
		return
	}

	id, err := locationID(request)
	if err != nil {
		httpresponse.RespondError(response, request, err)
		return
	}

	var patch models.LocationPatch
	if err := decodeJSON(request, &patch); err != nil {
		httpresponse.RespondError(response, request, err)
		return
	}

	updated, err := h.svc.UpdateLocation(request.Context(), userID, id, patch)
	if err != nil {
		httpresponse.RespondError(response, request, err)
		return
	}

	httpresponse.WriteJSON(response, http.StatusOK, updated)
}

func (h *handlers) deleteLocation(response http.ResponseWriter, request *http.Request) {
	userID, err := currentUserID(request)
	if err != nil {
		httpresponse.RespondError(response, request, err)
		return
	}

	id, err := locationID(request)
	if err != nil {
		httpresponse.RespondError(response, request, err)
		return
	}

	if err := h.svc.DeleteLocation(request.Context(), userID, id); err != nil {
		httpresponse.RespondError(response, request, err)
		return
	}

	response.WriteHeader(http.StatusNoContent)
}

func (h *handlers) readUpload(response http.ResponseWriter, request *http.Request) (string, []byte, error) {
	maxUploadSize := h.svc.MaxUploadSize()
	request.Body = http.MaxBytesReader(response, request.Body, maxUploadSize+multipartOverhead)

	if err := request.ParseMultipartForm(maxUploadSize); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return "", nil, errFileTooLarge
		}
		return "", nil, errFileRequired
	}
	defer func() {
		_ = request.MultipartForm.RemoveAll()
	}()

	file, header, err := request.FormFile(uploadFieldName)
	if err != nil {
		return "", nil, errFileRequired
	}
	defer file.Close()

	payload, err := io.ReadAll(io.LimitReader(file, maxUploadSize+1))
	if err != nil {
		return "", nil, err
	}

	return header.Filename, payload, nil
}

func (h *handlers) postUpload(response http.ResponseWriter, request *http.Request) {
	userID, err := currentUserID(request)
	if err != nil {
		httpresponse.RespondError(response, request, err)
		return
	}

	fileName, payload, err := h.readUpload(response, request)
	if err != nil {
		httpresponse.RespondError(response, request, err)
		return
	}

	result, err := h.svc.ImportArchive(request.Context(), userID, fileName, payload)
	if err != nil {
		httpresponse.RespondError(response, request, err)
		return
	}

	httpresponse.WriteJSON(response, http.StatusCreated, result)
}

func (h *handlers) getInternalStats(response http.ResponseWriter, request *http.Request) {
	stats, err := h.svc.GetInternalStats(request.Context())
	if err != nil {
		httpresponse.RespondError(response, request, err)
		return
	}

	httpresponse.WriteJSON(response, http.StatusOK, stats)
}

// New builds the chi router with all routes and middleware.
func New(
	svc appService,
	theAuth authenticator,
	subnetGuard trustedSubnetGuard,
) *chi.Mux {
	h := &handlers{
		svc:  svc,
		auth: theAuth,
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(logger.WithLoggingHTTPMiddleware)
	router.Use(recoverer)
	router.Use(gzippedhttp.UngzipRequest)
	router.Use(gzippedhttp.GzipResponse)

	router.NotFound(func(response http.ResponseWriter, request *http.Request) {
		httpresponse.WriteError(response, http.StatusNotFound, "Not found")
	})
	router.MethodNotAllowed(func(response http.ResponseWriter, request *http.Request) {
		httpresponse.WriteError(response, http.StatusMethodNotAllowed, "Method not allowed")
	})

	router.Get(`/`, h.getHealth)
	router.Get(`/ping`, h.getPing)

	router.Route(`/auth`, func(r chi.Router) {
		r.Post(`/register`, h.postRegister)
		r.Post(`/login`, h.postLogin)
		r.Post(`/logout`, h.postLogout)
		r.With(theAuth.AuthenticateUser).Get(`/me`, h.getMe)
	})

	router.Route(`/locations`, func(r chi.Router) {
		r.Use(theAuth.AuthenticateUser)
		r.Get(`/`, h.getLocations)
		r.Post(`/`, h.postLocation)
		r.Get(`/{id}`, h.getLocation)
		r.Put(`/{id}`, h.putLocation)
		r.Delete(`/{id}`, h.deleteLocation)
	})

	router.With(theAuth.AuthenticateUser).Post(`/upload`, h.postUpload)

	router.With(subnetGuard.TrustedSubnetOnly).Get(`/internal/stats`, h.getInternalStats)

	return router
}
