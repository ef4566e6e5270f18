package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"servicemanual/api/internal/auth"
	"servicemanual/api/internal/edition"
	"servicemanual/api/internal/logger"
	"servicemanual/api/internal/publishing"
	"servicemanual/api/internal/rbac"
	"servicemanual/api/internal/store"
	"servicemanual/api/internal/telemetry"
)

type HTTPServer struct {
	service    *Service
	jwtSecret  []byte
	corsOrigin string
	log        *logger.Logger
	metrics    *telemetry.Metrics
}

func NewHTTPServer(service *Service, jwtSecret, corsOrigin string, log *logger.Logger, metrics *telemetry.Metrics) *HTTPServer {
	if log == nil {
		log = logger.NewNop()
	}
	return &HTTPServer{
		service:    service,
		jwtSecret:  []byte(jwtSecret),
		corsOrigin: corsOrigin,
		log:        log.With("component", "http"),
		metrics:    metrics,
	}
}

// Principal is the authenticated caller.
type Principal struct {
	User store.User
	Role rbac.Role
}

type principalKey struct{}

func principalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.withMiddleware)

	r.Handle("/metrics", s.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)

			r.Get("/guides", s.handleListGuides)
			r.Post("/guides", s.handleCreateGuide)
			r.Get("/guides/{guideID}", s.handleGetGuide)
			r.Put("/guides/{guideID}", s.handleUpdateGuide)
			r.Post("/editions/{editionID}/{action}", s.handleTransition)
			r.Post("/topics/{topicID}/publish", s.handlePublishTopic)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})
	return r
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := s.service.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"ok":     false,
			"checks": map[string]any{"database": map[string]any{"status": "error", "error": err.Error()}},
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"checks": map[string]any{"database": map[string]any{"status": "ok"}},
	})
}

type saveGuideBody struct {
	EditionID string `json:"editionId"`
	GuideAttributes
}

func (s *HTTPServer) handleListGuides(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(w, r, rbac.ActionRead) {
		return
	}
	q := r.URL.Query()
	published, _ := strconv.ParseBool(q.Get("published"))
	guides, err := s.service.ListGuides(r.Context(), ListGuidesInput{
		Author:        q.Get("author"),
		State:         q.Get("state"),
		ContentOwner:  q.Get("content_owner"),
		PublishedOnly: published,
		Type:          q.Get("type"),
		Query:         q.Get("q"),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"guides": guides})
}

func (s *HTTPServer) handleGetGuide(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(w, r, rbac.ActionRead) {
		return
	}
	view, err := s.service.GetGuide(r.Context(), chi.URLParam(r, "guideID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handleCreateGuide(w http.ResponseWriter, r *http.Request) {
	s.saveGuide(w, r, "")
}

func (s *HTTPServer) handleUpdateGuide(w http.ResponseWriter, r *http.Request) {
	s.saveGuide(w, r, chi.URLParam(r, "guideID"))
}

func (s *HTTPServer) saveGuide(w http.ResponseWriter, r *http.Request, guideID string) {
	if !s.authorize(w, r, rbac.ActionWrite) {
		return
	}
	principal, _ := principalFrom(r.Context())

	var body saveGuideBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}

	result, err := s.service.SaveGuide(r.Context(), principal.User, SaveRequest{
		GuideID:    guideID,
		EditionID:  body.EditionID,
		Attributes: body.GuideAttributes,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	view, err := s.service.GetGuide(r.Context(), result.Guide.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{"guide": view, "edition": result.Edition, "newEdition": result.NewEdition})
}

func (s *HTTPServer) handleTransition(w http.ResponseWriter, r *http.Request) {
	action, err := ParseAction(chi.URLParam(r, "action"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !s.authorize(w, r, actionPermission(action)) {
		return
	}
	principal, _ := principalFrom(r.Context())

	var opts TransitionOptions
	if err := decodeBody(r, &opts); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}

	updated, err := s.service.Transition(r.Context(), principal.User, chi.URLParam(r, "editionID"), action, opts)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"edition": updated})
}

func (s *HTTPServer) handlePublishTopic(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(w, r, rbac.ActionPublish) {
		return
	}
	principal, _ := principalFrom(r.Context())
	topic, err := s.service.PublishTopic(r.Context(), principal.User, chi.URLParam(r, "topicID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"topic": topic})
}

func actionPermission(action edition.Action) rbac.Action {
	switch action {
	case edition.ActionApprove:
		return rbac.ActionApprove
	case edition.ActionPublish, edition.ActionUnpublish:
		return rbac.ActionPublish
	default:
		return rbac.ActionWrite
	}
}

func (s *HTTPServer) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return
		}
		claims, err := auth.ParseToken(s.jwtSecret, token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return
		}
		principal := Principal{
			User: store.User{ID: claims.Subject, Name: claims.Name},
			Role: rbac.Normalize(claims.Role),
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, principal)))
	})
}

// authorize writes a 403 and returns false when the caller's role may not
// perform action.
func (s *HTTPServer) authorize(w http.ResponseWriter, r *http.Request, action rbac.Action) bool {
	principal, ok := principalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return false
	}
	if !rbac.Can(principal.Role, action) {
		s.log.Info("forbidden", "user_id", principal.User.ID, "role", principal.Role, "action", action, "path", r.URL.Path)
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		return false
	}
	return true
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "request_id", requestIDFrom(r.Context()), "path", r.URL.Path, "error", err)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		if r.Method == http.MethodOptions {
			writer.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(writer, r)

		s.log.Info("request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,OPTIONS")
	header.Set("Cache-Control", "no-store")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Validation failed", verr.Fields
	}
	var guard *edition.GuardError
	if errors.As(err, &guard) {
		return http.StatusConflict, "WORKFLOW_GUARD", guard.Error(), map[string]any{"action": guard.Action}
	}
	if apiErr, ok := publishing.AsError(err); ok {
		if apiErr.IsClientError() {
			return http.StatusUnprocessableEntity, "PUBLISHING_API_ERROR", apiErr.Message, nil
		}
		return http.StatusBadGateway, "PUBLISHING_API_ERROR", apiErr.Message, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, store.ErrConflict) {
		return http.StatusConflict, "CONFLICT", "The guide was changed by someone else, try again", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
