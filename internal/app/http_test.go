package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"servicemanual/api/internal/auth"
	"servicemanual/api/internal/publishing"
	"servicemanual/api/internal/store"
)

const testSecret = "test-secret"

type unhealthyStore struct {
	store.Repository
}

func (unhealthyStore) Ping(context.Context) error { return errors.New("connection refused") }

func newTestServer(t *testing.T) (*HTTPServer, testEnv) {
	t.Helper()
	env := newTestEnv(t)
	return NewHTTPServer(env.service, testSecret, "*", nil, nil), env
}

func tokenFor(t *testing.T, user store.User, role string) string {
	t.Helper()
	token, err := auth.IssueToken([]byte(testSecret), user.ID, user.Name, role, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	return token
}

func doRequest(t *testing.T, server *HTTPServer, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &payload)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response %q: %v", rr.Body.String(), err)
	}
	return response
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	rr := doRequest(t, server, http.MethodGet, "/api/health", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if response := decodeResponse(t, rr); response["ok"] != true {
		t.Fatalf("expected ok=true, got %v", response["ok"])
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected X-Request-ID header")
	}
}

func TestHealthEndpointDatabaseDown(t *testing.T) {
	env := newTestEnv(t)
	env.service.store = unhealthyStore{Repository: env.store}
	server := NewHTTPServer(env.service, testSecret, "*", nil, nil)

	rr := doRequest(t, server, http.MethodGet, "/api/health", "", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}

func TestRequestsWithoutTokenAreRejected(t *testing.T) {
	server, _ := newTestServer(t)

	for _, token := range []string{"", "not-a-token"} {
		rr := doRequest(t, server, http.MethodGet, "/api/guides", token, nil)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("token %q: expected status 401, got %d", token, rr.Code)
		}
	}
}

func TestViewerCannotSave(t *testing.T) {
	server, _ := newTestServer(t)

	rr := doRequest(t, server, http.MethodPost, "/api/guides", tokenFor(t, writer, "viewer"), validAttributes("/service-manual/agile-delivery/agile-methods"))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestCreateAndFetchGuide(t *testing.T) {
	server, _ := newTestServer(t)
	token := tokenFor(t, writer, "writer")

	rr := doRequest(t, server, http.MethodPost, "/api/guides", token, validAttributes("/service-manual/agile-delivery/agile-methods"))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	response := decodeResponse(t, rr)
	guide := response["guide"].(map[string]any)["guide"].(map[string]any)
	guideID := guide["id"].(string)

	rr = doRequest(t, server, http.MethodGet, "/api/guides/"+guideID, token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	view := decodeResponse(t, rr)
	if view["topicSectionId"] != "agile-delivery-section-1" {
		t.Fatalf("topicSectionId = %v", view["topicSectionId"])
	}
	latest := view["latestEdition"].(map[string]any)
	if latest["version"] != float64(1) || latest["state"] != store.StateDraft {
		t.Fatalf("latestEdition = %v", latest)
	}

	rr = doRequest(t, server, http.MethodGet, "/api/guides?q=agile+methods", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if guides := decodeResponse(t, rr)["guides"].([]any); len(guides) != 1 {
		t.Fatalf("len(guides) = %d, want 1", len(guides))
	}
}

func TestCreateGuideValidationError(t *testing.T) {
	server, _ := newTestServer(t)

	attrs := validAttributes("/service-manual/agile")
	rr := doRequest(t, server, http.MethodPost, "/api/guides", tokenFor(t, writer, "writer"), attrs)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", rr.Code)
	}
	response := decodeResponse(t, rr)
	if response["code"] != "VALIDATION_ERROR" {
		t.Fatalf("code = %v", response["code"])
	}
	details := response["details"].([]any)
	first := details[0].(map[string]any)
	if first["field"] != "slug" {
		t.Fatalf("details = %v", details)
	}
}

func TestCreateGuidePublishingErrorIsVerbatim(t *testing.T) {
	server, env := newTestServer(t)
	env.api.errFn = func(op string) error {
		return &publishing.Error{Status: http.StatusUnprocessableEntity, Message: "Base path is already in use by another app"}
	}

	rr := doRequest(t, server, http.MethodPost, "/api/guides", tokenFor(t, writer, "writer"), validAttributes("/service-manual/the/path"))
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", rr.Code)
	}
	response := decodeResponse(t, rr)
	if response["code"] != "PUBLISHING_API_ERROR" || response["error"] != "Base path is already in use by another app" {
		t.Fatalf("response = %v", response)
	}
}

func TestCreateGuideConflictAfterMaxAttempts(t *testing.T) {
	server, env := newTestServer(t)
	before, err := env.store.CountGuides(context.Background())
	if err != nil {
		t.Fatalf("CountGuides() error = %v", err)
	}
	conflicting := &conflictingStore{Repository: env.store, always: true}
	env.service.store = conflicting

	rr := doRequest(t, server, http.MethodPost, "/api/guides", tokenFor(t, writer, "writer"), validAttributes("/service-manual/agile-delivery/agile-methods"))
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
	if code := decodeResponse(t, rr)["code"]; code != "CONFLICT" {
		t.Fatalf("code = %v, want CONFLICT", code)
	}
	if got := conflicting.insertCount(); got != 3 {
		t.Fatalf("InsertEdition calls = %d, want 3", got)
	}
	after, err := env.store.CountGuides(context.Background())
	if err != nil {
		t.Fatalf("CountGuides() error = %v", err)
	}
	if after != before {
		t.Fatalf("CountGuides() = %d, want %d", after, before)
	}
}

func TestTransitionEndpoint(t *testing.T) {
	server, env := newTestServer(t)
	ctx := context.Background()
	saved, err := env.service.SaveGuide(ctx, writer, SaveRequest{Attributes: validAttributes("/service-manual/agile-delivery/agile-methods")})
	if err != nil {
		t.Fatalf("SaveGuide() error = %v", err)
	}
	writerToken := tokenFor(t, writer, "writer")

	rr := doRequest(t, server, http.MethodPost, "/api/editions/"+saved.Edition.ID+"/request-review", writerToken, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("request-review: expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = doRequest(t, server, http.MethodPost, "/api/editions/"+saved.Edition.ID+"/approve", writerToken, nil)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("approve as writer: expected status 403, got %d", rr.Code)
	}

	rr = doRequest(t, server, http.MethodPost, "/api/editions/"+saved.Edition.ID+"/approve", tokenFor(t, writer, "editor"), nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("self approval: expected status 409, got %d", rr.Code)
	}
	if response := decodeResponse(t, rr); response["code"] != "WORKFLOW_GUARD" {
		t.Fatalf("code = %v", response["code"])
	}

	rr = doRequest(t, server, http.MethodPost, "/api/editions/"+saved.Edition.ID+"/archive", writerToken, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown action: expected status 404, got %d", rr.Code)
	}
}

func TestUnknownGuideIsNotFound(t *testing.T) {
	server, _ := newTestServer(t)

	rr := doRequest(t, server, http.MethodGet, "/api/guides/missing", tokenFor(t, writer, "viewer"), nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"conflict", store.ErrConflict, http.StatusConflict, "CONFLICT"},
		{"server side publishing", &publishing.Error{Status: 503, Message: "down"}, http.StatusBadGateway, "PUBLISHING_API_ERROR"},
		{"expired token", auth.ErrExpiredToken, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "SERVER_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code, _, _ := mapError(tt.err)
			if status != tt.status || code != tt.code {
				t.Fatalf("mapError() = %d %s, want %d %s", status, code, tt.status, tt.code)
			}
		})
	}
}

func TestPreflightSkipsAuth(t *testing.T) {
	server, _ := newTestServer(t)

	rr := doRequest(t, server, http.MethodOptions, "/api/guides", "", nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("Access-Control-Allow-Origin = %q", rr.Header().Get("Access-Control-Allow-Origin"))
	}
}
