package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	taskgate "github.com/nevindra/taskgate"
	"github.com/nevindra/taskgate/store/sqlite"
)

// fakeModelSource is a trivial taskgate.ModelSource for tests that never
// touch OpenRouter; it mirrors the shape of the teacher's in-package test
// doubles rather than reaching for a mocking library.
type fakeModelSource struct {
	models []taskgate.ModelDescription
}

func (f fakeModelSource) FetchModels(ctx context.Context) ([]taskgate.ModelDescription, error) {
	return f.models, nil
}

func newTestApp(t *testing.T) *App {
	t.Helper()
	store := sqlite.New(":memory:")
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("Init store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	bus := taskgate.NewEventBus()
	queue := taskgate.NewWorkQueue(store, bus, nil, nil, nil, 8, nil)
	catalogue := taskgate.NewCatalogue(fakeModelSource{models: []taskgate.ModelDescription{
		{ID: "openrouter/test-model", Provider: "openrouter", InputModalities: []taskgate.Modality{taskgate.ModalityText}},
	}}, 0)
	return New(store, bus, queue, catalogue, nil)
}

// createTestUserAndKey inserts a user and API key directly via the store,
// bypassing POST /api-keys (which itself requires an authenticated caller).
func createTestUserAndKey(t *testing.T, a *App) (userID, plaintext string) {
	t.Helper()
	ctx := context.Background()
	userID = taskgate.NewID()
	if err := a.store.CreateUser(ctx, taskgate.User{ID: userID, CreatedAt: taskgate.NowUnix()}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	plaintext, err := newPlaintextAPIKey()
	if err != nil {
		t.Fatalf("newPlaintextAPIKey: %v", err)
	}
	key := taskgate.APIKey{ID: taskgate.NewID(), UserID: userID, Name: "test", Hash: hashAPIKey(plaintext), CreatedAt: taskgate.NowUnix()}
	if err := a.store.CreateAPIKey(ctx, key); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}
	return userID, plaintext
}

func TestHandleHealth(t *testing.T) {
	a := newTestApp(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	a.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestWithAuthRejectsMissingKey(t *testing.T) {
	a := newTestApp(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api-keys", nil)
	a.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestWithAuthRejectsRevokedKey(t *testing.T) {
	a := newTestApp(t)
	_, plaintext := createTestUserAndKey(t, a)
	ctx := context.Background()
	key, err := a.store.GetAPIKeyByHash(ctx, hashAPIKey(plaintext))
	if err != nil {
		t.Fatalf("GetAPIKeyByHash: %v", err)
	}
	if err := a.store.RevokeAPIKey(ctx, key.ID, taskgate.NowUnix()); err != nil {
		t.Fatalf("RevokeAPIKey: %v", err)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api-keys", nil)
	req.Header.Set("X-API-Key", plaintext)
	a.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestAPIKeyCreateListRevoke(t *testing.T) {
	a := newTestApp(t)
	_, plaintext := createTestUserAndKey(t, a)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api-keys", strings.NewReader(`{"name":"ci"}`))
	req.Header.Set("X-API-Key", plaintext)
	a.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want 201, body %s", rec.Code, rec.Body.String())
	}
	var created createAPIKeyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("unmarshal create response: %v", err)
	}
	if created.Key == "" || created.Name != "ci" {
		t.Errorf("created = %+v", created)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api-keys", nil)
	req.Header.Set("X-API-Key", plaintext)
	a.Router().ServeHTTP(rec, req)
	var listed []apiKeyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("unmarshal list response: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("listed = %d keys, want 2", len(listed))
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodDelete, "/api-keys/"+created.ID, nil)
	req.SetPathValue("id", created.ID)
	req.Header.Set("X-API-Key", plaintext)
	a.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("revoke status = %d, want 204", rec.Code)
	}
}

func TestRevokeOwnAuthenticatingKeyFails(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	userID, plaintext := createTestUserAndKey(t, a)
	key, err := a.store.GetAPIKeyByHash(ctx, hashAPIKey(plaintext))
	if err != nil {
		t.Fatalf("GetAPIKeyByHash: %v", err)
	}
	_ = userID

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/api-keys/"+key.ID, nil)
	req.SetPathValue("id", key.ID)
	req.Header.Set("X-API-Key", plaintext)
	a.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422, body %s", rec.Code, rec.Body.String())
	}
}

func TestHandleListModels(t *testing.T) {
	a := newTestApp(t)
	_, plaintext := createTestUserAndKey(t, a)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/models", nil)
	req.Header.Set("X-API-Key", plaintext)
	a.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body.String())
	}
	var models []taskgate.ModelDescription
	if err := json.Unmarshal(rec.Body.Bytes(), &models); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(models) != 1 || models[0].ID != "openrouter/test-model" {
		t.Errorf("models = %+v", models)
	}
}

func TestHandleCreateAndGetTask(t *testing.T) {
	a := newTestApp(t)
	_, plaintext := createTestUserAndKey(t, a)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/task", strings.NewReader(`{"prompt":"summarize this"}`))
	req.Header.Set("X-API-Key", plaintext)
	req.Header.Set("X-OpenRouter-API-Key", "sk-or-test")
	a.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want 201, body %s", rec.Code, rec.Body.String())
	}
	var created taskResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if created.Status != string(taskgate.TaskDecomposing) {
		t.Errorf("status = %q, want %q", created.Status, taskgate.TaskDecomposing)
	}
	if created.TotalCostFormatted != "$0.0000" {
		t.Errorf("total cost formatted = %q, want $0.0000", created.TotalCostFormatted)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/task/"+created.ID, nil)
	req.SetPathValue("id", created.ID)
	req.Header.Set("X-API-Key", plaintext)
	a.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d, want 200, body %s", rec.Code, rec.Body.String())
	}
}

func TestHandleCreateTaskMissingPrompt(t *testing.T) {
	a := newTestApp(t)
	_, plaintext := createTestUserAndKey(t, a)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/task", strings.NewReader(`{"prompt":""}`))
	req.Header.Set("X-API-Key", plaintext)
	req.Header.Set("X-OpenRouter-API-Key", "sk-or-test")
	a.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleCreateTaskMissingOpenRouterKey(t *testing.T) {
	a := newTestApp(t)
	_, plaintext := createTestUserAndKey(t, a)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/task", strings.NewReader(`{"prompt":"hi"}`))
	req.Header.Set("X-API-Key", plaintext)
	a.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}
