package app

import (
	"encoding/json"
	"io"
	"net/http"

	taskgate "github.com/nevindra/taskgate"
)

const maxAPIKeyBodyBytes = 4 << 10

type createAPIKeyRequest struct {
	Name string `json:"name"`
}

type createAPIKeyResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Key       string `json:"key"` // plaintext, returned once
	CreatedAt int64  `json:"created_at"`
}

// handleCreateAPIKey implements POST /api-keys: mint a fresh key, persist
// only its hash, and return the plaintext exactly once (§6, §11).
func (a *App) handleCreateAPIKey(w http.ResponseWriter, r *http.Request, caller taskgate.APIKey) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxAPIKeyBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	var req createAPIKeyRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
			return
		}
	}
	if req.Name == "" {
		req.Name = "default"
	}

	plaintext, err := newPlaintextAPIKey()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate key")
		return
	}
	key := taskgate.APIKey{
		ID:        taskgate.NewID(),
		UserID:    caller.UserID,
		Name:      req.Name,
		Hash:      hashAPIKey(plaintext),
		CreatedAt: taskgate.NowUnix(),
	}
	if err := a.store.CreateAPIKey(r.Context(), key); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create API key")
		return
	}
	writeJSON(w, http.StatusCreated, createAPIKeyResponse{
		ID: key.ID, Name: key.Name, Key: plaintext, CreatedAt: key.CreatedAt,
	})
}

type apiKeyResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt int64  `json:"created_at"`
	RevokedAt *int64 `json:"revoked_at,omitempty"`
}

// handleListAPIKeys implements GET /api-keys. Hashes are never returned.
func (a *App) handleListAPIKeys(w http.ResponseWriter, r *http.Request, caller taskgate.APIKey) {
	keys, err := a.store.ListAPIKeys(r.Context(), caller.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list API keys")
		return
	}
	out := make([]apiKeyResponse, len(keys))
	for i, k := range keys {
		out[i] = apiKeyResponse{ID: k.ID, Name: k.Name, CreatedAt: k.CreatedAt, RevokedAt: k.RevokedAt}
	}
	writeJSON(w, http.StatusOK, out)
}

// handleRevokeAPIKey implements DELETE /api-keys/{id}. Revoking the key
// that authenticated the request is a business-rule violation, not a
// client error — it fails 422 (§6), since the target key and caller are
// both found and owned, but the operation itself is disallowed.
func (a *App) handleRevokeAPIKey(w http.ResponseWriter, r *http.Request, caller taskgate.APIKey) {
	id := r.PathValue("id")
	if id == caller.ID {
		writeError(w, http.StatusUnprocessableEntity, "cannot revoke the API key authenticating this request")
		return
	}
	keys, err := a.store.ListAPIKeys(r.Context(), caller.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to look up API key")
		return
	}
	owned := false
	for _, k := range keys {
		if k.ID == id {
			owned = true
			break
		}
	}
	if !owned {
		writeGatewayError(w, taskgate.NewError(taskgate.KindNotFound, "API key %s not found", id))
		return
	}
	if err := a.store.RevokeAPIKey(r.Context(), id, taskgate.NowUnix()); err != nil {
		writeGatewayError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
