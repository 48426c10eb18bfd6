package app

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"

	taskgate "github.com/nevindra/taskgate"
)

// hashAPIKey derives the stored, comparable form of a plaintext API key.
// The plaintext itself is returned to the caller exactly once, at creation
// time, and never persisted (spec.md §6, §11).
func hashAPIKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// newPlaintextAPIKey mints a fresh random API key, prefixed so a reader can
// recognize a taskgate key at a glance.
func newPlaintextAPIKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "tg_" + hex.EncodeToString(buf), nil
}

// authenticate resolves the caller's APIKey from the X-API-Key header.
// Missing or unknown keys, and revoked keys, fail Unauthenticated (§6).
func (a *App) authenticate(r *http.Request) (taskgate.APIKey, error) {
	plaintext := r.Header.Get("X-API-Key")
	if plaintext == "" {
		return taskgate.APIKey{}, taskgate.NewError(taskgate.KindUnauthenticated, "missing X-API-Key header")
	}
	key, err := a.store.GetAPIKeyByHash(r.Context(), hashAPIKey(plaintext))
	if err != nil {
		return taskgate.APIKey{}, taskgate.NewError(taskgate.KindUnauthenticated, "invalid API key")
	}
	if key.Revoked() {
		return taskgate.APIKey{}, taskgate.NewError(taskgate.KindUnauthenticated, "API key revoked")
	}
	return key, nil
}

// requireOpenRouterKey reads X-OpenRouter-API-Key, required by the routes
// marked ★ in spec.md §6 (direct completions, task creation — anything that
// calls the LLM Adapter on the user's behalf).
func requireOpenRouterKey(r *http.Request) (string, error) {
	key := r.Header.Get("X-OpenRouter-API-Key")
	if key == "" {
		return "", taskgate.NewError(taskgate.KindUnauthenticated, "missing X-OpenRouter-API-Key header")
	}
	return key, nil
}

type ctxKey int

const apiKeyCtxKey ctxKey = 0

// withAuth wraps next so that it only runs once an X-API-Key header
// resolves to a live APIKey; the resolved key is passed to next as its key
// argument and is also stored in the request context under apiKeyCtxKey.
func (a *App) withAuth(next func(w http.ResponseWriter, r *http.Request, key taskgate.APIKey)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, err := a.authenticate(r)
		if err != nil {
			writeGatewayError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), apiKeyCtxKey, key)
		next(w, r.WithContext(ctx), key)
	}
}
