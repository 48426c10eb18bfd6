package app

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	taskgate "github.com/nevindra/taskgate"
)

// The chat surface is explicitly thin (spec.md §1, §11): plain
// CRUD over ChatThread/ChatMessage, no decomposition, no model selection.
// It exists alongside tasks, not instead of them.

const maxChatBodyBytes = 64 << 10

type createThreadRequest struct {
	Title string `json:"title"`
}

type threadResponse struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

func toThreadResponse(t taskgate.ChatThread) threadResponse {
	return threadResponse{ID: t.ID, Title: t.Title, CreatedAt: t.CreatedAt, UpdatedAt: t.UpdatedAt}
}

func (a *App) handleCreateThread(w http.ResponseWriter, r *http.Request, caller taskgate.APIKey) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxChatBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	var req createThreadRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
			return
		}
	}
	now := taskgate.NowUnix()
	thread := taskgate.ChatThread{
		ID: taskgate.NewID(), UserID: caller.UserID, Title: req.Title,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := a.store.CreateThread(r.Context(), thread); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create thread")
		return
	}
	a.bus.Emit(caller.UserID, taskgate.NewEvent("chat.thread_created", thread.ID, map[string]string{"thread_id": thread.ID}))
	writeJSON(w, http.StatusCreated, toThreadResponse(thread))
}

func (a *App) handleListThreads(w http.ResponseWriter, r *http.Request, caller taskgate.APIKey) {
	threads, err := a.store.ListThreads(r.Context(), caller.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list threads")
		return
	}
	out := make([]threadResponse, len(threads))
	for i, t := range threads {
		out[i] = toThreadResponse(t)
	}
	writeJSON(w, http.StatusOK, out)
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

type messageResponse struct {
	ID          string `json:"id"`
	ThreadID    string `json:"thread_id"`
	Role        string `json:"role"`
	Content     string `json:"content"`
	ContentHTML string `json:"content_html,omitempty"`
	CreatedAt   int64  `json:"created_at"`
}

func toMessageResponse(m taskgate.ChatMessage) messageResponse {
	html, err := renderMarkdown(m.Content)
	resp := messageResponse{ID: m.ID, ThreadID: m.ThreadID, Role: m.Role, Content: m.Content, CreatedAt: m.CreatedAt}
	if err == nil {
		resp.ContentHTML = html
	}
	return resp
}

// handleSendChatMessage implements POST /chat/threads/{id}/messages: store
// the user's message, grounded on original_source/app/api/routes/chat.py's
// thread+message persistence (§11). Generating an assistant reply is out of
// the core budget; this surface only persists what's handed to it.
func (a *App) handleSendChatMessage(w http.ResponseWriter, r *http.Request, caller taskgate.APIKey) {
	threadID := r.PathValue("id")
	thread, err := a.store.GetThread(r.Context(), threadID)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	if thread.UserID != caller.UserID {
		writeError(w, http.StatusForbidden, "thread does not belong to the authenticated user")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxChatBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	var req sendMessageRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	msg := taskgate.ChatMessage{
		ID: taskgate.NewID(), ThreadID: threadID, Role: "user",
		Content: req.Content, CreatedAt: taskgate.NowUnix(),
	}
	if err := a.store.StoreMessage(r.Context(), msg); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to store message")
		return
	}
	writeJSON(w, http.StatusCreated, toMessageResponse(msg))
}

func (a *App) handleListChatMessages(w http.ResponseWriter, r *http.Request, caller taskgate.APIKey) {
	threadID := r.PathValue("id")
	thread, err := a.store.GetThread(r.Context(), threadID)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	if thread.UserID != caller.UserID {
		writeError(w, http.StatusForbidden, "thread does not belong to the authenticated user")
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	messages, err := a.store.GetMessages(r.Context(), threadID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	out := make([]messageResponse, len(messages))
	for i, m := range messages {
		out[i] = toMessageResponse(m)
	}
	writeJSON(w, http.StatusOK, out)
}
