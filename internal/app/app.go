// Package app wires the core gateway (C1-C11, the root taskgate package)
// to a thin net/http surface: API keys, model catalogue listing, direct
// completions, file upload, task creation/inspection, the event SSE
// stream, and the ancillary chat surface. None of this package's HTTP
// framing is part of the core budget (spec.md §1 explicitly treats
// HTTP/SSE framing as an external collaborator); it exists so the core
// has somewhere to be driven from.
package app

import (
	"net/http"

	taskgate "github.com/nevindra/taskgate"
	"github.com/nevindra/taskgate/provider"
)

// App holds every dependency the HTTP handlers need. It owns no
// lifecycle of its own: Store, EventBus, WorkQueue, and Catalogue are
// started/closed by the caller (cmd/gatewayd).
type App struct {
	store      taskgate.Store
	bus        *taskgate.EventBus
	queue      *taskgate.WorkQueue
	catalogue  *taskgate.Catalogue
	llm        provider.Provider
	completion *taskgate.CompletionStream
}

// New creates an App from its collaborators.
func New(store taskgate.Store, bus *taskgate.EventBus, queue *taskgate.WorkQueue, catalogue *taskgate.Catalogue, llm provider.Provider) *App {
	return &App{
		store:      store,
		bus:        bus,
		queue:      queue,
		catalogue:  catalogue,
		llm:        llm,
		completion: taskgate.NewCompletionStream(llm),
	}
}

// Router builds the ServeMux for the routes in spec.md §6.
func (a *App) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", a.handleHealth)

	mux.HandleFunc("POST /api-keys", a.withAuth(a.handleCreateAPIKey))
	mux.HandleFunc("GET /api-keys", a.withAuth(a.handleListAPIKeys))
	mux.HandleFunc("DELETE /api-keys/{id}", a.withAuth(a.handleRevokeAPIKey))

	mux.HandleFunc("GET /models", a.withAuth(a.handleListModels))

	mux.HandleFunc("POST /completions", a.withAuth(a.handleCompletions))
	mux.HandleFunc("POST /completions/stream", a.withAuth(a.handleCompletionsStream))

	mux.HandleFunc("POST /files", a.withAuth(a.handleUploadFile))
	mux.HandleFunc("POST /files/url", a.withAuth(a.handleRegisterFileURL))
	mux.HandleFunc("GET /files", a.withAuth(a.handleListFiles))

	mux.HandleFunc("POST /task", a.withAuth(a.handleCreateTask))
	mux.HandleFunc("GET /task", a.withAuth(a.handleListTasks))
	mux.HandleFunc("GET /task/{id}", a.withAuth(a.handleGetTask))
	mux.HandleFunc("GET /task/{id}/steps", a.withAuth(a.handleGetTaskSteps))

	mux.HandleFunc("GET /sse/events", a.withAuth(a.handleSSEEvents))

	mux.HandleFunc("POST /chat/threads", a.withAuth(a.handleCreateThread))
	mux.HandleFunc("GET /chat/threads", a.withAuth(a.handleListThreads))
	mux.HandleFunc("POST /chat/threads/{id}/messages", a.withAuth(a.handleSendChatMessage))
	mux.HandleFunc("GET /chat/threads/{id}/messages", a.withAuth(a.handleListChatMessages))

	return mux
}
