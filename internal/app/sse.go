package app

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	taskgate "github.com/nevindra/taskgate"
)

// sseFrame is the JSON body of one `data: ...\n\n` frame (spec.md §6).
type sseFrame struct {
	Type     string            `json:"type"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata"`
	EventID  string            `json:"event_id"`
}

func writeSSEFrame(w http.ResponseWriter, ev taskgate.Event) {
	data, err := json.Marshal(sseFrame{Type: ev.EventType, Content: ev.Content, Metadata: ev.Metadata, EventID: ev.EventID})
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}

// handleSSEEvents implements GET /sse/events?event_types=&...: registers a
// connection on the Event Bus (C1) with a filter built from the query
// string, streams matching events as SSE frames until the client
// disconnects, and always unregisters on exit (§4.1, §5).
func (a *App) handleSSEEvents(w http.ResponseWriter, r *http.Request, caller taskgate.APIKey) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	filter := filterFromQuery(r.URL.Query())
	conn := a.bus.Register(caller.UserID, filter)
	defer a.bus.Unregister(conn)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeSSEFrame(w, taskgate.NewEvent(taskgate.EventConnectionEstablished, conn.ID(), nil))
	flusher.Flush()

	ctx := r.Context()
	for {
		ev, ok := conn.Next(ctx)
		if !ok {
			return
		}
		writeSSEFrame(w, ev)
		flusher.Flush()
	}
}

// filterFromQuery builds an EventFilter from the SSE route's query string
// (§6): event_types is a comma-or-repeated list naming the only event types
// to deliver; every other query key becomes a metadata filter whose
// repeated values OR within the key, with distinct keys ANDed (§4.1).
func filterFromQuery(q map[string][]string) taskgate.EventFilter {
	filter := taskgate.EventFilter{MetadataFilters: make(map[string]map[string]struct{})}
	for key, values := range q {
		if key == "event_types" {
			for _, v := range values {
				for _, t := range strings.Split(v, ",") {
					if t = strings.TrimSpace(t); t != "" {
						filter.EventTypes = append(filter.EventTypes, t)
					}
				}
			}
			continue
		}
		set := make(map[string]struct{}, len(values))
		for _, v := range values {
			set[v] = struct{}{}
		}
		filter.MetadataFilters[key] = set
	}
	return filter
}
