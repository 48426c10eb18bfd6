package app

import (
	"encoding/json"
	"io"
	"net/http"

	taskgate "github.com/nevindra/taskgate"
)

const maxTaskBodyBytes = 64 << 10

type createTaskRequest struct {
	Prompt string `json:"prompt"`
}

type taskResponse struct {
	ID                 string  `json:"id"`
	Title              string  `json:"title,omitempty"`
	Prompt             string  `json:"prompt"`
	Status             string  `json:"status"`
	Output             string  `json:"output,omitempty"`
	StepsGenerated     bool    `json:"steps_generated"`
	CreatedAt          int64   `json:"created_at"`
	CompletedAt        *int64  `json:"completed_at,omitempty"`
	TotalCostUSD       float64 `json:"total_cost_usd"`
	TotalCostFormatted string  `json:"total_cost_formatted"`
}

// handleCreateTask implements POST /task ★ (§2 entry point): persist the
// task, enqueue DECOMPOSE, and return it immediately at status=decomposing.
func (a *App) handleCreateTask(w http.ResponseWriter, r *http.Request, caller taskgate.APIKey) {
	orKey, err := requireOpenRouterKey(r)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxTaskBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	var req createTaskRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	task, err := a.queue.CreateTask(r.Context(), req.Prompt, caller.UserID, orKey)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, taskResponse{
		ID: task.ID, Prompt: task.Prompt, Status: string(task.Status),
		StepsGenerated: task.StepsGenerated, CreatedAt: task.CreatedAt,
		TotalCostFormatted: formatUSD(0),
	})
}

// handleListTasks implements GET /task.
func (a *App) handleListTasks(w http.ResponseWriter, r *http.Request, caller taskgate.APIKey) {
	tasks, err := a.store.ListTasks(r.Context(), caller.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}
	out := make([]taskResponse, len(tasks))
	for i, t := range tasks {
		total, _ := a.store.TotalCost(r.Context(), t.ID)
		out[i] = taskResponse{
			ID: t.ID, Title: t.Title, Prompt: t.Prompt, Status: string(t.Status),
			Output: t.Output, StepsGenerated: t.StepsGenerated,
			CreatedAt: t.CreatedAt, CompletedAt: t.CompletedAt,
			TotalCostUSD: total, TotalCostFormatted: formatUSD(total),
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// handleGetTask implements GET /task/{id}, including the total cost ledger
// sum (§6).
func (a *App) handleGetTask(w http.ResponseWriter, r *http.Request, caller taskgate.APIKey) {
	id := r.PathValue("id")
	task, err := a.store.GetTask(r.Context(), id, caller.UserID)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	total, err := a.store.TotalCost(r.Context(), task.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load cost ledger")
		return
	}
	writeJSON(w, http.StatusOK, taskResponse{
		ID: task.ID, Title: task.Title, Prompt: task.Prompt, Status: string(task.Status),
		Output: task.Output, StepsGenerated: task.StepsGenerated,
		CreatedAt: task.CreatedAt, CompletedAt: task.CompletedAt,
		TotalCostUSD: total, TotalCostFormatted: formatUSD(total),
	})
}

type stepResponse struct {
	ID                   string   `json:"id"`
	StepNumber           int      `json:"step_number"`
	Type                 string   `json:"type"`
	Prompt               string   `json:"prompt"`
	Status               string   `json:"status"`
	StartedAt            *int64   `json:"started_at,omitempty"`
	CompletedAt          *int64   `json:"completed_at,omitempty"`
	Complexity           string   `json:"complexity,omitempty"`
	RequiredCapabilities []string `json:"required_capabilities,omitempty"`
	ModelName            string   `json:"model_name,omitempty"`
	PredictedScore       *float64 `json:"predicted_score,omitempty"`
	PredictedLength      *int     `json:"predicted_length,omitempty"`
	Output               string   `json:"output,omitempty"`
	FailureReason        string   `json:"failure_reason,omitempty"`
	IsPlanned            *bool    `json:"is_planned,omitempty"`
}

func toStepResponse(s taskgate.TaskStep) stepResponse {
	out := stepResponse{
		ID: s.ID, StepNumber: s.StepNumber, Type: string(s.Type), Prompt: s.Prompt,
		Status: string(s.Status), StartedAt: s.StartedAt, CompletedAt: s.CompletedAt,
	}
	if s.Normal != nil {
		out.Complexity = string(s.Normal.Complexity)
		for _, c := range s.Normal.RequiredCapabilities {
			out.RequiredCapabilities = append(out.RequiredCapabilities, string(c))
		}
		out.ModelName = s.Normal.ModelName
		out.PredictedScore = s.Normal.PredictedScore
		out.PredictedLength = s.Normal.PredictedLength
		out.Output = s.Normal.Output
		out.FailureReason = s.Normal.FailureReason
	}
	if s.Reevaluate != nil {
		planned := s.Reevaluate.IsPlanned
		out.IsPlanned = &planned
	}
	return out
}

// handleGetTaskSteps implements GET /task/{id}/steps, excluding abandoned
// steps by default (§6).
func (a *App) handleGetTaskSteps(w http.ResponseWriter, r *http.Request, caller taskgate.APIKey) {
	id := r.PathValue("id")
	if _, err := a.store.GetTask(r.Context(), id, caller.UserID); err != nil {
		writeGatewayError(w, err)
		return
	}
	excludeAbandoned := r.URL.Query().Get("include_abandoned") != "true"
	steps, err := a.store.GetSteps(r.Context(), id, caller.UserID, excludeAbandoned)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	out := make([]stepResponse, len(steps))
	for i, s := range steps {
		out[i] = toStepResponse(s)
	}
	writeJSON(w, http.StatusOK, out)
}
