package app

import (
	"net/http"

	taskgate "github.com/nevindra/taskgate"
)

// handleListModels implements GET /models?provider=, a thin read-through
// to the Model Catalogue Cache (C3).
func (a *App) handleListModels(w http.ResponseWriter, r *http.Request, _ taskgate.APIKey) {
	provider := r.URL.Query().Get("provider")
	models, err := a.catalogue.GetAll(r.Context(), provider)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models)
}
