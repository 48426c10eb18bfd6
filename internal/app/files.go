package app

import (
	"encoding/json"
	"io"
	"net/http"

	taskgate "github.com/nevindra/taskgate"
)

const maxFileUploadBytes = 32 << 20

type fileResponse struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	MimeType  string `json:"mime_type"`
	Source    string `json:"source"`
	URL       string `json:"url,omitempty"`
	ByteSize  int64  `json:"byte_size"`
	PageCount *int   `json:"page_count,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

func toFileResponse(f taskgate.UploadedFile) fileResponse {
	return fileResponse{
		ID: f.ID, Kind: f.Kind, MimeType: f.MimeType, Source: string(f.Source),
		URL: f.URL, ByteSize: f.ByteSize, PageCount: f.PageCount, CreatedAt: f.CreatedAt,
	}
}

// handleUploadFile implements POST /files (multipart): store the inline
// bytes' size and metadata. Blob storage itself is an external
// collaborator (§1); this handler only persists the UploadedFile record
// the rest of the gateway (file attachment lookup, PDF page-count cost
// estimate) depends on.
func (a *App) handleUploadFile(w http.ResponseWriter, r *http.Request, caller taskgate.APIKey) {
	if err := r.ParseMultipartForm(maxFileUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	kind := r.FormValue("kind")
	if kind == "" {
		writeError(w, http.StatusBadRequest, "kind is required")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	var pageCount *int
	if kind == "pdf" {
		if n, err := countPDFPages(file, header.Size); err == nil {
			pageCount = &n
		}
	}

	uploaded := taskgate.UploadedFile{
		ID:        taskgate.NewID(),
		UserID:    caller.UserID,
		Kind:      kind,
		MimeType:  header.Header.Get("Content-Type"),
		Source:    taskgate.FileSourceInline,
		ByteSize:  header.Size,
		PageCount: pageCount,
		CreatedAt: taskgate.NowUnix(),
	}
	if err := a.store.CreateFile(r.Context(), uploaded); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to store file")
		return
	}
	writeJSON(w, http.StatusCreated, toFileResponse(uploaded))
}

type registerFileURLRequest struct {
	Kind     string `json:"kind"`
	MimeType string `json:"mime_type"`
	URL      string `json:"url"`
	ByteSize int64  `json:"byte_size"`
}

// handleRegisterFileURL implements POST /files/url: register a remote file
// by reference rather than uploading bytes (§11).
func (a *App) handleRegisterFileURL(w http.ResponseWriter, r *http.Request, caller taskgate.APIKey) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 4<<10))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	var req registerFileURLRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Kind == "" || req.URL == "" {
		writeError(w, http.StatusBadRequest, "kind and url are required")
		return
	}

	uploaded := taskgate.UploadedFile{
		ID:        taskgate.NewID(),
		UserID:    caller.UserID,
		Kind:      req.Kind,
		MimeType:  req.MimeType,
		Source:    taskgate.FileSourceURL,
		URL:       req.URL,
		ByteSize:  req.ByteSize,
		CreatedAt: taskgate.NowUnix(),
	}
	if err := a.store.CreateFile(r.Context(), uploaded); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to register file")
		return
	}
	writeJSON(w, http.StatusCreated, toFileResponse(uploaded))
}

// handleListFiles implements GET /files.
func (a *App) handleListFiles(w http.ResponseWriter, r *http.Request, caller taskgate.APIKey) {
	files, err := a.store.ListFiles(r.Context(), caller.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list files")
		return
	}
	out := make([]fileResponse, len(files))
	for i, f := range files {
		out[i] = toFileResponse(f)
	}
	writeJSON(w, http.StatusOK, out)
}
