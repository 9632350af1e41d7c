package upload

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/buscadoc/buscadoc/pkg/errors"
	"github.com/buscadoc/buscadoc/pkg/logger"
)

// Handler serves the document upload endpoint.
type Handler struct {
	service *Service
	maxSize int64
}

func NewHandler(service *Service, maxSize int64) *Handler {
	return &Handler{service: service, maxSize: maxSize}
}

// Register mounts the upload route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/documents", h.Upload)
}

// Upload handles POST /api/v1/documents with a multipart "file" field. It
// answers 202: indexing happens asynchronously in the worker.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	if h.maxSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxSize+(1<<20))
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "missing multipart field \"file\""))
		return
	}
	defer file.Close()

	event, err := h.service.Stage(r.Context(), header.Filename, file)
	if err != nil {
		log.Error("upload rejected", "filename", header.Filename, "error", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, event)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, apperrors.HTTPStatusCode(err), map[string]string{"error": err.Error()})
}
