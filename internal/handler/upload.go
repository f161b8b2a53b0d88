package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dealhub/internal/blob"
)

// maxMultipartMemory: сверх этого multipart уходит во временные файлы.
const maxMultipartMemory = 4 << 20

// UploadHandler принимает вложения и возвращает model.Attachment для сообщения.
type UploadHandler struct {
	store  blob.Store
	limits blob.Limits
}

func NewUploadHandler(store blob.Store, limits blob.Limits) *UploadHandler {
	return &UploadHandler{store: store, limits: limits}
}

// Upload принимает multipart-поле "file".
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if h.limits.MaxSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.limits.MaxSize+1<<20)
	}
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form or file too large")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field required")
		return
	}
	defer file.Close()

	att, err := blob.Upload(r.Context(), h.store, h.limits, blob.Object{
		Name:     header.Filename,
		MIMEType: header.Header.Get("Content-Type"),
		Size:     header.Size,
		Body:     file,
	})
	if err != nil {
		writeServiceError(w, "Upload", err)
		return
	}
	writeJSON(w, http.StatusCreated, att)
}

// Serve отдаёт файлы локального хранилища; для MinIO ссылки ведут в бакет.
func (h *UploadHandler) Serve(w http.ResponseWriter, r *http.Request) {
	disk, ok := h.store.(*blob.DiskStore)
	if !ok {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	disk.Serve(w, r, chi.URLParam(r, "key"))
}
