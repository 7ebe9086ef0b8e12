package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/agentoven/artifactchat/internal/objectstore"
	"github.com/agentoven/artifactchat/internal/rag"
	"github.com/agentoven/artifactchat/pkg/models"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const maxUploadBytes = 100 << 20

// UploadResponse is returned by Upload.
type UploadResponse struct {
	FileID       string `json:"fileId"`
	OriginalName string `json:"originalName"`
	BlobName     string `json:"blobName"`
}

// Upload handles POST /api/upload: multipart "file", optional "metadata"
// JSON object and optional "transcriptFormat". The blob is stored as
// {fileId}_{name} and an ingestion job is queued.
func (h *Handlers) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		respondError(w, http.StatusBadRequest, "No file attached.")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "No file attached.")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, http.StatusBadRequest, "could not read file")
		return
	}

	metadata, err := uploadMetadata(r.FormValue("metadata"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	name := path.Base(header.Filename)
	fileID := uuid.NewString()
	metadata["artifactId"] = fileID
	metadata["fileName"] = name
	if tf := r.FormValue("transcriptFormat"); tf != "" {
		metadata[rag.MetadataTranscriptFormat] = tf
	}

	blobName := fileID + "_" + name
	key := h.FilesPrefix + blobName
	if err := h.Objects.Put(r.Context(), key, data, contentType(name), metadata); err != nil {
		log.Error().Err(err).Str("blob", key).Msg("Upload failed")
		respondFailure(w, r, http.StatusBadGateway, err)
		return
	}

	job, _ := json.Marshal(models.IngestJob{BlobName: key})
	if err := h.Queue.Push(r.Context(), h.IngestQueue, job); err != nil {
		log.Error().Err(err).Str("blob", key).Msg("Enqueue ingestion failed")
		respondFailure(w, r, http.StatusBadGateway, err)
		return
	}

	log.Info().Str("file_id", fileID).Str("file", name).Int("bytes", len(data)).Msg("File uploaded")
	respondJSON(w, http.StatusOK, UploadResponse{FileID: fileID, OriginalName: name, BlobName: blobName})
}

// uploadMetadata decodes the optional metadata form field. Non-string
// values are stored in their JSON form.
func uploadMetadata(raw string) (map[string]string, error) {
	out := map[string]string{}
	if strings.TrimSpace(raw) == "" {
		return out, nil
	}
	var in map[string]any
	if err := json.Unmarshal([]byte(raw), &in); err != nil {
		return nil, fmt.Errorf("metadata must be a JSON object: %w", err)
	}
	for k, v := range in {
		if s, ok := v.(string); ok {
			out[k] = s
			continue
		}
		b, _ := json.Marshal(v)
		out[k] = string(b)
	}
	return out, nil
}

// GetFile handles GET /api/files/{filename}.
func (h *Handlers) GetFile(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	if filename == "" {
		respondError(w, http.StatusBadRequest, "Filename not provided")
		return
	}

	data, metadata, err := h.Objects.Get(r.Context(), h.FilesPrefix+filename)
	if errors.Is(err, objectstore.ErrNotFound) {
		respondError(w, http.StatusNotFound, "File not found")
		return
	}
	if err != nil {
		respondFailure(w, r, http.StatusBadGateway, err)
		return
	}

	display := metadata["filename"]
	if display == "" {
		display = filename
	}
	w.Header().Set("Content-Type", contentType(filename))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": display}))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func contentType(name string) string {
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
