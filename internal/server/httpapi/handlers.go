package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/skystar-p/hako/internal/common"
	"github.com/skystar-p/hako/internal/server/models"
)

// multipartMemory caps the in-memory portion of parsed multipart bodies;
// larger parts spill to temp files.
const multipartMemory = 1 << 20

func (s *Server) Ping(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write([]byte("pong"))
}

// PrepareUpload creates the file record from the client's key-derivation
// material and returns the allocated id.
//
// Multipart fields: salt, filename_nonce, stream_nonce, filename (encrypted),
// chunk_size (decimal plaintext block size the client encrypts with).
func (s *Server) PrepareUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		http.Error(w, "bad multipart body", http.StatusBadRequest)
		return
	}

	salt, err := formBytes(r, "salt")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	filenameNonce, err := formBytes(r, "filename_nonce")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	streamNonce, err := formBytes(r, "stream_nonce")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	filename, err := formBytes(r, "filename")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	chunkSize, err := strconv.ParseInt(r.FormValue("chunk_size"), 10, 64)
	if err != nil || chunkSize <= 0 {
		http.Error(w, "invalid chunk_size", http.StatusBadRequest)
		return
	}

	id, err := s.upload.Begin(r.Context(), salt, filenameNonce, streamNonce, filename, chunkSize)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, map[string]string{"id": id})
}

// UploadChunk appends one ciphertext chunk.
//
// Multipart fields: id, seq (decimal), is_last ("0"/"1"), content.
func (s *Server) UploadChunk(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.chunkSize+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		http.Error(w, "bad multipart body", http.StatusBadRequest)
		return
	}

	id := r.FormValue("id")
	if id == "" {
		http.Error(w, "missing id", http.StatusBadRequest)
		return
	}
	seq, err := strconv.ParseInt(r.FormValue("seq"), 10, 64)
	if err != nil || seq < 0 {
		http.Error(w, "invalid seq", http.StatusBadRequest)
		return
	}
	isLast := r.FormValue("is_last") == "1"
	content, err := formBytes(r, "content")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.upload.Append(r.Context(), id, seq, isLast, content); err != nil {
		s.writeError(w, r, err)
		return
	}

	_, _ = w.Write([]byte("ok"))
}

func (s *Server) Finalize(w http.ResponseWriter, r *http.Request) {
	id := r.FormValue("id")
	if id == "" {
		http.Error(w, "missing id", http.StatusBadRequest)
		return
	}
	if err := s.upload.Finalize(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) Abort(w http.ResponseWriter, r *http.Request) {
	id := r.FormValue("id")
	if id == "" {
		http.Error(w, "missing id", http.StatusBadRequest)
		return
	}
	if err := s.upload.Abort(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	_, _ = w.Write([]byte("ok"))
}

// metadataResponse is the metadata wire format: binary fields travel
// base64-encoded in JSON.
type metadataResponse struct {
	Filename      string `json:"filename"`
	Salt          string `json:"salt"`
	StreamNonce   string `json:"stream_nonce"`
	FilenameNonce string `json:"filename_nonce"`
	Size          int64  `json:"size"`
	ChunkSize     int64  `json:"chunk_size"`
}

func (s *Server) Metadata(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "missing id", http.StatusBadRequest)
		return
	}

	file, size, err := s.download.Metadata(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, metadataResponse{
		Filename:      base64.StdEncoding.EncodeToString(file.EncryptedFilename),
		Salt:          base64.StdEncoding.EncodeToString(file.Salt),
		StreamNonce:   base64.StdEncoding.EncodeToString(file.StreamNonce),
		FilenameNonce: base64.StdEncoding.EncodeToString(file.FilenameNonce),
		Size:          size,
		ChunkSize:     file.ChunkSize,
	})
}

// Download streams the raw concatenated ciphertext chunks in seq order. The
// client splits the stream at chunk_size + AEAD overhead boundaries and
// decrypts each piece itself.
func (s *Server) Download(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "missing id", http.StatusBadRequest)
		return
	}

	flusher, _ := w.(http.Flusher)
	started := false

	err := s.download.Stream(r.Context(), id, func(chunk *models.Chunk) error {
		if !started {
			w.Header().Set("Content-Type", "application/octet-stream")
			started = true
		}
		if _, err := w.Write(chunk.Content); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	})
	if err != nil && !started {
		s.writeError(w, r, err)
		return
	}
	if err != nil {
		// headers already sent; all we can do is cut the stream short
		s.logger.Error(r.Context(), "download stream interrupted", "file_id", id, "error", err)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error(context.Background(), "could not encode response", "error", err)
	}
}

// writeError maps the error taxonomy onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, common.ErrorValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, common.ErrorNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, common.ErrorNotReady):
		http.Error(w, "upload not complete", http.StatusConflict)
	case errors.Is(err, common.ErrorConflict):
		http.Error(w, "conflicting writer", http.StatusLocked)
	default:
		s.logger.Error(r.Context(), "internal error", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// formBytes reads a multipart field that may arrive either as a plain value
// or as a file part.
func formBytes(r *http.Request, name string) ([]byte, error) {
	if values, ok := r.MultipartForm.Value[name]; ok && len(values) > 0 {
		return []byte(values[0]), nil
	}
	if files, ok := r.MultipartForm.File[name]; ok && len(files) > 0 {
		f, err := files[0].Open()
		if err != nil {
			return nil, errors.New("unreadable field " + name)
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			return nil, errors.New("unreadable field " + name)
		}
		return data, nil
	}
	return nil, errors.New("missing field " + name)
}
