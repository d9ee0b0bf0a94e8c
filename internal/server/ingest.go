package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/54b3r/plantai-go/internal/ingestion"
	"github.com/54b3r/plantai-go/internal/logging"
	"github.com/54b3r/plantai-go/internal/sharepoint"
)

// Source labels stored on every record.
const (
	labelLocal      = "local"
	labelUpload     = "upload"
	labelSharePoint = "sharepoint"
)

// maxFormBytes caps the body of the non-upload endpoints.
const maxFormBytes = 1 << 20

// parseForm reads a url-encoded or multipart form of at most maxFormBytes.
// On failure it writes 400 and returns false.
func (s *Server) parseForm(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	err := r.ParseMultipartForm(maxFormBytes)
	if errors.Is(err, http.ErrNotMultipart) {
		err = nil
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeDetail(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeDetail(w, http.StatusBadRequest, "invalid form body")
		return false
	}
	return true
}

// cleanupForm removes temporary files ParseMultipartForm may have created.
func cleanupForm(r *http.Request) {
	if r.MultipartForm != nil {
		_ = r.MultipartForm.RemoveAll()
	}
}

// handleIngestLocal handles POST /ingest/local. It ingests a directory that
// already exists on the server's file system.
func (s *Server) handleIngestLocal(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	if !s.parseForm(w, r) {
		return
	}
	defer cleanupForm(r)
	if !s.authorizeForm(w, r) {
		return
	}

	path := strings.TrimSpace(r.PostFormValue("path"))
	if path == "" {
		writeDetail(w, http.StatusBadRequest, "path is required")
		return
	}
	if _, err := os.Stat(path); err != nil {
		writeDetail(w, http.StatusBadRequest, fmt.Sprintf("path %q is not accessible", path))
		return
	}

	s.runIngest(w, r, started, path, ingestion.Options{Label: labelLocal})
}

// handleIngestUpload handles POST /ingest/folder-upload. The multipart body
// is streamed: the key is checked before the first file is written, and
// files land in a temporary directory that is removed afterwards.
func (s *Server) handleIngestUpload(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	log := logging.FromContext(r.Context())

	if s.cfg.UploadMaxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.UploadMaxBytes)
	}
	mr, err := r.MultipartReader()
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "multipart form body required")
		return
	}

	authed := s.validKey(headerKey(r))
	keyPresent := headerKey(r) != ""
	var dir string
	files := 0
	defer func() {
		if dir == "" {
			return
		}
		if err := os.RemoveAll(dir); err != nil {
			log.Warn("upload: staging cleanup failed", slog.String("dir", dir), slog.Any("error", err))
		}
	}()

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.fail(w, r, http.StatusBadRequest, "invalid multipart body", err)
			return
		}

		name := partFilename(part)
		if name == "" {
			if part.FormName() == apiKeyField {
				v, err := io.ReadAll(io.LimitReader(part, 4096))
				if err != nil {
					s.fail(w, r, http.StatusBadRequest, "invalid multipart body", err)
					return
				}
				key := strings.TrimSpace(string(v))
				authed = s.validKey(key)
				keyPresent = key != ""
			}
			part.Close()
			continue
		}
		if part.FormName() != "files" {
			part.Close()
			continue
		}

		if !authed {
			s.unauthorized(w, r, keyPresent)
			return
		}

		rel, ok := uploadPath(name)
		if !ok {
			writeDetail(w, http.StatusBadRequest, fmt.Sprintf("invalid file path %q", name))
			return
		}
		if dir == "" {
			if dir, err = os.MkdirTemp(s.cfg.StagingDir, "plantai-upload-*"); err != nil {
				s.fail(w, r, http.StatusInternalServerError, "could not stage upload", err)
				return
			}
		}
		if err := saveFile(filepath.Join(dir, rel), part); err != nil {
			s.fail(w, r, http.StatusInternalServerError, "could not stage upload", err)
			return
		}
		files++
	}

	if !authed {
		s.unauthorized(w, r, keyPresent)
		return
	}
	if files == 0 {
		writeDetail(w, http.StatusBadRequest, "no files uploaded")
		return
	}
	log.Debug("upload: staged files", slog.Int("files", files))

	s.runIngest(w, r, started, dir, ingestion.Options{
		Label: labelUpload,
		URI:   ingestion.PrefixURI("upload://"),
	})
}

// handleIngestSharePoint handles POST /ingest/sharepoint. The folder is
// downloaded into a temporary directory, ingested, then removed.
func (s *Server) handleIngestSharePoint(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	if !s.parseForm(w, r) {
		return
	}
	defer cleanupForm(r)
	if !s.authorizeForm(w, r) {
		return
	}

	if _, ok := r.PostForm["sp_folder"]; !ok {
		writeDetail(w, http.StatusBadRequest, "sp_folder is required")
		return
	}
	folder := strings.Trim(strings.TrimSpace(r.PostFormValue("sp_folder")), "/")
	if s.deps.SharePoint == nil {
		writeDetail(w, http.StatusServiceUnavailable, "SharePoint is not configured")
		return
	}

	dir, err := os.MkdirTemp(s.cfg.StagingDir, "plantai-sharepoint-*")
	if err != nil {
		s.fail(w, r, http.StatusInternalServerError, "could not stage SharePoint folder", err)
		return
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			logging.FromContext(r.Context()).Warn("sharepoint: staging cleanup failed", slog.Any("error", err))
		}
	}()

	if _, err := s.deps.SharePoint.Stage(r.Context(), folder, dir); err != nil {
		s.metrics.ingestRequestsTotal.WithLabelValues(labelSharePoint, "error").Inc()
		if errors.Is(err, sharepoint.ErrNotFound) {
			s.fail(w, r, http.StatusNotFound, "SharePoint folder not found", err)
			return
		}
		s.fail(w, r, http.StatusInternalServerError, "SharePoint fetch failed", err)
		return
	}

	s.runIngest(w, r, started, dir, ingestion.Options{
		Label: labelSharePoint,
		URI:   ingestion.PrefixURI(sharepoint.URIPrefix(folder)),
	})
}

// runIngest runs the pipeline over root and writes the response.
func (s *Server) runIngest(w http.ResponseWriter, r *http.Request, started time.Time, root string, opts ingestion.Options) {
	stats, err := s.deps.Ingester.Ingest(r.Context(), root, opts)

	s.metrics.ingestFilesTotal.WithLabelValues(opts.Label).Add(float64(stats.Files))
	s.metrics.ingestChunksTotal.WithLabelValues(opts.Label).Add(float64(stats.Chunks))
	s.metrics.ingestDurationSeconds.WithLabelValues(opts.Label).Observe(time.Since(started).Seconds())

	if err != nil {
		s.metrics.ingestRequestsTotal.WithLabelValues(opts.Label, "error").Inc()
		s.fail(w, r, http.StatusInternalServerError, "ingestion failed", err)
		return
	}
	s.metrics.ingestRequestsTotal.WithLabelValues(opts.Label, "ok").Inc()

	writeJSON(w, http.StatusOK, ingestResponse{Status: "ok", Files: stats.Files, Chunks: stats.Chunks})
}

// partFilename returns the filename parameter as sent. Unlike
// [multipart.Part.FileName] it keeps directory components.
func partFilename(p *multipart.Part) string {
	_, params, err := mime.ParseMediaType(p.Header.Get("Content-Disposition"))
	if err != nil {
		return ""
	}
	return params["filename"]
}

// uploadPath converts a client-supplied relative path into a local one,
// rejecting anything that would land outside the staging directory.
func uploadPath(name string) (string, bool) {
	local := filepath.FromSlash(strings.ReplaceAll(name, `\`, "/"))
	if !filepath.IsLocal(local) {
		return "", false
	}
	return filepath.Clean(local), true
}

func saveFile(dest string, src io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
