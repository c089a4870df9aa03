package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/banshee-data/survey.report/internal/httputil"
	"github.com/banshee-data/survey.report/internal/monitoring"
	"github.com/banshee-data/survey.report/internal/objectstore"
	"github.com/banshee-data/survey.report/internal/security"
	"github.com/banshee-data/survey.report/internal/survey/pipeline"
	"github.com/banshee-data/survey.report/internal/survey/storage/sqlite"
)

const defaultListLimit = 100

// uploadFormat resolves the source format from the format query parameter
// or the filename extension.
func uploadFormat(format, filename string) (sqlite.SourceFormat, error) {
	f := strings.ToLower(strings.TrimSpace(format))
	if f == "" {
		f = strings.TrimPrefix(strings.ToLower(path.Ext(filename)), ".")
	}
	switch sqlite.SourceFormat(f) {
	case sqlite.FormatLAS, sqlite.FormatE57:
		return sqlite.SourceFormat(f), nil
	}
	return "", fmt.Errorf("format must be las or e57, got %q", f)
}

// cleanFilename keeps the base name of a client supplied filename.
func cleanFilename(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	name = path.Base(name)
	if name == "." || name == "/" {
		return ""
	}
	return name
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func (s *Server) uploadScan(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filename := cleanFilename(q.Get("filename"))
	format, err := uploadFormat(q.Get("format"), filename)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if filename == "" {
		filename = "scan." + string(format)
	}
	if r.ContentLength > s.maxUpload {
		httputil.TooLarge(w, fmt.Sprintf("upload of %d bytes exceeds limit of %d", r.ContentLength, s.maxUpload))
		return
	}

	ctx := r.Context()
	scanID := uuid.New().String()
	key := pipeline.RawKey(scanID, format)
	body := &countingReader{r: http.MaxBytesReader(w, r.Body, s.maxUpload)}
	if err := s.objects.Put(ctx, key, body, r.ContentLength, "application/octet-stream"); err != nil {
		_ = s.objects.Delete(ctx, key)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.TooLarge(w, fmt.Sprintf("upload exceeds limit of %d bytes", s.maxUpload))
			return
		}
		httputil.InternalServerError(w, fmt.Sprintf("store upload: %v", err))
		return
	}
	if body.n == 0 {
		_ = s.objects.Delete(ctx, key)
		httputil.BadRequest(w, "empty upload")
		return
	}

	sc := &sqlite.Scan{
		ScanID:       scanID,
		Filename:     filename,
		SourceFormat: format,
		RawPath:      key,
		FileSize:     body.n,
	}
	if err := s.store.CreateScan(ctx, sc, s.clock.Now().UnixNano()); err != nil {
		_ = s.objects.Delete(ctx, key)
		httputil.InternalServerError(w, fmt.Sprintf("create scan: %v", err))
		return
	}
	s.enqueue(scanID)
	monitoring.Logf("[api] scan %s uploaded: %s, %d bytes", scanID, filename, body.n)
	httputil.WriteJSON(w, http.StatusCreated, sc)
}

// enqueue schedules a scan. A full queue is not an error for the client:
// the reconciler requeues the scan later.
func (s *Server) enqueue(scanID string) {
	if s.queue == nil {
		return
	}
	if _, err := s.queue.Enqueue(scanID); err != nil {
		monitoring.Logf("[api] scan %s not queued: %v", scanID, err)
	}
}

func (s *Server) listScans(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			httputil.BadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}
	scans, err := s.store.ListScans(r.Context(), limit)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{"scans": scans})
}

// writeStoreError maps store errors to responses.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, sqlite.ErrNotFound):
		httputil.NotFound(w, err.Error())
	case errors.Is(err, sqlite.ErrStatusConflict), errors.Is(err, pipeline.ErrInvalidTransition):
		httputil.Conflict(w, err.Error())
	default:
		httputil.InternalServerError(w, err.Error())
	}
}

func (s *Server) getScan(w http.ResponseWriter, r *http.Request) {
	sc, err := s.store.GetScan(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteJSONOK(w, sc)
}

func (s *Server) listFloors(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	if _, err := s.store.GetScan(ctx, id); err != nil {
		writeStoreError(w, err)
		return
	}
	fl, err := s.store.ListFloors(ctx, id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{"floors": fl})
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	if _, err := s.store.GetScan(ctx, id); err != nil {
		writeStoreError(w, err)
		return
	}
	events, err := s.store.ListEvents(ctx, id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{"events": events})
}

func (s *Server) listWalls(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	if _, err := s.store.GetFloor(ctx, id); err != nil {
		writeStoreError(w, err)
		return
	}
	ws, err := s.store.ListWalls(ctx, id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{"walls": ws})
}

func (s *Server) reprocessScan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sc, err := s.store.GetScan(ctx, r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if !pipeline.CanTransition(sc.Status, sqlite.StatusUploaded) {
		writeStoreError(w, fmt.Errorf("scan %s is %s: %w", sc.ScanID, sc.Status, pipeline.ErrInvalidTransition))
		return
	}
	if err := s.store.TransitionStatus(ctx, sc.ScanID, sc.Status, sqlite.StatusUploaded,
		sqlite.EventStatusChange, "reprocess requested", s.clock.Now().UnixNano()); err != nil {
		writeStoreError(w, err)
		return
	}
	s.enqueue(sc.ScanID)
	sc, err = s.store.GetScan(ctx, sc.ScanID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, sc)
}

func (s *Server) downloadPreview(w http.ResponseWriter, r *http.Request) {
	sc, err := s.store.GetScan(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if sc.PreviewPath == "" {
		httputil.NotFound(w, "scan has no preview")
		return
	}
	s.serveObject(w, r, sc.PreviewPath, "image/png", "")
}

func (s *Server) downloadDecimated(w http.ResponseWriter, r *http.Request) {
	sc, err := s.store.GetScan(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if sc.DecimatedPath == "" {
		httputil.NotFound(w, "scan has no decimated point cloud")
		return
	}
	name := strings.TrimSuffix(sc.Filename, path.Ext(sc.Filename)) + "-decimated.las"
	s.serveObject(w, r, sc.DecimatedPath, "application/vnd.las", name)
}

// serveObject streams an object. A non-empty attachment sets the download
// filename.
func (s *Server) serveObject(w http.ResponseWriter, r *http.Request, key, contentType, attachment string) {
	rc, size, err := s.objects.Get(r.Context(), key)
	if errors.Is(err, objectstore.ErrNotExist) {
		httputil.NotFound(w, "artifact missing from storage")
		return
	}
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", contentType)
	if size >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	if attachment != "" {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", security.SanitizeFilename(attachment)))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		monitoring.Logf("[api] stream %s: %v", key, err)
	}
}
