package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	openapi_types "github.com/oapi-codegen/runtime/types"

	"image-editor/internal/config"
	"image-editor/internal/editor"
	"image-editor/internal/events"
	"image-editor/internal/intake"
	"image-editor/internal/netfetch"
	"image-editor/internal/session"
	"image-editor/internal/uploaddb"
	"image-editor/internal/uploader"
)

const (
	maxMultipartMemory = 8 << 20
	maxActionBytes     = 64 << 10
	recordTimeout      = 5 * time.Second
	maxNotifications   = 100
)

type Options struct {
	Config     *config.Config
	Uploader   uploader.Uploader
	DB         *sql.DB
	Publisher  events.Publisher
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Server hosts one editor per session id.
type Server struct {
	cfg        *config.Config
	uploader   uploader.Uploader
	db         *sql.DB
	publisher  events.Publisher
	httpClient *http.Client
	logger     *slog.Logger

	mu       sync.Mutex
	sessions map[uuid.UUID]*entry
}

type entry struct {
	editor   *editor.Editor
	notes    *editor.Recorder
	lastUsed time.Time
}

func NewServer(opts Options) *Server {
	cfg := opts.Config
	if cfg == nil {
		def := config.Default()
		cfg = &def
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	publisher := opts.Publisher
	if publisher == nil {
		publisher = events.Discard{}
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Server{
		cfg:        cfg,
		uploader:   opts.Uploader,
		db:         opts.DB,
		publisher:  publisher,
		httpClient: client,
		logger:     logger,
		sessions:   make(map[uuid.UUID]*entry),
	}
}

func (s *Server) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(io.LimitReader(r.Body, maxActionBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
	}
	label := strings.TrimSpace(req.Label)
	if label == "" {
		label = s.cfg.Label
	}
	currentImage := req.CurrentImage
	if currentImage == "" {
		currentImage = s.cfg.CurrentImage
	}

	id := uuid.New()
	logger := s.logger.With("session_id", id.String())
	notes := &editor.Recorder{Limit: maxNotifications}
	ed := editor.New(editor.Options{
		Label:          label,
		CurrentImage:   currentImage,
		Validator:      s.cfg.Validator(),
		Session:        s.cfg.SessionConfig(),
		EnableDragDrop: s.cfg.EnableDragDrop,
		Uploader:       s.uploader,
		Notifier:       editor.Notifiers{notes, editor.LogNotifier{Logger: logger}},
		OnImageUpdate: func(url string) {
			logger.Info("image updated", "url", url)
		},
		Observer: func(o editor.Outcome) { s.record(id, o) },
		Logger:   logger,
	})
	e := &entry{editor: ed, notes: notes, lastUsed: time.Now()}

	s.mu.Lock()
	s.sessions[id] = e
	s.mu.Unlock()

	logger.Info("session created", "label", label)
	writeJSON(w, s.response(id, e), http.StatusCreated)
}

func (s *Server) GetSession(w http.ResponseWriter, r *http.Request, id openapi_types.UUID) {
	e, ok := s.lookup(w, id)
	if !ok {
		return
	}
	writeJSON(w, s.response(id, e), http.StatusOK)
}

func (s *Server) DeleteSession(w http.ResponseWriter, r *http.Request, id openapi_types.UUID) {
	s.mu.Lock()
	e, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	e.editor.Close()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) UploadSessionFile(w http.ResponseWriter, r *http.Request, id openapi_types.UUID) {
	e, ok := s.lookup(w, id)
	if !ok {
		return
	}
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, intake.ErrNoFile.Error())
		return
	}
	defer file.Close()

	// Read one byte past the limit so oversized files still fail validation.
	limit := int64(s.cfg.Intake.MaxFileSizeMB*1024*1024) + 1
	data, err := io.ReadAll(io.LimitReader(file, limit))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read file")
		return
	}

	origin := intake.Picked
	if strings.EqualFold(r.FormValue("origin"), "dropped") {
		origin = intake.Dropped
	}
	f := intake.File{
		Name:   header.Filename,
		Type:   header.Header.Get("Content-Type"),
		Size:   header.Size,
		Data:   data,
		Origin: origin,
	}
	s.logger.Debug("file received", "session_id", id.String(), "file", f.Name, "size", humanize.IBytes(uint64(f.Size)))
	s.submit(w, r, id, e, f)
}

func (s *Server) FetchSessionImage(w http.ResponseWriter, r *http.Request, id openapi_types.UUID) {
	e, ok := s.lookup(w, id)
	if !ok {
		return
	}
	var req FetchRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxActionBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Url == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	f, err := intake.FromURL(r.Context(), s.httpClient, req.Url, s.cfg.Intake.MaxFetchBytes)
	if err != nil {
		switch {
		case errors.Is(err, netfetch.ErrInvalidURL):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, netfetch.ErrTooLarge):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			writeError(w, http.StatusBadGateway, "failed to fetch image")
		}
		return
	}
	s.submit(w, r, id, e, f)
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request, id uuid.UUID, e *entry, f intake.File) {
	if err := e.editor.SubmitFile(r.Context(), f); err != nil {
		switch {
		case errors.Is(err, editor.ErrDragDropDisabled):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, intake.ErrUnsupportedFormat), errors.Is(err, intake.ErrFileTooLarge):
			writeError(w, http.StatusUnprocessableEntity, lastNotice(e, err))
		default:
			writeError(w, http.StatusInternalServerError, "failed to accept file")
		}
		return
	}
	writeJSON(w, s.response(id, e), http.StatusAccepted)
}

func (s *Server) ApplySessionAction(w http.ResponseWriter, r *http.Request, id openapi_types.UUID) {
	e, ok := s.lookup(w, id)
	if !ok {
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxActionBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	action, err := session.DecodeAction(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := e.editor.Dispatch(action); err != nil {
		switch {
		case errors.Is(err, editor.ErrNoSource), errors.Is(err, editor.ErrBusy):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		}
		return
	}
	writeJSON(w, s.response(id, e), http.StatusOK)
}

func (s *Server) SaveSession(w http.ResponseWriter, r *http.Request, id openapi_types.UUID) {
	e, ok := s.lookup(w, id)
	if !ok {
		return
	}
	if err := e.editor.Save(r.Context()); err != nil {
		switch {
		case errors.Is(err, editor.ErrBusy), errors.Is(err, editor.ErrNoSource):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, s.response(id, e), http.StatusAccepted)
}

func (s *Server) RemoveSessionImage(w http.ResponseWriter, r *http.Request, id openapi_types.UUID) {
	e, ok := s.lookup(w, id)
	if !ok {
		return
	}
	e.editor.Remove()
	writeJSON(w, s.response(id, e), http.StatusOK)
}

func (s *Server) ListUploads(w http.ResponseWriter, r *http.Request, params ListUploadsParams) {
	if s.db == nil {
		writeError(w, http.StatusNotFound, "upload history is not configured")
		return
	}
	label, limit := "", 0
	if params.Label != nil {
		label = *params.Label
	}
	if params.Limit != nil {
		limit = *params.Limit
	}
	uploads, err := uploaddb.ListUploads(r.Context(), s.db, label, limit)
	if err != nil {
		s.logger.Error("failed to list uploads", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to list uploads")
		return
	}
	out := UploadList{Uploads: make([]UploadRecord, 0, len(uploads))}
	for _, u := range uploads {
		out.Uploads = append(out.Uploads, toRecord(u))
	}
	writeJSON(w, out, http.StatusOK)
}

func (s *Server) GetUpload(w http.ResponseWriter, r *http.Request, id openapi_types.UUID) {
	if s.db == nil {
		writeError(w, http.StatusNotFound, "upload history is not configured")
		return
	}
	u, ok, err := uploaddb.GetUpload(r.Context(), s.db, id.String())
	if err != nil {
		s.logger.Error("failed to get upload", "upload_id", id.String(), "err", err)
		writeError(w, http.StatusInternalServerError, "failed to get upload")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "upload not found")
		return
	}
	writeJSON(w, toRecord(u), http.StatusOK)
}

// Sweep closes sessions untouched for longer than ttl and returns how many
// were removed. Sessions with a save in flight are kept.
func (s *Server) Sweep(now time.Time, ttl time.Duration) int {
	s.mu.Lock()
	var idle []*entry
	for id, e := range s.sessions {
		if now.Sub(e.lastUsed) < ttl || e.editor.Snapshot().State.Phase.Busy() {
			continue
		}
		idle = append(idle, e)
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	for _, e := range idle {
		e.editor.Close()
	}
	if len(idle) > 0 {
		s.logger.Info("idle sessions closed", "count", len(idle), "ttl", ttl)
	}
	return len(idle)
}

// RunSweeper calls Sweep every interval until ctx is done.
func (s *Server) RunSweeper(ctx context.Context, ttl, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Sweep(now, ttl)
		}
	}
}

// Close shuts every session down and waits for their work to stop.
func (s *Server) Close() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[uuid.UUID]*entry)
	s.mu.Unlock()
	for _, e := range sessions {
		e.editor.Close()
	}
	for _, e := range sessions {
		e.editor.Wait()
	}
}

func (s *Server) lookup(w http.ResponseWriter, id uuid.UUID) (*entry, bool) {
	s.mu.Lock()
	e, ok := s.sessions[id]
	if ok {
		e.lastUsed = time.Now()
	}
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
	}
	return e, ok
}

func (s *Server) response(id uuid.UUID, e *entry) SessionResponse {
	notes := e.notes.Notifications()
	if notes == nil {
		notes = []editor.Notification{}
	}
	return SessionResponse{
		Id:              id,
		Snapshot:        e.editor.Snapshot(),
		CircularPreview: s.cfg.Features.CircularPreview,
		Notifications:   notes,
	}
}

// record stores and publishes a finished save. It runs on the editor's task
// goroutine, so it never blocks a request.
func (s *Server) record(sessionID uuid.UUID, o editor.Outcome) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	status, eventType := uploaddb.StatusSucceeded, events.TypeUploaded
	errText := ""
	if o.Err != nil {
		status, eventType = uploaddb.StatusFailed, events.TypeUploadFailed
		errText = o.Err.Error()
	}

	uploadID := ""
	if s.db != nil {
		stored, err := uploaddb.InsertUpload(ctx, s.db, uploaddb.Upload{
			SessionID: sessionID.String(),
			Label:     o.Label,
			Filename:  o.Filename,
			Status:    status,
			URL:       uploaddb.NullString(o.URL),
			MIMEType:  o.MIMEType,
			Bytes:     int64(o.Bytes),
			Width:     o.Width,
			Height:    o.Height,
			Failure:   uploaddb.NullString(o.Failure.String()),
			Error:     uploaddb.NullString(errText),
		})
		if err != nil {
			s.logger.Error("failed to record upload", "session_id", sessionID.String(), "err", err)
		} else {
			uploadID = stored.ID
		}
	}

	err := s.publisher.Publish(ctx, events.Event{
		Type:      eventType,
		UploadID:  uploadID,
		SessionID: sessionID.String(),
		Label:     o.Label,
		Filename:  o.Filename,
		URL:       o.URL,
		MIMEType:  o.MIMEType,
		Bytes:     o.Bytes,
		Width:     o.Width,
		Height:    o.Height,
		Failure:   o.Failure.String(),
		Error:     errText,
	})
	if err != nil {
		s.logger.Error("publish failed for upload", "session_id", sessionID.String(), "err", err)
	}
}

func toRecord(u uploaddb.Upload) UploadRecord {
	return UploadRecord{
		Id:        mustParseUUID(u.ID),
		SessionId: mustParseUUID(u.SessionID),
		Label:     u.Label,
		Filename:  u.Filename,
		Status:    u.Status,
		Url:       nullable(u.URL),
		MimeType:  u.MIMEType,
		Bytes:     u.Bytes,
		Width:     u.Width,
		Height:    u.Height,
		Failure:   nullable(u.Failure),
		Error:     nullable(u.Error),
		CreatedAt: u.CreatedAt,
	}
}

// lastNotice prefers the user-facing notification text for a rejected file.
func lastNotice(e *entry, err error) string {
	notes := e.notes.Notifications()
	if len(notes) == 0 {
		return err.Error()
	}
	n := notes[len(notes)-1]
	return n.Title + ": " + n.Description
}

func nullable(ns sql.NullString) *string {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return &ns.String
}

func mustParseUUID(id string) uuid.UUID {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil
	}
	return parsed
}

func writeJSON(w http.ResponseWriter, v any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, ErrorResponse{Message: message}, status)
}
