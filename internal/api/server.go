package api

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"litground/internal/config"
	"litground/internal/ingest"
	"litground/internal/logger"
	"litground/internal/models"
	"litground/internal/session"
	"litground/internal/storage"
	"litground/internal/util"
	"litground/internal/workflows"

	tclient "go.temporal.io/sdk/client"
)

const (
	maxUploadBytes         = 128 << 20
	defaultMaxFinishedRuns = 64
)

// BatchIngester is satisfied by *ingest.Ingester.
type BatchIngester interface {
	IngestBatch(ctx context.Context, uploads []ingest.Upload, onProgress func(ingest.Outcome)) []ingest.Outcome
}

type DocumentLedger interface {
	Upsert(ctx context.Context, d storage.IngestedDocument) error
	ListByBatch(ctx context.Context, batchID string) ([]storage.IngestedDocument, error)
}

type Deps struct {
	Sessions *session.Manager
	Batch    BatchIngester
	// Documents and Temporal are optional.
	Documents DocumentLedger
	Temporal  tclient.Client
	Venues    []string
	Log       *logger.Logger
}

type Server struct {
	cfg  config.Config
	deps Deps
	log  *logger.Logger

	mu   sync.Mutex
	runs map[string]*workflows.BatchProgress
	// finished holds completed inline run ids, oldest first.
	finished    []string
	maxFinished int
}

func NewServer(cfg config.Config, deps Deps) *Server {
	log := deps.Log
	if log == nil {
		log = logger.Nop()
	}
	return &Server{cfg: cfg, deps: deps, log: log, runs: map[string]*workflows.BatchProgress{}, maxFinished: defaultMaxFinishedRuns}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/journals", s.handleJournals)
	mux.HandleFunc("/chats", s.handleChats)
	mux.HandleFunc("/chats/", s.handleChatScoped)
	mux.HandleFunc("/ingest/batch", s.handleBatch)
	mux.HandleFunc("/ingest/", s.handleBatchProgress)
	return withCORS(mux)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleJournals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	venues := s.deps.Venues
	if venues == nil {
		venues = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"journals": venues})
}

func (s *Server) handleChats(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		chats, err := s.deps.Sessions.ListChats(r.Context())
		if err != nil {
			writeFailure(w, err)
			return
		}
		type summary struct {
			ID          string `json:"id"`
			ChatName    string `json:"chat_name"`
			LastUpdated string `json:"last_updated"`
		}
		out := make([]summary, 0, len(chats))
		for _, c := range chats {
			out = append(out, summary{ID: c.ID, ChatName: c.ChatName, LastUpdated: c.LastUpdated.Format("2006-01-02T15:04:05Z07:00")})
		}
		writeJSON(w, http.StatusOK, map[string]any{"chats": out})
	case http.MethodPost:
		var req struct {
			Name string `json:"name"`
		}
		if err := decodeOptional(r, &req); err != nil {
			writeErr(w, http.StatusBadRequest, err)
			return
		}
		rec, err := s.deps.Sessions.CreateChat(r.Context(), req.Name)
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, rec)
	default:
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
	}
}

func (s *Server) handleChatScoped(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/chats/"), "/"), "/")
	if len(parts) < 1 || parts[0] == "" {
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
		return
	}
	chatID := parts[0]
	route := strings.Join(parts[1:], "/")

	switch {
	case route == "":
		s.handleChat(w, r, chatID)
	case route == "messages" && r.Method == http.MethodDelete:
		s.reply(w, s.deps.Sessions.ClearMessages(r.Context(), chatID), map[string]any{"ok": true})
	case route == "search" && r.Method == http.MethodPost:
		s.handleSearch(w, r, chatID)
	case route == "context" && r.Method == http.MethodGet:
		v, err := s.deps.Sessions.Context(r.Context(), chatID)
		s.reply(w, err, v)
	case route == "context" && r.Method == http.MethodDelete:
		s.reply(w, s.deps.Sessions.ClearContext(r.Context(), chatID), map[string]any{"ok": true})
	case (route == "context/pin" || route == "context/unpin") && r.Method == http.MethodPost:
		s.handlePin(w, r, chatID, route == "context/pin")
	case route == "pdfs" && r.Method == http.MethodPost:
		s.handleUpload(w, r, chatID)
	case len(parts) == 3 && parts[1] == "pdfs" && r.Method == http.MethodDelete:
		s.reply(w, s.deps.Sessions.RemovePDF(r.Context(), chatID, parts[2]), map[string]any{"ok": true})
	case len(parts) == 4 && parts[1] == "citations" && parts[3] == "regenerate" && r.Method == http.MethodPost:
		c, err := s.deps.Sessions.RegenerateCitation(r.Context(), chatID, parts[2])
		if err != nil && c.IsZero() {
			writeFailure(w, err)
			return
		}
		body := map[string]any{"citation": c}
		if err != nil {
			body["warning"] = util.Hint(err)
		}
		writeJSON(w, http.StatusOK, body)
	case route == "ask" && r.Method == http.MethodPost:
		s.handleAsk(w, r, chatID)
	case route == "messages", route == "search", route == "context", route == "context/pin",
		route == "context/unpin", route == "pdfs", route == "ask":
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
	default:
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
	}
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request, chatID string) {
	switch r.Method {
	case http.MethodGet:
		rec, err := s.deps.Sessions.Chat(r.Context(), chatID)
		s.reply(w, err, rec)
	case http.MethodPatch:
		var req struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
			return
		}
		s.reply(w, s.deps.Sessions.RenameChat(r.Context(), chatID, req.Name), map[string]any{"ok": true})
	case http.MethodDelete:
		s.reply(w, s.deps.Sessions.DeleteChat(r.Context(), chatID), map[string]any{"ok": true})
	default:
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
	}
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request, chatID string) {
	var q models.Query
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}
	res, err := s.deps.Sessions.Search(r.Context(), chatID, q)
	if err != nil {
		writeFailure(w, err)
		return
	}
	failures := make([]map[string]string, 0, len(res.Failures))
	for _, f := range res.Failures {
		failures = append(failures, map[string]string{"doi": f.DOI, "message": f.Message})
	}
	docs := res.Documents
	if docs == nil {
		docs = []models.Document{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs, "failures": failures})
}

func (s *Server) handlePin(w http.ResponseWriter, r *http.Request, chatID string, pin bool) {
	var req struct {
		Document *models.Document `json:"document"`
		Index    *int             `json:"index"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}
	var (
		changed bool
		err     error
	)
	switch {
	case req.Document != nil && pin:
		changed, err = s.deps.Sessions.Pin(r.Context(), chatID, *req.Document)
	case req.Document != nil:
		changed, err = s.deps.Sessions.Unpin(r.Context(), chatID, *req.Document)
	case req.Index != nil && !pin:
		changed, err = s.deps.Sessions.UnpinAt(r.Context(), chatID, *req.Index)
	default:
		writeErr(w, http.StatusBadRequest, fmt.Errorf("document is required"))
		return
	}
	if err != nil {
		writeFailure(w, err)
		return
	}
	v, err := s.deps.Sessions.Context(r.Context(), chatID)
	s.reply(w, err, map[string]any{"changed": changed, "context": v})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, chatID string) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("parse multipart: %w", err))
		return
	}
	fh, ok := firstSingleFile(r.MultipartForm.File)
	if !ok {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("no files provided"))
		return
	}
	data, err := readUpload(fh)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	pin := true
	if v := r.FormValue("pin"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("%w: pin must be true or false, got %q", util.ErrInvalidInput, v))
			return
		}
		pin = b
	}
	doc, err := s.deps.Sessions.UploadPDF(r.Context(), chatID, data, r.FormValue("doi"), pin)
	if err != nil && doc.ID != "" {
		apiErr := toAPIError(http.StatusConflict, err)
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":    map[string]any{"code": apiErr.Code, "message": apiErr.Message},
			"document": doc,
			"filename": filepath.Base(fh.Filename),
		})
		return
	}
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"document": doc, "filename": filepath.Base(fh.Filename)})
}

// handleAsk streams the answer as server-sent events. Failures before the
// first delta are plain JSON errors; later ones arrive as an error event.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request, chatID string) {
	var req session.AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}
	sse := newEventStream(w)
	answer, err := s.deps.Sessions.Ask(r.Context(), chatID, req, func(delta string) error {
		return sse.send("delta", map[string]string{"text": delta})
	})
	if err != nil {
		if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
			s.log.Info("ask cancelled by client", "chat_id", chatID)
			return
		}
		if !sse.started {
			writeFailure(w, err)
			return
		}
		apiErr := toAPIError(statusFor(err), err)
		_ = sse.send("error", map[string]string{"code": apiErr.Code, "message": apiErr.Message})
		return
	}
	_ = sse.send("done", map[string]string{"answer": answer})
}

type eventStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func newEventStream(w http.ResponseWriter) *eventStream {
	f, _ := w.(http.Flusher)
	return &eventStream{w: w, flusher: f}
}

func (e *eventStream) send(event string, v any) error {
	if !e.started {
		h := e.w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		e.w.WriteHeader(http.StatusOK)
		e.started = true
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(e.w, "event: %s\ndata: %s\n\n", event, b); err != nil {
		return err
	}
	if e.flusher != nil {
		e.flusher.Flush()
	}
	return nil
}

func (s *Server) reply(w http.ResponseWriter, err error, v any) {
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func decodeOptional(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid json: %w", err)
	}
	return nil
}

func readUpload(fh *multipart.FileHeader) ([]byte, error) {
	src, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()
	data, err := io.ReadAll(io.LimitReader(src, maxUploadBytes))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	return data, nil
}

// saveUploadedFile moves an upload into dstDir as stagedName and returns its
// content hash. Callers pick stagedName so that equal client filenames never collide.
func saveUploadedFile(dstDir, stagedName string, fh *multipart.FileHeader) (sum, path string, err error) {
	src, err := fh.Open()
	if err != nil {
		return "", "", fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(dstDir, "upload-*.pdf")
	if err != nil {
		return "", "", fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		_ = tmp.Close()
	}()

	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tmp, h), src); err != nil {
		return "", "", fmt.Errorf("write upload: %w", err)
	}

	sum = fmt.Sprintf("%x", h.Sum(nil))
	finalPath := util.SafeJoin(dstDir, stagedName)
	if err := tmp.Close(); err != nil {
		return "", "", err
	}
	if err := os.Rename(tmp.Name(), finalPath); err != nil {
		return "", "", fmt.Errorf("atomic move upload: %w", err)
	}
	return sum, finalPath, nil
}

func firstSingleFile(m map[string][]*multipart.FileHeader) (*multipart.FileHeader, bool) {
	if v := m["file"]; len(v) > 0 {
		return v[0], true
	}
	for _, v := range m {
		if len(v) > 0 {
			return v[0], true
		}
	}
	return nil, false
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, err error) {
	apiErr := toAPIError(code, err)
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		},
	})
}

func writeFailure(w http.ResponseWriter, err error) {
	writeErr(w, statusFor(err), err)
}

func statusFor(err error) int {
	switch util.KindOf(err) {
	case util.KindUserInput:
		return http.StatusBadRequest
	case util.KindDuplicate:
		return http.StatusConflict
	case util.KindParse:
		return http.StatusUnprocessableEntity
	case util.KindUpstream:
		return http.StatusBadGateway
	case util.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

type apiError struct {
	Code    string
	Message string
}

func toAPIError(status int, err error) apiError {
	msg := "Request failed."
	code := "LG-API-4000"
	raw := ""
	if err != nil {
		raw = strings.ToLower(err.Error())
	}

	switch {
	case status == http.StatusBadGateway:
		return apiError{Code: "LG-API-5020", Message: util.Hint(err)}
	case status >= 500:
		switch {
		case strings.Contains(raw, "relation") && strings.Contains(raw, "does not exist"):
			return apiError{
				Code:    "LG-DB-5001",
				Message: "Database schema is not initialized. Restart the service to create it.",
			}
		case strings.Contains(raw, "connect"), strings.Contains(raw, "dial tcp"), strings.Contains(raw, "connection refused"):
			return apiError{
				Code:    "LG-DB-5002",
				Message: "Database connection is unavailable. Check local services and retry.",
			}
		default:
			return apiError{
				Code:    "LG-API-5000",
				Message: "Internal server error. Please retry or check service logs.",
			}
		}
	case status == http.StatusBadRequest:
		code = "LG-API-4001"
		msg = "Invalid request. Check inputs and retry."
	case status == http.StatusNotFound:
		code = "LG-API-4004"
		msg = "Requested resource was not found."
	case status == http.StatusConflict:
		code = "LG-API-4009"
		msg = "Operation conflicts with current state. Retry after checking status."
	case status == http.StatusMethodNotAllowed:
		code = "LG-API-4005"
		msg = "This endpoint does not support the requested method."
	case status == http.StatusUnprocessableEntity:
		code = "LG-API-4022"
		msg = "A response could not be understood. Try again."
	}

	// For 4xx, keep user-safe validation context only.
	if status >= 400 && status < 500 && err != nil {
		switch {
		case util.KindOf(err) != util.KindInternal:
			msg = util.Hint(err)
		case strings.Contains(raw, "no files provided"):
			msg = "No PDF files were provided."
		case strings.Contains(raw, "document is required"):
			msg = "A document or context index is required."
		case strings.Contains(raw, "invalid json"):
			msg = "Malformed JSON request body."
		}
	}

	return apiError{Code: code, Message: msg}
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
