package api

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"litground/internal/activities"
	"litground/internal/ingest"
	"litground/internal/storage"
	"litground/internal/util"
	"litground/internal/workflows"

	"github.com/google/uuid"
	enumspb "go.temporal.io/api/enums/v1"
	tclient "go.temporal.io/sdk/client"
)

// handleBatch accepts many PDFs at once. The optional "doi" form values pair
// with the files by position. Inline mode ingests in the API process; temporal
// mode stages the files and starts BatchIngestWorkflow.
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("parse multipart: %w", err))
		return
	}
	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		if single, ok := firstSingleFile(r.MultipartForm.File); ok {
			files = append(files, single)
		}
	}
	if len(files) == 0 {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("no files provided"))
		return
	}
	dois := r.MultipartForm.Value["doi"]
	doiAt := func(i int) string {
		if i < len(dois) {
			return util.NormalizeDOI(dois[i])
		}
		return ""
	}
	runID := uuid.NewString()

	if strings.EqualFold(s.cfg.IngestMode, "temporal") && s.deps.Temporal != nil {
		dir := activities.BatchDir(s.cfg.DataInRoot, runID)
		if err := util.EnsureDir(dir); err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		in := workflows.BatchIngestInput{RunID: runID, MaxConcurrent: s.cfg.IngestParallelism}
		for i, fh := range files {
			name := filepath.Base(fh.Filename)
			_, path, err := saveUploadedFile(dir, stagedName(i, name), fh)
			if err != nil {
				writeErr(w, http.StatusInternalServerError, err)
				return
			}
			in.Files = append(in.Files, workflows.BatchFile{Path: path, Name: name, DOI: doiAt(i)})
		}
		we, err := s.deps.Temporal.ExecuteWorkflow(r.Context(), tclient.StartWorkflowOptions{
			ID:                                       batchWorkflowID(runID),
			TaskQueue:                                s.cfg.TemporalTaskQueue,
			WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
			WorkflowExecutionErrorWhenAlreadyStarted: true,
		}, workflows.BatchIngestWorkflow, in)
		if err != nil {
			writeErr(w, http.StatusConflict, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"run_id": runID, "workflow_id": we.GetID(), "total": len(files)})
		return
	}

	if s.deps.Batch == nil {
		writeErr(w, http.StatusInternalServerError, fmt.Errorf("batch ingestion is not configured"))
		return
	}
	uploads := make([]ingest.Upload, 0, len(files))
	for i, fh := range files {
		data, err := readUpload(fh)
		if err != nil {
			writeErr(w, http.StatusBadRequest, err)
			return
		}
		uploads = append(uploads, ingest.Upload{Name: filepath.Base(fh.Filename), Data: data, DOI: doiAt(i)})
	}
	s.trackRun(runID, len(uploads))
	go s.runInline(context.WithoutCancel(r.Context()), runID, uploads)
	writeJSON(w, http.StatusAccepted, map[string]any{"run_id": runID, "total": len(uploads)})
}

func (s *Server) runInline(ctx context.Context, runID string, uploads []ingest.Upload) {
	s.deps.Batch.IngestBatch(ctx, uploads, func(o ingest.Outcome) {
		st := workflows.FileStatus{Name: o.Name, Status: o.Status(), DocID: o.Document.ID, Title: o.Document.Title}
		if o.Err != nil {
			st.Error = o.Err.Error()
			if o.Status() == "duplicate" {
				st.Error = util.Hint(o.Err)
			}
		}
		s.mu.Lock()
		p := s.runs[runID]
		p.Done++
		switch st.Status {
		case "ingested":
			p.Ingested++
		case "duplicate":
			p.Duplicates++
		default:
			p.Failed++
		}
		p.PerFile = append(p.PerFile, st)
		s.mu.Unlock()

		if s.deps.Documents != nil {
			if err := s.deps.Documents.Upsert(ctx, ledgerEntry(runID, o, st)); err != nil {
				s.log.Warn("record ingested document failed", "run_id", runID, "file", o.Name, "error", err)
			}
		}
	})
	s.finishRun(runID)
	s.log.Info("inline batch finished", "run_id", runID, "files", len(uploads))
}

// finishRun keeps the progress of the most recent finished runs only; older
// ones are still answered from the document ledger when one is configured.
func (s *Server) finishRun(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = append(s.finished, runID)
	for len(s.finished) > s.maxFinished {
		delete(s.runs, s.finished[0])
		s.finished = s.finished[1:]
	}
}

func ledgerEntry(runID string, o ingest.Outcome, st workflows.FileStatus) storage.IngestedDocument {
	docID := st.DocID
	if docID == "" {
		docID = "file-" + util.ShortHash([]byte(runID+"/"+o.Name), 24)
	}
	d := storage.IngestedDocument{
		DocID:      docID,
		BatchID:    runID,
		Filename:   o.Name,
		Title:      o.Document.Title,
		Authors:    o.Document.Authors,
		DOI:        o.Document.DOI,
		Pages:      o.Document.Pages,
		Status:     st.Status,
		FailReason: st.Error,
	}
	if o.Document.Year > 0 {
		y := o.Document.Year
		d.Year = &y
	}
	return d
}

func (s *Server) trackRun(runID string, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[runID] = &workflows.BatchProgress{RunID: runID, Total: total, PerFile: []workflows.FileStatus{}}
}

// handleBatchProgress serves GET /ingest/{runID}/progress.
func (s *Server) handleBatchProgress(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/ingest/"), "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "progress" {
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
		return
	}
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	runID := parts[0]

	s.mu.Lock()
	p, ok := s.runs[runID]
	var snap workflows.BatchProgress
	if ok {
		snap = *p
		snap.PerFile = append([]workflows.FileStatus(nil), p.PerFile...)
	}
	s.mu.Unlock()
	if ok {
		writeJSON(w, http.StatusOK, snap)
		return
	}

	if s.deps.Temporal != nil {
		resp, err := s.deps.Temporal.QueryWorkflow(r.Context(), batchWorkflowID(runID), "", workflows.QueryGetProgress)
		if err == nil {
			var prog workflows.BatchProgress
			if err := resp.Get(&prog); err != nil {
				writeErr(w, http.StatusInternalServerError, err)
				return
			}
			writeJSON(w, http.StatusOK, prog)
			return
		}
		s.log.Debug("progress query unavailable, using document ledger", "run_id", runID, "error", err)
	}

	if s.deps.Documents == nil {
		writeErr(w, http.StatusNotFound, fmt.Errorf("run %s: %w", runID, util.ErrNotFound))
		return
	}
	docs, err := s.deps.Documents.ListByBatch(r.Context(), runID)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if len(docs) == 0 {
		writeErr(w, http.StatusNotFound, fmt.Errorf("run %s: %w", runID, util.ErrNotFound))
		return
	}
	writeJSON(w, http.StatusOK, progressFromLedger(runID, docs))
}

func progressFromLedger(runID string, docs []storage.IngestedDocument) workflows.BatchProgress {
	p := workflows.BatchProgress{RunID: runID, Total: len(docs), Done: len(docs)}
	for _, d := range docs {
		switch d.Status {
		case "ingested":
			p.Ingested++
		case "duplicate":
			p.Duplicates++
		default:
			p.Failed++
		}
		p.PerFile = append(p.PerFile, workflows.FileStatus{Name: d.Filename, Status: d.Status, DocID: d.DocID, Title: d.Title, Error: d.FailReason})
	}
	return p
}

func stagedName(i int, name string) string {
	return fmt.Sprintf("%03d-%s", i, filepath.Base(name))
}

func batchWorkflowID(runID string) string {
	return "batch-ingest-" + runID
}
