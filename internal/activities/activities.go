package activities

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"litground/internal/ingest"
	"litground/internal/logger"
	"litground/internal/models"
	"litground/internal/storage"
	"litground/internal/util"

	"go.temporal.io/sdk/temporal"
)

type Ingester interface {
	Ingest(ctx context.Context, data []byte, doiHint string) (models.Document, error)
}

type DocumentRecorder interface {
	Upsert(ctx context.Context, d storage.IngestedDocument) error
}

type Activities struct {
	ingester Ingester
	docs     DocumentRecorder
	dataRoot string
	log      *logger.Logger
}

func New(ingester Ingester, docs DocumentRecorder, dataRoot string, log *logger.Logger) *Activities {
	if log == nil {
		log = logger.Nop()
	}
	return &Activities{ingester: ingester, docs: docs, dataRoot: dataRoot, log: log}
}

// IngestPDFActivity imports one uploaded file. Only upstream failures are
// returned as errors so Temporal retries them; bad or duplicate files come
// back as a terminal status.
func (a *Activities) IngestPDFActivity(ctx context.Context, in IngestPDFInput) (IngestPDFOutput, error) {
	data, err := os.ReadFile(in.Path)
	if err != nil {
		return IngestPDFOutput{}, temporal.NewNonRetryableApplicationError(fmt.Sprintf("read %s: %v", in.Name, err), "ReadFailed", err)
	}
	doi := util.NormalizeDOI(in.DOI)
	out := IngestPDFOutput{DocID: models.DocumentIDFromContent(data), DOI: doi}
	if doi != "" {
		out.DocID = models.DocumentIDFromDOI(doi)
	}

	doc, err := a.ingester.Ingest(ctx, data, doi)
	switch kind := util.KindOf(err); {
	case err == nil:
		out.Title, out.Authors, out.Year, out.Pages = doc.Title, doc.Authors, doc.Year, doc.Pages
		out.Status = "ingested"
	case kind == util.KindDuplicate:
		out.Status = "duplicate"
		out.Error = util.Hint(err)
	case kind == util.KindUpstream || kind == util.KindInternal:
		a.log.Warn("pdf ingest failed, will retry", "run_id", in.RunID, "file", in.Name, "error", err)
		return IngestPDFOutput{}, err
	default:
		out.Status = "failed"
		out.Error = err.Error()
	}
	a.log.Info("pdf processed", "run_id", in.RunID, "file", in.Name, "doc_id", out.DocID, "status", out.Status)
	return out, nil
}

func (a *Activities) RecordDocumentActivity(ctx context.Context, in RecordDocumentInput) error {
	if a.docs == nil {
		return nil
	}
	r := in.Result
	docID := r.DocID
	if docID == "" {
		docID = "file-" + util.ShortHash([]byte(in.RunID+"/"+in.Name), 24)
	}
	rec := storage.IngestedDocument{
		DocID:      docID,
		BatchID:    in.RunID,
		Filename:   in.Name,
		Title:      r.Title,
		Authors:    r.Authors,
		DOI:        r.DOI,
		Pages:      r.Pages,
		Status:     r.Status,
		FailReason: r.Error,
	}
	if r.Year > 0 {
		y := r.Year
		rec.Year = &y
	}
	return a.docs.Upsert(ctx, rec)
}

func (a *Activities) WriteBatchSummaryActivity(ctx context.Context, in WriteBatchSummaryInput) error {
	_ = ctx
	return util.WriteJSONAtomic(filepath.Join(BatchDir(a.dataRoot, in.RunID), "summary.json"), in.Summary)
}

// BatchDir is where the files and summary of one batch run live.
func BatchDir(root, runID string) string {
	return util.SafeJoin(filepath.Join(root, "batches"), runID)
}

var _ Ingester = (*ingest.Ingester)(nil)
