package activities

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"litground/internal/models"
	"litground/internal/storage"
	"litground/internal/util"

	"github.com/stretchr/testify/require"
)

type stubIngester struct{ err error }

func (s stubIngester) Ingest(_ context.Context, data []byte, doi string) (models.Document, error) {
	if s.err != nil {
		return models.Document{}, s.err
	}
	return models.Document{ID: "x", Title: "T", Year: 2020, Pages: 3}, nil
}

type recorder struct{ got []storage.IngestedDocument }

func (r *recorder) Upsert(_ context.Context, d storage.IngestedDocument) error {
	r.got = append(r.got, d)
	return nil
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "a.pdf")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestIngestPDFActivityStatuses(t *testing.T) {
	path := writeFile(t, "pdf bytes")
	ctx := context.Background()

	out, err := New(stubIngester{}, nil, "", nil).IngestPDFActivity(ctx, IngestPDFInput{Path: path, Name: "a.pdf", DOI: "https://doi.org/10.1/A"})
	require.NoError(t, err)
	require.Equal(t, "ingested", out.Status)
	require.Equal(t, models.DocumentIDFromDOI("10.1/a"), out.DocID)
	require.Equal(t, 3, out.Pages)

	out, err = New(stubIngester{err: fmt.Errorf("doc: %w", util.ErrAlreadyImported)}, nil, "", nil).IngestPDFActivity(ctx, IngestPDFInput{Path: path, Name: "a.pdf"})
	require.NoError(t, err)
	require.Equal(t, "duplicate", out.Status)
	require.Equal(t, models.DocumentIDFromContent([]byte("pdf bytes")), out.DocID)

	out, err = New(stubIngester{err: util.ErrNoExtractableText}, nil, "", nil).IngestPDFActivity(ctx, IngestPDFInput{Path: path, Name: "a.pdf"})
	require.NoError(t, err)
	require.Equal(t, "failed", out.Status)

	_, err = New(stubIngester{err: util.Upstream("store pdf chunks", errors.New("conn refused"))}, nil, "", nil).IngestPDFActivity(ctx, IngestPDFInput{Path: path, Name: "a.pdf"})
	require.ErrorIs(t, err, util.ErrUpstream)

	_, err = New(stubIngester{}, nil, "", nil).IngestPDFActivity(ctx, IngestPDFInput{Path: filepath.Join(t.TempDir(), "missing.pdf"), Name: "missing.pdf"})
	require.Error(t, err)
}

func TestRecordDocumentActivity(t *testing.T) {
	rec := &recorder{}
	a := New(stubIngester{}, rec, "", nil)
	require.NoError(t, a.RecordDocumentActivity(context.Background(), RecordDocumentInput{
		RunID: "run1", Name: "a.pdf", Result: IngestPDFOutput{DocID: "doi-1", Year: 2019, Status: "ingested"},
	}))
	require.NoError(t, a.RecordDocumentActivity(context.Background(), RecordDocumentInput{
		RunID: "run1", Name: "b.pdf", Result: IngestPDFOutput{Status: "failed", Error: "boom"},
	}))
	require.Len(t, rec.got, 2)
	require.Equal(t, 2019, *rec.got[0].Year)
	require.Equal(t, "run1", rec.got[0].BatchID)
	require.Contains(t, rec.got[1].DocID, "file-")
	require.Nil(t, rec.got[1].Year)
}

func TestWriteBatchSummaryActivity(t *testing.T) {
	root := t.TempDir()
	a := New(stubIngester{}, nil, root, nil)
	require.NoError(t, a.WriteBatchSummaryActivity(context.Background(), WriteBatchSummaryInput{RunID: "run1", Summary: map[string]any{"total": 2}}))

	b, err := os.ReadFile(filepath.Join(root, "batches", "run1", "summary.json"))
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(b, &got))
	require.EqualValues(t, 2, got["total"])
}
