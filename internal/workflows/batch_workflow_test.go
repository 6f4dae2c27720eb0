package workflows

import (
	"context"
	"errors"
	"testing"

	"litground/internal/activities"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
)

func registerActivityName[T any](env *testsuite.TestWorkflowEnvironment, name string, fn T) {
	env.RegisterActivityWithOptions(fn, activity.RegisterOptions{Name: name})
}

func newEnv() *testsuite.TestWorkflowEnvironment {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(BatchIngestWorkflow)
	registerActivityName(env, "IngestPDFActivity", func(context.Context, activities.IngestPDFInput) (activities.IngestPDFOutput, error) {
		return activities.IngestPDFOutput{}, nil
	})
	registerActivityName(env, "RecordDocumentActivity", func(context.Context, activities.RecordDocumentInput) error { return nil })
	registerActivityName(env, "WriteBatchSummaryActivity", func(context.Context, activities.WriteBatchSummaryInput) error { return nil })
	return env
}

func TestBatchIngestWorkflowIsolatesFailures(t *testing.T) {
	env := newEnv()
	env.OnActivity("IngestPDFActivity", mock.Anything, activities.IngestPDFInput{RunID: "r1", Path: "/b/a.pdf", Name: "a.pdf"}).
		Return(activities.IngestPDFOutput{DocID: "pdf-a", Title: "A", Status: "ingested"}, nil)
	env.OnActivity("IngestPDFActivity", mock.Anything, activities.IngestPDFInput{RunID: "r1", Path: "/b/b.pdf", Name: "b.pdf"}).
		Return(activities.IngestPDFOutput{}, temporal.NewNonRetryableApplicationError("vector store down", "Upstream", errors.New("conn refused")))
	env.OnActivity("IngestPDFActivity", mock.Anything, activities.IngestPDFInput{RunID: "r1", Path: "/b/c.pdf", Name: "c.pdf", DOI: "10.1/c"}).
		Return(activities.IngestPDFOutput{DocID: "doi-c", Status: "duplicate", Error: "This document is already imported."}, nil)
	env.OnActivity("IngestPDFActivity", mock.Anything, activities.IngestPDFInput{RunID: "r1", Path: "/b/d.pdf", Name: "d.pdf"}).
		Return(activities.IngestPDFOutput{DocID: "pdf-d", Status: "ingested"}, nil)
	env.OnActivity("RecordDocumentActivity", mock.Anything, mock.Anything).Return(nil)
	env.OnActivity("WriteBatchSummaryActivity", mock.Anything, mock.Anything).Return(nil)

	env.ExecuteWorkflow(BatchIngestWorkflow, BatchIngestInput{
		RunID: "r1",
		Files: []BatchFile{
			{Path: "/b/a.pdf", Name: "a.pdf"},
			{Path: "/b/b.pdf", Name: "b.pdf"},
			{Path: "/b/c.pdf", Name: "c.pdf", DOI: "10.1/c"},
			{Path: "/b/d.pdf", Name: "d.pdf"},
		},
		MaxConcurrent: 2,
	})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out string
	require.NoError(t, env.GetWorkflowResult(&out))
	require.Equal(t, "completed", out)

	v, err := env.QueryWorkflow(QueryGetProgress)
	require.NoError(t, err)
	var p BatchProgress
	require.NoError(t, v.Get(&p))
	require.Equal(t, 4, p.Total)
	require.Equal(t, 4, p.Done)
	require.Equal(t, 2, p.Ingested)
	require.Equal(t, 1, p.Duplicates)
	require.Equal(t, 1, p.Failed)
	names := make([]string, 0, len(p.PerFile))
	for _, f := range p.PerFile {
		names = append(names, f.Name)
	}
	require.Equal(t, []string{"a.pdf", "b.pdf", "c.pdf", "d.pdf"}, names)
	require.Equal(t, "failed", p.PerFile[1].Status)
	require.Contains(t, p.PerFile[1].Error, "vector store down")
	env.AssertExpectations(t)
}

func TestBatchIngestWorkflowEmpty(t *testing.T) {
	env := newEnv()
	env.OnActivity("WriteBatchSummaryActivity", mock.Anything, mock.Anything).Return(nil)
	env.ExecuteWorkflow(BatchIngestWorkflow, BatchIngestInput{RunID: "r2"})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
}
