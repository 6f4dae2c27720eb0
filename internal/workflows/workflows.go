package workflows

import (
	"time"

	"litground/internal/activities"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const QueryGetProgress = "GetProgress"

// BatchIngestWorkflow imports uploaded PDFs. A failing file is recorded and the
// batch moves on; results are reported in upload order.
func BatchIngestWorkflow(ctx workflow.Context, input BatchIngestInput) (string, error) {
	progress := BatchProgress{
		RunID:   input.RunID,
		Total:   len(input.Files),
		PerFile: make([]FileStatus, len(input.Files)),
	}
	for i, f := range input.Files {
		progress.PerFile[i] = FileStatus{Name: f.Name, Status: "pending"}
	}
	if err := workflow.SetQueryHandler(ctx, QueryGetProgress, func() (BatchProgress, error) {
		return progress, nil
	}); err != nil {
		return "", err
	}

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    20 * time.Second,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)
	maxConcurrent := input.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}

	for i := 0; i < len(input.Files); i += maxConcurrent {
		end := i + maxConcurrent
		if end > len(input.Files) {
			end = len(input.Files)
		}
		futures := make([]workflow.Future, 0, end-i)
		for j, f := range input.Files[i:end] {
			progress.PerFile[i+j].Status = "processing"
			futures = append(futures, workflow.ExecuteActivity(ctx, "IngestPDFActivity", activities.IngestPDFInput{
				RunID: input.RunID,
				Path:  f.Path,
				Name:  f.Name,
				DOI:   f.DOI,
			}))
		}
		for j, fut := range futures {
			idx := i + j
			var out activities.IngestPDFOutput
			if err := fut.Get(ctx, &out); err != nil {
				out = activities.IngestPDFOutput{Status: "failed", Error: err.Error()}
			}
			progress.PerFile[idx] = FileStatus{
				Name:   input.Files[idx].Name,
				Status: out.Status,
				DocID:  out.DocID,
				Title:  out.Title,
				Error:  out.Error,
			}
			progress.Done++
			switch out.Status {
			case "ingested":
				progress.Ingested++
			case "duplicate":
				progress.Duplicates++
			default:
				progress.Failed++
			}
			_ = workflow.ExecuteActivity(ctx, "RecordDocumentActivity", activities.RecordDocumentInput{
				RunID:  input.RunID,
				Name:   input.Files[idx].Name,
				Result: out,
			}).Get(ctx, nil)
		}
	}

	_ = workflow.ExecuteActivity(ctx, "WriteBatchSummaryActivity", activities.WriteBatchSummaryInput{
		RunID: input.RunID,
		Summary: map[string]any{
			"run_id":       input.RunID,
			"total":        progress.Total,
			"ingested":     progress.Ingested,
			"duplicates":   progress.Duplicates,
			"failed":       progress.Failed,
			"per_file":     progress.PerFile,
			"generated_at": workflow.Now(ctx),
		},
	}).Get(ctx, nil)

	return "completed", nil
}
