package activities

import "go.temporal.io/sdk/worker"

func Register(w worker.Worker, a *Activities) {
	w.RegisterActivity(a.IngestPDFActivity)
	w.RegisterActivity(a.RecordDocumentActivity)
	w.RegisterActivity(a.WriteBatchSummaryActivity)
}
