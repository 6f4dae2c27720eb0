package activities

type IngestPDFInput struct {
	RunID string `json:"run_id"`
	Path  string `json:"path"`
	Name  string `json:"name"`
	DOI   string `json:"doi,omitempty"`
}

// IngestPDFOutput is returned for every terminal outcome; Status is
// "ingested", "duplicate" or "failed".
type IngestPDFOutput struct {
	DocID   string `json:"doc_id"`
	Title   string `json:"title,omitempty"`
	Authors string `json:"authors,omitempty"`
	Year    int    `json:"year,omitempty"`
	DOI     string `json:"doi,omitempty"`
	Pages   int    `json:"pages,omitempty"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

type RecordDocumentInput struct {
	RunID  string          `json:"run_id"`
	Name   string          `json:"name"`
	Result IngestPDFOutput `json:"result"`
}

type WriteBatchSummaryInput struct {
	RunID   string         `json:"run_id"`
	Summary map[string]any `json:"summary"`
}
