package workflows

type BatchFile struct {
	Path string `json:"path"`
	Name string `json:"name"`
	DOI  string `json:"doi,omitempty"`
}

type BatchIngestInput struct {
	RunID         string      `json:"run_id"`
	Files         []BatchFile `json:"files"`
	MaxConcurrent int         `json:"max_concurrent"`
}

type FileStatus struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	DocID  string `json:"doc_id,omitempty"`
	Title  string `json:"title,omitempty"`
	Error  string `json:"error,omitempty"`
}

// BatchProgress is served by the GetProgress query. PerFile follows upload order.
type BatchProgress struct {
	RunID      string       `json:"run_id"`
	Total      int          `json:"total"`
	Done       int          `json:"done"`
	Ingested   int          `json:"ingested"`
	Duplicates int          `json:"duplicates"`
	Failed     int          `json:"failed"`
	PerFile    []FileStatus `json:"per_file"`
}
