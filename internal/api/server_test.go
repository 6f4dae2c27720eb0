package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"litground/internal/config"
	"litground/internal/ingest"
	"litground/internal/models"
	"litground/internal/providers"
	"litground/internal/search"
	"litground/internal/session"
	"litground/internal/util"
	"litground/internal/vector"
	"litground/internal/workflows"

	"github.com/stretchr/testify/require"
)

// textExtractor treats the upload body as a single page; "broken" is unreadable.
type textExtractor struct{}

func (textExtractor) ExtractPages(data []byte) ([]string, error) {
	if string(data) == "broken" {
		return nil, errors.New("no xref table")
	}
	return []string{string(data)}, nil
}

type fixedCitations struct{}

func (fixedCitations) Resolve(_ context.Context, doc models.Document) (models.Citation, error) {
	return models.Citation{Full: "Doe, J. (2020). " + doc.Title + ".", Short: "(Doe, 2020)"}, nil
}

func (f fixedCitations) Regenerate(ctx context.Context, doc models.Document) (models.Citation, error) {
	return f.Resolve(ctx, doc)
}

func (fixedCitations) Extract(_ context.Context, _ string) (models.Citation, error) {
	return models.Citation{Full: "Doe, J. (2020). Uploaded.", Short: "(Doe, 2020)"}, nil
}

func (fixedCitations) Remember(_ context.Context, _ string, _ models.Citation) error {
	return nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := config.Config{
		LLMProviders:       "mock",
		EmbedProviders:     "mock",
		CompletionProvider: "mock",
		EmbedDim:           16,
		IngestMode:         "inline",
	}
	pm, err := providers.NewManager(cfg)
	require.NoError(t, err)
	ing := ingest.New(vector.NewMemoryStore(pm), textExtractor{}, fixedCitations{}, ingest.Options{ChunkSize: 400, ChunkOverlap: 50, Parallelism: 1}, nil)
	sessions := session.NewManager(session.Deps{
		Search:    search.NewEngine(vector.NewMemoryStore(pm), nil, nil),
		Ingest:    ing,
		Citations: fixedCitations{},
		Completer: pm.Completer(),
	}, session.Options{})
	srv := NewServer(cfg, Deps{Sessions: sessions, Batch: ing, Venues: []string{"The Accounting Review"}})
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, rdr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func createChat(t *testing.T, base string) string {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, base+"/chats", map[string]string{"name": "Audit quality"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id, _ := body["id"].(string)
	require.NotEmpty(t, id)
	return id
}

func multipartBody(t *testing.T, field string, files map[string]string, order []string, values map[string][]string) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	for _, name := range order {
		fw, err := mw.CreateFormFile(field, name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(files[name]))
		require.NoError(t, err)
	}
	for k, vs := range values {
		for _, v := range vs {
			require.NoError(t, mw.WriteField(k, v))
		}
	}
	require.NoError(t, mw.Close())
	return buf, mw.FormDataContentType()
}

func paperText(title string) string {
	return title + "\n" + strings.Repeat("findings on audit committees and disclosure ", 12)
}

func TestChatLifecycle(t *testing.T) {
	ts := newTestServer(t)
	id := createChat(t, ts.URL)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/chats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body["chats"], 1)

	resp, _ = doJSON(t, http.MethodPatch, ts.URL+"/chats/"+id, map[string]string{"name": "Renamed"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, body = doJSON(t, http.MethodGet, ts.URL+"/chats/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "Renamed", body["chat_name"])

	resp, _ = doJSON(t, http.MethodDelete, ts.URL+"/chats/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, body = doJSON(t, http.MethodGet, ts.URL+"/chats/"+id, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "LG-API-4004", body["error"].(map[string]any)["code"])
}

func TestJournalsAndCORS(t *testing.T) {
	ts := newTestServer(t)
	resp, body := doJSON(t, http.MethodGet, ts.URL+"/journals", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, []any{"The Accounting Review"}, body["journals"])

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/chats", nil)
	require.NoError(t, err)
	r, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	r.Body.Close()
	require.Equal(t, http.StatusNoContent, r.StatusCode)
	require.Equal(t, "*", r.Header.Get("Access-Control-Allow-Origin"))
}

func TestPinUnpinAndContext(t *testing.T) {
	ts := newTestServer(t)
	id := createChat(t, ts.URL)
	doc := models.Document{ID: "abs-1", Title: "Audit Fees", Year: 2019, Text: strings.Repeat("fees ", 20), Source: models.SourceCorpusAbstract}

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/chats/"+id+"/context/pin", map[string]any{"document": doc})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["changed"])
	resp, body = doJSON(t, http.MethodPost, ts.URL+"/chats/"+id+"/context/pin", map[string]any{"document": doc})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, false, body["changed"])

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/chats/"+id+"/context", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, []any{"Audit Fees (2019)"}, body["transcript"])

	resp, body = doJSON(t, http.MethodPost, ts.URL+"/chats/"+id+"/context/unpin", map[string]any{"index": 0})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["changed"])

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/chats/"+id+"/context/pin", map[string]any{})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAskStreamsEvents(t *testing.T) {
	ts := newTestServer(t)
	id := createChat(t, ts.URL)
	doc := models.Document{ID: "abs-1", Title: "Audit Fees", Year: 2019, Text: strings.Repeat("fees ", 20), Source: models.SourceCorpusAbstract}
	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/chats/"+id+"/context/pin", map[string]any{"document": doc})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	b, _ := json.Marshal(session.AskRequest{Instruction: "Summarize the findings."})
	r, err := http.Post(ts.URL+"/chats/"+id+"/ask", "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	defer r.Body.Close()
	require.Equal(t, http.StatusOK, r.StatusCode)
	require.Equal(t, "text/event-stream", r.Header.Get("Content-Type"))
	var raw bytes.Buffer
	_, err = raw.ReadFrom(r.Body)
	require.NoError(t, err)
	stream := raw.String()
	require.Contains(t, stream, "event: delta")
	require.Contains(t, stream, "event: done")
	require.Contains(t, stream, "Mock review grounded only in the supplied papers.")

	_, body := doJSON(t, http.MethodGet, ts.URL+"/chats/"+id, nil)
	require.Len(t, body["chat"], 2)
}

func TestAskRejectsEmptyInstruction(t *testing.T) {
	ts := newTestServer(t)
	id := createChat(t, ts.URL)
	resp, body := doJSON(t, http.MethodPost, ts.URL+"/chats/"+id+"/ask", session.AskRequest{Instruction: "  "})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	e := body["error"].(map[string]any)
	require.Equal(t, "LG-API-4001", e["code"])
	require.Equal(t, util.Hint(util.ErrEmptyInstruction), e["message"])
}

func TestUploadPDFThenDuplicate(t *testing.T) {
	ts := newTestServer(t)
	id := createChat(t, ts.URL)
	files := map[string]string{"a.pdf": paperText("Disclosure Quality and Audit Committees")}

	for i, want := range []int{http.StatusCreated, http.StatusConflict} {
		buf, ctype := multipartBody(t, "file", files, []string{"a.pdf"}, map[string][]string{"doi": {"10.1/abc"}})
		r, err := http.Post(ts.URL+"/chats/"+id+"/pdfs", ctype, buf)
		require.NoError(t, err)
		r.Body.Close()
		require.Equal(t, want, r.StatusCode, "upload %d", i)
	}

	_, body := doJSON(t, http.MethodGet, ts.URL+"/chats/"+id+"/context", nil)
	require.Len(t, body["entries"], 1)

	docID := models.DocumentIDFromDOI("10.1/abc")
	resp, _ := doJSON(t, http.MethodDelete, ts.URL+"/chats/"+id+"/pdfs/"+docID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_, body = doJSON(t, http.MethodGet, ts.URL+"/chats/"+id+"/context", nil)
	require.Empty(t, body["entries"])
}

func TestInlineBatchReportsProgressInOrder(t *testing.T) {
	ts := newTestServer(t)
	files := map[string]string{
		"one.pdf":   paperText("First Paper On Audit Fees"),
		"two.pdf":   "broken",
		"three.pdf": paperText("First Paper On Audit Fees"),
		"four.pdf":  paperText("Fourth Paper On Tax Avoidance"),
	}
	order := []string{"one.pdf", "two.pdf", "three.pdf", "four.pdf"}
	buf, ctype := multipartBody(t, "files", files, order, nil)
	r, err := http.Post(ts.URL+"/ingest/batch", ctype, buf)
	require.NoError(t, err)
	var started map[string]any
	require.NoError(t, json.NewDecoder(r.Body).Decode(&started))
	r.Body.Close()
	require.Equal(t, http.StatusAccepted, r.StatusCode)
	runID := started["run_id"].(string)

	var prog workflows.BatchProgress
	require.Eventually(t, func() bool {
		resp, err := http.Get(ts.URL + "/ingest/" + runID + "/progress")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		prog = workflows.BatchProgress{}
		if err := json.NewDecoder(resp.Body).Decode(&prog); err != nil {
			return false
		}
		return prog.Done == prog.Total
	}, 5*time.Second, 20*time.Millisecond)

	require.Equal(t, 4, prog.Total)
	require.Equal(t, 1, prog.Failed)
	require.Equal(t, 1, prog.Duplicates)
	require.Equal(t, 2, prog.Ingested)
	names := make([]string, 0, len(prog.PerFile))
	for _, f := range prog.PerFile {
		names = append(names, f.Name)
	}
	require.Equal(t, order, names)
	require.Equal(t, "failed", prog.PerFile[1].Status)
	require.Equal(t, "duplicate", prog.PerFile[2].Status)

	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/ingest/unknown-run/progress", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestToAPIErrorMapsKinds(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{util.ErrNoSearchCriteria, http.StatusBadRequest, "LG-API-4001"},
		{util.ErrAlreadyImported, http.StatusConflict, "LG-API-4009"},
		{util.ErrMalformedCitation, http.StatusUnprocessableEntity, "LG-API-4022"},
		{util.Upstream("stream", errors.New("503")), http.StatusBadGateway, "LG-API-5020"},
		{util.ErrNotFound, http.StatusNotFound, "LG-API-4004"},
		{errors.New("dial tcp 127.0.0.1:5432: connection refused"), http.StatusInternalServerError, "LG-DB-5002"},
		{errors.New("boom"), http.StatusInternalServerError, "LG-API-5000"},
	}
	for _, tc := range cases {
		status := statusFor(tc.err)
		require.Equal(t, tc.status, status, tc.err.Error())
		require.Equal(t, tc.code, toAPIError(status, tc.err).Code, tc.err.Error())
	}
	require.Equal(t, "Malformed JSON request body.", toAPIError(http.StatusBadRequest, errors.New("invalid json: eof")).Message)
}

func uploadPDF(t *testing.T, base, chatID, name, content string, values map[string][]string) (int, map[string]any) {
	t.Helper()
	buf, ctype := multipartBody(t, "file", map[string]string{name: content}, []string{name}, values)
	r, err := http.Post(base+"/chats/"+chatID+"/pdfs", ctype, buf)
	require.NoError(t, err)
	defer r.Body.Close()
	out := map[string]any{}
	_ = json.NewDecoder(r.Body).Decode(&out)
	return r.StatusCode, out
}

func TestUploadSharedPDFAcrossChats(t *testing.T) {
	ts := newTestServer(t)
	a, b, c := createChat(t, ts.URL), createChat(t, ts.URL), createChat(t, ts.URL)
	text := paperText("Shared Paper On Auditor Tenure")
	doi := map[string][]string{"doi": {"10.7/shared"}}
	docID := models.DocumentIDFromDOI("10.7/shared")

	code, _ := uploadPDF(t, ts.URL, a, "shared.pdf", text, doi)
	require.Equal(t, http.StatusCreated, code)

	code, body := uploadPDF(t, ts.URL, b, "copy.pdf", text, doi)
	require.Equal(t, http.StatusConflict, code)
	doc, ok := body["document"].(map[string]any)
	require.True(t, ok, "duplicate upload should return the stored document")
	require.Equal(t, docID, doc["id"])
	require.Equal(t, "Shared Paper On Auditor Tenure", doc["title"])
	_, ctxB := doJSON(t, http.MethodGet, ts.URL+"/chats/"+b+"/context", nil)
	require.Len(t, ctxB["entries"], 1)

	// chat b still holds the document, so removing it from a keeps the chunks
	resp, _ := doJSON(t, http.MethodDelete, ts.URL+"/chats/"+a+"/pdfs/"+docID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	code, _ = uploadPDF(t, ts.URL, c, "again.pdf", text, doi)
	require.Equal(t, http.StatusConflict, code)

	for _, chat := range []string{b, c} {
		resp, _ = doJSON(t, http.MethodDelete, ts.URL+"/chats/"+chat+"/pdfs/"+docID, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	code, _ = uploadPDF(t, ts.URL, a, "fresh.pdf", text, doi)
	require.Equal(t, http.StatusCreated, code)
}

func TestUploadRejectsInvalidPinValue(t *testing.T) {
	ts := newTestServer(t)
	id := createChat(t, ts.URL)
	code, body := uploadPDF(t, ts.URL, id, "a.pdf", paperText("Pin Flag Paper Title"), map[string][]string{"pin": {"maybe"}})
	require.Equal(t, http.StatusBadRequest, code)
	require.Contains(t, body, "error")

	code, _ = uploadPDF(t, ts.URL, id, "a.pdf", paperText("Pin Flag Paper Title"), map[string][]string{"pin": {"false"}})
	require.Equal(t, http.StatusCreated, code)
	_, ctx := doJSON(t, http.MethodGet, ts.URL+"/chats/"+id+"/context", nil)
	require.Empty(t, ctx["entries"])
}

func TestStagedBatchFilesKeepSameNamedUploadsApart(t *testing.T) {
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	for _, content := range []string{"first upload", "second upload"} {
		fw, err := mw.CreateFormFile("files", "paper.pdf")
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/ingest/batch", buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	require.NoError(t, req.ParseMultipartForm(maxUploadBytes))

	dir := t.TempDir()
	var paths []string
	for i, fh := range req.MultipartForm.File["files"] {
		_, path, err := saveUploadedFile(dir, stagedName(i, fh.Filename), fh)
		require.NoError(t, err)
		paths = append(paths, path)
	}
	require.Len(t, paths, 2)
	require.NotEqual(t, paths[0], paths[1])
	for i, want := range []string{"first upload", "second upload"} {
		got, err := os.ReadFile(paths[i])
		require.NoError(t, err)
		require.Equal(t, want, string(got))
	}
}

type echoBatch struct{}

func (echoBatch) IngestBatch(_ context.Context, uploads []ingest.Upload, onProgress func(ingest.Outcome)) []ingest.Outcome {
	out := make([]ingest.Outcome, len(uploads))
	for i, u := range uploads {
		out[i] = ingest.Outcome{Index: i, Name: u.Name, Document: models.Document{ID: "doc-" + u.Name, Title: u.Name}}
		onProgress(out[i])
	}
	return out
}

func TestFinishedInlineRunsAreEvicted(t *testing.T) {
	srv := NewServer(config.Config{IngestMode: "inline"}, Deps{Batch: echoBatch{}})
	srv.maxFinished = 1
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)

	for _, run := range []string{"run-1", "run-2"} {
		uploads := []ingest.Upload{{Name: run + ".pdf", Data: []byte(run)}}
		srv.trackRun(run, len(uploads))
		srv.runInline(context.Background(), run, uploads)
	}

	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/ingest/run-1/progress", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, body := doJSON(t, http.MethodGet, ts.URL+"/ingest/run-2/progress", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 1, body["ingested"])

	srv.mu.Lock()
	defer srv.mu.Unlock()
	require.Len(t, srv.runs, 1)
	require.Equal(t, []string{"run-2"}, srv.finished)
}
