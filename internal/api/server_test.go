package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/reconciler/internal/domain"
	"github.com/dvloznov/reconciler/internal/jobs"
	"github.com/dvloznov/reconciler/internal/jobs/inmemory"
	"github.com/dvloznov/reconciler/internal/reconcile"
	"github.com/dvloznov/reconciler/internal/store/memory"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const statementCSV = "01/03/2024;PAYMENT ACME CORP;-150.00\n" +
	"02/03/2024;TRANSFER IN;500.00\n" +
	"03/03/2024;UNKNOWN FEE;-5.00\n"

type response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
		Line    int    `json:"line"`
	} `json:"error"`
}

type testServer struct {
	handler http.Handler
	ledger  *memory.Ledger
	queue   *inmemory.Queue
	jobs    *inmemory.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ledger := memory.NewLedger(
		domain.LedgerMovement{
			ID:            "L-100",
			BankAccountID: "acc-1",
			Date:          civil.Date{Year: 2024, Month: 3, Day: 1},
			Direction:     domain.DirectionDebit,
			Amount:        decimal.RequireFromString("150.00"),
			Description:   "ACME CORP INVOICE",
		},
		domain.LedgerMovement{
			ID:            "L-200",
			BankAccountID: "acc-1",
			Date:          civil.Date{Year: 2024, Month: 3, Day: 20},
			Direction:     domain.DirectionDebit,
			Amount:        decimal.RequireFromString("5.10"),
			Description:   "BANK CHARGES",
		},
	)
	svc := reconcile.NewService(memory.NewStore(), ledger,
		memory.NewRegistry(domain.BankAccount{ID: "acc-1", Label: "Main"}))

	jobStore := inmemory.NewStore()
	queue := inmemory.NewQueue(10, jobStore, inmemory.WithWorkers(1))
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, queue.Start(ctx, jobs.NewMatchHandler(svc, zerolog.Nop())))
	t.Cleanup(func() {
		cancel()
		_ = queue.Stop(context.Background())
	})

	return &testServer{
		handler: NewRouter(Config{Log: zerolog.Nop(), Service: svc, Publisher: queue, JobStore: jobStore}),
		ledger:  ledger,
		queue:   queue,
		jobs:    jobStore,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) (int, response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return s.serve(t, req)
}

func (s *testServer) serve(t *testing.T, req *http.Request) (int, response) {
	t.Helper()
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	var resp response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return rec.Code, resp
}

func (s *testServer) createImport(t *testing.T) domain.StatementImport {
	t.Helper()
	code, resp := s.do(t, http.MethodPost, "/api/imports", map[string]interface{}{
		"bank_account_id": "acc-1",
		"filename":        "march.csv",
		"content":         statementCSV,
	})
	require.Equal(t, http.StatusCreated, code)
	var imp domain.StatementImport
	require.NoError(t, json.Unmarshal(resp.Data, &imp))
	return imp
}

func movements(t *testing.T, resp response) []map[string]interface{} {
	t.Helper()
	var page struct {
		Items []map[string]interface{} `json:"items"`
		Total int                      `json:"total"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &page))
	return page.Items
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	code, resp := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Success)
}

func TestImportMatchApproveFinalize(t *testing.T) {
	s := newTestServer(t)
	imp := s.createImport(t)
	assert.Equal(t, 3, imp.Counters.Pending)

	code, resp := s.do(t, http.MethodPost, "/api/imports/"+imp.ID+"/match", nil)
	require.Equal(t, http.StatusOK, code)
	var result reconcile.MatchResult
	require.NoError(t, json.Unmarshal(resp.Data, &result))
	require.Len(t, result.Suggestions, 1)
	assert.Equal(t, "L-100", result.Suggestions[0].LedgerMovementID)
	assert.Equal(t, 93, result.Suggestions[0].Confidence)

	code, resp = s.do(t, http.MethodGet, "/api/imports/"+imp.ID+"/movements?status=suggested", nil)
	require.Equal(t, http.StatusOK, code)
	items := movements(t, resp)
	require.Len(t, items, 1)
	movementID := items[0]["id"].(string)

	code, resp = s.do(t, http.MethodPost, "/api/movements/"+movementID+"/approve", nil)
	require.Equal(t, http.StatusOK, code)
	var approved map[string]interface{}
	require.NoError(t, json.Unmarshal(resp.Data, &approved))
	assert.Equal(t, "reconciled", approved["status"])
	assert.Equal(t, "L-100", approved["linked_ledger_movement_id"])

	// A second approval is a state error.
	code, resp = s.do(t, http.MethodPost, "/api/movements/"+movementID+"/approve", nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.False(t, resp.Success)
	assert.Equal(t, "state_error", resp.Error.Kind)

	code, resp = s.do(t, http.MethodPost, "/api/imports/"+imp.ID+"/finalize", nil)
	require.Equal(t, http.StatusOK, code)
	var finalized domain.StatementImport
	require.NoError(t, json.Unmarshal(resp.Data, &finalized))
	assert.Equal(t, domain.ImportCompleted, finalized.Status)
	assert.Equal(t, 1, finalized.Counters.Reconciled)

	code, resp = s.do(t, http.MethodPost, "/api/imports/"+imp.ID+"/match", nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "state_error", resp.Error.Kind)
}

func TestRunMatching_LedgerOutageReportsProgress(t *testing.T) {
	s := newTestServer(t)
	imp := s.createImport(t)
	s.ledger.Err = fmt.Errorf("dial tcp: %w", domain.ErrLedgerUnavailable)

	code, resp := s.do(t, http.MethodPost, "/api/imports/"+imp.ID+"/match", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "ledger_unavailable", resp.Error.Kind)

	var report reconcile.AbortReport
	require.NoError(t, json.Unmarshal(resp.Data, &report))
	assert.Equal(t, imp.ID, report.ImportID)
	assert.True(t, report.LedgerUnavailable)
	assert.Empty(t, report.Processed)
	assert.Len(t, report.Unprocessed, 3)
	assert.Empty(t, report.Suggestions)

	// Nothing was lost: once the ledger is back the same movements match.
	s.ledger.Err = nil
	code, resp = s.do(t, http.MethodPost, "/api/imports/"+imp.ID+"/match", nil)
	require.Equal(t, http.StatusOK, code)
	var result reconcile.MatchResult
	require.NoError(t, json.Unmarshal(resp.Data, &result))
	assert.Len(t, result.Suggestions, 1)
}

func TestCreateImport_Multipart(t *testing.T) {
	s := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("bank_account_id", "acc-1"))
	require.NoError(t, mw.WriteField("format", "csv"))
	require.NoError(t, mw.WriteField("format_config", `{"separator":",","date_format":"YYYY-MM-DD","date_column":0,"concept_column":1,"amount_column":2,"has_header_row":true}`))
	fw, err := mw.CreateFormFile("file", "march.csv")
	require.NoError(t, err)
	_, err = fw.Write([]byte("date,concept,amount\n2024-03-01,PAYMENT ACME CORP,-150.00\n"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/imports", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	code, resp := s.serve(t, req)

	require.Equal(t, http.StatusCreated, code, string(resp.Data))
	var imp domain.StatementImport
	require.NoError(t, json.Unmarshal(resp.Data, &imp))
	assert.Equal(t, "march.csv", imp.Filename)
	assert.Equal(t, 1, imp.Counters.Total)
}

func TestCreateImport_Errors(t *testing.T) {
	s := newTestServer(t)

	code, resp := s.do(t, http.MethodPost, "/api/imports", map[string]interface{}{
		"bank_account_id": "acc-1",
		"filename":        "broken.csv",
		"content":         "01/03/2024;OK;-1.00\nnot-a-date;BROKEN;-2.00\n",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "parse_error", resp.Error.Kind)
	assert.Equal(t, 2, resp.Error.Line)

	code, resp = s.do(t, http.MethodPost, "/api/imports", map[string]interface{}{
		"bank_account_id": "nope",
		"filename":        "march.csv",
		"content":         statementCSV,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "import_error", resp.Error.Kind)

	code, resp = s.do(t, http.MethodPost, "/api/imports", map[string]interface{}{"unexpected": true})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "validation_error", resp.Error.Kind)

	code, resp = s.do(t, http.MethodPost, "/api/imports", map[string]interface{}{
		"bank_account_id": "acc-1",
		"filename":        "empty.csv",
		"content":         "",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "parse_error", resp.Error.Kind)

	s.createImport(t)
	code, resp = s.do(t, http.MethodPost, "/api/imports", map[string]interface{}{
		"bank_account_id": "acc-1",
		"filename":        "march-again.csv",
		"content":         statementCSV,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "import_error", resp.Error.Kind)
}

func TestListAndGetImports(t *testing.T) {
	s := newTestServer(t)
	imp := s.createImport(t)

	code, resp := s.do(t, http.MethodGet, "/api/imports?bank_account_id=acc-1", nil)
	require.Equal(t, http.StatusOK, code)
	var list struct {
		Imports []domain.StatementImport `json:"imports"`
		Count   int                      `json:"count"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &list))
	assert.Equal(t, 1, list.Count)

	code, _ = s.do(t, http.MethodGet, "/api/imports/"+imp.ID, nil)
	assert.Equal(t, http.StatusOK, code)

	code, resp = s.do(t, http.MethodGet, "/api/imports/missing", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "not_found", resp.Error.Kind)

	code, resp = s.do(t, http.MethodGet, "/api/imports/"+imp.ID+"/movements?page=0&page_size=1000", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "validation_error", resp.Error.Kind)

	code, resp = s.do(t, http.MethodGet, "/api/imports/"+imp.ID+"/movements?status=lost", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, resp = s.do(t, http.MethodGet, "/api/imports/"+imp.ID+"/movements?page=2&page_size=2", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, movements(t, resp), 1)
}

func TestMovementActions(t *testing.T) {
	s := newTestServer(t)
	imp := s.createImport(t)

	_, resp := s.do(t, http.MethodGet, "/api/imports/"+imp.ID+"/movements", nil)
	items := movements(t, resp)
	require.Len(t, items, 3)
	fee := items[2]["id"].(string)
	transfer := items[1]["id"].(string)

	code, resp := s.do(t, http.MethodPost, "/api/movements/"+fee+"/link", map[string]string{"ledger_movement_id": "L-200"})
	require.Equal(t, http.StatusOK, code)
	var linked map[string]interface{}
	require.NoError(t, json.Unmarshal(resp.Data, &linked))
	assert.Equal(t, "reconciled", linked["status"])

	code, resp = s.do(t, http.MethodPost, "/api/movements/"+transfer+"/discard", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "validation_error", resp.Error.Kind)

	code, resp = s.do(t, http.MethodPost, "/api/movements/"+transfer+"/discard", map[string]string{"reason": "internal transfer"})
	require.Equal(t, http.StatusOK, code)
	var discarded map[string]interface{}
	require.NoError(t, json.Unmarshal(resp.Data, &discarded))
	assert.Equal(t, "internal transfer", discarded["discard_reason"])

	code, resp = s.do(t, http.MethodPost, "/api/movements/"+transfer+"/reject", nil)
	assert.Equal(t, http.StatusConflict, code)

	code, resp = s.do(t, http.MethodGet, "/api/movements/unknown", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestSearchCandidates(t *testing.T) {
	s := newTestServer(t)

	code, resp := s.do(t, http.MethodGet, "/api/ledger/candidates?bank_account_id=acc-1&direction=debit&amount=5.00&date=2024-03-03", nil)
	require.Equal(t, http.StatusOK, code)
	var out struct {
		Candidates []reconcile.Candidate `json:"candidates"`
		Count      int                   `json:"count"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &out))
	require.Equal(t, 1, out.Count)
	assert.Equal(t, "L-200", out.Candidates[0].Ledger.ID)

	for _, q := range []string{
		"bank_account_id=acc-1&direction=sideways&amount=5&date=2024-03-03",
		"bank_account_id=acc-1&direction=debit&amount=five&date=2024-03-03",
		"bank_account_id=acc-1&direction=debit&amount=5&date=03/03/2024",
	} {
		code, resp = s.do(t, http.MethodGet, "/api/ledger/candidates?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, code, q)
		assert.Equal(t, "validation_error", resp.Error.Kind, q)
	}
}

func TestAsyncMatchingAndJobs(t *testing.T) {
	s := newTestServer(t)
	imp := s.createImport(t)

	code, resp := s.do(t, http.MethodPost, "/api/imports/"+imp.ID+"/match?async=true", nil)
	require.Equal(t, http.StatusAccepted, code)
	var job jobs.MatchImportJob
	require.NoError(t, json.Unmarshal(resp.Data, &job))
	require.NotEmpty(t, job.JobID)
	assert.Equal(t, jobs.TriggerAPI, job.Trigger)

	require.Eventually(t, func() bool {
		got, err := s.jobs.GetJob(context.Background(), job.JobID)
		return err == nil && got.Status == jobs.JobStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	code, resp = s.do(t, http.MethodGet, "/api/jobs/"+job.JobID, nil)
	require.Equal(t, http.StatusOK, code)
	var done jobs.MatchImportJob
	require.NoError(t, json.Unmarshal(resp.Data, &done))
	require.NotNil(t, done.Result)
	assert.Equal(t, 1, done.Result.Suggested)
	assert.Equal(t, 2, done.Result.Unmatched)

	code, resp = s.do(t, http.MethodGet, "/api/jobs?import_id="+imp.ID, nil)
	require.Equal(t, http.StatusOK, code)
	var list struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &list))
	assert.Equal(t, 1, list.Count)

	code, resp = s.do(t, http.MethodPost, "/api/imports/missing/match?async=true", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = s.do(t, http.MethodGet, "/api/jobs/missing", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestRouting(t *testing.T) {
	s := newTestServer(t)

	code, resp := s.do(t, http.MethodGet, "/api/nothing-here", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.False(t, resp.Success)

	code, _ = s.do(t, http.MethodDelete, "/api/imports", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, code)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}
