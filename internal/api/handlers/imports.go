package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/dvloznov/reconciler/internal/api/middleware"
	"github.com/dvloznov/reconciler/internal/domain"
	"github.com/dvloznov/reconciler/internal/jobs"
	"github.com/dvloznov/reconciler/internal/reconcile"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// ImportsHandler handles statement import endpoints.
type ImportsHandler struct {
	svc       Reconciler
	publisher jobs.Publisher
	jobStore  jobs.JobStore
	log       zerolog.Logger
}

// NewImportsHandler creates a new imports handler. publisher and jobStore may be nil, which
// disables asynchronous matching.
func NewImportsHandler(svc Reconciler, publisher jobs.Publisher, jobStore jobs.JobStore, log zerolog.Logger) *ImportsHandler {
	return &ImportsHandler{
		svc:       svc,
		publisher: publisher,
		jobStore:  jobStore,
		log:       log,
	}
}

type createImportRequest struct {
	BankAccountID string               `json:"bank_account_id"`
	Filename      string               `json:"filename"`
	Format        string               `json:"format"`
	FormatConfig  *domain.FormatConfig `json:"format_config"`
	// Content is the statement text; ContentBase64 carries binary files such as PDFs.
	Content       string `json:"content"`
	ContentBase64 string `json:"content_base64"`
}

// CreateImport handles POST /api/imports, as multipart (file field "file") or JSON.
func (h *ImportsHandler) CreateImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)

	req, err := h.readImportRequest(r)
	if err != nil {
		writeServiceError(w, r, h.log, "CreateImport", err)
		return
	}

	imp, err := h.svc.CreateImport(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, h.log, "CreateImport", err)
		return
	}
	middleware.WriteData(w, http.StatusCreated, imp)
}

func (h *ImportsHandler) readImportRequest(r *http.Request) (reconcile.ImportRequest, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		return readMultipartImport(r)
	}

	var body createImportRequest
	if err := decodeJSON(r, &body); err != nil {
		return reconcile.ImportRequest{}, err
	}
	format, err := domain.ParseFormat(body.Format)
	if err != nil {
		return reconcile.ImportRequest{}, err
	}

	content := []byte(body.Content)
	if body.ContentBase64 != "" {
		if content, err = base64.StdEncoding.DecodeString(body.ContentBase64); err != nil {
			return reconcile.ImportRequest{}, domain.ValidationErrorf("content_base64 is not valid base64")
		}
	}
	return reconcile.ImportRequest{
		BankAccountID: body.BankAccountID,
		Filename:      body.Filename,
		Content:       content,
		Format:        format,
		FormatConfig:  body.FormatConfig,
	}, nil
}

func readMultipartImport(r *http.Request) (reconcile.ImportRequest, error) {
	if err := r.ParseMultipartForm(MaxUploadBytes); err != nil {
		return reconcile.ImportRequest{}, domain.ValidationErrorf("invalid multipart body: %v", err)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return reconcile.ImportRequest{}, domain.ValidationErrorf("file is required")
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return reconcile.ImportRequest{}, domain.ValidationErrorf("failed to read uploaded file: %v", err)
	}

	format, err := domain.ParseFormat(r.FormValue("format"))
	if err != nil {
		return reconcile.ImportRequest{}, err
	}

	req := reconcile.ImportRequest{
		BankAccountID: r.FormValue("bank_account_id"),
		Filename:      header.Filename,
		Content:       content,
		Format:        format,
	}
	if raw := strings.TrimSpace(r.FormValue("format_config")); raw != "" {
		var fc domain.FormatConfig
		if err := json.Unmarshal([]byte(raw), &fc); err != nil {
			return reconcile.ImportRequest{}, domain.ValidationErrorf("invalid format_config: %v", err)
		}
		req.FormatConfig = &fc
	}
	return req, nil
}

// ListImports handles GET /api/imports
func (h *ImportsHandler) ListImports(w http.ResponseWriter, r *http.Request) {
	imports, err := h.svc.ListImports(r.Context(), r.URL.Query().Get("bank_account_id"))
	if err != nil {
		writeServiceError(w, r, h.log, "ListImports", err)
		return
	}
	if imports == nil {
		imports = []domain.StatementImport{}
	}
	middleware.WriteData(w, http.StatusOK, map[string]interface{}{
		"imports": imports,
		"count":   len(imports),
	})
}

// GetImport handles GET /api/imports/{importID}
func (h *ImportsHandler) GetImport(w http.ResponseWriter, r *http.Request) {
	imp, err := h.svc.GetImport(r.Context(), chi.URLParam(r, "importID"))
	if err != nil {
		writeServiceError(w, r, h.log, "GetImport", err)
		return
	}
	middleware.WriteData(w, http.StatusOK, imp)
}

// ListMovements handles GET /api/imports/{importID}/movements
func (h *ImportsHandler) ListMovements(w http.ResponseWriter, r *http.Request) {
	var status domain.MovementStatus
	if s := r.URL.Query().Get("status"); s != "" {
		var err error
		if status, err = domain.ParseMovementStatus(s); err != nil {
			writeServiceError(w, r, h.log, "ListMovements", err)
			return
		}
	}
	page, err := queryInt(r, "page")
	if err != nil {
		writeServiceError(w, r, h.log, "ListMovements", err)
		return
	}
	pageSize, err := queryInt(r, "page_size")
	if err != nil {
		writeServiceError(w, r, h.log, "ListMovements", err)
		return
	}

	result, err := h.svc.ListMovements(r.Context(), chi.URLParam(r, "importID"), status, page, pageSize)
	if err != nil {
		writeServiceError(w, r, h.log, "ListMovements", err)
		return
	}
	middleware.WriteData(w, http.StatusOK, result)
}

// RunMatching handles POST /api/imports/{importID}/match. With ?async=true the run is
// enqueued and the job is returned with 202.
func (h *ImportsHandler) RunMatching(w http.ResponseWriter, r *http.Request) {
	importID := chi.URLParam(r, "importID")

	async, _ := strconv.ParseBool(r.URL.Query().Get("async"))
	if async {
		h.enqueueMatching(w, r, importID)
		return
	}

	result, err := h.svc.RunMatching(r.Context(), importID)
	var aborted *reconcile.MatchAbortedError
	if errors.As(err, &aborted) {
		writeMatchAborted(w, aborted)
		return
	}
	if err != nil {
		writeServiceError(w, r, h.log, "RunMatching", err)
		return
	}
	middleware.WriteData(w, http.StatusOK, result)
}

// writeMatchAborted reports an aborted run with 503 when the ledger is down, 500 otherwise.
// The body lists the movements processed before the abort.
func writeMatchAborted(w http.ResponseWriter, aborted *reconcile.MatchAbortedError) {
	report := aborted.Report()
	status, kind := http.StatusInternalServerError, middleware.KindMatchingAborted
	if report.LedgerUnavailable {
		status, kind = http.StatusServiceUnavailable, middleware.KindLedgerUnavailable
	}
	msg := fmt.Sprintf("matching aborted after %d of %d movements",
		len(report.Processed), len(report.Processed)+len(report.Unprocessed))
	middleware.WriteFailure(w, status, kind, msg, report)
}

func (h *ImportsHandler) enqueueMatching(w http.ResponseWriter, r *http.Request, importID string) {
	if h.publisher == nil || h.jobStore == nil {
		middleware.WriteDomainError(w, domain.ValidationErrorf("asynchronous matching is not enabled"))
		return
	}
	ctx := r.Context()

	imp, err := h.svc.GetImport(ctx, importID)
	if err != nil {
		writeServiceError(w, r, h.log, "RunMatching", err)
		return
	}
	if imp.Completed() {
		middleware.WriteDomainError(w, domain.StateErrorf("import %s is completed", importID))
		return
	}

	job := &jobs.MatchImportJob{ImportID: importID, Trigger: jobs.TriggerAPI}
	if err := h.publisher.PublishMatchImport(ctx, job); err != nil {
		h.log.Error().Err(err).Str("import_id", importID).Msg("Failed to enqueue matching job")
		middleware.WriteError(w, http.StatusServiceUnavailable, "Failed to enqueue matching job")
		return
	}
	jobID := job.JobID
	h.log.Info().Str("job_id", jobID).Str("import_id", importID).Msg("Matching job enqueued")

	// The worker owns job now; respond with the stored copy.
	saved, err := h.jobStore.GetJob(ctx, jobID)
	if err != nil {
		writeServiceError(w, r, h.log, "RunMatching", err)
		return
	}
	middleware.WriteData(w, http.StatusAccepted, saved)
}

// FinalizeImport handles POST /api/imports/{importID}/finalize
func (h *ImportsHandler) FinalizeImport(w http.ResponseWriter, r *http.Request) {
	imp, err := h.svc.FinalizeImport(r.Context(), chi.URLParam(r, "importID"))
	if err != nil {
		writeServiceError(w, r, h.log, "FinalizeImport", err)
		return
	}
	middleware.WriteData(w, http.StatusOK, imp)
}
