package reconcile

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dvloznov/reconciler/internal/domain"
	"github.com/dvloznov/reconciler/internal/events"
	"github.com/dvloznov/reconciler/internal/statement"
)

// Page bounds for ListMovements.
const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// ImportRequest is one uploaded statement file.
type ImportRequest struct {
	BankAccountID string
	Filename      string
	Content       []byte
	// Format is the declared format; empty means detect.
	Format domain.Format
	// FormatConfig applies to delimited files; nil means DefaultFormatConfig.
	FormatConfig *domain.FormatConfig
}

// ImportStep is one stage of statement import.
type ImportStep interface {
	Name() string
	Execute(ctx context.Context, state *ImportState) error
}

// ImportState is shared across the import steps.
type ImportState struct {
	Request   ImportRequest
	Config    domain.FormatConfig
	Account   domain.BankAccount
	Checksum  string
	Format    domain.Format
	Lines     []domain.NormalizedLine
	Import    domain.StatementImport
	Movements []domain.StatementMovement
}

// ImportPipeline runs import steps in order and stops at the first failure.
type ImportPipeline struct {
	steps []ImportStep
}

func NewImportPipeline(steps ...ImportStep) *ImportPipeline {
	return &ImportPipeline{steps: steps}
}

func (p *ImportPipeline) Execute(ctx context.Context, state *ImportState) error {
	for i, step := range p.steps {
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("import step %d (%s) failed: %w", i+1, step.Name(), err)
		}
	}
	return nil
}

// importPipeline is the standard sequence: nothing is written before the last step.
func (s *Service) importPipeline() *ImportPipeline {
	return NewImportPipeline(
		validateRequestStep{},
		resolveAccountStep{accounts: s.accounts},
		duplicateCheckStep{store: s.store},
		detectFormatStep{parsers: s.parsers},
		parseStep{parsers: s.parsers},
		buildMovementsStep{svc: s},
		persistStep{svc: s},
	)
}

type validateRequestStep struct{}

func (validateRequestStep) Name() string { return "validate" }

func (validateRequestStep) Execute(_ context.Context, st *ImportState) error {
	req := &st.Request
	req.BankAccountID = strings.TrimSpace(req.BankAccountID)
	if req.BankAccountID == "" {
		return domain.ValidationErrorf("bank_account_id is required")
	}
	if len(req.Content) == 0 {
		return domain.ParseErrorf(0, "statement file is empty")
	}
	req.Filename = filepath.Base(strings.TrimSpace(req.Filename))
	if req.Filename == "" || req.Filename == "." || req.Filename == "/" {
		req.Filename = "statement"
	}
	st.Config = domain.DefaultFormatConfig()
	if req.FormatConfig != nil {
		if err := req.FormatConfig.Validate(); err != nil {
			return err
		}
		st.Config = *req.FormatConfig
	}
	return nil
}

type resolveAccountStep struct {
	accounts domain.AccountRegistry
}

func (resolveAccountStep) Name() string { return "resolve bank account" }

func (s resolveAccountStep) Execute(ctx context.Context, st *ImportState) error {
	acct, err := s.accounts.ResolveBankAccount(ctx, st.Request.BankAccountID)
	if err != nil {
		if domain.IsKind(err, domain.KindNotFound) {
			return domain.ImportErrorf("bank account %q does not resolve", st.Request.BankAccountID).Wrap(err)
		}
		return err
	}
	st.Account = acct
	return nil
}

type duplicateCheckStep struct {
	store domain.Store
}

func (duplicateCheckStep) Name() string { return "duplicate check" }

func (s duplicateCheckStep) Execute(ctx context.Context, st *ImportState) error {
	sum := sha256.Sum256(st.Request.Content)
	st.Checksum = hex.EncodeToString(sum[:])
	prev, found, err := s.store.FindImportByChecksum(ctx, st.Account.ID, st.Checksum)
	if err != nil {
		return err
	}
	if found {
		return domain.ImportErrorf("identical statement already imported as %s", prev.ID)
	}
	return nil
}

type detectFormatStep struct {
	parsers *statement.Registry
}

func (detectFormatStep) Name() string { return "detect format" }

func (s detectFormatStep) Execute(_ context.Context, st *ImportState) error {
	st.Format = s.parsers.Detect(st.Request.Filename, st.Request.Content, st.Request.Format)
	return nil
}

type parseStep struct {
	parsers *statement.Registry
}

func (parseStep) Name() string { return "parse" }

func (s parseStep) Execute(ctx context.Context, st *ImportState) error {
	r, err := s.parsers.Open(ctx, st.Format, st.Request.Content, st.Config)
	if err != nil {
		return err
	}
	lines, err := statement.Collect(ctx, r)
	if err != nil {
		return err
	}
	if len(lines) == 0 {
		return domain.ParseErrorf(0, "statement contains no movements")
	}
	st.Lines = lines
	return nil
}

type buildMovementsStep struct {
	svc *Service
}

func (buildMovementsStep) Name() string { return "build movements" }

func (s buildMovementsStep) Execute(_ context.Context, st *ImportState) error {
	now := s.svc.now().UTC()
	imp := domain.StatementImport{
		ID:            newImportID(),
		BankAccountID: st.Account.ID,
		Filename:      st.Request.Filename,
		Format:        st.Format,
		Checksum:      st.Checksum,
		Status:        domain.ImportInProgress,
		CreatedAt:     now,
	}

	movements := make([]domain.StatementMovement, 0, len(st.Lines))
	for i, line := range st.Lines {
		if i == 0 || line.Date.Before(imp.PeriodStart) {
			imp.PeriodStart = line.Date
		}
		if i == 0 || line.Date.After(imp.PeriodEnd) {
			imp.PeriodEnd = line.Date
		}
		movements = append(movements, domain.StatementMovement{
			ID:            s.svc.ids.next(now),
			ImportID:      imp.ID,
			BankAccountID: st.Account.ID,
			LineNo:        line.LineNo,
			Date:          line.Date,
			ValueDate:     line.ValueDate,
			Concept:       line.Concept,
			Reference:     line.Reference,
			Amount:        line.Amount,
			Direction:     line.Direction,
			Balance:       line.Balance,
			Resolution:    domain.Pending{},
			UpdatedAt:     now,
		})
	}
	imp.Counters = domain.CountersOf(movements)
	st.Import = imp
	st.Movements = movements
	return nil
}

type persistStep struct {
	svc *Service
}

func (persistStep) Name() string { return "persist" }

// Execute archives the raw file when an archiver is configured, then stores the import and its
// movements in one unit. The archive copy is removed if the store rejects the import.
func (s persistStep) Execute(ctx context.Context, st *ImportState) error {
	if s.svc.archiver != nil {
		uri, err := s.svc.archiver.Archive(ctx, st.Import.ID, st.Import.Filename, st.Request.Content)
		if err != nil {
			return fmt.Errorf("archive statement: %w", err)
		}
		st.Import.SourceURI = uri
	}
	if err := s.svc.store.CreateImport(ctx, st.Import, st.Movements); err != nil {
		if st.Import.SourceURI != "" {
			if derr := s.svc.archiver.Delete(ctx, st.Import.SourceURI); derr != nil {
				s.svc.log.Error().Err(derr).Str("source_uri", st.Import.SourceURI).Msg("Failed to remove archived statement")
			}
		}
		return err
	}
	return nil
}

// CreateImport parses a statement file and stores it with all movements pending.
// Nothing is persisted when any step fails.
func (s *Service) CreateImport(ctx context.Context, req ImportRequest) (domain.StatementImport, error) {
	state := &ImportState{Request: req}
	if err := s.importPipeline().Execute(ctx, state); err != nil {
		s.log.Warn().Err(err).
			Str("bank_account_id", req.BankAccountID).
			Str("filename", req.Filename).
			Msg("Statement import rejected")
		return domain.StatementImport{}, err
	}

	imp := state.Import
	s.log.Info().
		Str("import_id", imp.ID).
		Str("bank_account_id", imp.BankAccountID).
		Str("format", string(imp.Format)).
		Int("movements", imp.Counters.Total).
		Msg("Statement imported")

	s.publish(ctx, events.Event{
		Type:          events.ImportCreated,
		ImportID:      imp.ID,
		BankAccountID: imp.BankAccountID,
		Status:        string(imp.Status),
		Metadata: map[string]interface{}{
			"filename":  imp.Filename,
			"format":    imp.Format,
			"movements": imp.Counters.Total,
		},
	})
	return imp, nil
}

// GetImport returns an import with validated counters.
func (s *Service) GetImport(ctx context.Context, importID string) (domain.StatementImport, error) {
	imp, err := s.store.GetImport(ctx, importID)
	if err != nil {
		return domain.StatementImport{}, err
	}
	return s.checkCounters(ctx, imp)
}

// ListImports returns imports newest first, optionally for one bank account.
func (s *Service) ListImports(ctx context.Context, bankAccountID string) ([]domain.StatementImport, error) {
	imps, err := s.store.ListImports(ctx, domain.ImportFilter{BankAccountID: strings.TrimSpace(bankAccountID)})
	if err != nil {
		return nil, err
	}
	for i := range imps {
		if imps[i], err = s.checkCounters(ctx, imps[i]); err != nil {
			return nil, err
		}
	}
	return imps, nil
}

// checkCounters recomputes the counters from the movements and repairs the stored copy on mismatch.
func (s *Service) checkCounters(ctx context.Context, imp domain.StatementImport) (domain.StatementImport, error) {
	actual, err := s.store.CountMovements(ctx, imp.ID)
	if err != nil {
		return domain.StatementImport{}, err
	}
	if actual == imp.Counters {
		return imp, nil
	}
	s.log.Warn().
		Str("import_id", imp.ID).
		Interface("stored", imp.Counters).
		Interface("actual", actual).
		Msg("Import counters out of sync, repairing")
	if err := s.store.RepairCounters(ctx, imp.ID, actual); err != nil {
		return domain.StatementImport{}, err
	}
	imp.Counters = actual
	return imp, nil
}

// MovementPage is one page of statement movements.
type MovementPage struct {
	Items    []domain.StatementMovement `json:"items"`
	Page     int                        `json:"page"`
	PageSize int                        `json:"page_size"`
	Total    int                        `json:"total"`
}

// ListMovements pages through the movements of an import ordered by date then file line.
// page is 1-based; zero values select the first page and DefaultPageSize.
func (s *Service) ListMovements(ctx context.Context, importID string, status domain.MovementStatus, page, pageSize int) (MovementPage, error) {
	if page == 0 {
		page = 1
	}
	if pageSize == 0 {
		pageSize = DefaultPageSize
	}
	if page < 1 {
		return MovementPage{}, domain.ValidationErrorf("page must be at least 1, got %d", page)
	}
	if pageSize < 1 || pageSize > MaxPageSize {
		return MovementPage{}, domain.ValidationErrorf("page_size must be between 1 and %d, got %d", MaxPageSize, pageSize)
	}
	if _, err := s.store.GetImport(ctx, importID); err != nil {
		return MovementPage{}, err
	}

	items, total, err := s.store.ListMovements(ctx, domain.MovementFilter{
		ImportID: importID,
		Status:   status,
		Limit:    pageSize,
		Offset:   (page - 1) * pageSize,
	})
	if err != nil {
		return MovementPage{}, err
	}
	if items == nil {
		items = []domain.StatementMovement{}
	}
	return MovementPage{Items: items, Page: page, PageSize: pageSize, Total: total}, nil
}

// GetMovement returns one statement movement.
func (s *Service) GetMovement(ctx context.Context, movementID string) (domain.StatementMovement, error) {
	return s.store.GetMovement(ctx, movementID)
}

// FinalizeImport closes an import regardless of unresolved movements. It fails with a
// StateError when the import is already completed.
func (s *Service) FinalizeImport(ctx context.Context, importID string) (domain.StatementImport, error) {
	imp, err := s.store.FinalizeImport(ctx, importID, s.now().UTC())
	if err != nil {
		return domain.StatementImport{}, err
	}
	if imp, err = s.checkCounters(ctx, imp); err != nil {
		return domain.StatementImport{}, err
	}

	s.log.Info().
		Str("import_id", imp.ID).
		Int("pending", imp.Counters.Pending).
		Int("suggested", imp.Counters.Suggested).
		Int("reconciled", imp.Counters.Reconciled).
		Int("discarded", imp.Counters.Discarded).
		Msg("Import finalized")

	s.publish(ctx, events.Event{
		Type:          events.ImportFinalized,
		ImportID:      imp.ID,
		BankAccountID: imp.BankAccountID,
		Status:        string(imp.Status),
		Metadata: map[string]interface{}{
			"filename":     imp.Filename,
			"format":       string(imp.Format),
			"period_start": imp.PeriodStart.String(),
			"period_end":   imp.PeriodEnd.String(),
			"total":        imp.Counters.Total,
			"pending":      imp.Counters.Pending,
			"suggested":    imp.Counters.Suggested,
			"reconciled":   imp.Counters.Reconciled,
			"discarded":    imp.Counters.Discarded,
		},
	})
	return imp, nil
}
