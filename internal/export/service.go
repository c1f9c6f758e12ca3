package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/docflow/internal/cost"
	"github.com/joseph-ayodele/docflow/internal/entity"
	"github.com/joseph-ayodele/docflow/internal/reconcile"
	"github.com/joseph-ayodele/docflow/internal/repository"
)

const (
	recordsSheet = "Jobs"
	summarySheet = "Summary"
)

// Service produces XLSX bytes for job record reports.
type Service struct {
	store  repository.RecordStore
	logger *slog.Logger
}

func NewService(store repository.RecordStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

// ExportRecordsXLSX returns a workbook with one row per job record and a summary sheet with
// cost totals. When sweep is set its counts are added to the summary.
func (s *Service) ExportRecordsXLSX(ctx context.Context, sweep *reconcile.Report) ([]byte, error) {
	start := time.Now()

	recs, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}

	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			s.logger.Warn("export.xlsx.close_failed", "error", err)
		}
	}()
	if err := f.SetSheetName("Sheet1", recordsSheet); err != nil {
		return nil, err
	}

	headers := []string{
		"Document",
		"Model",
		"Name",
		"Kind",
		"Job ID",
		"State",
		"Content",
		"Method",
		"Characters",
		"Input Tokens",
		"Output Tokens",
		"Cost (USD)",
		"Estimated",
		"Completed At",
		"Error",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(recordsSheet, cell, h)
	}

	row := 2
	for _, r := range recs {
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(recordsSheet, cell, v)
		}

		write(1, r.DocumentID)
		write(2, r.Model)
		write(3, r.Name)
		write(4, string(r.Job.Kind))
		write(5, r.Job.ID)
		write(6, string(r.Job.State))
		write(7, string(r.ContentState))
		if r.Result != nil {
			write(8, string(r.Result.Method))
			write(9, r.Result.CharCount)
		}
		if r.Usage != nil {
			write(10, r.Usage.InputTokens)
			write(11, r.Usage.OutputTokens)
			write(12, r.Usage.CostUSD)
			write(13, yesNo(r.Usage.Estimated))
		}
		if r.Job.CompletedAt != nil {
			write(14, r.Job.CompletedAt.UTC().Format(time.RFC3339))
		}
		write(15, truncate(errorText(r), 140))
		row++
	}

	_ = f.SetColWidth(recordsSheet, "A", "B", 20)
	_ = f.SetColWidth(recordsSheet, "C", "C", 32)
	_ = f.SetColWidth(recordsSheet, "D", "E", 24)
	_ = f.SetColWidth(recordsSheet, "N", "N", 22)
	_ = f.SetColWidth(recordsSheet, "O", "O", 60)

	if err := s.writeSummary(f, recs, sweep); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"rows", len(recs),
		"with_sweep", sweep != nil,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func (s *Service) writeSummary(f *excelize.File, recs []*entity.JobRecord, sweep *reconcile.Report) error {
	if _, err := f.NewSheet(summarySheet); err != nil {
		return err
	}
	totals := cost.AggregateRecords(recs)

	rows := [][]any{
		{"Metric", "Value"},
		{"Records", len(recs)},
		{"Measured jobs", totals.Measured.Jobs},
		{"Measured cost (USD)", totals.Measured.CostUSD},
		{"Estimated jobs", totals.Estimated.Jobs},
		{"Estimated cost (USD)", totals.Estimated.CostUSD},
		{"Jobs without usage", totals.Missing},
		{"Total cost (USD)", totals.CostUSD()},
		{"Total mixes estimates", yesNo(totals.Mixed())},
	}
	if sweep != nil {
		rows = append(rows,
			[]any{"Sweep downloaded", sweep.Downloaded},
			[]any{"Sweep already done", sweep.AlreadyDone},
			[]any{"Sweep still running", sweep.StillRunning},
			[]any{"Sweep errored", sweep.Errored},
			[]any{"Sweep unsaved", sweep.PersistFailed},
			[]any{"Sweep failed", sweep.Failed},
			[]any{"Sweep skipped", sweep.Skipped},
			[]any{"Sweep newly completed", len(sweep.NewlyCompleted)},
		)
	}
	for i, r := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(summarySheet, cell, &r); err != nil {
			return err
		}
	}
	_ = f.SetColWidth(summarySheet, "A", "A", 28)
	return nil
}

func errorText(r *entity.JobRecord) string {
	if r.Error != "" {
		return r.Error
	}
	return r.Job.ServiceError
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}
