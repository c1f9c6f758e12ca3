package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/entity"
)

const recordsTable = "job_records"

var recordColumns = []string{"payload"}

// SQLStore is a RecordStore on database/sql. The full record is kept as JSON; the key,
// state and content columns exist for filtering. Rows are keyed on (document_id, model).
type SQLStore struct {
	db      *sql.DB
	pool    *pgxpool.Pool // set when the db wraps a pgx pool
	sb      sq.StatementBuilderType
	dialect Dialect
	logger  *slog.Logger
}

var _ RecordStore = (*SQLStore)(nil)

func NewSQLStore(db *sql.DB, dialect Dialect, logger *slog.Logger) *SQLStore {
	if logger == nil {
		logger = slog.Default()
	}
	sb := sq.StatementBuilder.PlaceholderFormat(sq.Question)
	if dialect == DialectPostgres {
		sb = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	}
	return &SQLStore{db: db, sb: sb, dialect: dialect, logger: logger}
}

// Migrate creates the records table if needed.
func (s *SQLStore) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + recordsTable + ` (
			document_id   TEXT NOT NULL,
			model         TEXT NOT NULL,
			job_id        TEXT NOT NULL DEFAULT '',
			state         TEXT NOT NULL,
			content_state TEXT NOT NULL DEFAULT '',
			payload       TEXT NOT NULL,
			updated_at    BIGINT NOT NULL,
			PRIMARY KEY (document_id, model)
		)`,
		`CREATE INDEX IF NOT EXISTS job_records_state_idx ON ` + recordsTable + ` (state, content_state)`,
		`CREATE INDEX IF NOT EXISTS job_records_job_id_idx ON ` + recordsTable + ` (job_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, key entity.RecordKey) (*entity.JobRecord, error) {
	query, args, err := s.sb.Select(recordColumns...).
		From(recordsTable).
		Where(sq.Eq{"document_id": key.DocumentID, "model": key.Model}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get: %w", err)
	}

	var payload string
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrRecordNotFound
		}
		return nil, fmt.Errorf("get record %s: %w", key, err)
	}
	return decodeRecord(payload)
}

// Put inserts or replaces the record under its key.
func (s *SQLStore) Put(ctx context.Context, rec *entity.JobRecord) error {
	if rec == nil || rec.DocumentID == "" || rec.Model == "" {
		return fmt.Errorf("put record: %w", common.ErrInvalidInput)
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	query, args, err := s.sb.Insert(recordsTable).
		Columns("document_id", "model", "job_id", "state", "content_state", "payload", "updated_at").
		Values(rec.DocumentID, rec.Model, rec.Job.ID, string(rec.Job.State),
			string(rec.ContentState), string(payload), rec.UpdatedAt.UnixNano()).
		Suffix(`ON CONFLICT (document_id, model) DO UPDATE SET
			job_id = excluded.job_id,
			state = excluded.state,
			content_state = excluded.content_state,
			payload = excluded.payload,
			updated_at = excluded.updated_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build put: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("put record %s: %w", rec.Key(), err)
	}
	s.logger.Debug("repository.record.put", "key", rec.Key().String(), "state", rec.Job.State, "content_state", rec.ContentState)
	return nil
}

func (s *SQLStore) List(ctx context.Context) ([]*entity.JobRecord, error) {
	return s.list(ctx, nil)
}

func (s *SQLStore) ListUnsettled(ctx context.Context) ([]*entity.JobRecord, error) {
	return s.list(ctx, sq.Or{
		sq.NotEq{"state": string(constants.JobStateCompleted)},
		sq.NotEq{"content_state": []string{string(constants.ContentPopulated), string(constants.ContentShort)}},
	})
}

func (s *SQLStore) list(ctx context.Context, where sq.Sqlizer) ([]*entity.JobRecord, error) {
	qb := s.sb.Select(recordColumns...).From(recordsTable).OrderBy("updated_at", "document_id", "model")
	if where != nil {
		qb = qb.Where(where)
	}
	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			s.logger.Warn("repository.rows.close_error", "error", err)
		}
	}()

	var out []*entity.JobRecord
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec, err := decodeRecord(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func decodeRecord(payload string) (*entity.JobRecord, error) {
	var rec entity.JobRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &rec, nil
}
