package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/ignite/smart-import/internal/datanorm"
	"github.com/ignite/smart-import/internal/pkg/logger"
)

// PostgresStore writes records to the daily_metrics table and one table per
// entity kind. Fields live in a jsonb column; the merge keeps stored values
// over imputed ones and lets populated values win.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open database.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Open connects with lib/pq and verifies the connection.
func Open(ctx context.Context, url string, maxOpenConns int) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxOpenConns)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const upsertDailySQL = `INSERT INTO daily_metrics (client_id, platform, kind, metric_date, fields, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5::jsonb || $6::jsonb, NOW(), NOW())
ON CONFLICT (client_id, platform, kind, metric_date) DO UPDATE SET
	fields = ($5::jsonb || daily_metrics.fields) || $6::jsonb,
	updated_at = NOW()`

func upsertEntitySQL(table string) string {
	t := pq.QuoteIdentifier(table)
	return fmt.Sprintf(`INSERT INTO %[1]s (client_id, platform, external_id, fields, created_at, updated_at)
VALUES ($1, $2, $3, $4::jsonb || $5::jsonb, NOW(), NOW())
ON CONFLICT (client_id, platform, external_id) DO UPDATE SET
	fields = ($4::jsonb || %[1]s.fields) || $5::jsonb,
	updated_at = NOW()`, t)
}

func (s *PostgresStore) UpsertDailyMetric(ctx context.Context, clientID string, platform datanorm.Platform, kind datanorm.ContentKind, date string, fields map[string]datanorm.Value) error {
	return upsertDaily(ctx, s.db, clientID, platform, kind, date, fields)
}

func (s *PostgresStore) UpsertEntity(ctx context.Context, clientID string, platform datanorm.Platform, table, externalID string, fields map[string]datanorm.Value) error {
	return upsertEntity(ctx, s.db, clientID, platform, table, externalID, fields)
}

func upsertDaily(ctx context.Context, ex execer, clientID string, platform datanorm.Platform, kind datanorm.ContentKind, date string, fields map[string]datanorm.Value) error {
	if !datanorm.IsCanonicalDate(date) {
		return fmt.Errorf("upsert %s: %w: %q", kind, datanorm.ErrInvalidDate, date)
	}
	imputed, populated, err := fieldJSON(fields)
	if err != nil {
		return err
	}
	if _, err := ex.ExecContext(ctx, upsertDailySQL, clientID, string(platform), string(kind), date, imputed, populated); err != nil {
		return fmt.Errorf("upsert %s %s: %w", kind, date, err)
	}
	return nil
}

func upsertEntity(ctx context.Context, ex execer, clientID string, platform datanorm.Platform, table, externalID string, fields map[string]datanorm.Value) error {
	if err := checkTable(table); err != nil {
		return err
	}
	if externalID == "" {
		return fmt.Errorf("upsert %s: empty external id", table)
	}
	imputed, populated, err := fieldJSON(fields)
	if err != nil {
		return err
	}
	if _, err := ex.ExecContext(ctx, upsertEntitySQL(table), clientID, string(platform), externalID, imputed, populated); err != nil {
		return fmt.Errorf("upsert %s %s: %w", table, externalID, err)
	}
	return nil
}

func fieldJSON(fields map[string]datanorm.Value) (imputed, populated string, err error) {
	pop, imp := splitFields(fields)
	p, err := json.Marshal(pop)
	if err != nil {
		return "", "", fmt.Errorf("marshal fields: %w", err)
	}
	i, err := json.Marshal(imp)
	if err != nil {
		return "", "", fmt.Errorf("marshal imputed fields: %w", err)
	}
	return string(i), string(p), nil
}

// UpsertRecords writes a group in one transaction. Each record runs under a
// savepoint so a failing row is rolled back alone and the rest commit.
func (s *PostgresStore) UpsertRecords(ctx context.Context, records []datanorm.NormalizedRecord) (BatchResult, error) {
	var res BatchResult
	if len(records) == 0 {
		return res, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("begin: %w", err)
	}

	for i := range records {
		rec := &records[i]
		if _, err := tx.ExecContext(ctx, "SAVEPOINT record_sp"); err != nil {
			tx.Rollback()
			return BatchResult{}, fmt.Errorf("savepoint: %w", err)
		}

		fields := FieldsOf(rec)
		if rec.Daily() {
			err = upsertDaily(ctx, tx, rec.ClientID, rec.Platform, rec.Kind, rec.Date, fields)
		} else {
			err = upsertEntity(ctx, tx, rec.ClientID, rec.Platform, rec.Table, rec.ExternalID, fields)
		}
		if err != nil {
			if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT record_sp"); rbErr != nil {
				return abortGroup(tx, len(records), fmt.Errorf("rollback to savepoint after %v: %w", err, rbErr)), nil
			}
			res.Failed++
			if res.FirstError == nil {
				res.FirstError = err
			}
			continue
		}

		if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT record_sp"); err != nil {
			return abortGroup(tx, len(records), fmt.Errorf("release savepoint: %w", err)), nil
		}
		res.Succeeded++
	}

	if err := tx.Commit(); err != nil {
		logger.Error("record commit failed", "records", len(records), "error", err)
		return BatchResult{Failed: len(records), FirstError: err}, nil
	}
	return res, nil
}

// abortGroup rolls back a transaction whose savepoint state is unknown.
// Nothing in the group was committed, so every record counts as failed.
func abortGroup(tx *sql.Tx, n int, err error) BatchResult {
	tx.Rollback()
	logger.Error("record group aborted", "records", n, "error", err)
	return BatchResult{Failed: n, FirstError: err}
}
