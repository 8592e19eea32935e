package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/snowflakedb/gosnowflake" // Snowflake driver

	"github.com/ignite/smart-import/internal/datanorm"
)

// SnowflakeConfig holds the warehouse connection settings.
type SnowflakeConfig struct {
	Account   string `yaml:"account"`
	User      string `yaml:"user"`
	Password  string `yaml:"password"`
	Database  string `yaml:"database"`
	Schema    string `yaml:"schema"`
	Warehouse string `yaml:"warehouse"`
}

// DSN builds the gosnowflake data source name.
// Format: user:password@account/database/schema?warehouse=xxx
func (c SnowflakeConfig) DSN() string {
	dsn := fmt.Sprintf("%s:%s@%s/%s/%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Account,
		c.Database,
		c.Schema,
	)
	if c.Warehouse != "" {
		dsn += "?warehouse=" + url.QueryEscape(c.Warehouse)
	}
	return dsn
}

// OpenSnowflake connects to the warehouse and verifies the connection.
func OpenSnowflake(ctx context.Context, cfg SnowflakeConfig) (*sql.DB, error) {
	db, err := sql.Open("snowflake", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open snowflake: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping snowflake: %w", err)
	}
	return db, nil
}

// SnowflakeStore writes the same tables as PostgresStore into a warehouse.
// Fields live in a VARIANT column. Snowflake has no jsonb concatenation, so
// each upsert reads the stored object and merges it before the MERGE.
type SnowflakeStore struct {
	db *sql.DB
}

func NewSnowflakeStore(db *sql.DB) *SnowflakeStore {
	return &SnowflakeStore{db: db}
}

const (
	selectDailySF = `SELECT TO_JSON(FIELDS) FROM DAILY_METRICS
WHERE CLIENT_ID = ? AND PLATFORM = ? AND KIND = ? AND METRIC_DATE = ?`

	mergeDailySF = `MERGE INTO DAILY_METRICS t
USING (SELECT ? AS CLIENT_ID, ? AS PLATFORM, ? AS KIND, ? AS METRIC_DATE, PARSE_JSON(?) AS FIELDS) s
ON t.CLIENT_ID = s.CLIENT_ID AND t.PLATFORM = s.PLATFORM AND t.KIND = s.KIND AND t.METRIC_DATE = s.METRIC_DATE
WHEN MATCHED THEN UPDATE SET FIELDS = s.FIELDS, UPDATED_AT = CURRENT_TIMESTAMP()
WHEN NOT MATCHED THEN INSERT (CLIENT_ID, PLATFORM, KIND, METRIC_DATE, FIELDS, CREATED_AT, UPDATED_AT)
VALUES (s.CLIENT_ID, s.PLATFORM, s.KIND, s.METRIC_DATE, s.FIELDS, CURRENT_TIMESTAMP(), CURRENT_TIMESTAMP())`
)

func selectEntitySF(table string) string {
	return fmt.Sprintf(`SELECT TO_JSON(FIELDS) FROM %s
WHERE CLIENT_ID = ? AND PLATFORM = ? AND EXTERNAL_ID = ?`, strings.ToUpper(table))
}

func mergeEntitySF(table string) string {
	return fmt.Sprintf(`MERGE INTO %s t
USING (SELECT ? AS CLIENT_ID, ? AS PLATFORM, ? AS EXTERNAL_ID, PARSE_JSON(?) AS FIELDS) s
ON t.CLIENT_ID = s.CLIENT_ID AND t.PLATFORM = s.PLATFORM AND t.EXTERNAL_ID = s.EXTERNAL_ID
WHEN MATCHED THEN UPDATE SET FIELDS = s.FIELDS, UPDATED_AT = CURRENT_TIMESTAMP()
WHEN NOT MATCHED THEN INSERT (CLIENT_ID, PLATFORM, EXTERNAL_ID, FIELDS, CREATED_AT, UPDATED_AT)
VALUES (s.CLIENT_ID, s.PLATFORM, s.EXTERNAL_ID, s.FIELDS, CURRENT_TIMESTAMP(), CURRENT_TIMESTAMP())`, strings.ToUpper(table))
}

func (s *SnowflakeStore) UpsertDailyMetric(ctx context.Context, clientID string, platform datanorm.Platform, kind datanorm.ContentKind, date string, fields map[string]datanorm.Value) error {
	if !datanorm.IsCanonicalDate(date) {
		return fmt.Errorf("upsert %s: %w: %q", kind, datanorm.ErrInvalidDate, date)
	}
	key := []any{clientID, string(platform), string(kind), date}
	if err := s.mergeRow(ctx, selectDailySF, mergeDailySF, key, fields); err != nil {
		return fmt.Errorf("upsert %s %s: %w", kind, date, err)
	}
	return nil
}

func (s *SnowflakeStore) UpsertEntity(ctx context.Context, clientID string, platform datanorm.Platform, table, externalID string, fields map[string]datanorm.Value) error {
	if err := checkTable(table); err != nil {
		return err
	}
	if externalID == "" {
		return fmt.Errorf("upsert %s: empty external id", table)
	}
	key := []any{clientID, string(platform), externalID}
	if err := s.mergeRow(ctx, selectEntitySF(table), mergeEntitySF(table), key, fields); err != nil {
		return fmt.Errorf("upsert %s %s: %w", table, externalID, err)
	}
	return nil
}

func (s *SnowflakeStore) mergeRow(ctx context.Context, selectSQL, mergeSQL string, key []any, fields map[string]datanorm.Value) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stored := map[string]any{}
	var raw sql.NullString
	err = tx.QueryRowContext(ctx, selectSQL, key...).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("read stored fields: %w", err)
	case raw.Valid && raw.String != "":
		if err := json.Unmarshal([]byte(raw.String), &stored); err != nil {
			return fmt.Errorf("decode stored fields: %w", err)
		}
	}

	merged, err := json.Marshal(mergeFields(stored, fields))
	if err != nil {
		return fmt.Errorf("marshal fields: %w", err)
	}
	args := append(append([]any{}, key...), string(merged))
	if _, err := tx.ExecContext(ctx, mergeSQL, args...); err != nil {
		return err
	}
	return tx.Commit()
}

// mergeFields applies imputed values only where nothing is stored and lets
// populated values replace stored ones.
func mergeFields(stored map[string]any, fields map[string]datanorm.Value) map[string]any {
	populated, imputed := splitFields(fields)
	out := make(map[string]any, len(stored)+len(fields))
	for k, v := range imputed {
		out[k] = v
	}
	for k, v := range stored {
		out[k] = v
	}
	for k, v := range populated {
		out[k] = v
	}
	return out
}
