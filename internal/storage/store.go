// Package storage persists reconciled import records. Both upserts are
// idempotent: replaying a record leaves the stored row unchanged, and
// values imputed from empty cells never overwrite stored data.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/ignite/smart-import/internal/datanorm"
)

// ErrUnknownTable is returned for an entity table no schema writes to.
var ErrUnknownTable = errors.New("unknown entity table")

// RecordStore is the write side of the analytics store.
type RecordStore interface {
	UpsertDailyMetric(ctx context.Context, clientID string, platform datanorm.Platform, kind datanorm.ContentKind, date string, fields map[string]datanorm.Value) error
	UpsertEntity(ctx context.Context, clientID string, platform datanorm.Platform, table, externalID string, fields map[string]datanorm.Value) error
}

// BatchWriter is implemented by stores that can write a group of records
// in one round trip while still isolating per-record failures.
type BatchWriter interface {
	UpsertRecords(ctx context.Context, records []datanorm.NormalizedRecord) (BatchResult, error)
}

// BatchResult counts per-record outcomes. FirstError holds the first
// record failure, if any.
type BatchResult struct {
	Succeeded  int
	Failed     int
	FirstError error
}

// Commit writes records through the store, one at a time unless the store
// implements BatchWriter. A non-nil error means nothing could be attempted.
func Commit(ctx context.Context, store RecordStore, records []datanorm.NormalizedRecord) (BatchResult, error) {
	if bw, ok := store.(BatchWriter); ok {
		return bw.UpsertRecords(ctx, records)
	}
	var res BatchResult
	for i := range records {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := Upsert(ctx, store, &records[i]); err != nil {
			res.Failed++
			if res.FirstError == nil {
				res.FirstError = err
			}
			continue
		}
		res.Succeeded++
	}
	return res, nil
}

// Upsert routes one record to the daily or entity upsert.
func Upsert(ctx context.Context, store RecordStore, rec *datanorm.NormalizedRecord) error {
	fields := FieldsOf(rec)
	if rec.Daily() {
		return store.UpsertDailyMetric(ctx, rec.ClientID, rec.Platform, rec.Kind, rec.Date, fields)
	}
	return store.UpsertEntity(ctx, rec.ClientID, rec.Platform, rec.Table, rec.ExternalID, fields)
}

// FieldsOf returns the record's fields with unmapped columns folded in as
// text. Canonical fields win over an Extra entry with the same name.
func FieldsOf(rec *datanorm.NormalizedRecord) map[string]datanorm.Value {
	out := make(map[string]datanorm.Value, len(rec.Fields)+len(rec.Extra))
	for k, v := range rec.Extra {
		out[k] = datanorm.StringValue(v)
	}
	for k, v := range rec.Fields {
		out[k] = v
	}
	return out
}

// splitFields separates values carrying source data from imputed ones so
// the store can let stored data win over imputed zeros.
func splitFields(fields map[string]datanorm.Value) (populated, imputed map[string]any) {
	populated = make(map[string]any, len(fields))
	imputed = map[string]any{}
	for k, v := range fields {
		if v.Imputed {
			imputed[k] = v.Interface()
			continue
		}
		if !v.Populated() {
			continue
		}
		populated[k] = v.Interface()
	}
	return populated, imputed
}

func checkTable(table string) error {
	for _, t := range datanorm.EntityTables() {
		if t == table {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownTable, table)
}
