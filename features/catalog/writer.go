package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"feedport/internal/record"
)

var ErrMissingSKU = errors.New("record has no sku")

// PostgresWriter stores products keyed by SKU. Variants are rows with a
// parent_sku pointing at their parent.
type PostgresWriter struct {
	db *sql.DB
}

func NewPostgresWriter(db *sql.DB) *PostgresWriter {
	return &PostgresWriter{db: db}
}

func (w *PostgresWriter) Write(ctx context.Context, rec *record.Record, flags WriteFlags) (Outcome, error) {
	outcome, err := w.writeOne(ctx, rec, "", flags)
	if err != nil {
		return OutcomeError, err
	}

	for _, v := range rec.Variants {
		if _, err := w.writeOne(ctx, v, rec.GetString("sku"), flags); err != nil {
			return OutcomeError, fmt.Errorf("variant of %s: %w", rec.GetString("sku"), err)
		}
	}
	return outcome, nil
}

func (w *PostgresWriter) writeOne(ctx context.Context, rec *record.Record, parentSKU string, flags WriteFlags) (Outcome, error) {
	sku := rec.GetString("sku")
	if sku == "" {
		return OutcomeError, ErrMissingSKU
	}
	if parentSKU == "" {
		parentSKU = rec.GetString("parent_sku")
	}

	fields := fieldsOf(rec)

	var existingHash string
	var storedJSON []byte
	err := w.db.QueryRowContext(ctx, `SELECT content_hash, fields FROM products WHERE sku = $1`, sku).
		Scan(&existingHash, &storedJSON)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		fieldsJSON, err := json.Marshal(fields)
		if err != nil {
			return OutcomeError, err
		}
		status := fields["status"]
		if status == "" {
			status = "publish"
		}
		query := `INSERT INTO products (sku, parent_sku, name, status, content_hash, fields, import_job_id, last_seen_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())`
		if _, err := w.db.ExecContext(ctx, query, sku, parentSKU, fields["name"], status, ContentHash(fields), fieldsJSON, flags.JobID); err != nil {
			return OutcomeError, err
		}
		return OutcomeCreated, nil
	case err != nil:
		return OutcomeError, err
	}

	// Existing product. Always refresh last_seen_at so a later
	// DemoteUnseen pass knows the feed still carries it.
	if !flags.UpdateExisting {
		if err := w.touch(ctx, sku); err != nil {
			return OutcomeError, err
		}
		return OutcomeSkipped, nil
	}

	merged := mergeSyncFields(fields, storedJSON, flags.SyncFields)
	hash := ContentHash(merged)

	if flags.SkipUnchanged && existingHash == hash {
		if err := w.touch(ctx, sku); err != nil {
			return OutcomeError, err
		}
		return OutcomeSkipped, nil
	}

	fieldsJSON, err := json.Marshal(merged)
	if err != nil {
		return OutcomeError, err
	}
	status := merged["status"]
	if status == "" {
		status = "publish"
	}
	query := `UPDATE products SET parent_sku = $1, name = $2, status = $3, content_hash = $4, fields = $5,
		import_job_id = $6, last_seen_at = NOW(), updated_at = NOW() WHERE sku = $7`
	if _, err := w.db.ExecContext(ctx, query, parentSKU, merged["name"], status, hash, fieldsJSON, flags.JobID, sku); err != nil {
		return OutcomeError, err
	}
	return OutcomeUpdated, nil
}

func (w *PostgresWriter) touch(ctx context.Context, sku string) error {
	_, err := w.db.ExecContext(ctx, `UPDATE products SET last_seen_at = NOW() WHERE sku = $1`, sku)
	return err
}

func (w *PostgresWriter) DemoteUnseen(ctx context.Context, jobID string, since time.Time) (int, error) {
	query := `UPDATE products SET status = 'draft', updated_at = NOW()
		WHERE import_job_id = $1 AND last_seen_at < $2 AND status <> 'draft'`
	res, err := w.db.ExecContext(ctx, query, jobID, since)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (w *PostgresWriter) Count(ctx context.Context) (int, error) {
	var count int
	err := w.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&count)
	return count, err
}
