package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"feedport/internal/record"
)

type Outcome string

const (
	OutcomeCreated Outcome = "created"
	OutcomeUpdated Outcome = "updated"
	OutcomeSkipped Outcome = "skipped"
	OutcomeError   Outcome = "error"
)

// WriteFlags carry the job's catalogue behaviour into the writer.
type WriteFlags struct {
	// JobID marks written products as owned by this import, scoping a
	// later DemoteUnseen pass to them.
	JobID string
	// UpdateExisting allows overwriting a product that already exists
	// under the same SKU. Off means existing products are left alone.
	UpdateExisting bool
	// SkipUnchanged short-circuits updates whose content hash matches
	// the stored one.
	SkipUnchanged bool
	// SyncFields lists the mapped targets allowed to overwrite stored
	// values on update. Nil means every incoming field overwrites;
	// fields outside the list keep their stored value.
	SyncFields []string
}

// Writer persists one processed record, including its variants.
type Writer interface {
	Write(ctx context.Context, rec *record.Record, flags WriteFlags) (Outcome, error)
	// DemoteUnseen drafts every product owned by the job that was not
	// touched since the given time. Called once after a run completes
	// when the job asks for it.
	DemoteUnseen(ctx context.Context, jobID string, since time.Time) (int, error)
	Count(ctx context.Context) (int, error)
}

type Product struct {
	ID          string            `json:"id"`
	SKU         string            `json:"sku"`
	ParentSKU   string            `json:"parent_sku,omitempty"`
	Name        string            `json:"name"`
	Status      string            `json:"status"`
	ContentHash string            `json:"-"`
	Fields      map[string]string `json:"fields"`
	LastSeenAt  time.Time         `json:"last_seen_at"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// ContentHash is a stable digest of the product's field values. Field
// order in the feed does not affect it.
func ContentHash(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(fields[k]))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// fieldsOf flattens a record into string values for storage.
func fieldsOf(rec *record.Record) map[string]string {
	out := make(map[string]string, rec.Len())
	for _, k := range rec.Keys() {
		out[k] = rec.GetString(k)
	}
	return out
}

// mergeSyncFields applies the per-field update policy: with a nil allow
// list every incoming value wins; otherwise stored values survive except
// for listed fields and fields the product never had.
func mergeSyncFields(incoming map[string]string, storedJSON []byte, syncFields []string) map[string]string {
	if syncFields == nil || len(storedJSON) == 0 {
		return incoming
	}
	var stored map[string]string
	if err := json.Unmarshal(storedJSON, &stored); err != nil || stored == nil {
		return incoming
	}

	allowed := make(map[string]bool, len(syncFields))
	for _, f := range syncFields {
		allowed[f] = true
	}
	merged := make(map[string]string, len(stored)+len(incoming))
	for k, v := range stored {
		merged[k] = v
	}
	for k, v := range incoming {
		if allowed[k] {
			merged[k] = v
			continue
		}
		if _, seen := stored[k]; !seen {
			merged[k] = v
		}
	}
	return merged
}
