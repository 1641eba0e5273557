package domain

import "time"

// Outcome is the lifecycle state of an idempotency record.
type Outcome string

const (
	OutcomePending   Outcome = "PENDING"
	OutcomeCommitted Outcome = "COMMITTED"
	OutcomeFailed    Outcome = "FAILED"
)

// Idempotency records a mutation keyed by (scope, key). While PENDING it acts
// as a lease on the key; once COMMITTED or FAILED it holds enough of the
// result to answer retries without re-executing side effects.
//
// Fields:
//   - Scope: the resource the key applies to (e.g. "reroute:42").
//   - Key: caller supplied Idempotency-Key.
//   - RequestHash: hash of the request body; a different hash under the same
//     key is a key reuse.
//   - Attempt: bumped whenever a stale PENDING lease is taken over.
//   - Snapshot: JSON result for COMMITTED records.
//   - ErrorCode/ErrorMessage: the rejection for FAILED records.
type Idempotency struct {
	ID           string    `gorm:"type:char(36);primaryKey"`
	Scope        string    `gorm:"type:varchar(128);not null;uniqueIndex:ux_idem_scope_key,priority:1"`
	Key          string    `gorm:"column:idem_key;type:varchar(200);not null;uniqueIndex:ux_idem_scope_key,priority:2"`
	RequestHash  string    `gorm:"type:char(64);not null"`
	Outcome      Outcome   `gorm:"type:varchar(16);not null;index"`
	Attempt      int       `gorm:"not null;default:1"`
	Snapshot     []byte    `gorm:"type:blob"`
	ErrorCode    string    `gorm:"type:varchar(64)"`
	ErrorMessage string    `gorm:"type:text"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
	ExpiresAt    time.Time `gorm:"not null;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }

// Expired reports whether the record is past its retention window at now.
func (r *Idempotency) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}
