package shared

import "time"

// Audit carries the creator/modifier metadata embedded in persisted
// entities. Rows are soft-deleted, never physically removed.
type Audit struct {
	CreatedBy  string
	CreatedAt  time.Time
	ModifiedBy string
	ModifiedAt time.Time
	Deleted    bool
}
