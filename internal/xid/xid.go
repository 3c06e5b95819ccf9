package xid

import (
	"fmt"

	"github.com/google/uuid"
)

// New returns "<prefix>_<uuid v7>". v7 keeps ids roughly time ordered, which
// the ledger relies on as a tie breaker when two rows share a created_at.
func New(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return fmt.Sprintf("%s_%s", prefix, id.String())
}
