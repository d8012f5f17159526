// Package realtime implements the change-notification bus and the
// WebSocket delta fan-out it feeds (§4.8). The listener side is adapted
// from r3e's pkg/pgnotify.Bus: where that bus uses lib/pq's
// pq.NewListener, this one holds a single dedicated pgx/v5 connection
// checked out of the pool (the same pool.Acquire convention
// infrastructure/postgres/advisorylock.go already uses for advisory
// locks) and calls conn.Conn().WaitForNotification in a loop, since pgx
// has no separate listener type of its own.
package realtime

import (
	"fmt"
	"strings"
)

// Change is a parsed forge_changes notification payload:
// table:operation:row_id[:csv_columns].
type Change struct {
	Table     string
	Operation string
	RowID     string
	Columns   []string
}

// ParseChange decodes a forge_notify_change() payload. The function is
// forgiving of a missing trailing columns segment, since the trigger
// only ever emits table:operation:row_id today; the fourth segment is
// reserved for a future column-list emitter.
func ParseChange(payload string) (Change, error) {
	parts := strings.SplitN(payload, ":", 4)
	if len(parts) < 3 {
		return Change{}, fmt.Errorf("realtime: malformed change payload %q", payload)
	}
	c := Change{Table: parts[0], Operation: parts[1], RowID: parts[2]}
	if len(parts) == 4 && parts[3] != "" {
		c.Columns = strings.Split(parts[3], ",")
	}
	return c, nil
}
