package domain

import "time"

// Migration is one applied schema migration row. Version ordering is
// lexicographic; re-applying a version already present in the table is a
// no-op gated purely by that row's presence.
type Migration struct {
	Version        string
	Name           string
	Checksum       string
	AppliedAt      time.Time
	DurationMillis int64
}
