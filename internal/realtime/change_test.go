package realtime_test

import (
	"testing"

	"github.com/forgehq/forge/internal/realtime"
)

func TestParseChange(t *testing.T) {
	cases := []struct {
		payload string
		want    realtime.Change
	}{
		{"forge_jobs:insert:job-1", realtime.Change{Table: "forge_jobs", Operation: "insert", RowID: "job-1"}},
		{"forge_jobs:update:job-1:status,attempts", realtime.Change{Table: "forge_jobs", Operation: "update", RowID: "job-1", Columns: []string{"status", "attempts"}}},
	}
	for _, tc := range cases {
		got, err := realtime.ParseChange(tc.payload)
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", tc.payload, err)
		}
		if got.Table != tc.want.Table || got.Operation != tc.want.Operation || got.RowID != tc.want.RowID {
			t.Fatalf("ParseChange(%q) = %+v, want %+v", tc.payload, got, tc.want)
		}
	}
}

func TestParseChange_Malformed(t *testing.T) {
	if _, err := realtime.ParseChange("not-enough-parts"); err == nil {
		t.Fatal("expected error for malformed payload")
	}
}
