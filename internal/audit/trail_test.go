package audit

import (
	"context"
	"testing"
)

func openTestTrail(t *testing.T) *Trail {
	t.Helper()
	trail, err := Open(":memory:", nil)
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { _ = trail.Close() })
	return trail
}

func Test_RecordVersionUpdate_RoundTrip(t *testing.T) {
	t.Parallel()
	trail := openTestTrail(t)
	ctx := context.Background()

	if err := trail.RecordVersionUpdate(ctx, "", "doc-1", "policies/leave.md"); err != nil {
		t.Fatalf("RecordVersionUpdate failed: %v", err)
	}
	if err := trail.RecordVersionUpdate(ctx, "doc-1", "doc-2", "policies/leave.md"); err != nil {
		t.Fatalf("RecordVersionUpdate failed: %v", err)
	}

	updates, err := trail.RecentVersionUpdates(ctx, 10)
	if err != nil {
		t.Fatalf("RecentVersionUpdates failed: %v", err)
	}
	if len(updates) != 2 {
		t.Fatalf("want 2 updates, got %d", len(updates))
	}
	// Newest first.
	if updates[0].NewDocID != "doc-2" || updates[0].OldDocID != "doc-1" {
		t.Errorf("newest update = %+v", updates[0])
	}
	if updates[1].OldDocID != "" {
		t.Errorf("first ingestion should have empty old_doc_id: %+v", updates[1])
	}
}

func Test_RecordQuery_RoundTrip(t *testing.T) {
	t.Parallel()
	trail := openTestTrail(t)
	ctx := context.Background()

	err := trail.RecordQuery(ctx, "how many leave days?", "pass", []string{"doc-1", "doc-2"}, "Fourteen days per year...")
	if err != nil {
		t.Fatalf("RecordQuery failed: %v", err)
	}
	err = trail.RecordQuery(ctx, "unrelated question", "knowledge_insufficient", nil, "")
	if err != nil {
		t.Fatalf("RecordQuery failed: %v", err)
	}

	records, err := trail.RecentQueries(ctx, 10)
	if err != nil {
		t.Fatalf("RecentQueries failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("want 2 records, got %d", len(records))
	}
	if records[0].GateStatus != "knowledge_insufficient" {
		t.Errorf("newest record = %+v", records[0])
	}
	if len(records[1].DocIDs) != 2 || records[1].DocIDs[0] != "doc-1" {
		t.Errorf("doc ids not round-tripped: %+v", records[1].DocIDs)
	}
}
