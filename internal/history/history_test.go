package history

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"caravan/internal/release"
)

func newTestHistory(t *testing.T) *History {
	t.Helper()
	hist, err := NewHistory(filepath.Join(t.TempDir(), "data", "releases.db"))
	if err != nil {
		t.Fatalf("Failed to create history: %v", err)
	}
	t.Cleanup(func() { hist.Close() })
	return hist
}

func appendRecord(t *testing.T, hist *History, app, releaseID string) *release.Record {
	t.Helper()
	rec := &release.Record{
		Application: app,
		ReleaseID:   releaseID,
		ReleasePath: "/home/master/" + app + "/releases/" + releaseID,
		Branch:      "main",
		RunID:       "run-" + releaseID,
	}
	if err := hist.Append(context.Background(), rec); err != nil {
		t.Fatalf("Failed to append record: %v", err)
	}
	return rec
}

func TestNewHistory_Permissions(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")
	dbPath := filepath.Join(dir, "releases.db")

	hist, err := NewHistory(dbPath)
	if err != nil {
		t.Fatalf("Failed to create history: %v", err)
	}
	defer hist.Close()

	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("Failed to stat directory: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0750 {
		t.Errorf("Directory permissions = %04o, want 0750", perm)
	}

	info, err = os.Stat(dbPath)
	if err != nil {
		t.Fatalf("Failed to stat database: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0640 {
		t.Errorf("Database permissions = %04o, want 0640", perm)
	}
}

func TestHistory_Append(t *testing.T) {
	hist := newTestHistory(t)
	rec := appendRecord(t, hist, "sample", "20261019120000")

	if rec.ID == 0 {
		t.Error("Expected non-zero record ID")
	}
	if rec.Status != release.StatusPending {
		t.Errorf("Status = %s, want pending", rec.Status)
	}

	got, err := hist.Get(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.ReleaseID != "20261019120000" || got.RunID != "run-20261019120000" {
		t.Errorf("unexpected record: %+v", got)
	}
	if got.CompletedAt != nil {
		t.Error("pending record should not be completed")
	}
}

func TestHistory_AppendRejectsDuplicateReleaseID(t *testing.T) {
	hist := newTestHistory(t)
	appendRecord(t, hist, "sample", "20261019120000")

	err := hist.Append(context.Background(), &release.Record{
		Application: "sample",
		ReleaseID:   "20261019120000",
		RunID:       "other",
	})
	if err == nil {
		t.Fatal("expected unique constraint violation")
	}
}

func TestHistory_ActivateDemotesPrevious(t *testing.T) {
	ctx := context.Background()
	hist := newTestHistory(t)

	first := appendRecord(t, hist, "sample", "20261019120000")
	second := appendRecord(t, hist, "sample", "20261019130000")
	other := appendRecord(t, hist, "api", "20261019130000")

	for _, id := range []int64{first.ID, other.ID, second.ID} {
		if err := hist.Activate(ctx, id); err != nil {
			t.Fatalf("Activate(%d) error: %v", id, err)
		}
	}

	active, err := hist.Active(ctx, "sample")
	if err != nil {
		t.Fatalf("Active() error: %v", err)
	}
	if active == nil || active.ID != second.ID {
		t.Fatalf("Active() = %+v, want record %d", active, second.ID)
	}
	if active.CompletedAt == nil {
		t.Error("activated record should have completed_at")
	}

	prev, _ := hist.Get(ctx, first.ID)
	if prev.Status != release.StatusHistorical {
		t.Errorf("previous status = %s, want historical", prev.Status)
	}

	apiActive, _ := hist.Active(ctx, "api")
	if apiActive == nil || apiActive.ID != other.ID {
		t.Error("activation must not touch other applications")
	}
}

func TestHistory_MarkFailed(t *testing.T) {
	ctx := context.Background()
	hist := newTestHistory(t)
	rec := appendRecord(t, hist, "sample", "20261019120000")

	if err := hist.MarkFailed(ctx, rec.ID, errors.New("publishing: exit status 1")); err != nil {
		t.Fatalf("MarkFailed() error: %v", err)
	}

	got, _ := hist.Get(ctx, rec.ID)
	if got.Status != release.StatusFailed {
		t.Errorf("Status = %s, want failed", got.Status)
	}
	if got.ErrorMessage == nil || *got.ErrorMessage != "publishing: exit status 1" {
		t.Errorf("ErrorMessage = %v", got.ErrorMessage)
	}
	if got.CompletedAt == nil {
		t.Error("failed record should have completed_at")
	}

	if err := hist.MarkFailed(ctx, 9999, nil); err == nil {
		t.Error("MarkFailed() on unknown id should fail")
	}
}

func TestHistory_RollBack(t *testing.T) {
	ctx := context.Background()
	hist := newTestHistory(t)

	first := appendRecord(t, hist, "sample", "20261019120000")
	second := appendRecord(t, hist, "sample", "20261019130000")
	hist.Activate(ctx, first.ID)
	hist.Activate(ctx, second.ID)

	if err := hist.RollBack(ctx, second.ID, first.ID); err != nil {
		t.Fatalf("RollBack() error: %v", err)
	}

	got, _ := hist.Get(ctx, second.ID)
	if got.Status != release.StatusRolledBack {
		t.Errorf("rolled back status = %s", got.Status)
	}
	active, _ := hist.Active(ctx, "sample")
	if active == nil || active.ID != first.ID {
		t.Errorf("Active() = %+v, want %d", active, first.ID)
	}

	published, err := hist.Published(ctx, "sample")
	if err != nil {
		t.Fatalf("Published() error: %v", err)
	}
	if len(published) != 2 || published[0].ID != second.ID {
		t.Errorf("Published() = %+v", published)
	}
}

func TestHistory_RollBackUnknownRecordLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	hist := newTestHistory(t)

	rec := appendRecord(t, hist, "sample", "20261019120000")
	hist.Activate(ctx, rec.ID)

	if err := hist.RollBack(ctx, rec.ID, 9999); err == nil {
		t.Fatal("expected error for unknown target")
	}

	got, _ := hist.Get(ctx, rec.ID)
	if got.Status != release.StatusActive {
		t.Errorf("Status = %s, transaction should have been rolled back", got.Status)
	}
}

func TestHistory_LatestAndList(t *testing.T) {
	ctx := context.Background()
	hist := newTestHistory(t)

	latest, err := hist.Latest(ctx, "sample")
	if err != nil {
		t.Fatalf("Latest() error: %v", err)
	}
	if latest != nil {
		t.Errorf("Expected nil for empty history, got %+v", latest)
	}
	id, err := hist.LatestReleaseID(ctx, "sample")
	if err != nil || id != "" {
		t.Errorf("LatestReleaseID() = %q, %v", id, err)
	}

	appendRecord(t, hist, "sample", "20261019120000")
	appendRecord(t, hist, "sample", "20261019120000-01")
	appendRecord(t, hist, "sample", "20261019120000-02")

	latest, _ = hist.Latest(ctx, "sample")
	if latest.ReleaseID != "20261019120000-02" {
		t.Errorf("Latest() = %s", latest.ReleaseID)
	}
	id, _ = hist.LatestReleaseID(ctx, "sample")
	if id != "20261019120000-02" {
		t.Errorf("LatestReleaseID() = %s", id)
	}

	records, err := hist.List(ctx, "sample", 2)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(records) != 2 || records[0].ReleaseID != "20261019120000-02" {
		t.Errorf("List(2) = %+v", records)
	}

	all, _ := hist.List(ctx, "sample", 0)
	if len(all) != 3 {
		t.Errorf("List(0) returned %d records, want 3", len(all))
	}
}

func TestHistory_Status(t *testing.T) {
	ctx := context.Background()
	hist := newTestHistory(t)

	status, err := hist.Status(ctx, "sample", 10)
	if err != nil {
		t.Fatalf("Status() error: %v", err)
	}
	if status.ActiveRelease != nil || status.LatestRelease != nil || status.RecentHistory == nil {
		t.Errorf("unexpected empty status: %+v", status)
	}

	first := appendRecord(t, hist, "sample", "20261019120000")
	hist.Activate(ctx, first.ID)
	failed := appendRecord(t, hist, "sample", "20261019130000")
	hist.MarkFailed(ctx, failed.ID, errors.New("boom"))

	status, _ = hist.Status(ctx, "sample", 10)
	if status.ActiveRelease.ID != first.ID {
		t.Errorf("ActiveRelease = %d, want %d", status.ActiveRelease.ID, first.ID)
	}
	if status.LatestRelease.ID != failed.ID {
		t.Errorf("LatestRelease = %d, want %d", status.LatestRelease.ID, failed.ID)
	}
	if len(status.RecentHistory) != 2 {
		t.Errorf("RecentHistory has %d entries", len(status.RecentHistory))
	}
}

func TestHistory_AllApplicationsStatus(t *testing.T) {
	ctx := context.Background()
	hist := newTestHistory(t)

	first := appendRecord(t, hist, "sample", "20261019120000")
	if err := hist.Activate(ctx, first.ID); err != nil {
		t.Fatalf("Activate() error: %v", err)
	}
	failed := appendRecord(t, hist, "sample", "20261019130000")
	if err := hist.MarkFailed(ctx, failed.ID, errors.New("boom")); err != nil {
		t.Fatalf("MarkFailed() error: %v", err)
	}
	api := appendRecord(t, hist, "api", "20261019140000")
	if err := hist.Activate(ctx, api.ID); err != nil {
		t.Fatalf("Activate() error: %v", err)
	}
	appendRecord(t, hist, "worker", "20261019150000")

	status, err := hist.AllApplicationsStatus(ctx)
	if err != nil {
		t.Fatalf("AllApplicationsStatus() error: %v", err)
	}
	if len(status) != 2 {
		t.Fatalf("Expected 2 applications, got %d", len(status))
	}
	if status["sample"].ReleaseID != "20261019120000" {
		t.Errorf("sample active = %s, want the release before the failed one", status["sample"].ReleaseID)
	}
	if status["api"].ReleaseID != "20261019140000" {
		t.Errorf("api active = %s", status["api"].ReleaseID)
	}
	if _, ok := status["worker"]; ok {
		t.Error("worker has no active release and should be absent")
	}
}

func TestHistory_LatestReleaseIDNumericSuffix(t *testing.T) {
	ctx := context.Background()
	hist := newTestHistory(t)

	appendRecord(t, hist, "sample", "20261019115959-250")
	appendRecord(t, hist, "sample", "20261019120000-09")
	appendRecord(t, hist, "sample", "20261019120000-99")
	appendRecord(t, hist, "sample", "20261019120000-100")
	appendRecord(t, hist, "other", "20261019130000")

	id, err := hist.LatestReleaseID(ctx, "sample")
	if err != nil {
		t.Fatalf("LatestReleaseID() error: %v", err)
	}
	if id != "20261019120000-100" {
		t.Errorf("LatestReleaseID() = %s, want 20261019120000-100", id)
	}
}

func TestDefaultPath(t *testing.T) {
	if filepath.Base(DefaultPath()) != "releases.db" {
		t.Errorf("DefaultPath() = %s", DefaultPath())
	}
}
