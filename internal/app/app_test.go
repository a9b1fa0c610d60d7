package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"kc-go/internal/catalog"
	"kc-go/internal/config"
	"kc-go/internal/model"
)

const testSpec = `{
  "title": "Physics",
  "kind": "topic",
  "children": [
    {"title": "Motion", "kind": "video", "content_id": "c-motion", "labels": {"grade_levels": ["UPPER_PRIMARY"]}},
    {"title": "Energy", "kind": "exercise", "content_id": "c-energy"}
  ]
}`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		BaseDir:  dir,
		LogDir:   filepath.Join(dir, "log"),
		LogLevel: "error",
		Database: config.DatabaseConfig{Type: "memory"},
		Storage:  config.StorageConfig{Type: "memory", BaseURL: "http://kc.test/"},
		Cache:    config.CacheConfig{Type: "memory"},
		Snapshot: config.SnapshotConfig{Type: "filesystem", FSRoot: filepath.Join(dir, "snapshots")},
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func newTestApp(t *testing.T, cfg *config.Config, operation string) *KCApp {
	t.Helper()
	a, err := NewKCApp(cfg, operation, "", func() (string, error) { return "correct horse", nil })
	if err != nil {
		t.Fatalf("NewKCApp() error = %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestKCApp_ImportAndSearch(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t, testConfig(t), "tree import")

	ch, err := a.ImportChannel(ctx, writeFile(t, "spec.json", testSpec), "", []string{"en"})
	if err != nil {
		t.Fatalf("ImportChannel() error = %v", err)
	}
	if ch.Name != "Physics" {
		t.Errorf("channel name = %q, want Physics", ch.Name)
	}

	nodes, err := a.ShowTree(ctx, ch.RootID)
	if err != nil {
		t.Fatalf("ShowTree() error = %v", err)
	}
	if len(nodes) != 3 {
		t.Fatalf("ShowTree() returned %d nodes, want 3", len(nodes))
	}

	var ids []string
	for _, n := range nodes {
		if !n.IsTopic() {
			ids = append(ids, n.ID)
		}
	}
	if err := a.SetAvailability(ctx, ids, true); err != nil {
		t.Fatalf("SetAvailability() error = %v", err)
	}

	got, err := a.Search(ctx, ch.ID, "", []string{"grade_levels=UPPER_PRIMARY"}, 0)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(got) != 1 || got[0].Title != "Motion" {
		t.Errorf("Search() = %v, want [Motion]", got)
	}

	if _, err := a.Search(ctx, ch.ID, "", []string{"grade_levels"}, 0); err == nil {
		t.Error("Search() with malformed filter should fail")
	}

	if !a.op.Persisted() {
		t.Error("mutating command should persist its operation")
	}
}

func TestKCApp_InsertSubtreeBadPosition(t *testing.T) {
	a := newTestApp(t, testConfig(t), "tree insert")
	_, err := a.InsertSubtree(context.Background(), "x", "above", writeFile(t, "spec.json", testSpec))
	if err == nil {
		t.Fatal("InsertSubtree() with unknown position should fail")
	}
	if a.op.Persisted() {
		t.Error("rejected arguments should not persist an operation")
	}
}

func TestKCApp_FailedOperationIsRecorded(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t, testConfig(t), "channel delete")

	if _, err := a.DeleteChannel(ctx, "missing"); err == nil {
		t.Fatal("DeleteChannel() of a missing channel should fail")
	}
	if a.op.Status != StatusError {
		t.Errorf("operation status = %q, want %q", a.op.Status, StatusError)
	}
	if err := a.db.Operations().FinishOperation(ctx, a.op.ID, a.op.Status); err != nil {
		t.Fatalf("FinishOperation() error = %v", err)
	}

	history, err := a.GetHistory(ctx, 10)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(history) != 1 || history[0].Status != StatusError {
		t.Errorf("history = %+v, want one errored operation", history)
	}
}

func TestKCApp_ImportFile(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t, testConfig(t), "files import")

	ch, err := a.ImportChannel(ctx, writeFile(t, "spec.json", testSpec), "Physics", nil)
	if err != nil {
		t.Fatalf("ImportChannel() error = %v", err)
	}
	nodes, err := a.ShowTree(ctx, ch.RootID)
	if err != nil {
		t.Fatalf("ShowTree() error = %v", err)
	}

	_, url, err := a.ImportFile(ctx, nodes[1].ID, writeFile(t, "motion.MP4", "video bytes"), "high_res_video", 1)
	if err != nil {
		t.Fatalf("ImportFile() error = %v", err)
	}
	if !strings.HasPrefix(url, "http://kc.test/content/storage/") || !strings.HasSuffix(url, ".mp4") {
		t.Errorf("storage url = %q", url)
	}

	if _, _, err := a.ImportFile(ctx, nodes[1].ID, writeFile(t, "noext", "x"), "", 1); err == nil {
		t.Error("ImportFile() without extension should fail")
	}
}

func TestKCApp_Requests(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t, testConfig(t), "request download")
	user := model.FacilityUser{ID: "u1", FacilityID: "f1"}

	req, created, err := a.RequestContent(ctx, model.RequestDownload, user, "node-1")
	if err != nil || !created {
		t.Fatalf("RequestContent() = %v, %v, %v", req, created, err)
	}
	if _, created, _ := a.RequestContent(ctx, model.RequestDownload, user, "node-1"); created {
		t.Error("repeated request should not create a new row")
	}

	if err := a.UpdateRequestStatus(ctx, model.RequestDownload, req.ID, "in_progress"); err != nil {
		t.Fatalf("UpdateRequestStatus() error = %v", err)
	}
	if err := a.UpdateRequestStatus(ctx, model.RequestDownload, req.ID, "done"); err == nil {
		t.Error("unknown status should fail")
	}

	got, err := a.ListRequests(ctx, model.RequestDownload, catalog.RequestFilter{Status: model.StatusInProgress})
	if err != nil {
		t.Fatalf("ListRequests() error = %v", err)
	}
	if len(got) != 1 {
		t.Errorf("ListRequests() returned %d, want 1", len(got))
	}
	removals, err := a.ListRequests(ctx, model.RequestRemoval, catalog.RequestFilter{})
	if err != nil {
		t.Fatalf("ListRequests() error = %v", err)
	}
	if len(removals) != 0 {
		t.Errorf("removal view returned %d requests, want 0", len(removals))
	}
}

func TestKCApp_SnapshotRoundTrip(t *testing.T) {
	for _, encrypt := range []bool{false, true} {
		name := "plain"
		if encrypt {
			name = "sealed"
		}
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			cfg := testConfig(t)
			cfg.Snapshot.Encrypt = encrypt
			a := newTestApp(t, cfg, "db snapshot")

			if _, err := a.ImportChannel(ctx, writeFile(t, "spec.json", testSpec), "", nil); err != nil {
				t.Fatalf("ImportChannel() error = %v", err)
			}
			snap, err := a.Snapshot(ctx)
			if err != nil {
				t.Fatalf("Snapshot() error = %v", err)
			}
			if strings.HasSuffix(snap, ".age") != encrypt {
				t.Errorf("snapshot name %q, encrypt = %v", snap, encrypt)
			}

			list, err := a.ListSnapshots(ctx)
			if err != nil {
				t.Fatalf("ListSnapshots() error = %v", err)
			}
			if len(list) != 1 || list[0] != snap {
				t.Errorf("ListSnapshots() = %v, want [%s]", list, snap)
			}

			dest := filepath.Join(t.TempDir(), "restored.db")
			if err := a.RestoreSnapshot(ctx, snap, dest); err != nil {
				t.Fatalf("RestoreSnapshot() error = %v", err)
			}
			if fi, err := os.Stat(dest); err != nil || fi.Size() == 0 {
				t.Errorf("restored file missing or empty: %v", err)
			}
		})
	}
}

func TestMigrateDatabase(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database = config.DatabaseConfig{Type: "sqlite", DataDir: filepath.Join(cfg.BaseDir, "db")}

	if _, err := NewKCApp(cfg, "tree show", "", nil); err == nil {
		t.Fatal("NewKCApp() on an unmigrated database should fail")
	}

	st, err := MigrateDatabase(cfg)
	if err != nil {
		t.Fatalf("MigrateDatabase() error = %v", err)
	}
	if !st.Current() {
		t.Errorf("status after migrate = %+v, want current", st)
	}

	st, err = DatabaseStatus(cfg)
	if err != nil {
		t.Fatalf("DatabaseStatus() error = %v", err)
	}
	if !st.Current() {
		t.Errorf("DatabaseStatus() = %+v, want current", st)
	}

	a := newTestApp(t, cfg, "tree show")
	if _, err := a.ListChannels(context.Background()); err != nil {
		t.Errorf("ListChannels() error = %v", err)
	}
}
