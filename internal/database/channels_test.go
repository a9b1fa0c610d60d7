package database_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"kc-go/internal/catalog"
	"kc-go/internal/model"
	"kc-go/internal/testutil"
)

func createChannel(t *testing.T, db *testutil.TestDB, name string, order int64, root model.ContentNode, langs ...string) *model.ChannelMetadata {
	t.Helper()
	ch := &model.ChannelMetadata{ID: root.ChannelID, Name: name, RootID: root.ID, Order: order, IncludedLanguages: langs}
	if err := db.Channels().CreateChannel(context.Background(), ch); err != nil {
		t.Fatalf("CreateChannel() error = %v", err)
	}
	return ch
}

func TestChannelStore_CreateGetList(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	ctx := context.Background()

	a := buildRoot(t, db, topic("alpha"))
	b := buildRoot(t, db, topic("beta"))
	createChannel(t, db, "Beta", 2, b[0])
	createChannel(t, db, "Alpha", 1, a[0], "fr", "en", "en")

	got, err := db.Channels().GetChannel(ctx, a[0].ChannelID)
	if err != nil || got == nil {
		t.Fatalf("GetChannel() = %v, %v", got, err)
	}
	if got.Name != "Alpha" || got.RootID != a[0].ID || fmt.Sprint(got.IncludedLanguages) != "[en fr]" {
		t.Errorf("GetChannel() = %+v", got)
	}

	list, err := db.Channels().ListChannels(ctx)
	if err != nil {
		t.Fatalf("ListChannels() error = %v", err)
	}
	if len(list) != 2 || list[0].Name != "Alpha" || list[1].Name != "Beta" {
		t.Errorf("ListChannels() = %+v, want by order", list)
	}

	if missing, err := db.Channels().GetChannel(ctx, "nope"); err != nil || missing != nil {
		t.Errorf("GetChannel(nope) = %v, %v", missing, err)
	}
	if err := db.Channels().CreateChannel(ctx, &model.ChannelMetadata{ID: a[0].ChannelID, Name: "dup"}); err == nil {
		t.Error("CreateChannel() with duplicate id succeeded")
	}
}

func TestChannelStore_UpdateChannelStats(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	ctx := context.Background()

	spec := topic("root", leaf("a"), leaf("a copy"), leaf("b"), leaf("off"))
	spec.Children[0].ContentID = "content-a"
	spec.Children[1].ContentID = "content-a"
	spec.Children[3].Available = false
	nodes := buildRoot(t, db, spec)
	createChannel(t, db, "Stats", 1, nodes[0])

	attach(t, db, nodes[1], "12345", "mp4")
	attach(t, db, nodes[2], "12345", "mp4")
	attach(t, db, nodes[3], "1234567", "mp4")
	attach(t, db, nodes[4], "123456789", "mp4")

	ch, err := db.Channels().UpdateChannelStats(ctx, nodes[0].ChannelID)
	if err != nil {
		t.Fatalf("UpdateChannelStats() error = %v", err)
	}
	if ch.TotalResourceCount != 2 {
		t.Errorf("TotalResourceCount = %d, want 2", ch.TotalResourceCount)
	}
	if ch.PublishedSize != 12 {
		t.Errorf("PublishedSize = %d, want 12", ch.PublishedSize)
	}

	stored, _ := db.Channels().GetChannel(ctx, nodes[0].ChannelID)
	if stored.TotalResourceCount != 2 || stored.PublishedSize != 12 {
		t.Errorf("stats not persisted: %+v", stored)
	}

	if _, err := db.Channels().UpdateChannelStats(ctx, "nope"); !errors.Is(err, catalog.ErrChannelNotFound) {
		t.Errorf("UpdateChannelStats(nope) error = %v, want ErrChannelNotFound", err)
	}
}

func TestChannelStore_DeleteChannel(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	ctx := context.Background()

	keep := buildRoot(t, db, topic("keep", leaf("k")))
	drop := buildRoot(t, db, topic("drop", topic("t", leaf("x")), leaf("y")))
	createChannel(t, db, "Keep", 1, keep[0])
	createChannel(t, db, "Drop", 2, drop[0], "en")
	lf := attach(t, db, drop[2], "xxx", "mp4")

	removed, err := db.Channels().DeleteChannel(ctx, drop[0].ChannelID)
	if err != nil {
		t.Fatalf("DeleteChannel() error = %v", err)
	}
	if removed != 4 {
		t.Errorf("DeleteChannel() = %d, want 4", removed)
	}

	if ch, _ := db.Channels().GetChannel(ctx, drop[0].ChannelID); ch != nil {
		t.Error("channel row still present")
	}
	for _, n := range drop {
		if got, _ := db.Trees().GetNode(ctx, n.ID); got != nil {
			t.Errorf("node %s still present", n.Title)
		}
	}
	if files, _ := db.Files().FilesForNode(ctx, drop[2].ID); len(files) != 0 {
		t.Error("file rows of deleted nodes still present")
	}
	orphans, _ := db.Files().GetOrphanFiles(ctx)
	if len(orphans) != 1 || orphans[0].ID != lf.ID {
		t.Errorf("GetOrphanFiles() = %v, want the deleted channel's file", localFileIDs(orphans))
	}
	assertNodeCount(t, db, 2)

	if _, err := db.Channels().DeleteChannel(ctx, drop[0].ChannelID); !errors.Is(err, catalog.ErrChannelNotFound) {
		t.Errorf("second DeleteChannel() error = %v, want ErrChannelNotFound", err)
	}
}

func TestOperationStore(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	ctx := context.Background()

	first, err := db.Operations().CreateOperation(ctx, "tree import", "channel.json")
	if err != nil {
		t.Fatalf("CreateOperation() error = %v", err)
	}
	if first.Status != "running" || !first.StartedAt.Equal(db.Clock.Now()) {
		t.Errorf("CreateOperation() = %+v", first)
	}
	db.Clock.Advance(time.Second)
	if err := db.Operations().FinishOperation(ctx, first.ID, "success"); err != nil {
		t.Fatalf("FinishOperation() error = %v", err)
	}
	second, err := db.Operations().CreateOperation(ctx, "files gc", "")
	if err != nil {
		t.Fatal(err)
	}

	ops, err := db.Operations().ListOperations(ctx, 0)
	if err != nil {
		t.Fatalf("ListOperations() error = %v", err)
	}
	if len(ops) != 2 || ops[0].ID != second.ID || ops[1].ID != first.ID {
		t.Fatalf("ListOperations() = %+v, want newest first", ops)
	}
	if ops[1].Status != "success" || ops[1].FinishedAt == nil || !ops[1].FinishedAt.Equal(db.Clock.Now()) {
		t.Errorf("finished operation = %+v", ops[1])
	}
	if ops[0].FinishedAt != nil {
		t.Error("running operation has a finish time")
	}

	if limited, _ := db.Operations().ListOperations(ctx, 1); len(limited) != 1 {
		t.Errorf("ListOperations(1) returned %d", len(limited))
	}
}

func TestSQLiteDatabase_BackupTo(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	ctx := context.Background()
	nodes := buildRoot(t, db, topic("root", leaf("a")))

	path := filepath.Join(t.TempDir(), "copy.db")
	if err := db.BackupTo(path); err != nil {
		t.Fatalf("BackupTo() error = %v", err)
	}

	copyDB := testutil.OpenTestDatabase(t, path)
	if err := copyDB.CheckMigrations(); err != nil {
		t.Errorf("copy CheckMigrations() error = %v", err)
	}
	got, err := copyDB.Trees().GetNode(ctx, nodes[1].ID)
	if err != nil || got == nil || got.Title != "a" {
		t.Errorf("copy GetNode() = %v, %v", got, err)
	}
}
