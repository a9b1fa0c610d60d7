package database_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"kc-go/internal/catalog"
	"kc-go/internal/database"
	"kc-go/internal/model"
	"kc-go/internal/testutil"
)

var alice = model.FacilityUser{ID: "user-alice", FacilityID: "facility-1"}

func TestRequestView_BuildForUser(t *testing.T) {
	db := testutil.NewTestDatabase(t)

	req, err := db.Requests().Downloads().BuildForUser(alice, "node-1")
	if err != nil {
		t.Fatalf("BuildForUser() error = %v", err)
	}
	want := model.ContentRequest{
		FacilityID:    "facility-1",
		SourceModel:   model.FacilityUserModel,
		SourceID:      "user-alice",
		Type:          model.RequestDownload,
		Reason:        model.ReasonUserInitiated,
		Status:        model.StatusPending,
		ContentNodeID: "node-1",
	}
	if req.ID != "" || !req.RequestedAt.IsZero() {
		t.Errorf("BuildForUser() should not save: %+v", req)
	}
	if req.FacilityID != want.FacilityID || req.SourceModel != want.SourceModel || req.SourceID != want.SourceID ||
		req.Type != want.Type || req.Reason != want.Reason || req.Status != want.Status || req.ContentNodeID != want.ContentNodeID {
		t.Errorf("BuildForUser() = %+v, want %+v", req, want)
	}
}

func TestRequestView_CreateWithClashingID(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	ctx := context.Background()
	downloads := db.Requests().Downloads()

	first, _ := downloads.BuildForUser(alice, "node-1")
	if err := downloads.Create(ctx, first); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	clash, _ := downloads.BuildForUser(alice, "node-2")
	clash.ID = first.ID
	err := downloads.Create(ctx, clash)
	if err == nil {
		t.Fatal("Create() with a taken id succeeded")
	}
	if errors.Is(err, catalog.ErrDuplicateRequest) {
		t.Errorf("Create() = %v, an id clash is not a duplicate request", err)
	}

	clash, _ = downloads.BuildForUser(alice, "node-2")
	clash.ID = first.ID
	got, created, err := downloads.CreateOrGet(ctx, clash)
	if err == nil || created || got != nil {
		t.Fatalf("CreateOrGet() = %v, %v, %v; want an error", got, created, err)
	}
	if errors.Is(err, catalog.ErrRequestNotFound) || errors.Is(err, catalog.ErrDuplicateRequest) {
		t.Errorf("CreateOrGet() = %v, want a plain insert error", err)
	}
}

func TestRequestView_CreateAndGet(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	ctx := context.Background()
	downloads := db.Requests().Downloads()

	req, _ := downloads.BuildForUser(alice, "node-1")
	req.Metadata = json.RawMessage(`{"priority":1}`)
	req.Status = model.StatusCompleted // forced back to pending
	if err := downloads.Create(ctx, req); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if req.ID == "" {
		t.Fatal("Create() did not assign an id")
	}
	if !req.RequestedAt.Equal(db.Clock.Now()) {
		t.Errorf("RequestedAt = %v, want %v", req.RequestedAt, db.Clock.Now())
	}

	got, err := downloads.Get(ctx, req.ID)
	if err != nil || got == nil {
		t.Fatalf("Get() = %v, %v", got, err)
	}
	if got.Status != model.StatusPending || got.Type != model.RequestDownload {
		t.Errorf("Get() = %+v", got)
	}
	if string(got.Metadata) != `{"priority":1}` {
		t.Errorf("Metadata = %s", got.Metadata)
	}
	if !got.RequestedAt.Equal(req.RequestedAt) {
		t.Errorf("RequestedAt = %v, want %v", got.RequestedAt, req.RequestedAt)
	}

	t.Run("invalid metadata", func(t *testing.T) {
		bad, _ := downloads.BuildForUser(alice, "node-2")
		bad.Metadata = json.RawMessage(`{nope`)
		if err := downloads.Create(ctx, bad); err == nil {
			t.Error("Create() with invalid metadata succeeded")
		}
	})
}

func TestRequestView_Idempotency(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	ctx := context.Background()
	downloads := db.Requests().Downloads()

	first, _ := downloads.BuildForUser(alice, "node-1")
	saved, created, err := downloads.CreateOrGet(ctx, first)
	if err != nil || !created {
		t.Fatalf("CreateOrGet() = %v, %v, %v", saved, created, err)
	}

	second, _ := downloads.BuildForUser(alice, "node-1")
	if err := downloads.Create(ctx, second); !errors.Is(err, catalog.ErrDuplicateRequest) {
		t.Errorf("Create() duplicate error = %v, want ErrDuplicateRequest", err)
	}

	third, _ := downloads.BuildForUser(alice, "node-1")
	again, created, err := downloads.CreateOrGet(ctx, third)
	if err != nil {
		t.Fatalf("CreateOrGet() error = %v", err)
	}
	if created || again.ID != saved.ID {
		t.Errorf("CreateOrGet() = %s created=%v, want existing %s", again.ID, created, saved.ID)
	}

	all, err := downloads.List(ctx, catalog.RequestFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Errorf("List() returned %d requests, want 1", len(all))
	}

	t.Run("other user is distinct", func(t *testing.T) {
		bob, _ := downloads.BuildForUser(model.FacilityUser{ID: "user-bob", FacilityID: "facility-1"}, "node-1")
		if _, created, err := downloads.CreateOrGet(ctx, bob); err != nil || !created {
			t.Errorf("CreateOrGet(bob) = %v, %v", created, err)
		}
	})
}

func TestRequestLedger_TypedViews(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	ctx := context.Background()
	downloads, removals := db.Requests().Downloads(), db.Requests().Removals()

	dl, _ := downloads.BuildForUser(alice, "node-1")
	if err := downloads.Create(ctx, dl); err != nil {
		t.Fatal(err)
	}
	// Same node and user, other type: not a duplicate.
	rm, _ := removals.BuildForUser(alice, "node-1")
	if err := removals.Create(ctx, rm); err != nil {
		t.Fatalf("removal Create() error = %v", err)
	}

	if got, err := removals.Get(ctx, dl.ID); err != nil || got != nil {
		t.Errorf("removals.Get(download id) = %v, %v; want nil, nil", got, err)
	}
	if err := removals.UpdateStatus(ctx, dl.ID, model.StatusInProgress); !errors.Is(err, catalog.ErrRequestNotFound) {
		t.Errorf("removals.UpdateStatus(download id) error = %v, want ErrRequestNotFound", err)
	}
	if err := removals.Delete(ctx, dl.ID); !errors.Is(err, catalog.ErrRequestNotFound) {
		t.Errorf("removals.Delete(download id) error = %v, want ErrRequestNotFound", err)
	}

	list, err := removals.List(ctx, catalog.RequestFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != rm.ID || list[0].Type != model.RequestRemoval {
		t.Errorf("removals.List() = %+v", list)
	}

	t.Run("view helper", func(t *testing.T) {
		v, err := catalog.View(db.Requests(), model.RequestRemoval)
		if err != nil || v.Type() != model.RequestRemoval {
			t.Errorf("View(REMOVAL) = %v, %v", v, err)
		}
		if _, err := catalog.View(db.Requests(), "UPGRADE"); !errors.Is(err, catalog.ErrUntypedRequestView) {
			t.Errorf("View(UPGRADE) error = %v", err)
		}
	})
}

func TestRequestView_Untyped(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	ctx := context.Background()
	v := db.Requests().(*database.RequestLedger).View("")

	if _, err := v.BuildForUser(alice, "node-1"); !errors.Is(err, catalog.ErrUntypedRequestView) {
		t.Errorf("BuildForUser() error = %v", err)
	}
	req := &model.ContentRequest{FacilityID: "f", SourceModel: "m", SourceID: "s", ContentNodeID: "n"}
	if err := v.Create(ctx, req); !errors.Is(err, catalog.ErrUntypedRequestView) {
		t.Errorf("Create() error = %v", err)
	}
	if _, err := v.Get(ctx, "x"); !errors.Is(err, catalog.ErrUntypedRequestView) {
		t.Errorf("Get() error = %v", err)
	}
	if _, err := v.List(ctx, catalog.RequestFilter{}); !errors.Is(err, catalog.ErrUntypedRequestView) {
		t.Errorf("List() error = %v", err)
	}
	if err := v.UpdateStatus(ctx, "x", model.StatusInProgress); !errors.Is(err, catalog.ErrUntypedRequestView) {
		t.Errorf("UpdateStatus() error = %v", err)
	}
	if err := v.Delete(ctx, "x"); !errors.Is(err, catalog.ErrUntypedRequestView) {
		t.Errorf("Delete() error = %v", err)
	}
}

func TestRequestView_List(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	ctx := context.Background()
	downloads := db.Requests().Downloads()

	var ids []string
	for i, spec := range []struct {
		user model.FacilityUser
		node string
	}{
		{alice, "n1"},
		{model.FacilityUser{ID: "u2", FacilityID: "facility-2"}, "n1"},
		{alice, "n2"},
	} {
		req, _ := downloads.BuildForUser(spec.user, spec.node)
		if err := downloads.Create(ctx, req); err != nil {
			t.Fatalf("Create(%d) error = %v", i, err)
		}
		ids = append(ids, req.ID)
		db.Clock.Advance(time.Minute)
	}
	if err := downloads.UpdateStatus(ctx, ids[2], model.StatusInProgress); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		f    catalog.RequestFilter
		want []string
	}{
		{"all oldest first", catalog.RequestFilter{}, ids},
		{"by facility", catalog.RequestFilter{FacilityID: "facility-1"}, []string{ids[0], ids[2]}},
		{"by node", catalog.RequestFilter{ContentNodeID: "n1"}, []string{ids[0], ids[1]}},
		{"by status", catalog.RequestFilter{Status: model.StatusInProgress}, []string{ids[2]}},
		{"by source", catalog.RequestFilter{SourceModel: model.FacilityUserModel, SourceID: "u2"}, []string{ids[1]}},
		{"limited", catalog.RequestFilter{Limit: 2}, ids[:2]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := downloads.List(ctx, tt.f)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("List() returned %d, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i].ID != tt.want[i] {
					t.Errorf("List()[%d] = %s, want %s", i, got[i].ID, tt.want[i])
				}
			}
		})
	}
}

func TestRequestView_UpdateStatus(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	ctx := context.Background()
	downloads := db.Requests().Downloads()

	req, _ := downloads.BuildForUser(alice, "node-1")
	if err := downloads.Create(ctx, req); err != nil {
		t.Fatal(err)
	}

	steps := []struct {
		to      model.RequestStatus
		wantErr error
	}{
		{model.StatusCompleted, catalog.ErrInvalidTransition},
		{model.StatusInProgress, nil},
		{model.StatusFailed, nil},
		{model.StatusPending, nil},
		{model.StatusInProgress, nil},
		{model.StatusCompleted, nil},
		{model.StatusPending, catalog.ErrInvalidTransition},
	}
	for i, s := range steps {
		err := downloads.UpdateStatus(ctx, req.ID, s.to)
		if s.wantErr == nil && err != nil {
			t.Fatalf("step %d: UpdateStatus(%s) error = %v", i, s.to, err)
		}
		if s.wantErr != nil && !errors.Is(err, s.wantErr) {
			t.Fatalf("step %d: UpdateStatus(%s) error = %v, want %v", i, s.to, err, s.wantErr)
		}
	}

	got, _ := downloads.Get(ctx, req.ID)
	if got.Status != model.StatusCompleted {
		t.Errorf("final status = %s, want COMPLETED", got.Status)
	}

	if err := downloads.Delete(ctx, req.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if got, _ := downloads.Get(ctx, req.ID); got != nil {
		t.Error("request still present after Delete()")
	}
}
