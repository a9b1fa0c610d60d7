package database_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"kc-go/internal/catalog"
	"kc-go/internal/database"
	"kc-go/internal/labels"
	"kc-go/internal/model"
	"kc-go/internal/testutil"
	"kc-go/internal/tree"
)

func leaf(title string) tree.Spec {
	return tree.Spec{Title: title, Kind: model.KindVideo, Available: true}
}

func topic(title string, children ...tree.Spec) tree.Spec {
	return tree.Spec{Title: title, Kind: model.KindTopic, Children: children}
}

type bounds struct{ lft, rght, level int64 }

func boundsOf(t *testing.T, db *testutil.TestDB, id string) bounds {
	t.Helper()
	n, err := db.Trees().GetNode(context.Background(), id)
	if err != nil {
		t.Fatalf("GetNode(%s) error = %v", id, err)
	}
	if n == nil {
		t.Fatalf("GetNode(%s) = nil", id)
	}
	return bounds{n.Lft, n.Rght, n.Level}
}

func mustGet(t *testing.T, db *testutil.TestDB, id string) *model.ContentNode {
	t.Helper()
	n, err := db.Trees().GetNode(context.Background(), id)
	if err != nil || n == nil {
		t.Fatalf("GetNode(%s) = %v, %v", id, n, err)
	}
	return n
}

func buildRoot(t *testing.T, db *testutil.TestDB, spec tree.Spec) []model.ContentNode {
	t.Helper()
	nodes, err := db.Trees().BuildTree(context.Background(), spec, nil, tree.LastChild)
	if err != nil {
		t.Fatalf("BuildTree() error = %v", err)
	}
	return nodes
}

func assertValidTree(t *testing.T, db *testutil.TestDB, treeID int64) {
	t.Helper()
	nodes, err := db.Trees().FindNodes(context.Background(), catalog.NodeQuery{TreeID: treeID})
	if err != nil {
		t.Fatalf("FindNodes() error = %v", err)
	}
	if err := tree.Validate(nodes); err != nil {
		t.Fatalf("tree %d is not a valid nested set: %v", treeID, err)
	}
}

func TestBuildTree_InsertionExample(t *testing.T) {
	db := testutil.NewTestDatabase(t)

	nodes := buildRoot(t, db, topic("root", leaf("a"), leaf("b"), leaf("c")))
	if len(nodes) != 4 {
		t.Fatalf("BuildTree() returned %d nodes, want 4", len(nodes))
	}

	want := []bounds{{1, 8, 0}, {2, 3, 1}, {4, 5, 1}, {6, 7, 1}}
	for i, n := range nodes {
		if got := boundsOf(t, db, n.ID); got != want[i] {
			t.Errorf("node %s = %+v, want %+v", n.Title, got, want[i])
		}
	}
	if nodes[0].TreeID != 1 {
		t.Errorf("TreeID = %d, want 1", nodes[0].TreeID)
	}
	if nodes[0].ChannelID != nodes[0].ID {
		t.Errorf("ChannelID = %q, want root id %q", nodes[0].ChannelID, nodes[0].ID)
	}
	for _, n := range nodes[1:] {
		if n.ParentID != nodes[0].ID {
			t.Errorf("%s parent = %q, want root", n.Title, n.ParentID)
		}
		if n.ChannelID != nodes[0].ChannelID {
			t.Errorf("%s channel = %q, want inherited %q", n.Title, n.ChannelID, nodes[0].ChannelID)
		}
	}
}

func TestBuildTree_SpaceMakingExample(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	ctx := context.Background()

	nodes := buildRoot(t, db, topic("root", leaf("a"), leaf("b"), leaf("c")))
	root, oldFirst := nodes[0], nodes[1]

	first, err := db.Trees().BuildTree(ctx, leaf("new-1"), mustGet(t, db, root.ID), tree.FirstChild)
	if err != nil {
		t.Fatalf("BuildTree(first-child) error = %v", err)
	}
	second, err := db.Trees().BuildTree(ctx, leaf("new-2"), mustGet(t, db, first[0].ID), tree.Right)
	if err != nil {
		t.Fatalf("BuildTree(right) error = %v", err)
	}

	checks := []struct {
		name string
		id   string
		want bounds
	}{
		{"root", root.ID, bounds{1, 12, 0}},
		{"new-1", first[0].ID, bounds{2, 3, 1}},
		{"new-2", second[0].ID, bounds{4, 5, 1}},
		{"old first child", oldFirst.ID, bounds{6, 7, 1}},
	}
	for _, c := range checks {
		if got := boundsOf(t, db, c.id); got != c.want {
			t.Errorf("%s = %+v, want %+v", c.name, got, c.want)
		}
	}
	assertValidTree(t, db, root.TreeID)
}

func TestBuildTree_Positions(t *testing.T) {
	tests := []struct {
		pos        tree.Position
		wantBounds bounds
		wantParent string // "root" or "mid"
	}{
		{tree.FirstChild, bounds{3, 4, 2}, "mid"},
		{tree.LastChild, bounds{5, 6, 2}, "mid"},
		{tree.Left, bounds{2, 3, 1}, "root"},
		{tree.Right, bounds{6, 7, 1}, "root"},
	}

	for _, tt := range tests {
		t.Run(string(tt.pos), func(t *testing.T) {
			db := testutil.NewTestDatabase(t)
			nodes := buildRoot(t, db, topic("root", topic("mid", leaf("x"))))
			root, mid := nodes[0], nodes[1]

			inserted, err := db.Trees().BuildTree(context.Background(), leaf("new"), mustGet(t, db, mid.ID), tt.pos)
			if err != nil {
				t.Fatalf("BuildTree() error = %v", err)
			}
			got := inserted[0]
			if b := (bounds{got.Lft, got.Rght, got.Level}); b != tt.wantBounds {
				t.Errorf("bounds = %+v, want %+v", b, tt.wantBounds)
			}
			wantParent := root.ID
			if tt.wantParent == "mid" {
				wantParent = mid.ID
			}
			if got.ParentID != wantParent {
				t.Errorf("parent = %q, want %q", got.ParentID, wantParent)
			}
			if b := boundsOf(t, db, root.ID); b.rght != 8 {
				t.Errorf("root rght = %d, want 8", b.rght)
			}
			assertValidTree(t, db, root.TreeID)
		})
	}
}

func TestBuildTree_NestedSubtree(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	ctx := context.Background()

	nodes := buildRoot(t, db, topic("root", leaf("a"), leaf("b")))
	sub := topic("unit", topic("lesson", leaf("v1"), leaf("v2")), leaf("quiz"))

	inserted, err := db.Trees().BuildTree(ctx, sub, mustGet(t, db, nodes[1].ID), tree.Right)
	if err != nil {
		t.Fatalf("BuildTree() error = %v", err)
	}
	if len(inserted) != 5 {
		t.Fatalf("inserted %d nodes, want 5", len(inserted))
	}
	if got := boundsOf(t, db, inserted[0].ID); got != (bounds{4, 13, 1}) {
		t.Errorf("unit = %+v, want {4 13 1}", got)
	}
	if got := boundsOf(t, db, nodes[2].ID); got != (bounds{14, 15, 1}) {
		t.Errorf("b = %+v, want {14 15 1}", got)
	}
	if got := boundsOf(t, db, nodes[0].ID); got != (bounds{1, 16, 0}) {
		t.Errorf("root = %+v, want {1 16 0}", got)
	}
	assertValidTree(t, db, nodes[0].TreeID)
}

func TestBuildTree_Rejections(t *testing.T) {
	ctx := context.Background()

	t.Run("sibling of root", func(t *testing.T) {
		db := testutil.NewTestDatabase(t)
		nodes := buildRoot(t, db, topic("root", leaf("a")))
		for _, pos := range []tree.Position{tree.Left, tree.Right} {
			_, err := db.Trees().BuildTree(ctx, leaf("x"), mustGet(t, db, nodes[0].ID), pos)
			if !errors.Is(err, catalog.ErrInvalidPosition) {
				t.Errorf("BuildTree(%s of root) error = %v, want ErrInvalidPosition", pos, err)
			}
		}
		assertNodeCount(t, db, 2)
	})

	t.Run("unknown position", func(t *testing.T) {
		db := testutil.NewTestDatabase(t)
		nodes := buildRoot(t, db, topic("root"))
		_, err := db.Trees().BuildTree(ctx, leaf("x"), mustGet(t, db, nodes[0].ID), tree.Position("inside"))
		if !errors.Is(err, catalog.ErrInvalidPosition) {
			t.Errorf("error = %v, want ErrInvalidPosition", err)
		}
	})

	t.Run("stale target", func(t *testing.T) {
		db := testutil.NewTestDatabase(t)
		nodes := buildRoot(t, db, topic("root", leaf("a"), leaf("b")))
		staleB := mustGet(t, db, nodes[2].ID)

		if _, err := db.Trees().BuildTree(ctx, leaf("x"), mustGet(t, db, nodes[1].ID), tree.Left); err != nil {
			t.Fatalf("BuildTree() error = %v", err)
		}
		_, err := db.Trees().BuildTree(ctx, leaf("y"), staleB, tree.Right)
		if !errors.Is(err, catalog.ErrStaleTarget) {
			t.Errorf("error = %v, want ErrStaleTarget", err)
		}
		assertNodeCount(t, db, 4)
		assertValidTree(t, db, nodes[0].TreeID)
	})

	t.Run("missing target", func(t *testing.T) {
		db := testutil.NewTestDatabase(t)
		ghost := &model.ContentNode{ID: "ghost", ParentID: "p", TreeID: 1, Lft: 2, Rght: 3, Level: 1}
		_, err := db.Trees().BuildTree(ctx, leaf("x"), ghost, tree.Right)
		if !errors.Is(err, catalog.ErrNodeNotFound) {
			t.Errorf("error = %v, want ErrNodeNotFound", err)
		}
	})

	t.Run("unknown label group", func(t *testing.T) {
		db := testutil.NewTestDatabase(t)
		spec := leaf("x")
		spec.Labels = map[string][]string{"colors": {"RED"}}
		_, err := db.Trees().BuildTree(ctx, spec, nil, tree.LastChild)
		if !errors.Is(err, catalog.ErrUnknownLabelGroup) {
			t.Errorf("error = %v, want ErrUnknownLabelGroup", err)
		}
		assertNodeCount(t, db, 0)
	})
}

func assertNodeCount(t *testing.T, db *testutil.TestDB, want int) {
	t.Helper()
	nodes, err := db.Trees().FindNodes(context.Background(), catalog.NodeQuery{})
	if err != nil {
		t.Fatalf("FindNodes() error = %v", err)
	}
	if len(nodes) != want {
		t.Errorf("node count = %d, want %d", len(nodes), want)
	}
}

func TestBuildTree_ValidAfterInsertSequence(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	ctx := context.Background()

	nodes := buildRoot(t, db, topic("root", topic("t1", leaf("a")), topic("t2")))
	ids := []string{nodes[1].ID, nodes[2].ID, nodes[3].ID}
	positions := []tree.Position{tree.FirstChild, tree.Right, tree.LastChild, tree.Left}

	for i := 0; i < 24; i++ {
		target := mustGet(t, db, ids[i%len(ids)])
		pos := positions[i%len(positions)]
		var spec tree.Spec
		if i%3 == 0 {
			spec = topic(fmt.Sprintf("t-%d", i), leaf(fmt.Sprintf("l-%d", i)))
		} else {
			spec = leaf(fmt.Sprintf("l-%d", i))
		}
		inserted, err := db.Trees().BuildTree(ctx, spec, target, pos)
		if err != nil {
			t.Fatalf("step %d: BuildTree(%s of %s) error = %v", i, pos, target.Title, err)
		}
		ids = append(ids, inserted[0].ID)
		assertValidTree(t, db, nodes[0].TreeID)
	}
}

func TestBuildTree_NewTreesGetDistinctIDs(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	a := buildRoot(t, db, topic("a", leaf("x")))
	b := buildRoot(t, db, topic("b", leaf("y")))

	if a[0].TreeID == b[0].TreeID {
		t.Fatalf("both trees got id %d", a[0].TreeID)
	}
	if got := boundsOf(t, db, b[0].ID); got != (bounds{1, 4, 0}) {
		t.Errorf("second root = %+v, want {1 4 0}", got)
	}
}

func TestBuildTree_ConcurrentInsertsSameTree(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	ctx := context.Background()
	nodes := buildRoot(t, db, topic("root"))
	rootID := nodes[0].ID

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for {
				target, err := db.Trees().GetNode(ctx, rootID)
				if err != nil {
					errs <- err
					return
				}
				_, err = db.Trees().BuildTree(ctx, leaf(fmt.Sprintf("c-%d", i)), target, tree.LastChild)
				if errors.Is(err, catalog.ErrStaleTarget) {
					continue
				}
				errs <- err
				return
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("BuildTree() error = %v", err)
		}
	}

	if got := boundsOf(t, db, rootID); got.rght != 22 {
		t.Errorf("root rght = %d, want 22", got.rght)
	}
	assertValidTree(t, db, nodes[0].TreeID)
}

func TestTreeStore_Navigation(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	ctx := context.Background()

	spec := topic("root",
		topic("t1", leaf("a"), leaf("b")),
		leaf("c"),
	)
	spec.Children[0].Children[1].ContentID = "shared"
	nodes := buildRoot(t, db, spec)
	root, t1, a, b, c := nodes[0], nodes[1], nodes[2], nodes[3], nodes[4]

	t.Run("children", func(t *testing.T) {
		children, err := db.Trees().GetChildren(ctx, &root)
		if err != nil {
			t.Fatal(err)
		}
		if len(children) != 2 || children[0].ID != t1.ID || children[1].ID != c.ID {
			t.Errorf("GetChildren(root) = %v", titles(children))
		}
	})

	t.Run("ancestors", func(t *testing.T) {
		anc, err := db.Trees().GetAncestors(ctx, &b)
		if err != nil {
			t.Fatal(err)
		}
		if len(anc) != 2 || anc[0].ID != root.ID || anc[1].ID != t1.ID {
			t.Errorf("GetAncestors(b) = %v", titles(anc))
		}
	})

	t.Run("descendant content ids", func(t *testing.T) {
		ids, err := db.Trees().GetDescendantContentIDs(ctx, &root)
		if err != nil {
			t.Fatal(err)
		}
		want := []string{a.ContentID, "shared", c.ContentID}
		if fmt.Sprint(ids) != fmt.Sprint(want) {
			t.Errorf("GetDescendantContentIDs(root) = %v, want %v", ids, want)
		}
	})

	t.Run("missing node", func(t *testing.T) {
		n, err := db.Trees().GetNode(ctx, "nope")
		if err != nil || n != nil {
			t.Errorf("GetNode(nope) = %v, %v; want nil, nil", n, err)
		}
	})
}

func titles(nodes []model.ContentNode) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Title
	}
	return out
}

func TestFindNodes_DedupeByContentID(t *testing.T) {
	for _, strategy := range []database.DedupeStrategy{database.DedupeGroupByMin, database.DedupeWindow} {
		t.Run(string(strategy), func(t *testing.T) {
			db := testutil.NewTestDatabaseWithDedupe(t, strategy)
			if db.DedupeStrategy() != strategy {
				t.Fatalf("DedupeStrategy() = %q", db.DedupeStrategy())
			}
			ctx := context.Background()

			// Two channels carry the same two resources, one with a copy
			// inside the same tree as well.
			one := topic("one", leaf("A"), leaf("B"), leaf("A again"))
			one.Children[0].ContentID = "content-a"
			one.Children[1].ContentID = "content-b"
			one.Children[2].ContentID = "content-a"
			first := buildRoot(t, db, one)

			two := topic("two", leaf("B copy"), leaf("A copy"))
			two.Children[0].ContentID = "content-b"
			two.Children[1].ContentID = "content-a"
			buildRoot(t, db, two)

			got, err := db.Trees().FindNodes(ctx, catalog.NodeQuery{
				ExcludeTopics:     true,
				DedupeByContentID: true,
			})
			if err != nil {
				t.Fatalf("FindNodes() error = %v", err)
			}
			if len(got) != 2 {
				t.Fatalf("FindNodes() returned %v, want one node per content id", titles(got))
			}
			if got[0].ID != first[1].ID || got[1].ID != first[2].ID {
				t.Errorf("FindNodes() = %v, want the lowest id per content id", titles(got))
			}

			notAvailable := false
			got, err = db.Trees().FindNodes(ctx, catalog.NodeQuery{
				Available:         &notAvailable,
				DedupeByContentID: true,
			})
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != 2 || got[0].Kind != model.KindTopic {
				t.Errorf("FindNodes(unavailable) = %v, want the two topics", titles(got))
			}
		})
	}
}

func TestFindNodes_Filters(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	ctx := context.Background()

	spec := topic("root", leaf("v"), tree.Spec{Title: "doc", Kind: model.KindDocument}, leaf("w"))
	nodes := buildRoot(t, db, spec)

	tests := []struct {
		name string
		q    catalog.NodeQuery
		want []string
	}{
		{"by kind", catalog.NodeQuery{Kinds: []model.Kind{model.KindDocument}}, []string{"doc"}},
		{"by parent", catalog.NodeQuery{ParentID: nodes[0].ID}, []string{"v", "doc", "w"}},
		{"by ids", catalog.NodeQuery{IDs: []string{nodes[3].ID, nodes[1].ID}}, []string{"v", "w"}},
		{"empty ids", catalog.NodeQuery{IDs: []string{}}, []string{}},
		{"ordered", catalog.NodeQuery{ExcludeTopics: true, OrderBy: []string{"-title"}}, []string{"w", "v", "doc"}},
		{"limited", catalog.NodeQuery{ExcludeTopics: true, Limit: 1}, []string{"v"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := db.Trees().FindNodes(ctx, tt.q)
			if err != nil {
				t.Fatalf("FindNodes() error = %v", err)
			}
			if fmt.Sprint(titles(got)) != fmt.Sprint(tt.want) {
				t.Errorf("FindNodes() = %v, want %v", titles(got), tt.want)
			}
		})
	}

	t.Run("rejects unknown order column", func(t *testing.T) {
		if _, err := db.Trees().FindNodes(ctx, catalog.NodeQuery{OrderBy: []string{"rght; DROP TABLE x"}}); err == nil {
			t.Error("expected error")
		}
	})
}

func TestFindNodes_Labels(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	ctx := context.Background()
	reg := labels.Default()

	math := leaf("math")
	math.Labels = map[string][]string{model.GroupCategories: {"SCHOOL.MATHEMATICS"}}
	sci := leaf("science")
	sci.Labels = map[string][]string{model.GroupCategories: {"SCHOOL.SCIENCES"}}
	both := leaf("both")
	both.Labels = map[string][]string{
		model.GroupCategories:   {"SCHOOL.MATHEMATICS"},
		model.GroupLearnerNeeds: {"PEERS"},
	}
	buildRoot(t, db, topic("root", math, sci, both, leaf("none")))

	query := func(t *testing.T, group string, requested ...string) []string {
		t.Helper()
		p, err := reg.HasAllLabels(group, requested)
		if err != nil {
			t.Fatal(err)
		}
		got, err := db.Trees().FindNodes(ctx, catalog.NodeQuery{ExcludeTopics: true, Labels: []labels.Predicate{p}})
		if err != nil {
			t.Fatalf("FindNodes() error = %v", err)
		}
		return titles(got)
	}

	if got := query(t, model.GroupCategories, "SCHOOL.MATHEMATICS"); fmt.Sprint(got) != "[math both]" {
		t.Errorf("math = %v", got)
	}
	if got := query(t, model.GroupCategories, "SCHOOL.MATHEMATICS", "SCHOOL.SCIENCES"); fmt.Sprint(got) != "[math science both]" {
		t.Errorf("math or science = %v", got)
	}
	if got := query(t, model.GroupLearnerNeeds, "PEERS"); fmt.Sprint(got) != "[both]" {
		t.Errorf("peers = %v", got)
	}
	if got := query(t, model.GroupCategories, "NOT_A_LABEL"); len(got) != 4 {
		t.Errorf("unknown label should not constrain, got %v", got)
	}

	t.Run("labels persist as text and bitmask", func(t *testing.T) {
		got, err := db.Trees().FindNodes(ctx, catalog.NodeQuery{OrderBy: []string{"title"}, ExcludeTopics: true, Limit: 1})
		if err != nil {
			t.Fatal(err)
		}
		n := got[0]
		if n.Title != "both" {
			t.Fatalf("first by title = %s", n.Title)
		}
		if fmt.Sprint(n.Labels[model.GroupLearnerNeeds]) != "[PEERS]" {
			t.Errorf("labels = %v", n.Labels)
		}
		a, _ := reg.Lookup(model.GroupLearnerNeeds, "PEERS")
		if n.Bitmasks[a.Column]&a.Bits == 0 {
			t.Errorf("bitmask %s = %b, missing bit %b", a.Column, n.Bitmasks[a.Column], a.Bits)
		}
	})
}

func TestTreeStore_SetLabels(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	ctx := context.Background()
	reg := labels.Default()

	nodes := buildRoot(t, db, topic("root", leaf("x")))
	id := nodes[1].ID

	if err := db.Trees().SetLabels(ctx, id, model.GroupCategories, []string{"SCHOOL.HISTORY", "READ"}); err != nil {
		t.Fatalf("SetLabels() error = %v", err)
	}
	n := mustGet(t, db, id)
	p, _ := reg.HasAllLabels(model.GroupCategories, []string{"READ"})
	if !p.Matches(n.Bitmasks) {
		t.Errorf("bitmasks %v do not match READ", n.Bitmasks)
	}

	if err := db.Trees().SetLabels(ctx, id, model.GroupCategories, nil); err != nil {
		t.Fatalf("SetLabels(nil) error = %v", err)
	}
	n = mustGet(t, db, id)
	if p.Matches(n.Bitmasks) || len(n.Labels[model.GroupCategories]) != 0 {
		t.Errorf("labels not cleared: %v %v", n.Labels, n.Bitmasks)
	}

	tests := []struct {
		name  string
		node  string
		group string
		list  []string
		want  error
	}{
		{"unknown group", id, "colors", nil, catalog.ErrUnknownLabelGroup},
		{"missing node", "nope", model.GroupCategories, []string{"READ"}, catalog.ErrNodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := db.Trees().SetLabels(ctx, tt.node, tt.group, tt.list)
			if !errors.Is(err, tt.want) {
				t.Errorf("SetLabels() error = %v, want %v", err, tt.want)
			}
		})
	}
	t.Run("unknown label", func(t *testing.T) {
		if err := db.Trees().SetLabels(ctx, id, model.GroupCategories, []string{"NOT_A_LABEL"}); err == nil {
			t.Error("expected error")
		}
	})
}

func TestTreeStore_DeleteSubtree(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	ctx := context.Background()

	nodes := buildRoot(t, db, topic("root", leaf("a"), topic("t", leaf("x"), leaf("y")), leaf("b")))
	root, a, sub, b := nodes[0], nodes[1], nodes[2], nodes[5]

	removed, err := db.Trees().DeleteSubtree(ctx, mustGet(t, db, sub.ID))
	if err != nil {
		t.Fatalf("DeleteSubtree() error = %v", err)
	}
	if removed != 3 {
		t.Errorf("DeleteSubtree() = %d, want 3", removed)
	}

	if got := boundsOf(t, db, root.ID); got != (bounds{1, 6, 0}) {
		t.Errorf("root = %+v, want {1 6 0}", got)
	}
	if got := boundsOf(t, db, a.ID); got != (bounds{2, 3, 1}) {
		t.Errorf("a = %+v, want {2 3 1}", got)
	}
	if got := boundsOf(t, db, b.ID); got != (bounds{4, 5, 1}) {
		t.Errorf("b = %+v, want {4 5 1}", got)
	}
	assertNodeCount(t, db, 3)
	assertValidTree(t, db, root.TreeID)

	t.Run("stale node", func(t *testing.T) {
		_, err := db.Trees().DeleteSubtree(ctx, &b)
		if !errors.Is(err, catalog.ErrStaleTarget) {
			t.Errorf("error = %v, want ErrStaleTarget", err)
		}
	})
	t.Run("missing node", func(t *testing.T) {
		_, err := db.Trees().DeleteSubtree(ctx, &sub)
		if !errors.Is(err, catalog.ErrNodeNotFound) {
			t.Errorf("error = %v, want ErrNodeNotFound", err)
		}
	})
}

func TestTreeStore_Availability(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	ctx := context.Background()

	spec := topic("root", topic("t1", leaf("a")), topic("t2", leaf("b")), topic("empty"))
	spec.Children[0].Children[0].Available = false
	spec.Children[1].Children[0].Available = false
	nodes := buildRoot(t, db, spec)
	root, t1, a, t2, empty := nodes[0], nodes[1], nodes[2], nodes[3], nodes[5]

	if err := db.Trees().SetAvailability(ctx, []string{a.ID}, true); err != nil {
		t.Fatalf("SetAvailability() error = %v", err)
	}
	if err := db.Trees().RecomputeTopicAvailability(ctx, root.TreeID); err != nil {
		t.Fatalf("RecomputeTopicAvailability() error = %v", err)
	}

	want := map[string]bool{root.ID: true, t1.ID: true, a.ID: true, t2.ID: false, empty.ID: false}
	for id, avail := range want {
		if n := mustGet(t, db, id); n.Available != avail {
			t.Errorf("%s available = %v, want %v", n.Title, n.Available, avail)
		}
	}
}

func TestTreeStore_RebuildTree(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	ctx := context.Background()

	nodes := buildRoot(t, db, topic("root", topic("t", leaf("x")), leaf("y")))
	root := nodes[0]

	// Scramble the coordinates; parent links stay intact.
	if _, err := db.DB().ExecContext(ctx,
		"UPDATE content_contentnode SET lft = lft + 100, rght = rght + 200, level = 7 WHERE tree_id = ?", root.TreeID); err != nil {
		t.Fatal(err)
	}

	if err := db.Trees().RebuildTree(ctx, root.TreeID); err != nil {
		t.Fatalf("RebuildTree() error = %v", err)
	}
	want := []bounds{{1, 8, 0}, {2, 5, 1}, {3, 4, 2}, {6, 7, 1}}
	for i, n := range nodes {
		if got := boundsOf(t, db, n.ID); got != want[i] {
			t.Errorf("%s = %+v, want %+v", n.Title, got, want[i])
		}
	}
}
