package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"

	"kc-go/internal/labels"
	"kc-go/internal/model"
	"kc-go/internal/search"
	"kc-go/internal/tree"
)

// CatalogService is the orchestration layer that coordinates the tree, file,
// request and channel stores for the operations the CLI exposes.
type CatalogService struct {
	database Database
	storage  Storage
	cache    CacheInvalidator
	registry *labels.Registry
	logger   Logger
	clock    Clock
	idgen    IDGenerator
}

// NewCatalogService creates a new CatalogService with the provided dependencies.
// cache may be nil when nothing downstream caches channel content.
func NewCatalogService(database Database, storage Storage, cache CacheInvalidator, registry *labels.Registry, logger Logger, clock Clock, idgen IDGenerator) *CatalogService {
	if logger == nil {
		logger = NewNopLogger()
	}
	if registry == nil {
		registry = labels.Default()
	}
	return &CatalogService{
		database: database,
		storage:  storage,
		cache:    cache,
		registry: registry,
		logger:   logger,
		clock:    clock,
		idgen:    idgen,
	}
}

// invalidate bumps the content cache key. Failures are logged, not returned,
// since the catalog change itself has already been committed.
func (s *CatalogService) invalidate(reason string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Update(); err != nil {
		s.logger.Warn("content cache key update failed", "reason", reason, "error", err)
	}
}

// ImportChannel builds spec as a new tree and records the channel that owns
// it. The channel id defaults to the root node id.
func (s *CatalogService) ImportChannel(ctx context.Context, name string, spec tree.Spec, languages []string) (*model.ChannelMetadata, error) {
	if spec.ID == "" {
		spec.ID = s.idgen.New()
	}
	if spec.ChannelID == "" {
		spec.ChannelID = spec.ID
	}

	existing, err := s.database.Channels().GetChannel(ctx, spec.ChannelID)
	if err != nil {
		return nil, fmt.Errorf("checking for existing channel: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("channel already exists: %s", spec.ChannelID)
	}

	channels, err := s.database.Channels().ListChannels(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing channels: %w", err)
	}

	nodes, err := s.database.Trees().BuildTree(ctx, spec, nil, tree.LastChild)
	if err != nil {
		return nil, fmt.Errorf("building channel tree: %w", err)
	}
	root := nodes[0]

	ch := &model.ChannelMetadata{
		ID:                spec.ChannelID,
		Name:              name,
		RootID:            root.ID,
		Order:             int64(len(channels) + 1),
		IncludedLanguages: languages,
	}
	if err := s.database.Channels().CreateChannel(ctx, ch); err != nil {
		if _, delErr := s.database.Trees().DeleteSubtree(ctx, &root); delErr != nil {
			s.logger.Error("failed to remove tree of unrecorded channel", "root", root.ID, "error", delErr)
		}
		return nil, fmt.Errorf("creating channel: %w", err)
	}

	updated, err := s.database.Channels().UpdateChannelStats(ctx, ch.ID)
	if err != nil {
		if _, delErr := s.database.Channels().DeleteChannel(ctx, ch.ID); delErr != nil {
			s.logger.Error("failed to remove partially imported channel", "channel", ch.ID, "error", delErr)
		}
		return nil, fmt.Errorf("computing channel stats: %w", err)
	}

	s.logger.Info("channel imported", "channel", ch.ID, "nodes", len(nodes))
	s.invalidate("channel imported")
	return updated, nil
}

// InsertSubtree builds spec at pos relative to the node targetID.
func (s *CatalogService) InsertSubtree(ctx context.Context, targetID string, pos tree.Position, spec tree.Spec) ([]model.ContentNode, error) {
	target, err := s.database.Trees().GetNode(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("finding target node: %w", err)
	}
	if target == nil {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, targetID)
	}

	nodes, err := s.database.Trees().BuildTree(ctx, spec, target, pos)
	if err != nil {
		return nil, err
	}

	s.logger.Info("subtree inserted", "target", targetID, "position", string(pos), "nodes", len(nodes))
	s.invalidate("subtree inserted")
	return nodes, nil
}

// DeleteChannel removes a channel and its whole tree. Returns the number of
// nodes removed.
func (s *CatalogService) DeleteChannel(ctx context.Context, id string) (int64, error) {
	n, err := s.database.Channels().DeleteChannel(ctx, id)
	if err != nil {
		return 0, err
	}
	s.logger.Info("channel deleted", "channel", id, "nodes", n)
	s.invalidate("channel deleted")
	return n, nil
}

// ListChannels returns every channel in display order.
func (s *CatalogService) ListChannels(ctx context.Context) ([]model.ChannelMetadata, error) {
	return s.database.Channels().ListChannels(ctx)
}

// ChannelStats recomputes and returns a channel's resource count and size.
func (s *CatalogService) ChannelStats(ctx context.Context, id string) (*model.ChannelMetadata, error) {
	return s.database.Channels().UpdateChannelStats(ctx, id)
}

// SetAvailability flags the given nodes, then rolls availability up through
// the topics of every affected tree and refreshes the stats of the owning
// channels.
func (s *CatalogService) SetAvailability(ctx context.Context, ids []string, available bool) error {
	trees := make(map[int64]bool)
	var channels []string
	for _, id := range ids {
		n, err := s.database.Trees().GetNode(ctx, id)
		if err != nil {
			return fmt.Errorf("finding node %s: %w", id, err)
		}
		if n == nil {
			return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
		}
		trees[n.TreeID] = true
		if !slices.Contains(channels, n.ChannelID) {
			channels = append(channels, n.ChannelID)
		}
	}

	if err := s.database.Trees().SetAvailability(ctx, ids, available); err != nil {
		return fmt.Errorf("setting availability: %w", err)
	}

	treeIDs := make([]int64, 0, len(trees))
	for id := range trees {
		treeIDs = append(treeIDs, id)
	}
	slices.Sort(treeIDs)
	for _, treeID := range treeIDs {
		if err := s.database.Trees().RecomputeTopicAvailability(ctx, treeID); err != nil {
			return fmt.Errorf("recomputing topic availability for tree %d: %w", treeID, err)
		}
	}

	for _, channelID := range channels {
		_, err := s.database.Channels().UpdateChannelStats(ctx, channelID)
		if errors.Is(err, ErrChannelNotFound) {
			s.logger.Debug("nodes belong to no recorded channel", "channel", channelID)
			continue
		}
		if err != nil {
			return fmt.Errorf("updating stats for channel %s: %w", channelID, err)
		}
	}

	s.logger.Info("availability updated", "nodes", len(ids), "available", available)
	s.invalidate("availability changed")
	return nil
}

// SetLabels replaces the labels of one group on a node.
func (s *CatalogService) SetLabels(ctx context.Context, nodeID, group string, list []string) error {
	if err := s.database.Trees().SetLabels(ctx, nodeID, group, list); err != nil {
		return err
	}
	s.invalidate("labels changed")
	return nil
}

// SearchQuery describes a faceted search over available resources.
type SearchQuery struct {
	ChannelID string

	// Labels maps a label group to the labels requested in it. Within a
	// bitmask column the labels are alternatives; every column touched by
	// the request must match.
	Labels map[string][]string

	// Title narrows and ranks the matches with a fuzzy title match.
	Title string

	Limit int
}

// Search returns available, non-topic nodes matching q, one per content id.
func (s *CatalogService) Search(ctx context.Context, q SearchQuery) ([]model.ContentNode, error) {
	available := true
	nq := NodeQuery{
		ChannelID:         q.ChannelID,
		Available:         &available,
		ExcludeTopics:     true,
		DedupeByContentID: true,
	}

	groups := make([]string, 0, len(q.Labels))
	for g := range q.Labels {
		groups = append(groups, g)
	}
	slices.Sort(groups)
	for _, g := range groups {
		p, err := s.registry.HasAllLabels(g, q.Labels[g])
		if err != nil {
			return nil, err
		}
		if p.Empty() {
			s.logger.Debug("no known labels requested", "group", g)
			continue
		}
		nq.Labels = append(nq.Labels, p)
	}

	if q.Title == "" {
		nq.Limit = q.Limit
	}

	nodes, err := s.database.Trees().FindNodes(ctx, nq)
	if err != nil {
		return nil, fmt.Errorf("finding nodes: %w", err)
	}
	if q.Title != "" {
		nodes = search.RankTitles(nodes, q.Title)
		if q.Limit > 0 && len(nodes) > q.Limit {
			nodes = nodes[:q.Limit]
		}
	}
	return nodes, nil
}

// GCReport summarizes one garbage collection pass.
type GCReport struct {
	Unused         int   // files in the unused snapshot
	Removed        int   // stored files deleted
	Failed         int   // stored files that could not be deleted
	OrphansDeleted int64 // metadata rows referenced by no File
}

// CollectGarbage reclaims unused stored files, then drops orphan metadata.
// Unused files are marked unavailable whether or not their bytes could be
// removed.
func (s *CatalogService) CollectGarbage(ctx context.Context) (*GCReport, error) {
	sweep, err := s.database.Files().DeleteUnusedFiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("finding unused files: %w", err)
	}

	report := &GCReport{Unused: sweep.Len()}
	for removed, f := range sweep.Results() {
		if removed {
			report.Removed++
		} else {
			report.Failed++
			s.logger.Warn("stored file not removed", "file", f.Filename())
		}
	}
	if err := sweep.Err(); err != nil {
		return report, fmt.Errorf("marking files unavailable: %w", err)
	}

	orphans, err := s.database.Files().DeleteOrphanFileObjects(ctx)
	if err != nil {
		return report, fmt.Errorf("deleting orphan files: %w", err)
	}
	report.OrphansDeleted = orphans

	s.logger.Info("garbage collected",
		"unused", report.Unused, "removed", report.Removed,
		"failed", report.Failed, "orphans", report.OrphansDeleted)
	return report, nil
}

// ListOrphanFiles returns local files that no File row references.
func (s *CatalogService) ListOrphanFiles(ctx context.Context) ([]model.LocalFile, error) {
	return s.database.Files().GetOrphanFiles(ctx)
}

// ImportFile stores the bytes of r and attaches them to a node under preset.
func (s *CatalogService) ImportFile(ctx context.Context, nodeID string, r io.Reader, extension, preset string, priority int64) (*model.File, error) {
	node, err := s.database.Trees().GetNode(ctx, nodeID)
	if err != nil {
		return nil, fmt.Errorf("finding node: %w", err)
	}
	if node == nil {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
	}

	local, err := s.database.Files().ImportLocalFile(ctx, r, extension)
	if err != nil {
		return nil, fmt.Errorf("importing local file: %w", err)
	}

	file := &model.File{
		ID:            s.idgen.New(),
		ContentNodeID: node.ID,
		LocalFileID:   local.ID,
		Preset:        preset,
		Priority:      priority,
	}
	if err := s.database.Files().AddFile(ctx, file); err != nil {
		return nil, fmt.Errorf("adding file: %w", err)
	}

	s.logger.Info("file imported", "node", node.ID, "file", local.Filename(), "size", local.FileSize)
	return file, nil
}

// GetStorageURL returns the client facing URL of a local file.
func (s *CatalogService) GetStorageURL(ctx context.Context, localFileID string) (string, error) {
	f, err := s.database.Files().GetLocalFile(ctx, localFileID)
	if err != nil {
		return "", fmt.Errorf("finding local file: %w", err)
	}
	if f == nil {
		return "", fmt.Errorf("local file not found: %s", localFileID)
	}
	return s.storage.URL(f.Filename())
}

// RequestDownload records that user wants nodeID downloaded. Repeating the
// request returns the existing record with created=false.
func (s *CatalogService) RequestDownload(ctx context.Context, user model.FacilityUser, nodeID string) (*model.ContentRequest, bool, error) {
	return s.request(ctx, s.database.Requests().Downloads(), user, nodeID)
}

// RequestRemoval records that user wants nodeID removed.
func (s *CatalogService) RequestRemoval(ctx context.Context, user model.FacilityUser, nodeID string) (*model.ContentRequest, bool, error) {
	return s.request(ctx, s.database.Requests().Removals(), user, nodeID)
}

func (s *CatalogService) request(ctx context.Context, view RequestView, user model.FacilityUser, nodeID string) (*model.ContentRequest, bool, error) {
	req, err := view.BuildForUser(user, nodeID)
	if err != nil {
		return nil, false, err
	}
	saved, created, err := view.CreateOrGet(ctx, req)
	if err != nil {
		return nil, false, fmt.Errorf("saving %s request: %w", view.Type(), err)
	}
	if created {
		s.logger.Info("content request created", "type", string(view.Type()), "node", nodeID, "facility", user.FacilityID)
	}
	return saved, created, nil
}

// ListRequests returns requests of type t matching f.
func (s *CatalogService) ListRequests(ctx context.Context, t model.RequestType, f RequestFilter) ([]model.ContentRequest, error) {
	view, err := View(s.database.Requests(), t)
	if err != nil {
		return nil, err
	}
	return view.List(ctx, f)
}

// UpdateRequestStatus moves a request of type t to status.
func (s *CatalogService) UpdateRequestStatus(ctx context.Context, t model.RequestType, id string, status model.RequestStatus) error {
	view, err := View(s.database.Requests(), t)
	if err != nil {
		return err
	}
	if err := view.UpdateStatus(ctx, id, status); err != nil {
		return err
	}
	s.logger.Info("content request updated", "type", string(t), "id", id, "status", string(status))
	return nil
}

// RebuildTree recomputes a tree's coordinates from its parent links.
func (s *CatalogService) RebuildTree(ctx context.Context, treeID int64) error {
	if err := s.database.Trees().RebuildTree(ctx, treeID); err != nil {
		return fmt.Errorf("rebuilding tree %d: %w", treeID, err)
	}
	s.logger.Info("tree rebuilt", "tree", treeID)
	return nil
}

// ShowTree returns the subtree rooted at nodeID in preorder.
func (s *CatalogService) ShowTree(ctx context.Context, nodeID string) ([]model.ContentNode, error) {
	root, err := s.database.Trees().GetNode(ctx, nodeID)
	if err != nil {
		return nil, fmt.Errorf("finding node: %w", err)
	}
	if root == nil {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
	}

	all, err := s.database.Trees().FindNodes(ctx, NodeQuery{TreeID: root.TreeID})
	if err != nil {
		return nil, fmt.Errorf("listing tree: %w", err)
	}
	out := make([]model.ContentNode, 0, root.DescendantCount()+1)
	for _, n := range all {
		if n.Lft >= root.Lft && n.Rght <= root.Rght {
			out = append(out, n)
		}
	}
	return out, nil
}

// GetHistory returns the most recent recorded operations, newest first.
func (s *CatalogService) GetHistory(ctx context.Context, limit int) ([]model.Operation, error) {
	return s.database.Operations().ListOperations(ctx, limit)
}

// IsNotFound reports whether err is one of the catalog's not found errors.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNodeNotFound) || errors.Is(err, ErrChannelNotFound) || errors.Is(err, ErrRequestNotFound)
}
