package catalog

import (
	"context"
	"errors"
	"io"

	"kc-go/internal/labels"
	"kc-go/internal/model"
	"kc-go/internal/tree"
)

// NodeQuery filters the content node read path. Zero values mean "any".
type NodeQuery struct {
	TreeID    int64
	ChannelID string
	ParentID  string
	IDs       []string
	Kinds     []model.Kind
	Available *bool

	// ExcludeTopics drops nodes of kind topic.
	ExcludeTopics bool

	// Labels are ANDed together; each comes from labels.Registry.HasAllLabels.
	Labels []labels.Predicate

	// DedupeByContentID keeps one row per content id, the lowest id winning.
	DedupeByContentID bool

	// OrderBy overrides the default (tree_id, lft) order. Entries are column
	// names, optionally prefixed with "-" for descending.
	OrderBy []string

	Limit int
}

// TreeStore persists the content node forest as nested sets.
type TreeStore interface {
	// BuildTree inserts spec relative to target. A nil target starts a new
	// tree. Existing rows at or after the insertion cursor are shifted to
	// make room, in the same transaction as the insert.
	BuildTree(ctx context.Context, spec tree.Spec, target *model.ContentNode, pos tree.Position) ([]model.ContentNode, error)

	// GetNode returns nil, nil when the node does not exist.
	GetNode(ctx context.Context, id string) (*model.ContentNode, error)
	GetChildren(ctx context.Context, node *model.ContentNode) ([]model.ContentNode, error)
	GetAncestors(ctx context.Context, node *model.ContentNode) ([]model.ContentNode, error)

	// GetDescendantContentIDs returns the content ids of every non-topic
	// node in node's subtree, node included, in tree order.
	GetDescendantContentIDs(ctx context.Context, node *model.ContentNode) ([]string, error)

	FindNodes(ctx context.Context, q NodeQuery) ([]model.ContentNode, error)

	// DeleteSubtree removes node and its descendants and closes the gap.
	// Returns the number of nodes removed.
	DeleteSubtree(ctx context.Context, node *model.ContentNode) (int64, error)

	SetAvailability(ctx context.Context, ids []string, available bool) error

	// RecomputeTopicAvailability marks each topic of the tree available iff
	// it has an available non-topic descendant.
	RecomputeTopicAvailability(ctx context.Context, treeID int64) error

	// SetLabels replaces the labels of one group on a node and recomputes
	// that group's bitmask columns.
	SetLabels(ctx context.Context, nodeID, group string, labels []string) error

	// RebuildTree recomputes lft, rght and level of a tree from parent links.
	RebuildTree(ctx context.Context, treeID int64) error
}

// FileStore tracks locally cached files and reclaims unused ones.
type FileStore interface {
	GetLocalFile(ctx context.Context, id string) (*model.LocalFile, error)

	// ImportLocalFile stores the bytes of r and records the local file as
	// available. The id is the md5 of the content.
	ImportLocalFile(ctx context.Context, r io.Reader, extension string) (*model.LocalFile, error)

	// AddFile links a content node to a local file.
	AddFile(ctx context.Context, file *model.File) error
	FilesForNode(ctx context.Context, nodeID string) ([]model.File, error)

	// GetUnusedFiles returns available local files that no available node
	// references.
	GetUnusedFiles(ctx context.Context) ([]model.LocalFile, error)

	// DeleteUnusedFiles snapshots the unused files and returns a sweep that
	// removes them as it is iterated.
	DeleteUnusedFiles(ctx context.Context) (*Sweep, error)

	// DeleteStoredFile removes the bytes of file and marks it unavailable.
	// Removal failures are reported as false; the error only reports a
	// failure to persist the flag.
	DeleteStoredFile(ctx context.Context, file model.LocalFile) (bool, error)

	// GetOrphanFiles returns local files referenced by no File row.
	GetOrphanFiles(ctx context.Context) ([]model.LocalFile, error)

	// DeleteOrphanFileObjects deletes orphan metadata rows and returns how
	// many were removed. Stored bytes are left alone.
	DeleteOrphanFileObjects(ctx context.Context) (int64, error)
}

// RequestFilter narrows a request listing. Zero values mean "any".
type RequestFilter struct {
	FacilityID    string
	SourceModel   string
	SourceID      string
	ContentNodeID string
	Status        model.RequestStatus
	Limit         int
}

// RequestView is the ledger restricted to one request type. Every read
// filters on the type and every write is tagged with it.
type RequestView interface {
	Type() model.RequestType

	// BuildForUser returns an unsaved pending, user initiated request.
	BuildForUser(user model.FacilityUser, contentNodeID string) (*model.ContentRequest, error)

	// Create saves req with status pending. A request with the same
	// (type, source model, source id, node) returns ErrDuplicateRequest.
	Create(ctx context.Context, req *model.ContentRequest) error

	// CreateOrGet saves req, or returns the existing duplicate with
	// created=false.
	CreateOrGet(ctx context.Context, req *model.ContentRequest) (*model.ContentRequest, bool, error)

	Get(ctx context.Context, id string) (*model.ContentRequest, error)
	List(ctx context.Context, f RequestFilter) ([]model.ContentRequest, error)
	UpdateStatus(ctx context.Context, id string, status model.RequestStatus) error
	Delete(ctx context.Context, id string) error
}

// RequestLedger holds content download and removal requests in one table.
type RequestLedger interface {
	Downloads() RequestView
	Removals() RequestView
}

// View returns the ledger view for a request type.
func View(l RequestLedger, t model.RequestType) (RequestView, error) {
	switch t {
	case model.RequestDownload:
		return l.Downloads(), nil
	case model.RequestRemoval:
		return l.Removals(), nil
	}
	return nil, ErrUntypedRequestView
}

// ChannelStore persists channel metadata.
type ChannelStore interface {
	CreateChannel(ctx context.Context, ch *model.ChannelMetadata) error
	GetChannel(ctx context.Context, id string) (*model.ChannelMetadata, error)
	ListChannels(ctx context.Context) ([]model.ChannelMetadata, error)

	// UpdateChannelStats recomputes the resource count and published size.
	UpdateChannelStats(ctx context.Context, id string) (*model.ChannelMetadata, error)

	// DeleteChannel removes the channel row and its whole tree, including
	// the File rows of every node. Returns the number of nodes removed.
	DeleteChannel(ctx context.Context, id string) (int64, error)
}

// OperationStore records CLI operations that mutate the catalog.
type OperationStore interface {
	CreateOperation(ctx context.Context, operation, parameters string) (*model.Operation, error)
	FinishOperation(ctx context.Context, id int64, status string) error
	ListOperations(ctx context.Context, limit int) ([]model.Operation, error)
}

// Database is the durable catalog store.
type Database interface {
	Trees() TreeStore
	Files() FileStore
	Requests() RequestLedger
	Channels() ChannelStore
	Operations() OperationStore

	// CheckMigrations returns an error if the schema is not up to date.
	CheckMigrations() error

	// BackupTo writes a consistent copy of the database to path.
	BackupTo(path string) error

	Close() error
}

// ErrInvalidStorageFilename is returned by Storage for names that are not of
// the form <hex hash>.<extension>.
var ErrInvalidStorageFilename = errors.New("invalid storage filename")

// Storage holds the bytes of local files, addressed by filename.
type Storage interface {
	// Put stores size bytes read from r. Storing an existing name is a no-op
	// that still consumes r.
	Put(filename string, r io.Reader, size int64) error

	// Open returns the stored bytes.
	Open(filename string) (io.ReadCloser, error)

	// Remove deletes the stored bytes. A missing file is an error wrapping
	// fs.ErrNotExist.
	Remove(filename string) error

	// Path returns the absolute on-disk location of filename.
	Path(filename string) (string, error)

	// URL returns the client facing URL of filename.
	URL(filename string) (string, error)
}

// CacheInvalidator is notified when channel content changes so downstream
// caches keyed on the content cache key are refreshed.
type CacheInvalidator interface {
	Update() error
}
