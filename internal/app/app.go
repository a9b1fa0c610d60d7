package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"kc-go/internal/cachekey"
	"kc-go/internal/catalog"
	"kc-go/internal/config"
	"kc-go/internal/database"
	"kc-go/internal/database/migrations"
	"kc-go/internal/labels"
	"kc-go/internal/model"
	"kc-go/internal/snapshot"
	"kc-go/internal/storage"
	"kc-go/internal/tree"
)

// PassphraseFunc supplies the snapshot passphrase when one is needed.
type PassphraseFunc func() (string, error)

// KCApp is the application layer between the CLI and CatalogService.
// It constructs all dependencies from config, exposes high-level operations
// that accept raw CLI values, and manages the DB lifecycle on Close.
type KCApp struct {
	cfg        *config.Config
	db         *database.SQLiteDatabase
	storage    catalog.Storage
	cache      cachekey.KeyStore
	service    *catalog.CatalogService
	clock      catalog.Clock
	logger     *slog.Logger
	op         *CatalogOperation
	logFile    *os.File
	passphrase PassphraseFunc
}

// NewKCApp creates a fully wired KCApp from the given config.
// operation identifies the CLI command being run (e.g. "tree import").
// passphrase may be nil when snapshots are not encrypted.
// The caller must call Close when done.
func NewKCApp(cfg *config.Config, operation, parameters string, passphrase PassphraseFunc) (*KCApp, error) {
	opID := time.Now().UTC().Format("20060102T150405Z")
	logger, logFile, err := newLogger(cfg.LogDir, opID, parseLogLevel(cfg.LogLevel))
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	closeLog := func() {
		if logFile != nil {
			logFile.Close()
		}
	}
	adapter := &slogAdapter{l: logger}
	clock := catalog.RealClock{}

	st, err := storage.NewStorageFromConfig(cfg.Storage)
	if err != nil {
		closeLog()
		return nil, fmt.Errorf("creating storage: %w", err)
	}

	registry := labels.Default()
	db, err := openDatabase(cfg, database.Options{
		Registry: registry,
		Storage:  st,
		Logger:   adapter,
		Clock:    clock,
	})
	if err != nil {
		closeLog()
		return nil, err
	}

	cache, err := cachekey.NewFromConfig(cfg.Cache, clock)
	if err != nil {
		db.Close()
		closeLog()
		return nil, fmt.Errorf("opening cache key store: %w", err)
	}

	svc := catalog.NewCatalogService(db, st, cache, registry, adapter, clock, catalog.UUIDGenerator{})

	return &KCApp{
		cfg:        cfg,
		db:         db,
		storage:    st,
		cache:      cache,
		service:    svc,
		clock:      clock,
		logger:     logger,
		op:         NewCatalogOperation(operation, parameters),
		logFile:    logFile,
		passphrase: passphrase,
	}, nil
}

// openDatabase opens the configured database and makes sure its schema is
// current. A memory database starts empty, so it is migrated here.
func openDatabase(cfg *config.Config, opts database.Options) (*database.SQLiteDatabase, error) {
	db, err := database.NewDatabaseFromConfig(cfg.Database, opts)
	if err != nil {
		return nil, fmt.Errorf("creating database: %w", err)
	}

	if cfg.Database.Type == "memory" {
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrating memory database: %w", err)
		}
		return db, nil
	}

	if err := db.CheckMigrations(); err != nil {
		db.Close()
		if errors.Is(err, migrations.ErrNoSchema) {
			return nil, fmt.Errorf("database has no schema: run `kc db migrate` first")
		}
		return nil, fmt.Errorf("database schema out of date: %w", err)
	}
	return db, nil
}

// MigrateDatabase applies pending migrations to the configured database.
func MigrateDatabase(cfg *config.Config) (migrations.Status, error) {
	db, err := database.NewDatabaseFromConfig(cfg.Database, database.Options{})
	if err != nil {
		return migrations.Status{}, fmt.Errorf("creating database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return migrations.Status{}, err
	}
	return db.MigrationStatus()
}

// DatabaseStatus reports the schema version of the configured database.
func DatabaseStatus(cfg *config.Config) (migrations.Status, error) {
	db, err := database.NewDatabaseFromConfig(cfg.Database, database.Options{})
	if err != nil {
		return migrations.Status{}, fmt.Errorf("creating database: %w", err)
	}
	defer db.Close()
	return db.MigrationStatus()
}

// persistOperation saves the catalog operation to the database, giving it an
// auto-increment ID. This should only be called for DB-mutating commands.
func (a *KCApp) persistOperation(ctx context.Context) error {
	if a.op.Persisted() {
		return nil
	}
	dbOp, err := a.db.Operations().CreateOperation(ctx, a.op.Operation, a.op.Parameters)
	if err != nil {
		return fmt.Errorf("persisting catalog operation: %w", err)
	}
	a.op.ID = dbOp.ID
	return nil
}

// mutate runs fn as a recorded operation.
func (a *KCApp) mutate(ctx context.Context, fn func() error) error {
	if err := a.persistOperation(ctx); err != nil {
		return err
	}
	err := fn()
	if err != nil {
		a.op.Fail()
	}
	return err
}

func readSpec(path string) (tree.Spec, error) {
	var spec tree.Spec
	data, err := os.ReadFile(path)
	if err != nil {
		return spec, fmt.Errorf("reading tree spec: %w", err)
	}
	if err := json.Unmarshal(data, &spec); err != nil {
		return spec, fmt.Errorf("parsing tree spec %s: %w", path, err)
	}
	return spec, nil
}

// ImportChannel reads a tree spec from a JSON file and imports it as a new
// channel.
func (a *KCApp) ImportChannel(ctx context.Context, specPath, name string, languages []string) (*model.ChannelMetadata, error) {
	spec, err := readSpec(specPath)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = spec.Title
	}
	var ch *model.ChannelMetadata
	err = a.mutate(ctx, func() error {
		ch, err = a.service.ImportChannel(ctx, name, spec, languages)
		return err
	})
	return ch, err
}

// InsertSubtree reads a tree spec from a JSON file and inserts it at
// position relative to targetID.
func (a *KCApp) InsertSubtree(ctx context.Context, targetID, position, specPath string) ([]model.ContentNode, error) {
	pos, err := tree.ParsePosition(position)
	if err != nil {
		return nil, err
	}
	spec, err := readSpec(specPath)
	if err != nil {
		return nil, err
	}
	var nodes []model.ContentNode
	err = a.mutate(ctx, func() error {
		nodes, err = a.service.InsertSubtree(ctx, targetID, pos, spec)
		return err
	})
	return nodes, err
}

// ShowTree returns the subtree rooted at nodeID in preorder.
func (a *KCApp) ShowTree(ctx context.Context, nodeID string) ([]model.ContentNode, error) {
	return a.service.ShowTree(ctx, nodeID)
}

// RebuildTree recomputes the coordinates of the tree holding nodeID.
func (a *KCApp) RebuildTree(ctx context.Context, nodeID string) error {
	n, err := a.db.Trees().GetNode(ctx, nodeID)
	if err != nil {
		return err
	}
	if n == nil {
		return fmt.Errorf("%w: %s", catalog.ErrNodeNotFound, nodeID)
	}
	return a.mutate(ctx, func() error {
		return a.service.RebuildTree(ctx, n.TreeID)
	})
}

// SetAvailability flags nodes available or unavailable.
func (a *KCApp) SetAvailability(ctx context.Context, ids []string, available bool) error {
	return a.mutate(ctx, func() error {
		return a.service.SetAvailability(ctx, ids, available)
	})
}

// SetLabels replaces the labels of a group on a node.
func (a *KCApp) SetLabels(ctx context.Context, nodeID, group string, list []string) error {
	return a.mutate(ctx, func() error {
		return a.service.SetLabels(ctx, nodeID, group, list)
	})
}

// Search runs a faceted search. labelArgs are "group=LABEL,LABEL" strings.
func (a *KCApp) Search(ctx context.Context, channelID, title string, labelArgs []string, limit int) ([]model.ContentNode, error) {
	q := catalog.SearchQuery{ChannelID: channelID, Title: title, Limit: limit}
	for _, arg := range labelArgs {
		group, list, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, fmt.Errorf("label filter %q is not of the form group=LABEL,LABEL", arg)
		}
		if q.Labels == nil {
			q.Labels = make(map[string][]string)
		}
		q.Labels[group] = append(q.Labels[group], labels.ParseList(list)...)
	}
	return a.service.Search(ctx, q)
}

// ListChannels returns every channel in display order.
func (a *KCApp) ListChannels(ctx context.Context) ([]model.ChannelMetadata, error) {
	return a.service.ListChannels(ctx)
}

// ChannelStats recomputes a channel's statistics.
func (a *KCApp) ChannelStats(ctx context.Context, id string) (*model.ChannelMetadata, error) {
	var ch *model.ChannelMetadata
	err := a.mutate(ctx, func() error {
		var err error
		ch, err = a.service.ChannelStats(ctx, id)
		return err
	})
	return ch, err
}

// DeleteChannel removes a channel and its tree.
func (a *KCApp) DeleteChannel(ctx context.Context, id string) (int64, error) {
	var n int64
	err := a.mutate(ctx, func() error {
		var err error
		n, err = a.service.DeleteChannel(ctx, id)
		return err
	})
	return n, err
}

// CollectGarbage removes unused stored files and orphan metadata.
func (a *KCApp) CollectGarbage(ctx context.Context) (*catalog.GCReport, error) {
	var report *catalog.GCReport
	err := a.mutate(ctx, func() error {
		var err error
		report, err = a.service.CollectGarbage(ctx)
		return err
	})
	return report, err
}

// ListOrphanFiles returns local files no node references.
func (a *KCApp) ListOrphanFiles(ctx context.Context) ([]model.LocalFile, error) {
	return a.service.ListOrphanFiles(ctx)
}

// ImportFile stores the file at path and attaches it to nodeID.
func (a *KCApp) ImportFile(ctx context.Context, nodeID, path, preset string, priority int64) (*model.File, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" {
		return nil, "", fmt.Errorf("file %s has no extension", path)
	}

	var file *model.File
	var url string
	err = a.mutate(ctx, func() error {
		var err error
		if file, err = a.service.ImportFile(ctx, nodeID, f, strings.ToLower(ext), preset, priority); err != nil {
			return err
		}
		url, err = a.service.GetStorageURL(ctx, file.LocalFileID)
		return err
	})
	return file, url, err
}

// RequestContent records a download or removal request for a user.
func (a *KCApp) RequestContent(ctx context.Context, t model.RequestType, user model.FacilityUser, nodeID string) (*model.ContentRequest, bool, error) {
	var (
		req     *model.ContentRequest
		created bool
	)
	err := a.mutate(ctx, func() error {
		var err error
		switch t {
		case model.RequestDownload:
			req, created, err = a.service.RequestDownload(ctx, user, nodeID)
		case model.RequestRemoval:
			req, created, err = a.service.RequestRemoval(ctx, user, nodeID)
		default:
			err = catalog.ErrUntypedRequestView
		}
		return err
	})
	return req, created, err
}

// ListRequests returns requests of type t matching f.
func (a *KCApp) ListRequests(ctx context.Context, t model.RequestType, f catalog.RequestFilter) ([]model.ContentRequest, error) {
	return a.service.ListRequests(ctx, t, f)
}

// UpdateRequestStatus moves a request to a new status.
func (a *KCApp) UpdateRequestStatus(ctx context.Context, t model.RequestType, id, status string) error {
	st, ok := model.ParseRequestStatus(strings.ToUpper(status))
	if !ok {
		return fmt.Errorf("unknown request status %q", status)
	}
	return a.mutate(ctx, func() error {
		return a.service.UpdateRequestStatus(ctx, t, id, st)
	})
}

// GetHistory returns the most recent catalog operations.
func (a *KCApp) GetHistory(ctx context.Context, limit int) ([]model.Operation, error) {
	return a.service.GetHistory(ctx, limit)
}

func (a *KCApp) snapshots(ctx context.Context) (*snapshot.Manager, error) {
	dest, err := snapshot.NewDestinationFromConfig(ctx, a.cfg.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("creating snapshot destination: %w", err)
	}
	var sealer *snapshot.Sealer
	if a.cfg.Snapshot.Encrypt {
		if a.passphrase == nil {
			return nil, fmt.Errorf("snapshots are encrypted but no passphrase source is available")
		}
		pass, err := a.passphrase()
		if err != nil {
			return nil, fmt.Errorf("reading passphrase: %w", err)
		}
		sealer = snapshot.NewSealer(pass)
	}
	return snapshot.NewManager(dest, sealer, a.clock, &slogAdapter{l: a.logger}), nil
}

// Snapshot writes a copy of the catalog database to the snapshot destination.
func (a *KCApp) Snapshot(ctx context.Context) (string, error) {
	m, err := a.snapshots(ctx)
	if err != nil {
		return "", err
	}
	var name string
	err = a.mutate(ctx, func() error {
		name, err = m.Create(ctx, a.db)
		return err
	})
	return name, err
}

// RestoreSnapshot writes the named snapshot to destPath. The live database is
// never overwritten; swap the file in by hand.
func (a *KCApp) RestoreSnapshot(ctx context.Context, name, destPath string) error {
	m, err := a.snapshots(ctx)
	if err != nil {
		return err
	}
	return m.Restore(ctx, name, destPath)
}

// ListSnapshots returns the stored snapshot names, oldest first.
func (a *KCApp) ListSnapshots(ctx context.Context) ([]string, error) {
	m, err := a.snapshots(ctx)
	if err != nil {
		return nil, err
	}
	return m.List(ctx)
}

// Close finalizes the operation and closes all resources.
func (a *KCApp) Close() error {
	var firstErr error

	if a.op.Persisted() {
		if err := a.db.Operations().FinishOperation(context.Background(), a.op.ID, a.op.Status); err != nil {
			firstErr = fmt.Errorf("finishing catalog operation: %w", err)
		}
	}

	if err := a.cache.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing cache key store: %w", err)
	}
	if err := a.db.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing database: %w", err)
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
