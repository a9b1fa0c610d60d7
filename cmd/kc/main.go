package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"kc-go/internal/app"
	"kc-go/internal/catalog"
	"kc-go/internal/config"
	"kc-go/internal/labels"
	"kc-go/internal/model"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if defaults.LogLevel != "" {
		cfg.LogLevel = defaults.LogLevel
	}
	return cfg, nil
}

// newApp reads the config and creates a KCApp. The caller must defer app.Close().
// cmd names the operation recorded in the history table.
func newApp(cmd *cobra.Command, args []string) (*app.KCApp, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	operation := strings.TrimPrefix(cmd.CommandPath(), rootCmd.Name()+" ")
	a, err := app.NewKCApp(cfg, operation, strings.Join(args, " "), readPassphrase)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

func printNodes(nodes []model.ContentNode, indent bool) {
	base := int64(0)
	if len(nodes) > 0 {
		base = nodes[0].Level
	}
	for _, n := range nodes {
		avail := " "
		if n.Available {
			avail = "*"
		}
		pad := ""
		if indent {
			pad = strings.Repeat("  ", int(n.Level-base))
		}
		fmt.Printf("%s %s%-10s %s  [%d,%d]  %s\n", avail, pad, n.Kind, n.Title, n.Lft, n.Rght, n.ID)
	}
}

func printRequests(reqs []model.ContentRequest) {
	if len(reqs) == 0 {
		fmt.Println("No requests.")
		return
	}
	for _, r := range reqs {
		fmt.Printf("%s  %-8s  %-11s  %s  node:%s  %s\n",
			r.ID,
			r.Type,
			r.Status,
			r.RequestedAt.Format("2006-01-02 15:04:05"),
			r.ContentNodeID,
			r.SourceID,
		)
	}
}

var rootCmd = &cobra.Command{
	Use:          "kc",
	Short:        "Offline content catalog",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults.BaseDir)
		if err := config.Init(defaults.ConfigPath, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults.ConfigPath)
		fmt.Printf("Base Dir: %s\n", defaults.BaseDir)
		fmt.Println("Run `kc db migrate` to create the catalog database.")
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		fmt.Printf("Base Dir:  %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:   %s (%s)\n", cfg.LogDir, cfg.LogLevel)
		fmt.Printf("Database:  %s %s\n", cfg.Database.Type, cfg.Database.DataDir)
		fmt.Printf("Storage:   %s %s  url:%s\n", cfg.Storage.Type, cfg.Storage.ContentDir, cfg.Storage.BaseURL)
		fmt.Printf("Cache:     %s %s\n", cfg.Cache.Type, cfg.Cache.Path)
		switch cfg.Snapshot.Type {
		case "s3":
			fmt.Printf("Snapshots: s3://%s/%s  encrypt:%v\n", cfg.Snapshot.S3Bucket, cfg.Snapshot.S3Prefix, cfg.Snapshot.Encrypt)
		default:
			fmt.Printf("Snapshots: %s %s  encrypt:%v\n", cfg.Snapshot.Type, cfg.Snapshot.FSRoot, cfg.Snapshot.Encrypt)
		}
		return nil
	},
}

// db command
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the catalog database",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := app.MigrateDatabase(cfg)
		if err != nil {
			return fmt.Errorf("migrating: %w", err)
		}
		fmt.Printf("Schema at version %d\n", st.Version)
		return nil
	},
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := app.DatabaseStatus(cfg)
		if err != nil {
			return err
		}
		state := "current"
		switch {
		case st.Dirty:
			state = "dirty"
		case !st.Current():
			state = "needs migration"
		}
		fmt.Printf("version %d of %d (%s)\n", st.Version, st.Latest, state)
		return nil
	},
}

var dbSnapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Write a snapshot of the catalog database",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, args)
		if err != nil {
			return err
		}
		defer a.Close()

		name, err := a.Snapshot(cmd.Context())
		if err != nil {
			return fmt.Errorf("snapshot failed: %w", err)
		}
		fmt.Printf("Wrote %s\n", name)
		return nil
	},
}

var dbSnapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "List stored snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, args)
		if err != nil {
			return err
		}
		defer a.Close()

		names, err := a.ListSnapshots(cmd.Context())
		if err != nil {
			return err
		}
		if len(names) == 0 {
			fmt.Println("No snapshots.")
			return nil
		}
		for _, n := range names {
			fmt.Println(n)
		}
		return nil
	},
}

var dbRestoreCmd = &cobra.Command{
	Use:   "restore NAME DEST",
	Short: "Restore a snapshot to a new database file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, args)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.RestoreSnapshot(cmd.Context(), args[0], args[1]); err != nil {
			return fmt.Errorf("restore failed: %w", err)
		}
		fmt.Printf("Restored %s to %s\n", args[0], args[1])
		return nil
	},
}

// channel command
var channelCmd = &cobra.Command{
	Use:   "channel",
	Short: "Manage channels",
}

var channelImportCmd = &cobra.Command{
	Use:   "import SPEC.json",
	Short: "Import a channel from a tree spec",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		langs, _ := cmd.Flags().GetStringSlice("lang")

		a, err := newApp(cmd, args)
		if err != nil {
			return err
		}
		defer a.Close()

		ch, err := a.ImportChannel(cmd.Context(), args[0], name, langs)
		if err != nil {
			return fmt.Errorf("import failed: %w", err)
		}
		fmt.Printf("Imported channel %s (%s): %d resource(s)\n", ch.Name, ch.ID, ch.TotalResourceCount)
		return nil
	},
}

var channelListCmd = &cobra.Command{
	Use:   "list",
	Short: "List channels",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, args)
		if err != nil {
			return err
		}
		defer a.Close()

		chs, err := a.ListChannels(cmd.Context())
		if err != nil {
			return err
		}
		if len(chs) == 0 {
			fmt.Println("No channels.")
			return nil
		}
		for _, ch := range chs {
			fmt.Printf("%3d  %s  %-30s  %5d  %10d  %s\n",
				ch.Order, ch.ID, ch.Name, ch.TotalResourceCount, ch.PublishedSize,
				strings.Join(ch.IncludedLanguages, ","))
		}
		return nil
	},
}

var channelStatsCmd = &cobra.Command{
	Use:   "stats CHANNEL_ID",
	Short: "Recompute channel statistics",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, args)
		if err != nil {
			return err
		}
		defer a.Close()

		ch, err := a.ChannelStats(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d resource(s), %d byte(s)\n", ch.Name, ch.TotalResourceCount, ch.PublishedSize)
		return nil
	},
}

var channelDeleteCmd = &cobra.Command{
	Use:   "delete CHANNEL_ID",
	Short: "Delete a channel and its tree",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, args)
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.DeleteChannel(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Deleted %d node(s)\n", n)
		return nil
	},
}

// tree command
var treeCmd = &cobra.Command{
	Use:   "tree",
	Short: "Inspect and edit content trees",
}

var treeInsertCmd = &cobra.Command{
	Use:   "insert TARGET_ID SPEC.json",
	Short: "Insert a subtree relative to a node",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		pos, _ := cmd.Flags().GetString("position")

		a, err := newApp(cmd, args)
		if err != nil {
			return err
		}
		defer a.Close()

		nodes, err := a.InsertSubtree(cmd.Context(), args[0], pos, args[1])
		if err != nil {
			return fmt.Errorf("insert failed: %w", err)
		}
		printNodes(nodes, true)
		return nil
	},
}

var treeShowCmd = &cobra.Command{
	Use:   "show NODE_ID",
	Short: "Show a subtree",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, args)
		if err != nil {
			return err
		}
		defer a.Close()

		nodes, err := a.ShowTree(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printNodes(nodes, true)
		return nil
	},
}

var treeRebuildCmd = &cobra.Command{
	Use:   "rebuild NODE_ID",
	Short: "Recompute nested-set coordinates of the tree holding a node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, args)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.RebuildTree(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Println("Tree rebuilt.")
		return nil
	},
}

var treeAvailableCmd = &cobra.Command{
	Use:   "available NODE_ID...",
	Short: "Mark nodes available (or unavailable with --off)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		off, _ := cmd.Flags().GetBool("off")

		a, err := newApp(cmd, args)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.SetAvailability(cmd.Context(), args, !off); err != nil {
			return err
		}
		fmt.Printf("Updated %d node(s)\n", len(args))
		return nil
	},
}

var treeLabelCmd = &cobra.Command{
	Use:   "label NODE_ID GROUP [LABEL,LABEL]",
	Short: "Replace the labels of one group on a node",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		var list []string
		if len(args) == 3 {
			list = labels.ParseList(args[2])
		}

		a, err := newApp(cmd, args)
		if err != nil {
			return err
		}
		defer a.Close()

		return a.SetLabels(cmd.Context(), args[0], args[1], list)
	},
}

// search command
var searchCmd = &cobra.Command{
	Use:   "search [TITLE]",
	Short: "Find available resources by labels and title",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		channel, _ := cmd.Flags().GetString("channel")
		filters, _ := cmd.Flags().GetStringArray("label")
		limit, _ := cmd.Flags().GetInt("limit")

		title := ""
		if len(args) == 1 {
			title = args[0]
		}

		a, err := newApp(cmd, args)
		if err != nil {
			return err
		}
		defer a.Close()

		nodes, err := a.Search(cmd.Context(), channel, title, filters, limit)
		if err != nil {
			return err
		}
		if len(nodes) == 0 {
			fmt.Println("No matches.")
			return nil
		}
		printNodes(nodes, false)
		return nil
	},
}

// files command
var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "Manage locally stored files",
}

var filesImportCmd = &cobra.Command{
	Use:   "import NODE_ID PATH",
	Short: "Store a file and attach it to a node",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		preset, _ := cmd.Flags().GetString("preset")
		priority, _ := cmd.Flags().GetInt64("priority")

		a, err := newApp(cmd, args)
		if err != nil {
			return err
		}
		defer a.Close()

		f, url, err := a.ImportFile(cmd.Context(), args[0], args[1], preset, priority)
		if err != nil {
			return fmt.Errorf("import failed: %w", err)
		}
		fmt.Printf("Stored %s as %s\n", args[1], f.LocalFileID)
		fmt.Println(url)
		return nil
	},
}

var filesGCCmd = &cobra.Command{
	Use:   "gc",
	Short: "Remove unused files and orphan metadata",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, args)
		if err != nil {
			return err
		}
		defer a.Close()

		r, err := a.CollectGarbage(cmd.Context())
		if err != nil {
			return fmt.Errorf("gc failed: %w", err)
		}
		fmt.Printf("Unused: %d  removed: %d  failed: %d  orphan rows deleted: %d\n",
			r.Unused, r.Removed, r.Failed, r.OrphansDeleted)
		return nil
	},
}

var filesOrphansCmd = &cobra.Command{
	Use:   "orphans",
	Short: "List files no content node references",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, args)
		if err != nil {
			return err
		}
		defer a.Close()

		files, err := a.ListOrphanFiles(cmd.Context())
		if err != nil {
			return err
		}
		if len(files) == 0 {
			fmt.Println("No orphan files.")
			return nil
		}
		for _, f := range files {
			fmt.Printf("%s  %10d  available:%v\n", f.Filename(), f.FileSize, f.Available)
		}
		return nil
	},
}

// request command
var requestCmd = &cobra.Command{
	Use:   "request",
	Short: "Manage content download and removal requests",
}

func requestType(cmd *cobra.Command) model.RequestType {
	if removal, _ := cmd.Flags().GetBool("removal"); removal {
		return model.RequestRemoval
	}
	return model.RequestDownload
}

func requestUser(cmd *cobra.Command) (model.FacilityUser, error) {
	user, _ := cmd.Flags().GetString("user")
	facility, _ := cmd.Flags().GetString("facility")
	if user == "" || facility == "" {
		return model.FacilityUser{}, fmt.Errorf("--user and --facility are required")
	}
	return model.FacilityUser{ID: user, FacilityID: facility}, nil
}

var requestAddCmd = &cobra.Command{
	Use:   "add NODE_ID",
	Short: "Request a download (or removal with --removal) of a node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t := requestType(cmd)
		user, err := requestUser(cmd)
		if err != nil {
			return err
		}

		a, err := newApp(cmd, args)
		if err != nil {
			return err
		}
		defer a.Close()

		req, created, err := a.RequestContent(cmd.Context(), t, user, args[0])
		if err != nil {
			return err
		}
		if created {
			fmt.Printf("Created %s request %s\n", req.Type, req.ID)
		} else {
			fmt.Printf("Existing %s request %s (%s)\n", req.Type, req.ID, req.Status)
		}
		return nil
	},
}

var requestListCmd = &cobra.Command{
	Use:   "list",
	Short: "List requests of one type",
	RunE: func(cmd *cobra.Command, args []string) error {
		t := requestType(cmd)
		facility, _ := cmd.Flags().GetString("facility")
		node, _ := cmd.Flags().GetString("node")
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		f := catalog.RequestFilter{FacilityID: facility, ContentNodeID: node, Limit: limit}
		if status != "" {
			st, ok := model.ParseRequestStatus(strings.ToUpper(status))
			if !ok {
				return fmt.Errorf("unknown request status %q", status)
			}
			f.Status = st
		}

		a, err := newApp(cmd, args)
		if err != nil {
			return err
		}
		defer a.Close()

		reqs, err := a.ListRequests(cmd.Context(), t, f)
		if err != nil {
			return err
		}
		printRequests(reqs)
		return nil
	},
}

var requestStatusCmd = &cobra.Command{
	Use:   "status REQUEST_ID STATUS",
	Short: "Move a request to a new status",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		t := requestType(cmd)

		a, err := newApp(cmd, args)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.UpdateRequestStatus(cmd.Context(), t, args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("Request %s is now %s\n", args[0], strings.ToUpper(args[1]))
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View catalog operation history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd, args)
		if err != nil {
			return err
		}
		defer a.Close()

		ops, err := a.GetHistory(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if len(ops) == 0 {
			fmt.Println("No catalog operations recorded.")
			return nil
		}

		for _, op := range ops {
			duration := ""
			if op.FinishedAt != nil {
				duration = op.FinishedAt.Sub(op.StartedAt).Truncate(time.Millisecond).String()
			}
			fmt.Printf("#%d  %-15s  %s  %-10s  %s  %s\n",
				op.ID,
				op.Operation,
				op.StartedAt.Format("2006-01-02 15:04:05"),
				op.Status,
				duration,
				op.Parameters,
			)
		}
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// db subcommands
	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbStatusCmd)
	dbCmd.AddCommand(dbSnapshotCmd)
	dbCmd.AddCommand(dbSnapshotsCmd)
	dbCmd.AddCommand(dbRestoreCmd)

	// channel subcommands
	channelCmd.AddCommand(channelImportCmd)
	channelImportCmd.Flags().String("name", "", "Channel name (default: root title)")
	channelImportCmd.Flags().StringSlice("lang", nil, "Included language codes")
	channelCmd.AddCommand(channelListCmd)
	channelCmd.AddCommand(channelStatsCmd)
	channelCmd.AddCommand(channelDeleteCmd)

	// tree subcommands
	treeCmd.AddCommand(treeInsertCmd)
	treeInsertCmd.Flags().StringP("position", "p", "last-child", "first-child, last-child, left or right")
	treeCmd.AddCommand(treeShowCmd)
	treeCmd.AddCommand(treeRebuildCmd)
	treeCmd.AddCommand(treeAvailableCmd)
	treeAvailableCmd.Flags().Bool("off", false, "Mark unavailable instead")
	treeCmd.AddCommand(treeLabelCmd)

	searchCmd.Flags().String("channel", "", "Restrict to one channel")
	searchCmd.Flags().StringArrayP("label", "l", nil, "Label filter group=LABEL,LABEL (repeatable)")
	searchCmd.Flags().IntP("limit", "n", 50, "Maximum number of results")

	// files subcommands
	filesCmd.AddCommand(filesImportCmd)
	filesImportCmd.Flags().String("preset", "", "Format preset")
	filesImportCmd.Flags().Int64("priority", 1, "Priority among the node's files")
	filesCmd.AddCommand(filesGCCmd)
	filesCmd.AddCommand(filesOrphansCmd)

	// request subcommands
	requestCmd.PersistentFlags().Bool("removal", false, "Operate on removal requests")
	requestCmd.AddCommand(requestAddCmd)
	requestAddCmd.Flags().String("user", "", "Requesting facility user id")
	requestAddCmd.Flags().String("facility", "", "Facility id")
	requestCmd.AddCommand(requestListCmd)
	requestListCmd.Flags().String("facility", "", "Filter by facility id")
	requestListCmd.Flags().String("node", "", "Filter by content node id")
	requestListCmd.Flags().String("status", "", "Filter by status")
	requestListCmd.Flags().IntP("limit", "n", 0, "Maximum number of requests (0 for all)")
	requestCmd.AddCommand(requestStatusCmd)

	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(channelCmd)
	rootCmd.AddCommand(treeCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(filesCmd)
	rootCmd.AddCommand(requestCmd)
	rootCmd.AddCommand(historyCmd)
}
