package model

// Kind identifies what a content node represents.
type Kind string

const (
	KindTopic     Kind = "topic"
	KindVideo     Kind = "video"
	KindAudio     Kind = "audio"
	KindExercise  Kind = "exercise"
	KindDocument  Kind = "document"
	KindHTML5     Kind = "html5"
	KindSlideshow Kind = "slideshow"
)

// Label groups stored on every content node. Each group has a comma separated
// text column and one or more bitmask columns.
const (
	GroupCategories          = "categories"
	GroupGradeLevels         = "grade_levels"
	GroupLearningActivities  = "learning_activities"
	GroupAccessibilityLabels = "accessibility_labels"
	GroupLearnerNeeds        = "learner_needs"
)

// LabelGroups lists the label groups in schema order.
var LabelGroups = []string{
	GroupCategories,
	GroupGradeLevels,
	GroupLearningActivities,
	GroupAccessibilityLabels,
	GroupLearnerNeeds,
}

// BitmaskColumns lists every bitmask column present in the schema.
// Adding a column here requires a migration.
var BitmaskColumns = []string{
	"categories_bitmask_0",
	"categories_bitmask_1",
	"grade_levels_bitmask_0",
	"learning_activities_bitmask_0",
	"accessibility_labels_bitmask_0",
	"learner_needs_bitmask_0",
}

// Bitmasks holds bitmask column values keyed by column name.
// Missing columns read as zero.
type Bitmasks map[string]uint64

// ContentNode is a node in a forest of content trees, one tree per channel.
// TreeID, Lft, Rght and Level are the nested-set coordinates.
type ContentNode struct {
	ID        string // 32 char hex UUID
	ParentID  string // empty for a tree root
	ChannelID string
	ContentID string // shared by copies of the same resource across channels
	Title     string
	Kind      Kind
	Available bool
	TreeID    int64
	Lft       int64
	Rght      int64
	Level     int64
	Labels    map[string][]string // group -> labels
	Bitmasks  Bitmasks
}

// IsTopic reports whether the node is a topic (an inner node).
func (n *ContentNode) IsTopic() bool {
	return n.Kind == KindTopic
}

// IsRoot reports whether the node has no parent.
func (n *ContentNode) IsRoot() bool {
	return n.ParentID == ""
}

// DescendantCount returns the number of nodes below n.
func (n *ContentNode) DescendantCount() int64 {
	return (n.Rght - n.Lft - 1) / 2
}

// IsAncestorOf reports whether other lies strictly inside n's bounds.
func (n *ContentNode) IsAncestorOf(other *ContentNode) bool {
	return n.TreeID == other.TreeID && n.Lft < other.Lft && other.Rght < n.Rght
}
