package model

// ChannelMetadata holds metadata about an imported content channel.
type ChannelMetadata struct {
	ID                 string
	Name               string
	RootID             string
	TotalResourceCount int64
	PublishedSize      int64
	Order              int64
	IncludedLanguages  []string // language codes
	Partial            bool
}
