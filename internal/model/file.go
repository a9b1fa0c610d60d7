package model

// LocalFile represents bytes stored on local disk, identified by the
// checksum of its content plus a file extension.
type LocalFile struct {
	ID        string // content checksum
	Extension string
	FileSize  int64
	Available bool
}

// Filename returns the storage file name: "<checksum>.<extension>".
func (f *LocalFile) Filename() string {
	if f.Extension == "" {
		return f.ID
	}
	return f.ID + "." + f.Extension
}

// File associates one content node with one local file for a given preset.
// Many Files may point at the same LocalFile.
type File struct {
	ID            string
	ContentNodeID string
	LocalFileID   string
	Preset        string // e.g. "high_res_video", "video_subtitle", "thumbnail"
	Supplementary bool
	Priority      int64
}
