package catalog

import (
	"iter"
	"sync/atomic"

	"kc-go/internal/model"
)

// Sweep removes a point in time snapshot of unused files as it is iterated.
// Files that become unused after the snapshot are left for the next pass.
type Sweep struct {
	files  []model.LocalFile
	remove func(model.LocalFile) error
	finish func(ids []string) error

	started   atomic.Bool
	attempted int
	err       error
}

// NewSweep returns a sweep over files. remove deletes the stored bytes of one
// file; finish marks the given ids unavailable once iteration ends.
func NewSweep(files []model.LocalFile, remove func(model.LocalFile) error, finish func(ids []string) error) *Sweep {
	return &Sweep{files: files, remove: remove, finish: finish}
}

// Len returns the number of files in the snapshot.
func (s *Sweep) Len() int {
	return len(s.files)
}

// Results yields (removed, file) for each snapshot file, attempting removal
// just before the file is yielded. A failed removal yields false and the
// sweep continues. When iteration ends, every file whose removal was
// attempted is marked unavailable. A caller that stops early leaves the rest
// available for the next pass.
//
// The sequence can be ranged over once; later iterations yield nothing.
func (s *Sweep) Results() iter.Seq2[bool, model.LocalFile] {
	return func(yield func(bool, model.LocalFile) bool) {
		if !s.started.CompareAndSwap(false, true) {
			return
		}
		defer s.markUnavailable()

		for _, f := range s.files {
			ok := s.remove(f) == nil
			s.attempted++
			if !yield(ok, f) {
				return
			}
		}
	}
}

// Err returns the error from marking swept files unavailable, if any.
// It is only meaningful after Results has been ranged over.
func (s *Sweep) Err() error {
	return s.err
}

// Drain runs the whole sweep and returns the removal tally.
func (s *Sweep) Drain() (removed, failed int, err error) {
	for ok := range s.Results() {
		if ok {
			removed++
		} else {
			failed++
		}
	}
	return removed, failed, s.Err()
}

func (s *Sweep) markUnavailable() {
	if s.attempted == 0 {
		return
	}
	ids := make([]string, s.attempted)
	for i, f := range s.files[:s.attempted] {
		ids[i] = f.ID
	}
	s.err = s.finish(ids)
}
