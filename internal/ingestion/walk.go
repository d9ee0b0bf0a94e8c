package ingestion

import (
	"io/fs"
	"iter"
	"path/filepath"
)

// Files lazily yields the regular files under root in lexical order. Symbolic
// links and other special files are skipped and never followed. The first
// walk error is yielded and ends the sequence. A root that is itself a
// regular file yields just that file.
func Files(root string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		stopped := false
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.Type().IsRegular() {
				return nil
			}
			if !yield(path, nil) {
				stopped = true
				return filepath.SkipAll
			}
			return nil
		})
		if err != nil && !stopped {
			yield("", err)
		}
	}
}
