package keys

import "github.com/jetstack/sealer/internal/atomicfile"

// FailCommit makes committing path fail with err for the duration of a test.
func FailCommit(path string, err error) (restore func()) {
	old := commit
	commit = func(f *atomicfile.File) error {
		if f.Name() == path {
			_ = f.Discard()
			return err
		}
		return old(f)
	}
	return func() { commit = old }
}
