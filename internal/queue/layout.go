package queue

import (
	"fmt"
	"os"
	"path/filepath"
)

const dirPermissions = 0o750

// Layout maps the shared data root to the directories every process agrees
// on. All coordination between the gateway and workers happens through these
// paths; nothing else is shared.
type Layout struct {
	Root string
}

// QueueDir returns the pending-job mailbox for one engine.
func (l Layout) QueueDir(engine string) string {
	return filepath.Join(l.Root, "queue", engine)
}

// ClaimedDir returns the engine-private in-progress area.
func (l Layout) ClaimedDir(engine string) string {
	return filepath.Join(l.Root, "claimed", engine)
}

// RefsDir returns the input voice-reference artifact area.
func (l Layout) RefsDir() string {
	return filepath.Join(l.Root, "refs")
}

// OutDir returns the completed-results area.
func (l Layout) OutDir() string {
	return filepath.Join(l.Root, "out")
}

// FailedDir returns the failure-record area.
func (l Layout) FailedDir() string {
	return filepath.Join(l.Root, "failed")
}

// GoneDir returns the tombstone area for evicted results.
func (l Layout) GoneDir() string {
	return filepath.Join(l.Root, "gone")
}

// EnginesDir returns the area where workers publish engine info files.
func (l Layout) EnginesDir() string {
	return filepath.Join(l.Root, "engines")
}

// TmpDir returns the staging area for temp-write-then-rename. It lives under
// the data root so renames out of it stay on one filesystem.
func (l Layout) TmpDir() string {
	return filepath.Join(l.Root, "tmp")
}

// RefPath returns the voice-reference artifact path for a job.
func (l Layout) RefPath(id string) string {
	return filepath.Join(l.RefsDir(), id+".ref")
}

// Init creates every directory the layout needs, including one queue and
// claimed directory per engine.
func (l Layout) Init(engines []string) error {
	dirs := []string{
		l.RefsDir(), l.OutDir(), l.FailedDir(),
		l.GoneDir(), l.EnginesDir(), l.TmpDir(),
	}
	for _, e := range engines {
		dirs = append(dirs, l.QueueDir(e), l.ClaimedDir(e))
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, dirPermissions); err != nil {
			return fmt.Errorf("create %s: %w", d, err)
		}
	}
	return nil
}

// WriteAtomic writes data to a staging file in TmpDir and renames it to
// path. Rename within one filesystem is atomic, so other processes observe
// either no file or the complete file, never a partial write.
func (l Layout) WriteAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(l.TmpDir(), filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create staging file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write staging file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close staging file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("publish %s: %w", filepath.Base(path), err)
	}
	return nil
}
