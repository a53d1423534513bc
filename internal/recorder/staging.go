package recorder

import (
	"fmt"
	"os"
	"path/filepath"
)

// Staging writes a session under <base>/.staging and moves it into place
// only when the recording is complete, so the replay server never loads a
// half-written session.
type Staging struct {
	baseDir     string
	stagingRoot string
}

func NewStaging(baseDir string) *Staging {
	return &Staging{
		baseDir:     baseDir,
		stagingRoot: filepath.Join(baseDir, ".staging"),
	}
}

func (s *Staging) FinalDir(session string) string {
	return filepath.Join(s.baseDir, session)
}

func (s *Staging) StagingDir(session string) string {
	return filepath.Join(s.stagingRoot, session)
}

func (s *Staging) Prepare(session string) error {
	return os.MkdirAll(s.StagingDir(session), 0750)
}

// Commit moves every staged file into the final session directory.
func (s *Staging) Commit(session string) error {
	stagingDir := s.StagingDir(session)
	finalDir := s.FinalDir(session)

	return filepath.Walk(stagingDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		relPath, err := filepath.Rel(stagingDir, path)
		if err != nil {
			return err
		}

		destPath := filepath.Join(finalDir, relPath)
		if err := os.MkdirAll(filepath.Dir(destPath), 0750); err != nil {
			return err
		}
		if err := os.Rename(path, destPath); err != nil {
			return fmt.Errorf("moving %s: %w", relPath, err)
		}
		return nil
	})
}

func (s *Staging) Cleanup(session string) error {
	return os.RemoveAll(s.StagingDir(session))
}
