package output

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/unitroute/unitroute/internal/dynamic"
	"github.com/unitroute/unitroute/internal/logger"
)

// Result reports what Apply did for one unit.
type Result struct {
	// Hash is the content hash of what is now on disk for the unit.
	// Empty means no file exists (the document was nil).
	Hash string

	// Changed is false when the call was an idempotent no-op.
	Changed bool
}

// Synchronizer owns all filesystem side effects: one output file per
// unit, written atomically so the proxy's file watcher never observes a
// partial document. It holds no state of its own; the caller supplies
// the last-written hash and records the returned one.
type Synchronizer struct {
	dir string
	log logger.Logger
}

func NewSynchronizer(dir string, log logger.Logger) *Synchronizer {
	return &Synchronizer{
		dir: dir,
		log: log,
	}
}

// EnsureDir creates the output directory if it does not exist yet.
func (s *Synchronizer) EnsureDir() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output dir %s: %w", s.dir, err)
	}
	return nil
}

// Path returns the output file path for a unit.
func (s *Synchronizer) Path(unit string) string {
	return filepath.Join(s.dir, SanitizeFilename(unit)+".yml")
}

// Apply brings the unit's output file in line with doc. A nil doc removes
// the file, tolerating "already absent". A non-nil doc is written only
// when its content hash differs from lastHash or the file is missing.
// Errors are returned for the caller to retry on the next settle; they
// are never fatal.
func (s *Synchronizer) Apply(unit string, doc *dynamic.Document, lastHash string) (Result, error) {
	dest := s.Path(unit)

	if doc == nil {
		err := os.Remove(dest)
		if err != nil && !os.IsNotExist(err) {
			return Result{}, fmt.Errorf("failed to remove %s: %w", dest, err)
		}
		removed := err == nil
		if removed {
			s.log.Info("removed output file",
				logger.String("unit", unit),
				logger.String("path", dest))
		}
		return Result{Hash: "", Changed: removed || lastHash != ""}, nil
	}

	data, err := doc.Marshal()
	if err != nil {
		return Result{}, fmt.Errorf("failed to serialize document for %s: %w", unit, err)
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	if hash == lastHash {
		// Content unchanged; only rewrite if the file went missing
		// behind our back.
		if _, statErr := os.Stat(dest); statErr == nil {
			s.log.Debug("output unchanged",
				logger.String("unit", unit))
			return Result{Hash: hash, Changed: false}, nil
		}
	}

	if err := s.writeAtomic(dest, data); err != nil {
		return Result{}, err
	}

	s.log.Info("wrote output file",
		logger.String("unit", unit),
		logger.String("path", dest),
		logger.Int("bytes", len(data)))
	return Result{Hash: hash, Changed: true}, nil
}

// writeAtomic writes data to a temp file in the output directory and
// renames it over dest. The rename is atomic within one filesystem, so a
// concurrent reader sees either the old content or the new, never a mix.
func (s *Synchronizer) writeAtomic(dest string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, "."+filepath.Base(dest)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file in %s: %w", s.dir, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", tmpName, err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to chmod %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to rename %s to %s: %w", tmpName, dest, err)
	}
	return nil
}
