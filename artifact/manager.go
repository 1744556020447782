package artifact

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
)

var ErrNoArtifact = errors.New("no output image produced")

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
	".webp": true,
}

// Manager moves engine output from a transient working directory into the
// canonical result store and removes result files on record deletion.
type Manager struct {
	logger *zap.Logger
}

func NewManager(logger *zap.Logger) *Manager {
	return &Manager{logger: logger}
}

// Relocate moves the engine's output image out of workDir into destDir under
// its own name and removes the then-empty working directory. When more than
// one image is present (legacy shared working directories) the most recently
// modified one wins; with per-task working directories there is only ever one.
func (m *Manager) Relocate(workDir, destDir string) (string, error) {
	entries, err := os.ReadDir(workDir)
	if err != nil {
		return "", fmt.Errorf("read working dir: %w", err)
	}

	var (
		newest     string
		newestTime time.Time
	)
	for _, entry := range entries {
		if entry.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if newest == "" || info.ModTime().After(newestTime) {
			newest = entry.Name()
			newestTime = info.ModTime()
		}
	}

	if newest == "" {
		return "", ErrNoArtifact
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("create result dir: %w", err)
	}

	src := filepath.Join(workDir, newest)
	dst := filepath.Join(destDir, newest)
	if err := moveFile(src, dst); err != nil {
		return "", fmt.Errorf("relocate artifact: %w", err)
	}

	if err := os.RemoveAll(workDir); err != nil {
		m.logger.Warn("Could not remove working dir",
			zap.String("dir", workDir),
			zap.Error(err),
		)
	}

	return dst, nil
}

// Remove deletes a canonical result file. A missing file is a no-op.
func (m *Manager) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove artifact: %w", err)
	}
	return nil
}

// Probe reads the relocated artifact's dimensions and its type from the
// file extension.
func (m *Manager) Probe(path string) (width, height int, fileType string, err error) {
	img, err := imaging.Open(path)
	if err != nil {
		return 0, 0, "", fmt.Errorf("open artifact: %w", err)
	}

	bounds := img.Bounds()
	fileType = strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	return bounds.Dx(), bounds.Dy(), fileType, nil
}

// moveFile renames, falling back to copy+remove across filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	return os.Remove(src)
}
