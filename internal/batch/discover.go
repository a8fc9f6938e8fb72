package batch

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/bdougie/mediadescriber/internal/media"
	"github.com/bdougie/mediadescriber/internal/models"
)

// Classify returns the media kind of path.
func Classify(path string) models.MediaKind {
	return media.Classify(path)
}

// Discover lists the files under root in lexical order. Hidden
// entries and the output directory are never returned. Subdirectories are
// only entered when opts.Recursive is set. Failing to read root is the only
// error; unreadable subdirectories are skipped.
func Discover(root string, opts Options) ([]models.MediaFile, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve %s", root)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, errors.Wrapf(err, "read folder %s", root)
	}
	if !info.IsDir() {
		return nil, errors.Errorf("%s is not a directory", root)
	}
	if _, err := os.ReadDir(abs); err != nil {
		return nil, errors.Wrapf(err, "read folder %s", root)
	}

	var outputDir string
	if opts.OutputDir != "" {
		if outputDir, err = filepath.Abs(opts.OutputDir); err != nil {
			return nil, errors.Wrapf(err, "resolve %s", opts.OutputDir)
		}
	}

	var files []models.MediaFile
	err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, walkErr error) error {
		if path == abs {
			return walkErr
		}
		hidden := strings.HasPrefix(d.Name(), ".")
		if d.IsDir() {
			if walkErr != nil || hidden || !opts.Recursive || path == outputDir {
				return filepath.SkipDir
			}
			return nil
		}
		if walkErr != nil || hidden {
			return nil
		}

		file := models.MediaFile{Path: path, Kind: models.KindUnsupported, DiscoveredAt: time.Now().UTC()}
		// Stat follows symlinks so linked media is still picked up. Broken
		// links and special files are reported as unsupported.
		if fi, err := os.Stat(path); err == nil && fi.Mode().IsRegular() {
			file.Kind = Classify(path)
			file.Size = fi.Size()
		}
		files = append(files, file)
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "scan folder %s", root)
	}
	return files, nil
}
