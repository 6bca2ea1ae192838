// Package usb lists the print videos found on a mounted USB stick.
package usb

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/opencal/calpanel/internal/capability"
	"github.com/opencal/calpanel/internal/debug"
)

// ErrNotFound is returned by Resolve when no video carries the label.
var ErrNotFound = errors.New("usb: video not found")

// Extensions are the video file types offered for printing.
var Extensions = []string{".mp4"}

// Catalog scans a mount point on every call so swapping the stick is
// picked up without a restart.
type Catalog struct {
	root string
}

// NewCatalog creates a catalog rooted at the mount point.
func NewCatalog(root string) *Catalog {
	return &Catalog{root: root}
}

// Root returns the scanned mount point.
func (c *Catalog) Root() string { return c.root }

type entry struct {
	name string
	path string
	size int64
}

func (c *Catalog) scan() ([]entry, error) {
	var found []entry
	err := filepath.WalkDir(c.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subdirectories are skipped, a missing root is not.
			if path == c.root {
				return err
			}
			debug.Verbose("usb: skipping %s: %v", path, err)
			return fs.SkipDir
		}
		if d.IsDir() {
			if path != c.root && strings.HasPrefix(d.Name(), ".") {
				return fs.SkipDir
			}
			return nil
		}
		if !isVideo(d.Name()) {
			return nil
		}
		var size int64
		if info, err := d.Info(); err == nil {
			size = info.Size()
		}
		found = append(found, entry{name: d.Name(), path: path, size: size})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("usb: scan %s: %w", c.root, err)
	}
	sort.Slice(found, func(i, j int) bool {
		if found[i].name == found[j].name {
			return found[i].path < found[j].path
		}
		return found[i].name < found[j].name
	})
	return found, nil
}

// ListNames returns the base names of every video, sorted. Duplicate names
// in different folders are listed once.
func (c *Catalog) ListNames() ([]string, error) {
	entries, err := c.scan()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			debug.Warn("usb: %s not mounted", c.root)
			return nil, nil
		}
		return nil, err
	}
	var names []string
	var total uint64
	for i, e := range entries {
		total += uint64(e.size)
		if i > 0 && entries[i-1].name == e.name {
			continue
		}
		names = append(names, e.name)
	}
	debug.Info("usb: %d videos (%s) under %s", len(names), humanize.Bytes(total), c.root)
	return names, nil
}

// Resolve maps a menu label back to the video path.
func (c *Catalog) Resolve(label string) (string, error) {
	entries, err := c.scan()
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if e.name == label {
			debug.Verbose("usb: %s -> %s (%s)", label, e.path, humanize.Bytes(uint64(e.size)))
			return e.path, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, label)
}

func isVideo(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

var _ capability.FileCatalog = (*Catalog)(nil)
