// Package inventory discovers the source documents of a batch run in a
// directory tree.
package inventory

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dshills/movreport/internal/docsource"
)

// FileEntry describes a single document in the inventory.
type FileEntry struct {
	Path   string // relative to the scan root
	Abs    string
	Format string // classified by file extension
	Size   int64
}

// Options tunes Scan.
type Options struct {
	// Pattern is a filepath.Match glob applied to base names. Empty matches
	// every supported document.
	Pattern string
	// MaxFiles caps the result after sorting. Zero means no cap.
	MaxFiles int
	// Recursive descends into subdirectories.
	Recursive bool
	// Ignore supplements the default ignore list; entries are matched
	// against directory base names (not full paths).
	Ignore []string
}

// Inventory is the result of one Scan.
type Inventory struct {
	Root    string
	Files   []FileEntry
	Skipped int // supported documents beyond MaxFiles
}

// defaultIgnore is the default set of directory names to skip.
var defaultIgnore = map[string]bool{
	".git":         true,
	"node_modules": true,
	"__pycache__":  true,
	"archive":      true,
}

// classifyFormat returns a format label for a file extension.
func classifyFormat(ext string) string {
	switch ext {
	case ".pdf":
		return "PDF"
	case ".docx":
		return "Word"
	case ".html", ".htm":
		return "HTML"
	case ".txt":
		return "Text"
	default:
		return "Other"
	}
}

// skipFile reports hidden files and the lock files left by office suites.
func skipFile(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasPrefix(name, "~$")
}

// Scan walks root and lists supported documents sorted by relative path.
func Scan(root string, opts Options) (Inventory, error) {
	if opts.Pattern != "" {
		if _, err := filepath.Match(opts.Pattern, ""); err != nil {
			return Inventory{}, fmt.Errorf("inventory: bad pattern %q: %w", opts.Pattern, err)
		}
	}
	extraIgnore := make(map[string]bool, len(opts.Ignore))
	for _, p := range opts.Ignore {
		extraIgnore[p] = true
	}

	inv := Inventory{Root: root}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path == root {
				return nil
			}
			name := d.Name()
			if !opts.Recursive || defaultIgnore[name] || extraIgnore[name] || strings.HasPrefix(name, ".") {
				return fs.SkipDir
			}
			return nil
		}
		name := d.Name()
		if skipFile(name) || !docsource.Supported(name) {
			return nil
		}
		if opts.Pattern != "" {
			if ok, _ := filepath.Match(opts.Pattern, name); !ok {
				return nil
			}
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return err
		}
		inv.Files = append(inv.Files, FileEntry{
			Path:   rel,
			Abs:    abs,
			Format: classifyFormat(strings.ToLower(filepath.Ext(name))),
			Size:   info.Size(),
		})
		return nil
	})
	if err != nil {
		return Inventory{}, fmt.Errorf("inventory: walk %s: %w", root, err)
	}

	sort.Slice(inv.Files, func(i, j int) bool { return inv.Files[i].Path < inv.Files[j].Path })
	if opts.MaxFiles > 0 && len(inv.Files) > opts.MaxFiles {
		inv.Skipped = len(inv.Files) - opts.MaxFiles
		inv.Files = inv.Files[:opts.MaxFiles]
	}
	return inv, nil
}

// Summary produces a human-readable listing for dry runs.
func (inv Inventory) Summary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "=== %s (%d documents) ===\n", inv.Root, len(inv.Files))
	for _, f := range inv.Files {
		fmt.Fprintf(&sb, "  %s (%s, %d bytes)\n", f.Path, f.Format, f.Size)
	}
	if inv.Skipped > 0 {
		fmt.Fprintf(&sb, "\n[%d more documents not listed: --max-files reached]\n", inv.Skipped)
	}
	return sb.String()
}
