package archive

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// Filesystem serves reference documents stored as <root>/<equipment>/<phase>.<ext>.
type Filesystem struct {
	root string
	fsys fs.FS
}

// NewFilesystem creates a filesystem archive rooted at root. The directory
// does not have to exist; a missing root simply has no documents.
func NewFilesystem(root string) (*Filesystem, error) {
	if root == "" {
		return nil, fmt.Errorf("archive root required")
	}
	return &Filesystem{root: root, fsys: os.DirFS(root)}, nil
}

// Driver returns DriverFilesystem.
func (f *Filesystem) Driver() Driver { return DriverFilesystem }

// Reference returns the first file, in lexical order, matching the
// equipment/phase stem with any extension.
func (f *Filesystem) Reference(ctx context.Context, equipmentCode, phaseCode string) (string, bool, error) {
	if !validCode(equipmentCode) || !validCode(phaseCode) {
		return "", false, nil
	}
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	matches, err := doublestar.Glob(f.fsys, key(equipmentCode, phaseCode)+".*")
	if err != nil {
		return "", false, fmt.Errorf("glob archive %s: %w", f.root, err)
	}
	if len(matches) == 0 {
		return "", false, nil
	}
	sort.Strings(matches)

	data, err := fs.ReadFile(f.fsys, matches[0])
	if err != nil {
		return "", false, fmt.Errorf("read archive document %s: %w", matches[0], err)
	}
	return string(data), true, nil
}
