// Package archive provides read-only access to static reference documents
// keyed by (equipment code, phase code). The archive is the last fallback
// when neither a task nor its phase has a live document.
package archive

import (
	"context"
	"fmt"
	"strings"

	"github.com/randalmurphal/verity/internal/config"
)

// Driver identifies an archive backend.
type Driver string

const (
	DriverFilesystem Driver = "fs"
	DriverS3         Driver = "s3"
	DriverMemory     Driver = "memory"
)

// Archive looks up reference documents.
type Archive interface {
	// Reference returns the reference document for the equipment/phase pair.
	// ok is false when the archive has none.
	Reference(ctx context.Context, equipmentCode, phaseCode string) (content string, ok bool, err error)
	Driver() Driver
}

// Open builds the archive selected by configuration.
func Open(ctx context.Context, cfg config.ArchiveConfig) (Archive, error) {
	switch Driver(cfg.Driver) {
	case DriverFilesystem, "":
		return NewFilesystem(cfg.Root)
	case DriverS3:
		return NewS3(ctx, S3Config{
			Bucket:    cfg.Bucket,
			Prefix:    cfg.Prefix,
			Region:    cfg.Region,
			Endpoint:  cfg.Endpoint,
			PathStyle: cfg.PathStyle,
		})
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown archive driver %s", cfg.Driver)
	}
}

// validCode rejects codes that could escape the key space of an archive:
// path separators, parent references and glob metacharacters.
func validCode(code string) bool {
	if code == "" || code == "." || code == ".." {
		return false
	}
	return !strings.ContainsAny(code, `/\*?[]{}`)
}

// key returns the object-key stem shared by every backend.
func key(equipmentCode, phaseCode string) string {
	return equipmentCode + "/" + phaseCode
}
