package platform

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"contact-aggregator/internal/schema"
)

// DirSchemaProbe serves contact schemas from a local tree laid out as
// <root>/<package>/<metadata name>.xml.
type DirSchemaProbe struct {
	root string
}

// NewDirSchemaProbe creates a probe rooted at root.
func NewDirSchemaProbe(root string) *DirSchemaProbe {
	return &DirSchemaProbe{root: root}
}

// FindSchemaResource opens the first existing document of pkg under names.
// A package name that is not a single path segment, or a document that
// exists but cannot be opened, is reported as schema.ErrUnreadableResource.
func (p *DirSchemaProbe) FindSchemaResource(ctx context.Context, pkg string, names []string) (io.ReadCloser, error) {
	if !isPathSegment(pkg) {
		return nil, fmt.Errorf("%w: invalid package name %q", schema.ErrUnreadableResource, pkg)
	}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !isPathSegment(name) {
			continue
		}
		f, err := os.Open(filepath.Join(p.root, pkg, name+".xml"))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", schema.ErrUnreadableResource, pkg, err)
		}
		return f, nil
	}
	return nil, nil
}

func isPathSegment(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, `/\`)
}
