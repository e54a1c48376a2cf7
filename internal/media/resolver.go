package media

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/kikiluvv/previewdeck/internal/timeline"
	"github.com/kikiluvv/previewdeck/pkg/util"
)

// Resolver turns a clip's media reference into a streamable URL.
type Resolver interface {
	Resolve(ref timeline.MediaRef) (string, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ref timeline.MediaRef) (string, error)

// Resolve implements Resolver.
func (f ResolverFunc) Resolve(ref timeline.MediaRef) (string, error) {
	return f(ref)
}

// AssetResolver resolves direct URLs relative to Root and asset ids
// against an asset streaming endpoint.
type AssetResolver struct {
	// BaseURL is the asset streaming endpoint. A "{id}" placeholder is
	// replaced with the escaped asset id; otherwise the id is appended as
	// a path segment.
	BaseURL string
	// Root anchors relative file references, usually the timeline's dir.
	Root string
}

// Resolve implements Resolver.
func (r AssetResolver) Resolve(ref timeline.MediaRef) (string, error) {
	if ref.URL != "" {
		if util.IsRemote(ref.URL) {
			return ref.URL, nil
		}
		path := util.ExpandHome(util.LocalPath(ref.URL))
		if !filepath.IsAbs(path) && r.Root != "" {
			path = filepath.Join(r.Root, path)
		}
		return path, nil
	}

	if ref.AssetID == "" {
		return "", fmt.Errorf("empty media reference")
	}
	if r.BaseURL == "" {
		return "", fmt.Errorf("asset %s: no asset base url configured", ref.AssetID)
	}

	id := url.PathEscape(ref.AssetID)
	if strings.Contains(r.BaseURL, "{id}") {
		return strings.ReplaceAll(r.BaseURL, "{id}", id), nil
	}
	return strings.TrimRight(r.BaseURL, "/") + "/" + id, nil
}
