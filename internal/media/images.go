package media

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/kikiluvv/previewdeck/pkg/util"
)

// ImageLoader fetches and decodes a still image.
type ImageLoader func(ctx context.Context, url string) (image.Image, error)

// ImageCache loads still images in the background and serves decoded
// images without blocking the render loop.
type ImageCache struct {
	logger     zerolog.Logger
	load       ImageLoader
	retryAfter time.Duration
	timeout    time.Duration

	mu      sync.Mutex
	entries map[string]*imageEntry
}

type imageEntry struct {
	img      image.Image
	loading  bool
	err      error
	failedAt time.Time
}

// NewImageCache creates a cache. A nil loader uses DefaultImageLoader.
func NewImageCache(logger zerolog.Logger, load ImageLoader) *ImageCache {
	if load == nil {
		load = DefaultImageLoader
	}
	return &ImageCache{
		logger:     logger.With().Str("component", "images").Logger(),
		load:       load,
		retryAfter: 2 * time.Second,
		timeout:    15 * time.Second,
		entries:    make(map[string]*imageEntry),
	}
}

// Get returns the decoded image for url if it is ready, starting a
// background load otherwise. Failed loads are retried after a backoff.
func (c *ImageCache) Get(url string) (image.Image, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[url]
	if ok {
		if e.img != nil {
			return e.img, true
		}
		if e.loading || (e.err != nil && time.Since(e.failedAt) < c.retryAfter) {
			return nil, false
		}
	} else {
		e = &imageEntry{}
		c.entries[url] = e
	}

	e.loading = true
	go c.fetch(url, e)
	return nil, false
}

// Err returns the last load failure for url.
func (c *ImageCache) Err(url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[url]; ok {
		return e.err
	}
	return nil
}

func (c *ImageCache) fetch(url string, e *imageEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	img, err := c.load(ctx, url)

	c.mu.Lock()
	defer c.mu.Unlock()
	e.loading = false
	if err != nil {
		e.err = LoadError(url, err)
		e.failedAt = time.Now()
		c.logger.Warn().Err(err).Str("url", url).Msg("image load failed")
		return
	}
	e.img = img
	e.err = nil
	c.logger.Debug().
		Str("url", url).
		Int("width", img.Bounds().Dx()).
		Int("height", img.Bounds().Dy()).
		Msg("image loaded")
}

// DefaultImageLoader reads local files or http(s) URLs and decodes PNG,
// JPEG, GIF, BMP and WebP images.
func DefaultImageLoader(ctx context.Context, url string) (image.Image, error) {
	var r io.ReadCloser
	if util.IsRemote(url) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("unexpected status %s", resp.Status)
		}
		r = resp.Body
	} else {
		f, err := os.Open(util.LocalPath(url))
		if err != nil {
			return nil, err
		}
		r = f
	}
	defer r.Close()

	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}
