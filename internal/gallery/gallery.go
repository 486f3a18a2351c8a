// Package gallery keeps the list of uploaded images and the per-image actions.
package gallery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/atotto/clipboard"
	"github.com/spf13/afero"

	"github.com/imagevault/service/internal/logging"
)

const (
	labelMax     = 24
	labelKeep    = 20
	fallbackName = "image"
)

var ErrIndexOutOfRange = errors.New("index out of range")

// CommittedImage is an image that lives in the media store.
type CommittedImage struct {
	URL  string
	Name string
}

// NewImage derives the image name from the last path segment of u.
func NewImage(u string) CommittedImage {
	return CommittedImage{URL: u, Name: NameFromURL(u)}
}

// Label is the name shortened for display. A leading "prefix_" is dropped
// before truncation.
func (c CommittedImage) Label() string {
	name := c.Name
	if _, rest, ok := strings.Cut(name, "_"); ok {
		name = rest
	}
	r := []rune(name)
	if len(r) > labelMax {
		return string(r[:labelKeep]) + "..."
	}
	return name
}

// NameFromURL returns the last path segment of u, decoded once. A segment
// that is empty, a dot name or still holds a path separator yields "image".
func NameFromURL(u string) string {
	p := u
	if parsed, err := url.Parse(u); err == nil {
		p = parsed.Path
	}
	name := path.Base(p)
	switch {
	case name == "", name == ".", name == "..", name == "/",
		strings.ContainsAny(name, `/\`):
		return fallbackName
	}
	return name
}

// Backend is the part of the API client the gallery needs.
type Backend interface {
	ListImages(ctx context.Context) ([]string, error)
	Fetch(ctx context.Context, url string) (io.ReadCloser, error)
}

// Clipboard receives copied links.
type Clipboard interface {
	WriteAll(text string) error
}

// SystemClipboard writes to the OS clipboard.
type SystemClipboard struct{}

// WriteAll implements Clipboard.
func (SystemClipboard) WriteAll(text string) error {
	if clipboard.Unsupported {
		return errors.New("no clipboard utility available")
	}
	return clipboard.WriteAll(text)
}

// Gallery is the ordered list of committed images, newest first.
type Gallery struct {
	mu     sync.RWMutex
	images []CommittedImage

	backend   Backend
	clipboard Clipboard
	fs        afero.Fs
	log       *logging.Logger
}

// Option configures a Gallery.
type Option func(*Gallery)

// WithClipboard overrides the system clipboard.
func WithClipboard(c Clipboard) Option {
	return func(g *Gallery) { g.clipboard = c }
}

// WithFs sets the filesystem downloads are written to.
func WithFs(fs afero.Fs) Option {
	return func(g *Gallery) { g.fs = fs }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(g *Gallery) { g.log = l }
}

// New returns an empty gallery backed by b.
func New(b Backend, opts ...Option) *Gallery {
	g := &Gallery{
		backend:   b,
		clipboard: SystemClipboard{},
		fs:        afero.NewOsFs(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.log == nil {
		g.log = logging.Default()
	}
	return g
}

// Refresh replaces the list with what the Listing Endpoint returns. The
// current list is kept when the call fails.
func (g *Gallery) Refresh(ctx context.Context) error {
	urls, err := g.backend.ListImages(ctx)
	if err != nil {
		return fmt.Errorf("refresh gallery: %w", err)
	}
	images := make([]CommittedImage, 0, len(urls))
	for _, u := range urls {
		images = append(images, NewImage(u))
	}

	g.mu.Lock()
	g.images = images
	g.mu.Unlock()
	return nil
}

// Prepend puts urls ahead of the existing images, keeping their order.
func (g *Gallery) Prepend(urls ...string) {
	if len(urls) == 0 {
		return
	}
	added := make([]CommittedImage, 0, len(urls))
	for _, u := range urls {
		added = append(added, NewImage(u))
	}

	g.mu.Lock()
	g.images = append(added, g.images...)
	g.mu.Unlock()
}

// Images returns a snapshot of the gallery.
func (g *Gallery) Images() []CommittedImage {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]CommittedImage, len(g.images))
	copy(out, g.images)
	return out
}

// Image returns the image at index.
func (g *Gallery) Image(index int) (CommittedImage, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if index < 0 || index >= len(g.images) {
		return CommittedImage{}, fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	return g.images[index], nil
}

// Len returns the number of images.
func (g *Gallery) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.images)
}

// CopyLink puts u on the clipboard and returns a short acknowledgement.
func (g *Gallery) CopyLink(u string) (string, error) {
	if err := g.clipboard.WriteAll(u); err != nil {
		g.log.Warn("copy link failed", "url", u, "err", err)
		return "", fmt.Errorf("copy link: %w", err)
	}
	return "Copied!", nil
}

// Download saves the image behind u into dir under its derived name and
// returns the written path.
func (g *Gallery) Download(ctx context.Context, u, dir string) (string, error) {
	body, err := g.backend.Fetch(ctx, u)
	if err != nil {
		g.log.Error("download failed", "url", u, "err", err)
		return "", fmt.Errorf("download %s: %w", u, err)
	}
	defer body.Close()

	if dir == "" {
		dir = "."
	}
	dst := filepath.Join(dir, filepath.Base(NameFromURL(u)))
	if err := afero.WriteReader(g.fs, dst, body); err != nil {
		g.log.Error("download failed", "url", u, "path", dst, "err", err)
		_ = g.fs.Remove(dst)
		return "", fmt.Errorf("save %s: %w", dst, err)
	}
	return dst, nil
}
