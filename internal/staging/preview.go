package staging

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	_ "golang.org/x/image/webp"
)

// DefaultThumbnailSize is the bounding square of a preview, in pixels.
const DefaultThumbnailSize = 256

// Preview is a revocable handle to a rendered thumbnail. Release frees it;
// only the first call has any effect.
type Preview struct {
	ID string

	mu       sync.Mutex
	data     []byte
	released bool
	onFree   func()
}

// NewPreview wraps data in a handle. onFree, when non-nil, runs on the first
// Release.
func NewPreview(data []byte, onFree func()) *Preview {
	return &Preview{ID: uuid.NewString(), data: data, onFree: onFree}
}

// Bytes returns the encoded thumbnail, or nil once released.
func (p *Preview) Bytes() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.data
}

// Released reports whether Release has run.
func (p *Preview) Released() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.released
}

// Release frees the preview. It reports whether this call did the release.
func (p *Preview) Release() bool {
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return false
	}
	p.released = true
	p.data = nil
	onFree := p.onFree
	p.mu.Unlock()

	if onFree != nil {
		onFree()
	}
	return true
}

// PreviewAllocator creates a preview for a staged source.
type PreviewAllocator interface {
	Allocate(src Source) (*Preview, error)
}

// ThumbnailAllocator decodes the source and keeps a PNG thumbnail in memory.
type ThumbnailAllocator struct {
	// Size is the bounding square; zero means DefaultThumbnailSize.
	Size int
}

// Allocate implements PreviewAllocator.
func (a ThumbnailAllocator) Allocate(src Source) (*Preview, error) {
	rc, err := src.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", src.Name(), err)
	}
	defer rc.Close()

	img, err := imaging.Decode(rc, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", src.Name(), err)
	}

	size := a.Size
	if size <= 0 {
		size = DefaultThumbnailSize
	}
	b := img.Bounds()
	if b.Dx() > size || b.Dy() > size {
		img = imaging.Fit(img, size, size, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode preview: %w", err)
	}
	return NewPreview(buf.Bytes(), nil), nil
}
