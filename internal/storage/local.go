package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// Local stores images on a filesystem and serves them via a URL prefix.
// Suitable for development. In production, use Cloudinary or MinIO.
type Local struct {
	fs         afero.Fs
	publicBase string // URL prefix for served files, e.g. "http://localhost:5000/media"
	media      MediaConfig
}

// NewLocal creates a store rooted at dir on the OS filesystem.
func NewLocal(dir, publicBase string, media MediaConfig) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create media dir %s: %w", dir, err)
	}
	return NewLocalFs(afero.NewBasePathFs(afero.NewOsFs(), dir), publicBase, media), nil
}

// NewLocalFs creates a store on top of any afero filesystem.
func NewLocalFs(fs afero.Fs, publicBase string, media MediaConfig) *Local {
	return &Local{
		fs:         fs,
		publicBase: strings.TrimRight(publicBase, "/"),
		media:      media,
	}
}

// Upload writes the image to folder/publicID.format, replacing any previous file.
func (l *Local) Upload(_ context.Context, in UploadInput) (*Object, error) {
	if !l.media.Allows(in.Format) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, in.Format)
	}

	format := NormalizeFormat(in.Format)
	key := ObjectKey(l.media.Folder, in.PublicID, format)
	dest := filepath.FromSlash("/" + key)

	if err := l.fs.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating directory for %s: %v", ErrUpstreamStorage, key, err)
	}

	f, err := l.fs.Create(dest)
	if err != nil {
		return nil, fmt.Errorf("%w: creating file %s: %v", ErrUpstreamStorage, key, err)
	}
	if _, err := io.Copy(f, in.Body); err != nil {
		_ = f.Close()
		_ = l.fs.Remove(dest)
		return nil, fmt.Errorf("%w: writing file %s: %v", ErrUpstreamStorage, key, err)
	}
	if err := f.Close(); err != nil {
		_ = l.fs.Remove(dest)
		return nil, fmt.Errorf("%w: closing file %s: %v", ErrUpstreamStorage, key, err)
	}

	return &Object{
		PublicID: path.Join(l.media.Folder, in.PublicID),
		Format:   format,
		URL:      l.publicBase + "/" + EscapeKey(key),
	}, nil
}

// List returns up to limit images from the folder, newest first.
func (l *Local) List(_ context.Context, limit int) ([]Object, error) {
	if limit <= 0 || limit > l.media.ListLimit {
		limit = l.media.ListLimit
	}

	infos, err := afero.ReadDir(l.fs, filepath.FromSlash("/"+l.media.Folder))
	if err != nil {
		if os.IsNotExist(err) {
			return []Object{}, nil
		}
		return nil, fmt.Errorf("%w: reading %s: %v", ErrUpstreamStorage, l.media.Folder, err)
	}

	sort.SliceStable(infos, func(i, j int) bool {
		if !infos[i].ModTime().Equal(infos[j].ModTime()) {
			return infos[i].ModTime().After(infos[j].ModTime())
		}
		return infos[i].Name() < infos[j].Name()
	})

	objects := make([]Object, 0, min(len(infos), limit))
	for _, info := range infos {
		if info.IsDir() {
			continue
		}
		ext := path.Ext(info.Name())
		key := path.Join(l.media.Folder, info.Name())
		objects = append(objects, Object{
			PublicID: strings.TrimSuffix(key, ext),
			Format:   NormalizeFormat(ext),
			URL:      l.publicBase + "/" + EscapeKey(key),
		})
		if len(objects) == limit {
			break
		}
	}
	return objects, nil
}

// Handler serves stored files; mount it under the path of the public base URL.
func (l *Local) Handler() http.Handler {
	return http.FileServer(afero.NewHttpFs(l.fs).Dir("/"))
}
