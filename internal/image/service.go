// Package image implements the upload and listing endpoints on top of a media store.
package image

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/imagevault/service/internal/logging"
	"github.com/imagevault/service/internal/metrics"
	"github.com/imagevault/service/internal/storage"
)

// ErrNoFile is returned when the request carries no file part.
var ErrNoFile = errors.New("no file uploaded")

// sniffLen is how many leading bytes are inspected to detect the image format.
const sniffLen = 3072

// UploadRequest is a single file received by the upload endpoint.
type UploadRequest struct {
	// Filename is the original name of the uploaded file.
	Filename string
	// DesiredName optionally overrides Filename, extension included.
	DesiredName string
	Body        io.Reader
	Size        int64
}

// Service contains the upload and listing logic.
type Service struct {
	store   storage.MediaStore
	media   storage.MediaConfig
	timeout time.Duration
	obs     *metrics.Observer
	log     *logging.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithTimeout bounds every call to the media store.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// WithObserver records store calls in Prometheus.
func WithObserver(o *metrics.Observer) Option {
	return func(s *Service) { s.obs = o }
}

// WithLogger replaces the process-wide logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Service) { s.log = l }
}

// NewService creates a new image Service.
func NewService(store storage.MediaStore, media storage.MediaConfig, opts ...Option) *Service {
	s := &Service{store: store, media: media}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logging.Default()
	}
	return s
}

// Upload validates the image format and hands the file to the store.
// It returns the absolute public URL of the stored object.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (string, error) {
	if req.Body == nil {
		return "", ErrNoFile
	}
	start := time.Now()

	name := req.DesiredName
	if strings.TrimSpace(name) == "" {
		name = req.Filename
	}
	publicID := PublicID(req.DesiredName, req.Filename)

	head, body, err := peek(req.Body, sniffLen)
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}

	format, contentType := detectFormat(head, name, req.Filename)
	if !s.media.Allows(format) {
		s.obs.Observe(metrics.OpUpload, start, "unsupported_format")
		return "", fmt.Errorf("%w: %q", storage.ErrUnsupportedFormat, format)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	obj, err := s.store.Upload(ctx, storage.UploadInput{
		PublicID:    publicID,
		Format:      format,
		ContentType: contentType,
		Body:        body,
		Size:        req.Size,
	})
	if err != nil {
		s.obs.Observe(metrics.OpUpload, start, failureReason(ctx, err))
		s.log.Error("upload failed", "public_id", publicID, "format", format, "err", err)
		return "", err
	}

	s.obs.Observe(metrics.OpUpload, start, "")
	s.obs.AddUploadedBytes(req.Size)
	s.log.Info("image uploaded", "public_id", obj.PublicID, "url", obj.URL)
	return obj.URL, nil
}

// List returns the URLs of stored images, never nil.
func (s *Service) List(ctx context.Context) ([]string, error) {
	start := time.Now()

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	objects, err := s.store.List(ctx, s.media.ListLimit)
	if err != nil {
		s.obs.Observe(metrics.OpList, start, failureReason(ctx, err))
		s.log.Error("list images failed", "err", err)
		return nil, err
	}
	s.obs.Observe(metrics.OpList, start, "")

	urls := make([]string, 0, len(objects))
	for _, o := range objects {
		urls = append(urls, o.URL)
	}
	return urls, nil
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// PublicID derives the object identifier: the desired name without its
// extension, else the original filename stem, else a random id.
func PublicID(desired, original string) string {
	for _, name := range []string{desired, original} {
		if stem := stripExt(sanitizeName(name)); stem != "" {
			return stem
		}
	}
	return uuid.NewString()
}

// sanitizeName removes path components and NUL bytes from a client-supplied name.
func sanitizeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)
	name = strings.ReplaceAll(name, "\x00", "")
	name = strings.TrimSpace(name)
	switch name {
	case ".", "..", "/":
		return ""
	}
	return name
}

func stripExt(name string) string {
	if ext := path.Ext(name); len(ext) > 1 {
		return strings.TrimSuffix(name, ext)
	}
	return name
}

// detectFormat sniffs the content first and falls back to the name extensions.
func detectFormat(head []byte, names ...string) (format, contentType string) {
	mt := mimetype.Detect(head)
	if strings.HasPrefix(mt.String(), "image/") && mt.Extension() != "" {
		return storage.NormalizeFormat(mt.Extension()), mt.String()
	}
	for _, name := range names {
		if ext := path.Ext(sanitizeName(name)); len(ext) > 1 {
			return storage.NormalizeFormat(ext), "application/octet-stream"
		}
	}
	return "", "application/octet-stream"
}

// peek reads up to n bytes and returns them with a reader replaying the whole stream.
func peek(r io.Reader, n int) ([]byte, io.Reader, error) {
	head := make([]byte, n)
	read, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, nil, err
	}
	head = head[:read]
	return head, io.MultiReader(bytes.NewReader(head), r), nil
}

func failureReason(ctx context.Context, err error) string {
	switch {
	case errors.Is(err, storage.ErrUnsupportedFormat):
		return "unsupported_format"
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return "timeout"
	default:
		return "upstream"
	}
}
