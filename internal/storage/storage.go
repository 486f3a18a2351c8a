// Package storage defines the interface to the external media store.
// Swap implementations by changing the concrete type injected at startup:
// Cloudinary is the managed default, MinIO covers any S3-compatible provider,
// and Local keeps files on disk for development.
package storage

import (
	"context"
	"errors"
	"io"
	"net/url"
	"path"
	"slices"
	"strings"
)

var (
	// ErrUnsupportedFormat is returned when an image format is outside the whitelist.
	ErrUnsupportedFormat = errors.New("unsupported image format")

	// ErrUpstreamStorage is returned when the external store is unavailable or rejects a call.
	ErrUpstreamStorage = errors.New("upstream storage error")
)

// MediaConfig describes the namespace and the store-side rules for uploaded images.
// It is passed explicitly to store and service constructors.
type MediaConfig struct {
	// Folder is the fixed namespace every object lives under.
	Folder string
	// AllowedFormats lists lower-case extensions without the dot.
	AllowedFormats []string
	// MaxWidth is the non-upscaling width limit applied by the store, 0 disables it.
	MaxWidth int
	// ListLimit caps the number of objects returned by List.
	ListLimit int
}

// DefaultMediaConfig mirrors the defaults of the API server configuration.
func DefaultMediaConfig() MediaConfig {
	return MediaConfig{
		Folder:         "my-images",
		AllowedFormats: []string{"jpg", "jpeg", "png", "gif", "webp"},
		MaxWidth:       1024,
		ListLimit:      100,
	}
}

// Allows reports whether format (with or without a leading dot) is whitelisted.
func (c MediaConfig) Allows(format string) bool {
	format = NormalizeFormat(format)
	return format != "" && slices.Contains(c.AllowedFormats, format)
}

// UploadInput is the payload handed to a store.
type UploadInput struct {
	// PublicID is the object identifier inside the namespace, without extension.
	PublicID    string
	Format      string
	ContentType string
	Body        io.Reader
	// Size is the exact byte count, or -1 when unknown.
	Size int64
}

// Object is a stored image.
type Object struct {
	PublicID string
	Format   string
	URL      string
}

// MediaStore is the interface for storing and listing images in the namespace.
type MediaStore interface {
	// Upload stores the image and returns the publicly fetchable object.
	Upload(ctx context.Context, in UploadInput) (*Object, error)
	// List returns up to limit objects from the namespace in store order.
	List(ctx context.Context, limit int) ([]Object, error)
}

// NormalizeFormat lower-cases an extension and drops the leading dot.
func NormalizeFormat(format string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(format), "."))
}

// ObjectKey joins the namespace, public id and format into a store key.
func ObjectKey(folder, publicID, format string) string {
	name := publicID
	if format != "" {
		name += "." + NormalizeFormat(format)
	}
	if folder == "" {
		return name
	}
	return path.Join(folder, name)
}

// EscapeKey percent-encodes each path segment of a store key for use in a URL.
func EscapeKey(key string) string {
	return (&url.URL{Path: key}).EscapedPath()
}
