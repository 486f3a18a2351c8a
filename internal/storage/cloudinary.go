package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/admin"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
)

// CloudinaryUploader is the subset of the Cloudinary upload API used by Cloudinary.
type CloudinaryUploader interface {
	Upload(ctx context.Context, file interface{}, params uploader.UploadParams) (*uploader.UploadResult, error)
}

// CloudinaryAdmin is the subset of the Cloudinary admin API used by Cloudinary.
type CloudinaryAdmin interface {
	Assets(ctx context.Context, params admin.AssetsParams) (*admin.AssetsResult, error)
}

// Cloudinary implements MediaStore on top of the Cloudinary media API.
// The store itself enforces the format whitelist and the resize transformation.
type Cloudinary struct {
	upload CloudinaryUploader
	admin  CloudinaryAdmin
	media  MediaConfig
}

// NewCloudinary creates a Cloudinary-backed store from account credentials.
func NewCloudinary(cloudName, apiKey, apiSecret string, media MediaConfig) (*Cloudinary, error) {
	cld, err := cloudinary.NewFromParams(cloudName, apiKey, apiSecret)
	if err != nil {
		return nil, fmt.Errorf("create cloudinary client: %w", err)
	}
	cld.Config.URL.Secure = true

	return NewCloudinaryWithAPI(&cld.Upload, &cld.Admin, media), nil
}

// NewCloudinaryWithAPI wires pre-built API clients. Useful for testing with fakes.
func NewCloudinaryWithAPI(up CloudinaryUploader, adm CloudinaryAdmin, media MediaConfig) *Cloudinary {
	return &Cloudinary{upload: up, admin: adm, media: media}
}

// Upload sends the image to Cloudinary under the configured folder.
func (c *Cloudinary) Upload(ctx context.Context, in UploadInput) (*Object, error) {
	res, err := c.upload.Upload(ctx, in.Body, c.uploadParams(in.PublicID))
	if err != nil {
		return nil, fmt.Errorf("%w: upload %q: %v", ErrUpstreamStorage, in.PublicID, err)
	}
	if msg := res.Error.Message; msg != "" {
		if isFormatRejection(msg) {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, msg)
		}
		return nil, fmt.Errorf("%w: upload %q: %s", ErrUpstreamStorage, in.PublicID, msg)
	}
	if res.SecureURL == "" {
		return nil, fmt.Errorf("%w: upload %q: no url returned", ErrUpstreamStorage, in.PublicID)
	}

	format := res.Format
	if format == "" {
		format = in.Format
	}
	return &Object{PublicID: res.PublicID, Format: format, URL: res.SecureURL}, nil
}

// List returns the secure URLs of uploaded images under the folder prefix.
func (c *Cloudinary) List(ctx context.Context, limit int) ([]Object, error) {
	if limit <= 0 || limit > c.media.ListLimit {
		limit = c.media.ListLimit
	}

	res, err := c.admin.Assets(ctx, admin.AssetsParams{
		AssetType:    "image",
		DeliveryType: "upload",
		Prefix:       c.media.Folder,
		MaxResults:   limit,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list assets: %v", ErrUpstreamStorage, err)
	}
	if msg := res.Error.Message; msg != "" {
		return nil, fmt.Errorf("%w: list assets: %s", ErrUpstreamStorage, msg)
	}

	objects := make([]Object, 0, len(res.Assets))
	for _, a := range res.Assets {
		objects = append(objects, Object{PublicID: a.PublicID, Format: a.Format, URL: a.SecureURL})
	}
	return objects, nil
}

func (c *Cloudinary) uploadParams(publicID string) uploader.UploadParams {
	params := uploader.UploadParams{
		PublicID:       publicID,
		Folder:         c.media.Folder,
		AllowedFormats: c.media.AllowedFormats,
	}
	if c.media.MaxWidth > 0 {
		params.Transformation = fmt.Sprintf("c_limit,w_%d", c.media.MaxWidth)
	}
	return params
}

// isFormatRejection matches Cloudinary's "Image file format bmp not allowed" style errors.
func isFormatRejection(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "format") && strings.Contains(msg, "not allowed")
}
