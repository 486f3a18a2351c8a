package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/imagevault/service/internal/logging"
)

// MinioClient is the subset of *minio.Client used by Minio.
type MinioClient interface {
	PutObject(ctx context.Context, bucket, key string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	ListObjects(ctx context.Context, bucket string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
}

// Minio implements MediaStore using a MinIO (or any S3-compatible) bucket.
// S3 has no server-side transformations, so MaxWidth is not applied here;
// the format whitelist is enforced before the object is written.
type Minio struct {
	client     MinioClient
	bucket     string
	publicBase string
	media      MediaConfig
}

// NewMinio creates a MinIO client, ensures the bucket exists with a public-read
// policy, and returns a ready-to-use store.
func NewMinio(ctx context.Context, endpoint, accessKey, secretKey, bucket, publicBase string, useSSL bool, media MediaConfig) (*Minio, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket existence: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %q: %w", bucket, err)
		}
		logging.Info("storage: created bucket", "bucket", bucket)
	}

	if err := client.SetBucketPolicy(ctx, bucket, publicReadPolicy(bucket, media.Folder)); err != nil {
		return nil, fmt.Errorf("set bucket policy: %w", err)
	}

	return NewMinioWithClient(client, bucket, publicBase, media), nil
}

// NewMinioWithClient wires an existing client. Useful for testing with fakes.
func NewMinioWithClient(client MinioClient, bucket, publicBase string, media MediaConfig) *Minio {
	return &Minio{
		client:     client,
		bucket:     bucket,
		publicBase: strings.TrimRight(publicBase, "/"),
		media:      media,
	}
}

// Upload streams the image to the bucket under folder/publicID.format.
// in.Size must be the exact byte count, or -1 if unknown (MinIO will buffer it).
func (s *Minio) Upload(ctx context.Context, in UploadInput) (*Object, error) {
	if !s.media.Allows(in.Format) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, in.Format)
	}

	format := NormalizeFormat(in.Format)
	key := ObjectKey(s.media.Folder, in.PublicID, format)
	_, err := s.client.PutObject(ctx, s.bucket, key, in.Body, in.Size, minio.PutObjectOptions{
		ContentType: in.ContentType,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: put object %q: %v", ErrUpstreamStorage, key, err)
	}

	return &Object{
		PublicID: path.Join(s.media.Folder, in.PublicID),
		Format:   format,
		URL:      s.PublicURL(key),
	}, nil
}

// List returns up to limit objects stored under the folder prefix.
func (s *Minio) List(ctx context.Context, limit int) ([]Object, error) {
	if limit <= 0 || limit > s.media.ListLimit {
		limit = s.media.ListLimit
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	objects := make([]Object, 0)
	for info := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    s.media.Folder + "/",
		Recursive: true,
		MaxKeys:   limit,
	}) {
		if info.Err != nil {
			return nil, fmt.Errorf("%w: list objects: %v", ErrUpstreamStorage, info.Err)
		}
		if strings.HasSuffix(info.Key, "/") {
			continue
		}
		ext := path.Ext(info.Key)
		objects = append(objects, Object{
			PublicID: strings.TrimSuffix(info.Key, ext),
			Format:   NormalizeFormat(ext),
			URL:      s.PublicURL(info.Key),
		})
		if len(objects) == limit {
			break
		}
	}
	return objects, nil
}

// PublicURL returns the browser-accessible URL for the given key.
// For local MinIO: "http://localhost:9000/images/my-images/photo.png"
func (s *Minio) PublicURL(key string) string {
	return s.publicBase + "/" + EscapeKey(key)
}

// publicReadPolicy returns an S3 bucket policy JSON that allows anonymous GET on the folder.
func publicReadPolicy(bucket, folder string) string {
	policy := map[string]interface{}{
		"Version": "2012-10-17",
		"Statement": []map[string]interface{}{
			{
				"Effect":    "Allow",
				"Principal": "*",
				"Action":    "s3:GetObject",
				"Resource":  fmt.Sprintf("arn:aws:s3:::%s/%s/*", bucket, folder),
			},
		},
	}
	b, _ := json.Marshal(policy)
	return string(b)
}
