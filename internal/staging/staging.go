// Package staging stores downloaded artifacts in the shared object bucket
// under content-addressed keys and mints short-lived presigned GET URLs for
// the gateway to fetch them back.
package staging

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
)

// PresignTTL bounds how long a minted download link stays valid.
const PresignTTL = 5 * time.Minute

// Metadata is attached to every staged object as user metadata.
type Metadata struct {
	Extension         string
	OriginalName      string
	SourceURLHash     string
	DownloadTimestamp time.Time
	OriginalURL       string
	CleanedURL        string
	URLDomain         string
}

func (m Metadata) userMetadata() map[string]string {
	return map[string]string{
		"extension":          url.QueryEscape(m.Extension),
		"original-name":      url.QueryEscape(m.OriginalName),
		"source-url-hash":    url.QueryEscape(m.SourceURLHash),
		"download-timestamp": url.QueryEscape(m.DownloadTimestamp.UTC().Format(time.RFC3339)),
		"original-url":       url.QueryEscape(m.OriginalURL),
		"cleaned-url":        url.QueryEscape(m.CleanedURL),
		"url-domain":         url.QueryEscape(m.URLDomain),
	}
}

// Bucket is the MinIO-backed staging area.
type Bucket struct {
	client *minio.Client
	name   string
}

// NewBucket wraps an established MinIO client and bucket name.
func NewBucket(client *minio.Client, name string) *Bucket {
	return &Bucket{client: client, name: name}
}

// Ensure creates the bucket when it does not exist yet. Run at startup.
func (b *Bucket) Ensure(ctx context.Context) error {
	exists, err := b.client.BucketExists(ctx, b.name)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", b.name, err)
	}
	if exists {
		slog.InfoContext(ctx, "Bucket already exists", "bucket", b.name)
		return nil
	}
	if err := b.client.MakeBucket(ctx, b.name, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", b.name, err)
	}
	slog.InfoContext(ctx, "Bucket created", "bucket", b.name)
	return nil
}

// Stat reports whether an object is already staged and, when it is, returns
// its stored extension and original name; the other metadata fields are left
// empty. A missing object is an expected miss, not an error.
func (b *Bucket) Stat(ctx context.Context, key string) (Metadata, bool, error) {
	info, err := b.client.StatObject(ctx, b.name, key, minio.StatObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" {
			return Metadata{}, false, nil
		}
		return Metadata{}, false, fmt.Errorf("failed to stat %s: %w", key, err)
	}

	meta := Metadata{}
	if v, err := url.QueryUnescape(info.UserMetadata["Extension"]); err == nil {
		meta.Extension = v
	}
	if v, err := url.QueryUnescape(info.UserMetadata["Original-Name"]); err == nil {
		meta.OriginalName = v
	}
	return meta, true, nil
}

// Upload stages the local file under the given key with its content type and
// user metadata.
func (b *Bucket) Upload(ctx context.Context, key, filePath, contentType string, meta Metadata) error {
	_, err := b.client.FPutObject(ctx, b.name, key, filePath, minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: meta.userMetadata(),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	slog.InfoContext(ctx, "File uploaded to bucket", "bucket", b.name, "object", key)
	return nil
}

// PresignedGet mints a download URL for the staged object. The response
// headers force the content type and an attachment filename so chat clients
// treat the fetch as a file download.
func (b *Bucket) PresignedGet(ctx context.Context, key, contentType, filename string) (string, error) {
	reqParams := make(url.Values)
	if contentType != "" {
		reqParams.Set("response-content-type", contentType)
	}
	if filename != "" {
		reqParams.Set("response-content-disposition",
			fmt.Sprintf("attachment; filename=%q", filename))
	}

	presigned, err := b.client.PresignedGetObject(ctx, b.name, key, PresignTTL, reqParams)
	if err != nil {
		return "", fmt.Errorf("failed to presign %s: %w", key, err)
	}
	return presigned.String(), nil
}
