// Package storage fetches Ventoy release bundles from an S3 mirror.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/vwriter/ventoy-writer/pkg/errors"
)

// ObjectAPI is the subset of the S3 client the mirror uses.
type ObjectAPI interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Mirror reads bundles from a bucket.
type Mirror struct {
	api    ObjectAPI
	bucket string
}

// NewMirror creates a mirror client for anonymous access
func NewMirror(ctx context.Context, bucket, region string) (*Mirror, error) {
	slog.Info("s3_mirror_init", "bucket", bucket, "region", region)

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(aws.AnonymousCredentials{}),
	)
	if err != nil {
		slog.Error("aws_config_load_failed", "error", err)
		return nil, errors.Wrap(err, "failed to load AWS config")
	}

	return NewMirrorWithAPI(s3.NewFromConfig(cfg), bucket), nil
}

// NewMirrorWithAPI wraps an existing client.
func NewMirrorWithAPI(api ObjectAPI, bucket string) *Mirror {
	return &Mirror{api: api, bucket: bucket}
}

// Bucket returns the bucket name.
func (m *Mirror) Bucket() string {
	return m.bucket
}

// DownloadResult contains download metadata
type DownloadResult struct {
	LocalPath string
	SHA256    string
	Size      int64
}

// Download writes key to localPath and computes its SHA-256.
func (m *Mirror) Download(ctx context.Context, key, localPath string) (*DownloadResult, error) {
	slog.Info("s3_download_start", "bucket", m.bucket, "s3_key", key)

	result, err := m.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		slog.Error("s3_get_object_failed", "s3_key", key, "error", err)
		return nil, errors.Wrap(err, "failed to get object from S3")
	}
	defer result.Body.Close()

	f, err := os.Create(localPath)
	if err != nil {
		slog.Error("local_file_creation_failed", "path", localPath, "error", err)
		return nil, errors.Wrap(err, "failed to create local file")
	}
	defer f.Close()

	hash := sha256.New()
	size, err := io.Copy(io.MultiWriter(f, hash), result.Body)
	if err != nil {
		slog.Error("s3_download_failed", "s3_key", key, "error", err)
		os.Remove(localPath)
		return nil, errors.Wrap(err, "failed to download bundle")
	}

	checksum := hex.EncodeToString(hash.Sum(nil))
	slog.Info("s3_download_complete",
		"s3_key", key,
		"size_mb", size/1024/1024,
		"local_path", localPath,
		"sha256", checksum[:16]+"...",
	)

	return &DownloadResult{LocalPath: localPath, SHA256: checksum, Size: size}, nil
}

// Exists checks if key is present in the bucket.
func (m *Mirror) Exists(ctx context.Context, key string) (bool, error) {
	_, err := m.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nf *types.NotFound
		var nk *types.NoSuchKey
		if errors.As(err, &nf) || errors.As(err, &nk) {
			slog.Info("s3_object_not_found", "s3_key", key)
			return false, nil
		}
		slog.Error("s3_head_object_failed", "s3_key", key, "error", err)
		return false, errors.Wrap(err, "failed to check object existence")
	}
	return true, nil
}

// ListObjects lists all keys under prefix.
func (m *Mirror) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	slog.Info("s3_list_start", "bucket", m.bucket, "prefix", prefix)

	paginator := s3.NewListObjectsV2Paginator(m.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(m.bucket),
		Prefix: aws.String(prefix),
	})

	var keys []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			slog.Error("s3_list_failed", "prefix", prefix, "error", err)
			return nil, errors.Wrap(err, "failed to list objects")
		}
		for _, obj := range page.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}
	}

	slog.Info("s3_list_complete", "prefix", prefix, "object_count", len(keys))
	return keys, nil
}

// Versions returns the Ventoy versions mirrored under prefix, derived from
// keys named like ventoy-1.1.05-linux.tar.gz.
func (m *Mirror) Versions(ctx context.Context, prefix string) ([]string, error) {
	keys, err := m.ListObjects(ctx, prefix)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var versions []string
	for _, k := range keys {
		v, ok := VersionFromKey(k)
		if !ok || seen[v] {
			continue
		}
		seen[v] = true
		versions = append(versions, v)
	}
	sort.Strings(versions)
	return versions, nil
}

// VersionFromKey extracts the version from a Linux bundle object key.
func VersionFromKey(key string) (string, bool) {
	name := path.Base(key)
	if !strings.HasPrefix(name, "ventoy-") || !strings.HasSuffix(name, "-linux.tar.gz") {
		return "", false
	}
	v := strings.TrimSuffix(strings.TrimPrefix(name, "ventoy-"), "-linux.tar.gz")
	if v == "" {
		return "", false
	}
	return v, true
}

// BundleKey returns the object key for version under prefix.
func BundleKey(prefix, version string) string {
	name := "ventoy-" + version + "-linux.tar.gz"
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}
