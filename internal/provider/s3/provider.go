// Package s3 implements provider.Provider against S3-compatible object
// storage. S3 has no native change feed, so GetChanges emulates one by
// listing the bucket and diffing against the caller's last-seen snapshot
// (encoded in the opaque cursor), matching the documented fallback for
// providers without a cursor-based delta API.
package s3

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/cloudsync-oss/cloudsync/internal/provider"
)

// folderSuffix marks a zero-byte object as a folder placeholder, the
// convention most S3-compatible consoles and SDKs use for "directories"
// since the object store itself is a flat key/value namespace.
const folderSuffix = "/"

// Provider implements provider.Provider against one S3 bucket.
type Provider struct {
	client *s3.Client
	bucket string
	logger *slog.Logger
}

// Config holds the credentials and endpoint needed to reach an
// S3-compatible bucket (AWS S3 or a compatible store such as MinIO,
// Backblaze B2, or Cloudflare R2).
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string // empty for AWS S3; set for S3-compatible stores
	AccessKeyID     string
	SecretAccessKey string
	ForcePathStyle  bool
}

// New builds a Provider from static credentials and an optional custom
// endpoint for S3-compatible stores.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Provider, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}

	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3: loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}

		o.UsePathStyle = cfg.ForcePathStyle
	})

	return &Provider{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

// Name implements provider.Provider.
func (p *Provider) Name() provider.Kind { return provider.KindS3 }

// IsAuthenticated implements provider.Provider. Static credentials don't
// expire within a sync session, so a constructed client is always
// considered authenticated.
func (p *Provider) IsAuthenticated() bool { return p.client != nil }

// RefreshAuth implements provider.Provider. Static access keys have no
// refresh step; HeadBucket validates that the credentials still work.
func (p *Provider) RefreshAuth(ctx context.Context) error {
	_, err := p.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &p.bucket})
	if err != nil {
		return classify("refresh_auth", err)
	}

	return nil
}

// GetQuota implements provider.Provider. S3 buckets have no fixed capacity
// in the general case, so Total is reported as unknown (0).
func (p *Provider) GetQuota(ctx context.Context) (provider.Quota, error) {
	var used int64

	paginator := s3.NewListObjectsV2Paginator(p.client, &s3.ListObjectsV2Input{Bucket: &p.bucket})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return provider.Quota{}, classify("get_quota", err)
		}

		for _, obj := range page.Contents {
			used += aws.ToInt64(obj.Size)
		}
	}

	return provider.Quota{Used: used}, nil
}

// List implements provider.Provider. folderID is the key prefix to list;
// S3 has no real folder objects, so "listing a folder" means listing keys
// under a prefix delimited by "/".
func (p *Provider) List(ctx context.Context, folderID string) ([]provider.File, error) {
	prefix := normalizePrefix(folderID)

	var files []provider.File

	paginator := s3.NewListObjectsV2Paginator(p.client, &s3.ListObjectsV2Input{
		Bucket:    &p.bucket,
		Prefix:    &prefix,
		Delimiter: aws.String("/"),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classify("list", err)
		}

		for _, cp := range page.CommonPrefixes {
			files = append(files, folderFromKey(aws.ToString(cp.Prefix)))
		}

		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if strings.HasSuffix(key, folderSuffix) {
				continue
			}

			files = append(files, fromObject(key, obj.ETag, aws.ToInt64(obj.Size), aws.ToTime(obj.LastModified)))
		}
	}

	return files, nil
}

// GetFile implements provider.Provider; id is the object key.
func (p *Provider) GetFile(ctx context.Context, id string) (provider.File, error) {
	head, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &p.bucket, Key: &id})
	if err != nil {
		return provider.File{}, classify("get_file", err)
	}

	return fromObject(id, head.ETag, aws.ToInt64(head.ContentLength), aws.ToTime(head.LastModified)), nil
}

// CreateFolder implements provider.Provider by writing a zero-byte
// placeholder object with a trailing slash key, the de facto convention for
// representing folders in a flat key/value namespace.
func (p *Provider) CreateFolder(ctx context.Context, parentID, name string) (provider.File, error) {
	key := joinKey(parentID, name) + folderSuffix

	_, err := p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &p.bucket,
		Key:    &key,
		Body:   strings.NewReader(""),
	})
	if err != nil {
		return provider.File{}, classify("create_folder", err)
	}

	return folderFromKey(key), nil
}

// UploadFile implements provider.Provider.
func (p *Provider) UploadFile(
	ctx context.Context, parentID, name string, r io.Reader, size int64, mtime time.Time,
) (provider.File, error) {
	key := joinKey(parentID, name)

	_, err := p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &p.bucket,
		Key:           &key,
		Body:          r,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return provider.File{}, classify("upload_file", err)
	}

	return p.GetFile(ctx, key)
}

// DownloadFile implements provider.Provider.
func (p *Provider) DownloadFile(ctx context.Context, id string, w io.Writer) (int64, error) {
	out, err := p.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &p.bucket, Key: &id})
	if err != nil {
		return 0, classify("download_file", err)
	}
	defer out.Body.Close()

	n, err := io.Copy(w, out.Body)
	if err != nil {
		return n, classify("download_file", err)
	}

	return n, nil
}

// MoveFile implements provider.Provider. S3 has no native rename/move;
// this is emulated as copy-then-delete, the standard approach every
// S3-compatible SDK uses since the object store's API has no move verb.
func (p *Provider) MoveFile(ctx context.Context, id, newParentID, newName string) (provider.File, error) {
	newKey := joinKey(newParentID, newName)

	if err := p.copyObject(ctx, id, newKey); err != nil {
		return provider.File{}, classify("move_file", err)
	}

	if err := p.PermanentDelete(ctx, id); err != nil {
		return provider.File{}, classify("move_file", err)
	}

	return p.GetFile(ctx, newKey)
}

// RenameFile implements provider.Provider as a move within the same prefix.
func (p *Provider) RenameFile(ctx context.Context, id, newName string) (provider.File, error) {
	parent := id[:strings.LastIndex(id, "/")+1]

	return p.MoveFile(ctx, id, strings.TrimSuffix(parent, "/"), newName)
}

func (p *Provider) copyObject(ctx context.Context, srcKey, dstKey string) error {
	source := p.bucket + "/" + srcKey

	_, err := p.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     &p.bucket,
		CopySource: &source,
		Key:        &dstKey,
	})

	return err
}

// Delete implements provider.Provider. S3 has no trash/recycle bin concept
// absent bucket versioning policy, so Delete and PermanentDelete behave
// identically here.
func (p *Provider) Delete(ctx context.Context, id string) error {
	return p.PermanentDelete(ctx, id)
}

// PermanentDelete implements provider.Provider.
func (p *Provider) PermanentDelete(ctx context.Context, id string) error {
	_, err := p.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &p.bucket, Key: &id})
	if err != nil {
		return classify("permanent_delete", err)
	}

	return nil
}

// snapshot is the cursor payload this provider persists between poll
// cycles: the full key -> etag map observed on the previous call, so the
// next call can diff a fresh listing against it.
type snapshot struct {
	Etags map[string]string `json:"etags"`
}

// GetChanges implements provider.Provider's change feed contract by fully
// listing the bucket and diffing against the previous snapshot encoded in
// cursor. This is O(bucket size) per poll, the documented cost of using S3
// without a native delta API.
func (p *Provider) GetChanges(ctx context.Context, cursor string) (provider.ChangePage, error) {
	prev := snapshot{Etags: map[string]string{}}
	if cursor != "" {
		if err := json.Unmarshal([]byte(cursor), &prev); err != nil {
			return provider.ChangePage{Reset: true}, nil
		}
	}

	current := snapshot{Etags: map[string]string{}}

	var files []provider.File

	paginator := s3.NewListObjectsV2Paginator(p.client, &s3.ListObjectsV2Input{Bucket: &p.bucket})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return provider.ChangePage{}, classify("get_changes", err)
		}

		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			etag := aws.ToString(obj.ETag)
			current.Etags[key] = etag

			if prevEtag, seen := prev.Etags[key]; !seen || prevEtag != etag {
				files = append(files, fromObject(key, obj.ETag, aws.ToInt64(obj.Size), aws.ToTime(obj.LastModified)))
			}
		}
	}

	for key := range prev.Etags {
		if _, stillPresent := current.Etags[key]; !stillPresent {
			files = append(files, provider.File{ID: key, Deleted: true})
		}
	}

	sort.Slice(files, func(i, j int) bool { return files[i].ID < files[j].ID })

	encoded, err := json.Marshal(current)
	if err != nil {
		return provider.ChangePage{}, fmt.Errorf("s3: encoding change cursor: %w", err)
	}

	return provider.ChangePage{Files: files, Cursor: string(encoded)}, nil
}

func normalizePrefix(folderID string) string {
	if folderID == "" || folderID == "/" {
		return ""
	}

	return strings.TrimPrefix(strings.TrimSuffix(folderID, "/")+"/", "/")
}

func joinKey(parentID, name string) string {
	prefix := normalizePrefix(parentID)
	if prefix == "" {
		return name
	}

	return prefix + name
}

func folderFromKey(key string) provider.File {
	trimmed := strings.TrimSuffix(key, folderSuffix)
	name := trimmed

	if idx := strings.LastIndex(trimmed, "/"); idx >= 0 {
		name = trimmed[idx+1:]
	}

	return provider.File{ID: key, Name: name, Type: provider.FileTypeFolder}
}

func fromObject(key string, etag *string, size int64, modified time.Time) provider.File {
	name := key

	if idx := strings.LastIndex(key, "/"); idx >= 0 {
		name = key[idx+1:]
	}

	return provider.File{
		ID:           key,
		Name:         name,
		Type:         provider.FileTypeFile,
		Size:         size,
		ContentHash:  strings.Trim(aws.ToString(etag), `"`),
		HashKind:     "etag",
		ModifiedTime: modified,
	}
}

// classify maps an AWS SDK error to the provider-agnostic ErrorKind
// taxonomy.
func classify(op string, err error) error {
	kind := provider.ErrKindFatal

	var (
		noSuchKey  *types.NoSuchKey
		notFound   *types.NotFound
		apiErr     smithy.APIError
	)

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		kind = provider.ErrKindCancelled
	case errors.As(err, &noSuchKey), errors.As(err, &notFound):
		kind = provider.ErrKindNotFound
	case errors.As(err, &apiErr):
		switch apiErr.ErrorCode() {
		case "AccessDenied":
			kind = provider.ErrKindPermission
		case "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken":
			kind = provider.ErrKindAuth
		case "SlowDown", "TooManyRequests", "RequestLimitExceeded":
			kind = provider.ErrKindRateLimit
		case "QuotaExceeded", "BucketQuotaExceeded":
			kind = provider.ErrKindQuota
		default:
			kind = provider.ErrKindNetwork
		}
	}

	return provider.NewError(kind, provider.KindS3, op, err)
}

var _ provider.Provider = (*Provider)(nil)
