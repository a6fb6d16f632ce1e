// Package storage keeps user-uploaded avatar images in an S3-compatible bucket.
package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	s3aws "github.com/aws/aws-sdk-go-v2/service/s3"
)

// ListLimit caps how many uploads List returns
const ListLimit = 20

// S3Client is the subset of the S3 API used for avatars.
type S3Client interface {
	PutObject(ctx context.Context, params *s3aws.PutObjectInput, optFns ...func(*s3aws.Options)) (*s3aws.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3aws.ListObjectsV2Input, optFns ...func(*s3aws.Options)) (*s3aws.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, params *s3aws.DeleteObjectInput, optFns ...func(*s3aws.Options)) (*s3aws.DeleteObjectOutput, error)
}

// Config describes the bucket and credentials.
type Config struct {
	Bucket         string
	Region         string
	AccessKeyID    string
	SecretKey      string
	Endpoint       string // S3-compatible services such as MinIO
	BaseURL        string // public URL base, generated when empty
	ForcePathStyle bool
}

// UploadedAvatar is an image stored under a user's folder
type UploadedAvatar struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Path       string    `json:"path"`
	URL        string    `json:"url"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Avatars stores avatar images per user
type Avatars struct {
	client         S3Client
	bucket         string
	region         string
	endpoint       string
	baseURL        string
	forcePathStyle bool
	now            func() time.Time
}

// Option configures Avatars
type Option func(*Avatars)

// WithClient replaces the S3 client, mainly for tests
func WithClient(client S3Client) Option {
	return func(a *Avatars) {
		a.client = client
	}
}

// WithClock sets the time source used for object names
func WithClock(now func() time.Time) Option {
	return func(a *Avatars) {
		a.now = now
	}
}

// New creates avatar storage. Without WithClient an S3 client is built from cfg,
// falling back to the default AWS credential chain when no keys are given.
func New(ctx context.Context, cfg Config, opts ...Option) (*Avatars, error) {
	if cfg.Bucket == "" || cfg.Region == "" {
		return nil, fmt.Errorf("storage bucket and region are required")
	}

	a := &Avatars{
		bucket:         cfg.Bucket,
		region:         cfg.Region,
		endpoint:       cfg.Endpoint,
		baseURL:        cfg.BaseURL,
		forcePathStyle: cfg.ForcePathStyle,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.client == nil {
		loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
		if cfg.AccessKeyID != "" && cfg.SecretKey != "" {
			loadOpts = append(loadOpts, config.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretKey, ""),
			))
		}

		awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}

		a.client = s3aws.NewFromConfig(awsCfg, func(o *s3aws.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
			}
			o.UsePathStyle = cfg.ForcePathStyle
		})
	}

	return a, nil
}

var whitespace = regexp.MustCompile(`\s+`)

// ObjectPath builds "<userID>/<name>_<millis>.<ext>" with whitespace in name
// replaced by underscores. ext comes from filename.
func ObjectPath(userID, name, filename string, at time.Time) string {
	ext := strings.TrimPrefix(path.Ext(filename), ".")
	if ext == "" {
		ext = "png"
	}
	return fmt.Sprintf("%s/%s_%d.%s", userID, whitespace.ReplaceAllString(name, "_"), at.UnixMilli(), ext)
}

// displayName recovers the label typed at upload time from an object name
func displayName(object string) string {
	base := path.Base(object)
	if i := strings.LastIndex(base, "_"); i > 0 {
		base = base[:i]
	}
	return strings.NewReplacer("_", " ", "-", " ").Replace(base)
}

// Upload stores an image and returns its public location
func (a *Avatars) Upload(ctx context.Context, userID, name, filename, contentType string, body io.Reader, size int64) (*UploadedAvatar, error) {
	if userID == "" || strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("user id and avatar name are required")
	}

	now := a.now()
	key := ObjectPath(userID, strings.TrimSpace(name), filename, now)

	input := &s3aws.PutObjectInput{
		Bucket:       aws.String(a.bucket),
		Key:          aws.String(key),
		Body:         body,
		CacheControl: aws.String("max-age=3600"),
		IfNoneMatch:  aws.String("*"),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if size > 0 {
		input.ContentLength = aws.Int64(size)
	}

	if _, err := a.client.PutObject(ctx, input); err != nil {
		return nil, classifyS3Error(err, "upload")
	}

	return &UploadedAvatar{
		ID:         key,
		Name:       displayName(key),
		Path:       key,
		URL:        a.URL(key),
		UploadedAt: now.UTC(),
	}, nil
}

// List returns up to ListLimit of the user's uploads, newest first
func (a *Avatars) List(ctx context.Context, userID string) ([]UploadedAvatar, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	out, err := a.client.ListObjectsV2(ctx, &s3aws.ListObjectsV2Input{
		Bucket: aws.String(a.bucket),
		Prefix: aws.String(userID + "/"),
	})
	if err != nil {
		return nil, classifyS3Error(err, "list")
	}

	avatars := make([]UploadedAvatar, 0, len(out.Contents))
	for _, obj := range out.Contents {
		key := aws.ToString(obj.Key)
		if strings.HasSuffix(key, "/") {
			continue
		}
		avatars = append(avatars, UploadedAvatar{
			ID:         key,
			Name:       displayName(key),
			Path:       key,
			URL:        a.URL(key),
			UploadedAt: aws.ToTime(obj.LastModified).UTC(),
		})
	}

	sort.SliceStable(avatars, func(i, j int) bool {
		return avatars[i].UploadedAt.After(avatars[j].UploadedAt)
	})
	if len(avatars) > ListLimit {
		avatars = avatars[:ListLimit]
	}
	return avatars, nil
}

// Delete removes one of the user's uploads. key must lie in the user's folder.
func (a *Avatars) Delete(ctx context.Context, userID, key string) error {
	key = strings.TrimPrefix(key, "/")
	if userID == "" || !strings.HasPrefix(key, userID+"/") || path.Clean(key) != key || strings.Contains(key, "..") {
		return ErrForbiddenPath
	}

	_, err := a.client.DeleteObject(ctx, &s3aws.DeleteObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return classifyS3Error(err, "delete")
	}
	return nil
}

// URL returns the public URL of an object
func (a *Avatars) URL(key string) string {
	key = strings.TrimPrefix(key, "/")

	if a.baseURL != "" {
		return strings.TrimSuffix(a.baseURL, "/") + "/" + key
	}

	if a.endpoint != "" {
		endpoint := strings.TrimSuffix(a.endpoint, "/")
		scheme := "https://"
		if after, ok := strings.CutPrefix(endpoint, "http://"); ok {
			scheme = "http://"
			endpoint = after
		} else if after, ok := strings.CutPrefix(endpoint, "https://"); ok {
			endpoint = after
		}
		if a.forcePathStyle {
			return fmt.Sprintf("%s%s/%s/%s", scheme, endpoint, a.bucket, key)
		}
		return fmt.Sprintf("%s%s.%s/%s", scheme, a.bucket, endpoint, key)
	}

	if a.forcePathStyle {
		return fmt.Sprintf("https://s3.%s.amazonaws.com/%s/%s", a.region, a.bucket, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", a.bucket, a.region, key)
}
