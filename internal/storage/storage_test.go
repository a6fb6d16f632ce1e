package storage_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	s3aws "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrew/avatar-studio/internal/storage"
)

type object struct {
	body         string
	contentType  string
	lastModified time.Time
}

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]object
	now     time.Time
	err     error
}

func newFakeS3(now time.Time) *fakeS3 {
	return &fakeS3{objects: map[string]object{}, now: now}
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3aws.PutObjectInput, _ ...func(*s3aws.Options)) (*s3aws.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = object{body: string(data), contentType: aws.ToString(in.ContentType), lastModified: f.now}
	return &s3aws.PutObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3aws.ListObjectsV2Input, _ ...func(*s3aws.Options)) (*s3aws.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := &s3aws.ListObjectsV2Output{}
	for key, obj := range f.objects {
		if strings.HasPrefix(key, aws.ToString(in.Prefix)) {
			out.Contents = append(out.Contents, types.Object{Key: aws.String(key), LastModified: aws.Time(obj.lastModified)})
		}
	}
	return out, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3aws.DeleteObjectInput, _ ...func(*s3aws.Options)) (*s3aws.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	delete(f.objects, aws.ToString(in.Key))
	return &s3aws.DeleteObjectOutput{}, nil
}

func newAvatars(t *testing.T, fake *fakeS3, clock func() time.Time) *storage.Avatars {
	t.Helper()
	a, err := storage.New(context.Background(), storage.Config{Bucket: "avatars", Region: "us-east-1"},
		storage.WithClient(fake), storage.WithClock(clock))
	require.NoError(t, err)
	return a
}

func TestObjectPath(t *testing.T) {
	at := time.UnixMilli(1715342400123)
	tests := []struct {
		name, filename, want string
	}{
		{"My Avatar", "face.PNG", "u1/My_Avatar_1715342400123.PNG"},
		{"a  b\tc", "x.jpg", "u1/a_b_c_1715342400123.jpg"},
		{"plain", "noext", "u1/plain_1715342400123.png"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, storage.ObjectPath("u1", tt.name, tt.filename, at))
		})
	}
}

func TestUploadListDelete(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	fake := newFakeS3(now)
	clock := now
	a := newAvatars(t, fake, func() time.Time { return clock })

	first, err := a.Upload(ctx, "u1", "My Avatar", "face.png", "image/png", strings.NewReader("img-1"), 5)
	require.NoError(t, err)
	assert.Equal(t, "u1/My_Avatar_1715342400000.png", first.Path)
	assert.Equal(t, "My Avatar", first.Name)
	assert.Equal(t, "https://avatars.s3.us-east-1.amazonaws.com/u1/My_Avatar_1715342400000.png", first.URL)
	assert.Equal(t, "image/png", fake.objects[first.Path].contentType)

	clock = now.Add(time.Minute)
	fake.now = clock
	second, err := a.Upload(ctx, "u1", "Second", "b.jpg", "", strings.NewReader("img-2"), 0)
	require.NoError(t, err)

	_, err = a.Upload(ctx, "u2", "Other", "c.jpg", "", strings.NewReader("img-3"), 0)
	require.NoError(t, err)

	list, err := a.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.Path, list[0].Path)
	assert.Equal(t, first.Path, list[1].Path)

	t.Run("cannot delete another user's object", func(t *testing.T) {
		for _, key := range []string{"u2/Other_1.jpg", "u1/../u2/x.jpg", "u1", "u1x/a.png"} {
			assert.ErrorIs(t, a.Delete(ctx, "u1", key), storage.ErrForbiddenPath, key)
		}
	})

	require.NoError(t, a.Delete(ctx, "u1", first.Path))
	list, err = a.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = a.Upload(ctx, "", "x", "x.png", "", strings.NewReader(""), 0)
	assert.Error(t, err)
}

func TestListLimit(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	fake := newFakeS3(base)
	for i := 0; i < 25; i++ {
		fake.objects[storage.ObjectPath("u1", "a", "a.png", base.Add(time.Duration(i)*time.Second))] = object{lastModified: base.Add(time.Duration(i) * time.Second)}
	}
	a := newAvatars(t, fake, time.Now)

	list, err := a.List(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, list, storage.ListLimit)
	assert.Equal(t, base.Add(24*time.Second), list[0].UploadedAt)
}

func TestURL(t *testing.T) {
	tests := []struct {
		name string
		cfg  storage.Config
		want string
	}{
		{"aws virtual host", storage.Config{Bucket: "avatars", Region: "eu-west-1"}, "https://avatars.s3.eu-west-1.amazonaws.com/u1/a.png"},
		{"aws path style", storage.Config{Bucket: "avatars", Region: "eu-west-1", ForcePathStyle: true}, "https://s3.eu-west-1.amazonaws.com/avatars/u1/a.png"},
		{"minio", storage.Config{Bucket: "avatars", Region: "us-east-1", Endpoint: "http://localhost:9000", ForcePathStyle: true}, "http://localhost:9000/avatars/u1/a.png"},
		{"cdn", storage.Config{Bucket: "avatars", Region: "us-east-1", BaseURL: "https://cdn.example.com/"}, "https://cdn.example.com/u1/a.png"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := storage.New(context.Background(), tt.cfg, storage.WithClient(newFakeS3(time.Now())))
			require.NoError(t, err)
			assert.Equal(t, tt.want, a.URL("/u1/a.png"))
		})
	}
}

func TestErrorClassification(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"access denied", &smithy.GenericAPIError{Code: "AccessDenied"}, storage.ErrAccessDenied},
		{"throttled", &smithy.GenericAPIError{Code: "SlowDown"}, storage.ErrUnavailable},
		{"exists", &smithy.GenericAPIError{Code: "PreconditionFailed"}, storage.ErrAlreadyExists},
		{"canceled", context.Canceled, context.Canceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFakeS3(time.Now())
			fake.err = tt.err
			a := newAvatars(t, fake, time.Now)

			_, err := a.List(ctx, "u1")
			assert.ErrorIs(t, err, tt.want)
		})
	}

	t.Run("other errors are wrapped", func(t *testing.T) {
		boom := errors.New("boom")
		fake := newFakeS3(time.Now())
		fake.err = boom
		a := newAvatars(t, fake, time.Now)
		assert.ErrorIs(t, a.Delete(ctx, "u1", "u1/a.png"), boom)
	})
}

func TestNewRequiresBucket(t *testing.T) {
	_, err := storage.New(context.Background(), storage.Config{Region: "us-east-1"})
	assert.Error(t, err)
}
