package objectstore

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatehouse/pkg/storage"
)

type fakeS3 struct {
	objects      map[string][]byte
	contentTypes map[string]string
	bucketExists bool
	bucketsMade  int
	puts         int
	putErr       error
	headErr      error
	createErr    error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, contentTypes: map[string]string{}}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.puts++
	f.objects[*in.Key] = data
	f.contentTypes[*in.Key] = *in.ContentType
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if f.headErr != nil {
		return nil, f.headErr
	}
	if _, ok := f.objects[*in.Key]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) HeadBucket(context.Context, *s3.HeadBucketInput, ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if !f.bucketExists {
		return nil, &types.NotFound{}
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3) CreateBucket(context.Context, *s3.CreateBucketInput, ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.bucketsMade++
	f.bucketExists = true
	return &s3.CreateBucketOutput{}, nil
}

func TestLogoKey(t *testing.T) {
	key := LogoKey("org-1", "image/png", []byte("png-bytes"))
	assert.True(t, strings.HasPrefix(key, "logos/org-1/"))
	assert.True(t, strings.HasSuffix(key, ".png"))
	assert.Len(t, strings.TrimSuffix(strings.TrimPrefix(key, "logos/org-1/"), ".png"), 64)

	assert.Equal(t, key, LogoKey("org-1", "image/png", []byte("png-bytes")))
	assert.NotEqual(t, key, LogoKey("org-2", "image/png", []byte("png-bytes")))
	assert.NotEqual(t, key, LogoKey("org-1", "image/png", []byte("other")))
	assert.True(t, strings.HasSuffix(LogoKey("o", "application/octet-stream", nil), "/e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"))
}

func TestLogoStore_PutLogo(t *testing.T) {
	ctx := context.Background()
	client := newFakeS3()
	store := New(client, "logos")

	key, err := store.PutLogo(ctx, "org-1", "image/jpeg", []byte("jpeg"))
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg"), client.objects[key])
	assert.Equal(t, "image/jpeg", client.contentTypes[key])

	again, err := store.PutLogo(ctx, "org-1", "image/jpeg", []byte("jpeg"))
	require.NoError(t, err)
	assert.Equal(t, key, again)
	assert.Equal(t, 1, client.puts, "identical upload is deduplicated")
}

func TestLogoStore_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("upload failure", func(t *testing.T) {
		client := newFakeS3()
		client.putErr = errors.New("access denied")
		_, err := New(client, "b").PutLogo(ctx, "org-1", "image/png", []byte("x"))
		assert.ErrorContains(t, err, "failed to upload logo")
	})

	t.Run("head failure", func(t *testing.T) {
		client := newFakeS3()
		client.headErr = errors.New("timeout")
		_, err := New(client, "b").PutLogo(ctx, "org-1", "image/png", []byte("x"))
		assert.ErrorContains(t, err, "failed to check object existence")
		assert.Zero(t, client.puts)
	})
}

func TestLogoStore_EnsureBucket(t *testing.T) {
	ctx := context.Background()

	client := newFakeS3()
	store := New(client, "b")
	require.NoError(t, store.ensureBucket(ctx))
	assert.Equal(t, 1, client.bucketsMade)
	require.NoError(t, store.ensureBucket(ctx))
	assert.Equal(t, 1, client.bucketsMade)
	require.NoError(t, store.HealthCheck(ctx))

	raced := newFakeS3()
	raced.createErr = &types.BucketAlreadyOwnedByYou{}
	assert.NoError(t, New(raced, "b").ensureBucket(ctx))

	failing := newFakeS3()
	failing.createErr = errors.New("forbidden")
	assert.ErrorContains(t, New(failing, "b").ensureBucket(ctx), "failed to create bucket")
	assert.Error(t, New(failing, "b").HealthCheck(ctx))
}

func TestNewLogoStore_RequiresBucket(t *testing.T) {
	_, err := NewLogoStore(context.Background(), storage.Config{})
	assert.ErrorContains(t, err, "bucket is not configured")
}
