package s3store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dmitrijs2005/promptseal/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	objects map[string][]byte
	puts    int
	putErr  error
	headErr error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{objects: map[string][]byte{}}
}

func (f *fakeAPI) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.puts++
	f.objects[*in.Key] = b
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeAPI) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	b, ok := f.objects[*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b))}, nil
}

func (f *fakeAPI) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if f.headErr != nil {
		return nil, f.headErr
	}
	if _, ok := f.objects[*in.Key]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI()
	s := newWithAPI(api, "bucket", "")

	id, err := s.Store(ctx, []byte("ciphertext"), 1)
	require.NoError(t, err)

	want, err := BlobID([]byte("ciphertext"))
	require.NoError(t, err)
	assert.Equal(t, want, id)
	assert.Contains(t, api.objects, "blobs/"+id)

	got, err := s.Fetch(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "ciphertext", string(got))
}

func TestStore_Deduplicates(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI()
	s := newWithAPI(api, "bucket", "p/")

	id1, err := s.Store(ctx, []byte("same"), 1)
	require.NoError(t, err)
	id2, err := s.Store(ctx, []byte("same"), 5)
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	assert.Equal(t, 1, api.puts)
}

func TestStore_Errors(t *testing.T) {
	ctx := context.Background()

	s := newWithAPI(newFakeAPI(), "bucket", "")
	_, err := s.Store(ctx, nil, 1)
	assert.ErrorIs(t, err, common.ErrEmptyBlob)
	_, err = s.Store(ctx, []byte("x"), 0)
	assert.ErrorIs(t, err, common.ErrInvalidArgument)

	api := newFakeAPI()
	denied := errors.New("access denied")
	api.putErr = denied
	_, err = newWithAPI(api, "bucket", "").Store(ctx, []byte("x"), 1)
	assert.ErrorIs(t, err, common.ErrStorageWrite)
	assert.ErrorIs(t, err, denied)

	api = newFakeAPI()
	api.headErr = errors.New("connection refused")
	_, err = newWithAPI(api, "bucket", "").Store(ctx, []byte("x"), 1)
	assert.ErrorIs(t, err, common.ErrStorageWrite)
	assert.Equal(t, 0, api.puts)
}

func TestFetch_Errors(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI()
	s := newWithAPI(api, "bucket", "")

	_, err := s.Fetch(ctx, "not-a-cid")
	assert.ErrorIs(t, err, common.ErrStorageNotFound)

	id, err := BlobID([]byte("absent"))
	require.NoError(t, err)
	_, err = s.Fetch(ctx, id)
	assert.ErrorIs(t, err, common.ErrStorageNotFound)

	api.objects["blobs/"+id] = []byte("tampered")
	_, err = s.Fetch(ctx, id)
	assert.ErrorIs(t, err, common.ErrStorageResponse)
}

func TestNew_AppliesOptions(t *testing.T) {
	origLoad := loadDefaultAWSConfig
	origNew := newS3ClientFromConfig
	t.Cleanup(func() {
		loadDefaultAWSConfig = origLoad
		newS3ClientFromConfig = origNew
	})

	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		var lo awsconfig.LoadOptions
		for _, fn := range optFns {
			require.NoError(t, fn(&lo))
		}
		assert.Equal(t, "us-east-1", lo.Region)
		require.NotNil(t, lo.Credentials)
		creds, err := lo.Credentials.Retrieve(ctx)
		require.NoError(t, err)
		assert.Equal(t, "minio", creds.AccessKeyID)
		return aws.Config{}, nil
	}

	var endpoint string
	var pathStyle bool
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		var o s3.Options
		for _, fn := range optFns {
			fn(&o)
		}
		endpoint = aws.ToString(o.BaseEndpoint)
		pathStyle = o.UsePathStyle
		return &s3.Client{}
	}

	s, err := New(context.Background(), Options{
		Region: "us-east-1", User: "minio", Password: "minio123",
		Endpoint: "http://127.0.0.1:9000", Bucket: "b",
	})
	require.NoError(t, err)
	assert.Equal(t, "b", s.bucket)
	assert.Equal(t, "http://127.0.0.1:9000", endpoint)
	assert.True(t, pathStyle)
}

func TestNew_ConfigError(t *testing.T) {
	origLoad := loadDefaultAWSConfig
	t.Cleanup(func() { loadDefaultAWSConfig = origLoad })

	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, errors.New("boom")
	}

	_, err := New(context.Background(), Options{})
	require.Error(t, err)
}
