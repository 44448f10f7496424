// Package s3store is a blobstore.Store on S3-compatible object storage
// (MinIO in development). Blob ids are CIDv1 (raw codec, sha2-256) of the
// content, so a fetched object can be checked against its id.
package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"

	"github.com/dmitrijs2005/promptseal/internal/common"
)

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// objectAPI is the subset of *s3.Client the store uses.
type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Options mirror the storage section of the config.
type Options struct {
	Region   string
	User     string
	Password string
	Endpoint string
	Bucket   string
	Prefix   string
}

type Store struct {
	api    objectAPI
	bucket string
	prefix string
}

// New builds an S3 client with static credentials and a custom endpoint.
func New(ctx context.Context, o Options) (*Store, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(o.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(o.User, o.Password, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := newS3ClientFromConfig(cfg, func(so *s3.Options) {
		if o.Endpoint != "" {
			so.BaseEndpoint = aws.String(o.Endpoint)
		}
		// MinIO serves buckets on the path, not as subdomains.
		so.UsePathStyle = true
	})

	return newWithAPI(client, o.Bucket, o.Prefix), nil
}

func newWithAPI(api objectAPI, bucket, prefix string) *Store {
	if prefix == "" {
		prefix = "blobs/"
	}
	return &Store{api: api, bucket: bucket, prefix: prefix}
}

// BlobID returns the content id for data.
func BlobID(data []byte) (string, error) {
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return "", err
	}
	return cid.NewCidV1(cid.Raw, mh).String(), nil
}

func (s *Store) key(id string) string {
	return s.prefix + id
}

// Store writes data under its content id. Storing identical bytes twice is
// a no-op that returns the same id. S3 has no retention epochs; the value
// is kept as object metadata.
func (s *Store) Store(ctx context.Context, data []byte, epochs int) (string, error) {
	if len(data) == 0 {
		return "", common.ErrEmptyBlob
	}
	if epochs < 1 {
		return "", fmt.Errorf("%w: epochs must be >= 1, got %d", common.ErrInvalidArgument, epochs)
	}

	id, err := BlobID(data)
	if err != nil {
		return "", &common.StorageError{Kind: common.ErrStorageWrite, Cause: err}
	}

	_, err = s.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err == nil {
		return id, nil
	}
	if !isNotFound(err) {
		return "", &common.StorageError{Kind: common.ErrStorageWrite, BlobID: id, Cause: err}
	}

	_, err = s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(id)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/octet-stream"),
		Metadata:      map[string]string{"epochs": strconv.Itoa(epochs)},
	})
	if err != nil {
		return "", &common.StorageError{Kind: common.ErrStorageWrite, BlobID: id, Cause: err}
	}

	return id, nil
}

// Fetch reads the object and checks it hashes to blobID.
func (s *Store) Fetch(ctx context.Context, blobID string) ([]byte, error) {
	want, err := cid.Decode(blobID)
	if err != nil {
		return nil, &common.StorageError{Kind: common.ErrStorageNotFound, BlobID: blobID, Body: "malformed blob id"}
	}

	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(blobID)),
	})
	if err != nil {
		return nil, &common.StorageError{Kind: common.ErrStorageNotFound, BlobID: blobID, Cause: err}
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, &common.StorageError{Kind: common.ErrStorageResponse, BlobID: blobID, Cause: err}
	}

	got, err := want.Prefix().Sum(data)
	if err != nil || !got.Equals(want) {
		return nil, &common.StorageError{Kind: common.ErrStorageResponse, BlobID: blobID, Body: "content does not match blob id"}
	}

	return data, nil
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}
