package store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const (
	createdAtMetaKey = "created_at"
	etagMetaKey      = "etag"
)

// S3Store keeps transformed artifacts in a bucket so replicas can share one
// transform. Keys are emoji ids, object metadata carries the validation token
// and the creation timestamp.
type S3Store struct {
	bucket   string
	client   *s3.Client
	uploader *manager.Uploader
}

func NewS3Store(bucket string, client *s3.Client) *S3Store {
	return &S3Store{
		bucket:   bucket,
		client:   client,
		uploader: manager.NewUploader(client),
	}
}

func (s *S3Store) Get(ctx context.Context, key string) (*Artifact, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, err
	}

	return &Artifact{
		Body:        body,
		ContentType: aws.ToString(out.ContentType),
		ETag:        out.Metadata[etagMetaKey],
		CreatedAt:   parseCreatedAt(out.Metadata),
	}, nil
}

func (s *S3Store) Put(ctx context.Context, key string, art *Artifact) error {
	meta := map[string]string{etagMetaKey: art.ETag}
	if !art.CreatedAt.IsZero() {
		meta[createdAtMetaKey] = strconv.FormatInt(art.CreatedAt.Unix(), 10)
	}

	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(art.Body),
		ContentType: aws.String(art.ContentType),
		Metadata:    meta,
	})
	return err
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	return err
}

func parseCreatedAt(meta map[string]string) time.Time {
	if meta == nil {
		return time.Time{}
	}
	val, ok := meta[createdAtMetaKey]
	if !ok {
		return time.Time{}
	}
	unix, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(unix, 0)
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	return errors.As(err, &nsk)
}
