package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// S3Client is the subset of the S3 API used by S3Store. *s3.Client satisfies it.
type S3Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store reads artifacts from an S3-compatible bucket. Paths map to keys
// under an optional prefix.
type S3Store struct {
	client S3Client
	bucket string
	prefix string
}

// NewS3 creates an S3-backed FileStore.
func NewS3(client S3Client, bucket, prefix string) *S3Store {
	return &S3Store{client: client, bucket: bucket, prefix: prefix}
}

// NewS3Client builds an *s3.Client for a region and optional custom endpoint
// (MinIO, R2). Empty keys fall back to anonymous access.
func NewS3Client(region, endpoint, accessKey, secretKey string) *s3.Client {
	opts := s3.Options{Region: region}
	if endpoint != "" {
		opts.BaseEndpoint = aws.String(endpoint)
		opts.UsePathStyle = true
	}
	if accessKey != "" {
		opts.Credentials = aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return aws.Credentials{AccessKeyID: accessKey, SecretAccessKey: secretKey, Source: "retrieval-config"}, nil
		})
	} else {
		opts.Credentials = aws.AnonymousCredentials{}
	}
	return s3.New(opts)
}

func (s *S3Store) key(path string) string {
	if s.prefix == "" {
		return path
	}
	return s.prefix + "/" + path
}

// Read fetches the object. Missing keys wrap os.ErrNotExist.
func (s *S3Store) Read(ctx context.Context, path string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(path)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, fmt.Errorf("storage: read %s: %w", path, os.ErrNotExist)
		}
		return nil, err
	}
	return out.Body, nil
}

// Write streams data to PutObject through a pipe. The upload runs in a
// background goroutine; Close blocks until it finishes and returns any
// S3 error.
func (s *S3Store) Write(ctx context.Context, path string) (io.WriteCloser, error) {
	pr, pw := io.Pipe()
	w := &s3Writer{pw: pw, done: make(chan struct{})}
	go func() {
		defer close(w.done)
		_, w.uploadErr = s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.key(path)),
			Body:   pr,
		})
		// an upload that failed early must unblock pending writes, or the
		// caller's Write calls hang forever
		pr.CloseWithError(w.uploadErr)
	}()
	return w, nil
}

type s3Writer struct {
	pw        *io.PipeWriter
	done      chan struct{}
	uploadErr error
}

func (w *s3Writer) Write(p []byte) (int, error) {
	return w.pw.Write(p)
}

// Close signals EOF to the PutObject reader and waits for the upload.
func (w *s3Writer) Close() error {
	w.pw.Close()
	<-w.done
	return w.uploadErr
}

func isS3NotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

var _ FileStore = (*S3Store)(nil)
