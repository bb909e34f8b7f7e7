package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// #region mock-s3
type apiError struct {
	code string
}

func (e *apiError) Error() string                 { return e.code }
func (e *apiError) ErrorCode() string             { return e.code }
func (e *apiError) ErrorMessage() string          { return e.code }
func (e *apiError) ErrorFault() smithy.ErrorFault { return smithy.FaultClient }

type mockS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMockS3() *mockS3 {
	return &mockS3{objects: make(map[string][]byte)}
}

func (m *mockS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[*in.Key]
	if !ok {
		return nil, &apiError{code: "NoSuchKey"}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (m *mockS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

// failingS3 rejects every upload without reading the body.
type failingS3 struct{ mockS3 }

func (m *failingS3) PutObject(context.Context, *s3.PutObjectInput, ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	return nil, &apiError{code: "AccessDenied"}
}
// #endregion mock-s3

func roundTrip(t *testing.T, fs FileStore) {
	t.Helper()
	ctx := context.Background()
	p := DistancePath("faces", "l2")

	if _, err := fs.Read(ctx, p); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected os.ErrNotExist, got %v", err)
	}

	w, err := fs.Write(ctx, p)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := io.WriteString(w, "p1 p2\n0 1\n1 0\n"); err != nil {
		t.Fatalf("write body: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := fs.Read(ctx, p)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	defer r.Close()
	data, _ := io.ReadAll(r)
	if string(data) != "p1 p2\n0 1\n1 0\n" {
		t.Errorf("unexpected content %q", data)
	}
}

func TestLocalRoundTrip(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	roundTrip(t, l)
}

func TestS3RoundTrip(t *testing.T) {
	roundTrip(t, NewS3(newMockS3(), "bucket", "artifacts"))
}

func TestS3KeyPrefix(t *testing.T) {
	mock := newMockS3()
	s := NewS3(mock, "bucket", "artifacts")
	w, _ := s.Write(context.Background(), "faces/distances/l2")
	io.WriteString(w, "x")
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if _, ok := mock.objects["artifacts/faces/distances/l2"]; !ok {
		t.Errorf("expected prefixed key, have %v", mock.objects)
	}
}

func TestDistancePath(t *testing.T) {
	if got := DistancePath("faces", "l2"); got != "faces/distances/l2" {
		t.Errorf("unexpected path %q", got)
	}
}

func TestS3WriteUploadFailure(t *testing.T) {
	fs := NewS3(&failingS3{}, "artifacts", "")
	w, err := fs.Write(context.Background(), DistancePath("faces", "l2"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := w.Write([]byte("p1 p2\n0 1\n1 0\n")); err == nil {
		t.Error("expected write to fail once the upload failed")
	}
	var apiErr smithy.APIError
	if err := w.Close(); !errors.As(err, &apiErr) || apiErr.ErrorCode() != "AccessDenied" {
		t.Errorf("expected AccessDenied from Close, got %v", err)
	}
}
