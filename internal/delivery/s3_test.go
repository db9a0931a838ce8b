package delivery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

type mockPutter struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (m *mockPutter) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.input = params
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	m.body = data
	return &s3.PutObjectOutput{}, nil
}

type mockPresigner struct {
	key     string
	expires time.Duration
}

func (m *mockPresigner) PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	m.key = *params.Key
	var opts s3.PresignOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	m.expires = opts.Expires
	return &v4.PresignedHTTPRequest{URL: "https://bucket.example/" + *params.Key + "?sig=1", Method: "GET"}, nil
}

func writeArtifact(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "output.mp4")
	if err := os.WriteFile(path, []byte("video-bytes"), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestPublishUploadsAndPresigns(t *testing.T) {
	put := &mockPutter{}
	pre := &mockPresigner{}
	p := NewS3Publisher(put, pre, "artifacts", 30*time.Minute)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	link, err := p.Publish(context.Background(), "job-1/reel_with_music_a.mp4", writeArtifact(t), "video/mp4")
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if *put.input.Bucket != "artifacts" || *put.input.Key != "job-1/reel_with_music_a.mp4" {
		t.Fatalf("put input = %+v", put.input)
	}
	if *put.input.ContentType != "video/mp4" || *put.input.ContentLength != int64(len("video-bytes")) {
		t.Fatalf("put input = %+v", put.input)
	}
	if string(put.body) != "video-bytes" {
		t.Fatalf("body = %q", put.body)
	}
	if pre.key != "job-1/reel_with_music_a.mp4" || pre.expires != 30*time.Minute {
		t.Fatalf("presign key=%q expires=%v", pre.key, pre.expires)
	}
	if link.URL != "https://bucket.example/job-1/reel_with_music_a.mp4?sig=1" || !link.ExpiresAt.Equal(fixed.Add(30*time.Minute)) {
		t.Fatalf("link = %+v", link)
	}
}

func TestPublishDefaultsTTLAndContentType(t *testing.T) {
	put := &mockPutter{}
	pre := &mockPresigner{}
	p := NewS3Publisher(put, pre, "b", 0)

	if _, err := p.Publish(context.Background(), "k", writeArtifact(t), ""); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if *put.input.ContentType != "application/octet-stream" || pre.expires != DefaultURLTTL {
		t.Fatalf("content type = %q, expires = %v", *put.input.ContentType, pre.expires)
	}
}

func TestPublishUploadError(t *testing.T) {
	boom := errors.New("access denied")
	p := NewS3Publisher(&mockPutter{err: boom}, &mockPresigner{}, "b", time.Hour)

	_, err := p.Publish(context.Background(), "k", writeArtifact(t), "video/mp4")
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v", err)
	}
}

func TestErrorCode(t *testing.T) {
	err := fmt.Errorf("put: %w", &smithy.GenericAPIError{Code: "NoSuchBucket", Message: "bucket missing"})
	if got := errorCode(err); got != "NoSuchBucket" {
		t.Fatalf("errorCode() = %q", got)
	}
	if got := errorCode(errors.New("plain")); got != "" {
		t.Fatalf("errorCode() = %q", got)
	}
}

func TestPublishMissingFile(t *testing.T) {
	p := NewS3Publisher(&mockPutter{}, &mockPresigner{}, "b", time.Hour)
	if _, err := p.Publish(context.Background(), "k", filepath.Join(t.TempDir(), "nope"), ""); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("error = %v", err)
	}
}
