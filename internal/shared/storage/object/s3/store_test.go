package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type fakeS3 struct {
	puts    []*s3.PutObjectInput
	objects map[string][]byte
	err     error
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, _ := io.ReadAll(in.Body)
	if f.objects == nil {
		f.objects = map[string][]byte{}
	}
	f.objects[aws.ToString(in.Key)] = body
	f.puts = append(f.puts, in)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	body, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func TestObjectKeyPrefixing(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		prefix string
		key    string
		want   string
	}{
		{name: "no prefix", prefix: "", key: "snapshots/u/a/s.html", want: "snapshots/u/a/s.html"},
		{name: "simple prefix", prefix: "prod", key: "snapshots/u/a/s.html", want: "prod/snapshots/u/a/s.html"},
		{name: "slashes trimmed", prefix: "/prod/", key: "/snapshots/u/a/s.html", want: "prod/snapshots/u/a/s.html"},
		{name: "nested prefix", prefix: "prod/eu", key: "snapshots/x", want: "prod/eu/snapshots/x"},
		{name: "empty key", prefix: "prod", key: "", want: "prod"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, err := newStore(&fakeS3{}, "bucket", tt.prefix, "")
			if err != nil {
				t.Fatalf("newStore: %v", err)
			}
			if got := s.objectKey(tt.key); got != tt.want {
				t.Fatalf("objectKey(%q) with prefix %q = %q, want %q", tt.key, tt.prefix, got, tt.want)
			}
		})
	}
}

func TestPutEncryptsAndRoundTrips(t *testing.T) {
	client := &fakeS3{}
	s, err := newStore(client, "bucket", "prod", "")
	if err != nil {
		t.Fatalf("newStore: %v", err)
	}

	n, err := s.Put(context.Background(), "snapshots/a.html", "text/html", strings.NewReader("<html></html>"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if n != 13 {
		t.Fatalf("expected 13 bytes, got %d", n)
	}
	put := client.puts[0]
	if put.ServerSideEncryption != s3types.ServerSideEncryptionAes256 || put.SSEKMSKeyId != nil {
		t.Fatalf("expected AES256 encryption, got %v", put.ServerSideEncryption)
	}
	if aws.ToInt64(put.ContentLength) != 13 || aws.ToString(put.Key) != "prod/snapshots/a.html" {
		t.Fatalf("unexpected put input: key=%s len=%d", aws.ToString(put.Key), aws.ToInt64(put.ContentLength))
	}

	rc, err := s.Open(context.Background(), "snapshots/a.html")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	if string(got) != "<html></html>" {
		t.Fatalf("unexpected body %q", got)
	}
}

func TestPutUsesKMSWhenConfigured(t *testing.T) {
	client := &fakeS3{}
	s, _ := newStore(client, "bucket", "", "key-1")

	if _, err := s.Put(context.Background(), "k", "text/plain", strings.NewReader("x")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if client.puts[0].ServerSideEncryption != s3types.ServerSideEncryptionAwsKms || aws.ToString(client.puts[0].SSEKMSKeyId) != "key-1" {
		t.Fatalf("expected KMS encryption with key-1")
	}
}

func TestPutRejectsOversizedAndSurfacesErrors(t *testing.T) {
	s, _ := newStore(&fakeS3{}, "bucket", "", "")
	big := io.LimitReader(zeroReader{}, maxObjectBytes+1)
	if _, err := s.Put(context.Background(), "k", "text/plain", big); err == nil {
		t.Fatalf("expected size error")
	}

	failing, _ := newStore(&fakeS3{err: errors.New("denied")}, "bucket", "", "")
	if _, err := failing.Put(context.Background(), "k", "text/plain", strings.NewReader("x")); err == nil || !strings.Contains(err.Error(), "denied") {
		t.Fatalf("expected wrapped client error, got %v", err)
	}
	if _, err := failing.Open(context.Background(), "missing"); err == nil {
		t.Fatalf("expected missing object error")
	}
}

func TestNewStoreRequiresBucket(t *testing.T) {
	if _, err := newStore(&fakeS3{}, " ", "", ""); err == nil {
		t.Fatalf("expected bucket error")
	}
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}
