package pipeline

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type fakePutter struct {
	bucket, key, contentType string
	body                     []byte
	err                      error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.bucket = aws.ToString(in.Bucket)
	f.key = aws.ToString(in.Key)
	f.contentType = aws.ToString(in.ContentType)
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.body = body
	return &s3.PutObjectOutput{}, nil
}

func TestExportKey(t *testing.T) {
	at := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	tests := []struct {
		prefix string
		want   string
	}{
		{prefix: "", want: "MCO/20240506-070809/results.csv"},
		{prefix: "exports/", want: "exports/MCO/20240506-070809/results.csv"},
		{prefix: "/a/b/", want: "a/b/MCO/20240506-070809/results.csv"},
	}
	for _, tt := range tests {
		if got := ExportKey(tt.prefix, "MCO", "out/results.csv", at); got != tt.want {
			t.Fatalf("ExportKey(%q) = %q, want %q", tt.prefix, got, tt.want)
		}
	}
}

func TestUploadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.csv")
	if err := os.WriteFile(path, []byte("id;title\nMCO1;x\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	putter := &fakePutter{}
	if err := UploadFile(context.Background(), putter, "bucket", "exports/results.csv", path); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if putter.bucket != "bucket" || putter.key != "exports/results.csv" {
		t.Fatalf("uploaded to %s/%s", putter.bucket, putter.key)
	}
	if putter.contentType != "text/csv" {
		t.Fatalf("content type = %q", putter.contentType)
	}
	if string(putter.body) != "id;title\nMCO1;x\n" {
		t.Fatalf("body = %q", putter.body)
	}
}

func TestUploadFileErrors(t *testing.T) {
	if err := UploadFile(context.Background(), &fakePutter{}, "b", "k", filepath.Join(t.TempDir(), "missing.csv")); err == nil {
		t.Fatal("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "results.jsonl")
	if err := os.WriteFile(path, []byte("{}\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	putter := &fakePutter{err: errors.New("access denied")}
	if err := UploadFile(context.Background(), putter, "b", "k", path); err == nil {
		t.Fatal("expected upload error")
	}
}
