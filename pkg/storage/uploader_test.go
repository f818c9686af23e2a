package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type fakeS3 struct {
	headErr error
	puts    []string
	heads   []string
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.puts = append(f.puts, *in.Key)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.heads = append(f.heads, *in.Key)
	if f.headErr != nil {
		return nil, f.headErr
	}
	return &s3.HeadObjectOutput{}, nil
}

func testComposite(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "MERGED_1_11112222.jpg")
	if err := os.WriteFile(path, []byte("jpeg bytes"), 0o644); err != nil {
		t.Fatalf("write composite: %v", err)
	}
	return path
}

func TestUploader_UploadsMissingObject(t *testing.T) {
	api := &fakeS3{headErr: errors.New("NotFound")}
	u := &Uploader{s3Client: api, bucket: "dumpwatch-archive", factory: "USN-01"}

	path := testComposite(t)
	if err := u.Upload(context.Background(), path); err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	if len(api.puts) != 1 {
		t.Fatalf("put calls = %d, want 1", len(api.puts))
	}
	if want := u.keyFor(path, time.Now()); api.puts[0] != want {
		t.Fatalf("uploaded key = %s, want %s", api.puts[0], want)
	}
}

func TestUploader_SkipsExistingObject(t *testing.T) {
	api := &fakeS3{}
	u := &Uploader{s3Client: api, bucket: "dumpwatch-archive", factory: "USN-01"}

	if err := u.Upload(context.Background(), testComposite(t)); err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	if len(api.puts) != 0 {
		t.Fatalf("put calls = %d, want 0 for an already archived object", len(api.puts))
	}
	if len(api.heads) != 1 {
		t.Fatalf("head calls = %d, want 1", len(api.heads))
	}
}

func TestUploader_KeyLayout(t *testing.T) {
	u := &Uploader{bucket: "b", factory: "USN-01"}
	at := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	got := u.keyFor("/data/results/MERGED_2_aabbccdd.jpg", at)
	if got != "composites/USN-01/2026-08-28/MERGED_2_aabbccdd.jpg" {
		t.Fatalf("key = %s", got)
	}
}
