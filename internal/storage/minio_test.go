package storage

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// newOfflineStore builds a store whose client never has to reach a server:
// presigning is computed locally once the region is pinned.
func newOfflineStore(t *testing.T) *MinioStore {
	t.Helper()
	client, err := minio.New("127.0.0.1:9000", &minio.Options{
		Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
		Secure: false,
		Region: "us-east-1",
	})
	if err != nil {
		t.Fatalf("minio.New failed: %v", err)
	}
	return NewMinioStore(client, "drive-vault-test")
}

func TestPresignedGetObjectCarriesExpiry(t *testing.T) {
	store := newOfflineStore(t)
	raw, err := store.PresignedGetObject(context.Background(), "u1/1700000000000-abc-notes.txt", 5*time.Minute, nil)
	if err != nil {
		t.Fatalf("PresignedGetObject failed: %v", err)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("invalid url %q: %v", raw, err)
	}
	if got := parsed.Query().Get("X-Amz-Expires"); got != "300" {
		t.Fatalf("expect X-Amz-Expires=300, got %q", got)
	}
	if !strings.HasPrefix(parsed.Path, "/drive-vault-test/u1/") {
		t.Fatalf("unexpected path %q", parsed.Path)
	}
	if parsed.Query().Get("X-Amz-Signature") == "" {
		t.Fatal("expected a signature")
	}
}

func TestPresignedGetObjectResponseParams(t *testing.T) {
	store := newOfflineStore(t)
	raw, err := store.PresignedGetObject(context.Background(), "u1/k", time.Minute, map[string]string{
		"response-content-type":        "text/plain",
		"response-content-disposition": `inline; filename="notes.txt"`,
		"response-cache-control":       "",
	})
	if err != nil {
		t.Fatalf("PresignedGetObject failed: %v", err)
	}
	parsed, _ := url.Parse(raw)
	q := parsed.Query()
	if q.Get("response-content-type") != "text/plain" {
		t.Fatalf("content type not propagated: %s", raw)
	}
	if q.Get("response-content-disposition") != `inline; filename="notes.txt"` {
		t.Fatalf("disposition not propagated: %s", raw)
	}
	if _, ok := q["response-cache-control"]; ok {
		t.Fatal("empty params should be dropped")
	}
}

func TestIsNoSuchKey(t *testing.T) {
	if !isNoSuchKey(minio.ErrorResponse{Code: "NoSuchKey"}) {
		t.Fatal("expected NoSuchKey to be detected")
	}
	if isNoSuchKey(minio.ErrorResponse{Code: "AccessDenied"}) {
		t.Fatal("AccessDenied is not a missing key")
	}
}
