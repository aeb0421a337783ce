package attachments

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"pmslens/api/internal/entity"
)

func newTestPresigner(t *testing.T) *Presigner {
	t.Helper()
	p, err := NewPresigner(Config{
		Endpoint:  "http://127.0.0.1:9000",
		AccessKey: "minio",
		SecretKey: "minio-secret",
		Bucket:    "pms-attachments",
		Region:    "us-east-1",
		TTL:       10 * time.Minute,
	})
	if err != nil {
		t.Fatalf("NewPresigner() error = %v", err)
	}
	return p
}

func TestPresignAttachment(t *testing.T) {
	p := newTestPresigner(t)
	raw, err := p.PresignAttachment(context.Background(), entity.Attachment{Name: "impeller.jpg", StoragePath: "/wo-1/impeller.jpg"})
	if err != nil {
		t.Fatalf("PresignAttachment() error = %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	if u.Scheme != "http" || u.Host != "127.0.0.1:9000" {
		t.Fatalf("unexpected host: %s", raw)
	}
	if !strings.HasPrefix(u.Path, "/pms-attachments/wo-1/impeller.jpg") {
		t.Fatalf("unexpected path: %s", u.Path)
	}
	q := u.Query()
	if q.Get("X-Amz-Signature") == "" || q.Get("X-Amz-Expires") != "600" {
		t.Fatalf("missing signature params: %s", raw)
	}
	if !strings.Contains(q.Get("response-content-disposition"), "impeller.jpg") {
		t.Fatalf("missing content disposition: %s", raw)
	}
}

func TestPresignUsesAttachmentBucket(t *testing.T) {
	p := newTestPresigner(t)
	raw, err := p.PresignAttachment(context.Background(), entity.Attachment{Bucket: "handover-docs", StoragePath: "h-1/report.pdf"})
	if err != nil {
		t.Fatalf("PresignAttachment() error = %v", err)
	}
	if !strings.Contains(raw, "/handover-docs/h-1/report.pdf") {
		t.Fatalf("bucket not honoured: %s", raw)
	}
}

func TestPresignRequiresObject(t *testing.T) {
	p := newTestPresigner(t)
	if _, err := p.PresignAttachment(context.Background(), entity.Attachment{Name: "x"}); !errors.Is(err, ErrNoObject) {
		t.Fatalf("expected ErrNoObject, got %v", err)
	}
}

func TestNewPresignerValidates(t *testing.T) {
	if _, err := NewPresigner(Config{}); err == nil {
		t.Fatal("expected endpoint error")
	}
	if _, err := NewPresigner(Config{Endpoint: "minio:9000"}); err == nil {
		t.Fatal("expected credentials error")
	}
}
