// Package attachments signs short-lived download links for files the PMS
// backend keeps in object storage.
package attachments

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"pmslens/api/internal/entity"
)

var ErrNoObject = errors.New("attachment has no storage path")

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
	Region    string
	TTL       time.Duration
}

// Presigner signs GET URLs locally. With the region fixed no request is made
// to look up the bucket location.
type Presigner struct {
	client *minio.Client
	bucket string
	ttl    time.Duration
}

func NewPresigner(cfg Config) (*Presigner, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("attachments: endpoint is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("attachments: credentials are required")
	}

	endpoint := cfg.Endpoint
	useSSL := cfg.UseSSL
	if u, err := url.Parse(cfg.Endpoint); err == nil && u.Host != "" {
		endpoint = u.Host
		if u.Scheme == "https" {
			useSSL = true
		} else if u.Scheme == "http" {
			useSSL = false
		}
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("attachments: create minio client: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Presigner{client: client, bucket: cfg.Bucket, ttl: ttl}, nil
}

// PresignAttachment returns a download URL valid for the configured TTL.
// The attachment's own bucket wins over the default bucket.
func (p *Presigner) PresignAttachment(ctx context.Context, a entity.Attachment) (string, error) {
	object := strings.TrimLeft(a.StoragePath, "/")
	if object == "" {
		return "", ErrNoObject
	}
	bucket := a.Bucket
	if bucket == "" {
		bucket = p.bucket
	}

	params := url.Values{}
	if name := strings.TrimSpace(a.Name); name != "" {
		params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", path.Base(name)))
	}
	u, err := p.client.PresignedGetObject(ctx, bucket, object, p.ttl, params)
	if err != nil {
		return "", fmt.Errorf("attachments: presign %s/%s: %w", bucket, object, err)
	}
	return u.String(), nil
}
