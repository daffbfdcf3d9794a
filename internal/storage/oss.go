package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
)

// OSS stores objects in an Aliyun OSS bucket.
type OSS struct {
	bucket    *oss.Bucket
	publicURL string
	signedTTL time.Duration
}

// NewOSS connects to the bucket. A positive signedTTL makes Put return
// signed GET URLs instead of public ones.
func NewOSS(endpoint, accessKey, secretKey, bucketName string, signedTTL time.Duration) (*OSS, error) {
	if endpoint == "" || accessKey == "" || secretKey == "" || bucketName == "" {
		return nil, fmt.Errorf("oss storage requires ALI_OSS_ENDPOINT, ALI_OSS_ACCESS_KEY, ALI_OSS_SECRET_KEY and ALI_OSS_BUCKET")
	}
	endpoint = normalizeEndpoint(endpoint)

	client, err := oss.New(endpoint, accessKey, secretKey)
	if err != nil {
		return nil, fmt.Errorf("oss client: %w", err)
	}
	bucket, err := client.Bucket(bucketName)
	if err != nil {
		return nil, fmt.Errorf("oss bucket %s: %w", bucketName, err)
	}

	host := strings.TrimPrefix(strings.TrimPrefix(endpoint, "https://"), "http://")
	return &OSS{
		bucket:    bucket,
		publicURL: fmt.Sprintf("https://%s.%s", bucketName, host),
		signedTTL: signedTTL,
	}, nil
}

func (o *OSS) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	opts := []oss.Option{oss.WithContext(ctx)}
	if contentType != "" {
		opts = append(opts, oss.ContentType(contentType))
	}
	if err := o.bucket.PutObject(key, bytes.NewReader(data), opts...); err != nil {
		return "", fmt.Errorf("oss put %s: %w", key, err)
	}

	if o.signedTTL > 0 {
		signed, err := o.bucket.SignURL(key, oss.HTTPGet, int64(o.signedTTL.Seconds()))
		if err != nil {
			return "", fmt.Errorf("oss sign %s: %w", key, err)
		}
		return signed, nil
	}
	return o.publicURL + "/" + key, nil
}

func (o *OSS) Delete(ctx context.Context, key string) error {
	if err := o.bucket.DeleteObject(key, oss.WithContext(ctx)); err != nil {
		return fmt.Errorf("oss delete %s: %w", key, err)
	}
	return nil
}

func normalizeEndpoint(endpoint string) string {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "https://" + endpoint
	}
	return endpoint
}
