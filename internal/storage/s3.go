// Package storage reads and writes JSON objects in an S3-compatible bucket
// (MinIO in development).
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

type Options struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
}

type Client struct {
	s3     *s3.Client
	bucket string
	log    *zap.Logger
}

func New(ctx context.Context, o Options, log *zap.Logger) (*Client, error) {
	if o.Endpoint == "" || o.Bucket == "" {
		return nil, errors.New("storage: endpoint and bucket are required")
	}
	endpoint := o.Endpoint
	if !strings.Contains(endpoint, "://") {
		endpoint = "http://" + endpoint
	}
	resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		return aws.Endpoint{URL: endpoint, HostnameImmutable: true}, nil
	})
	cfg, err := config.LoadDefaultConfig(
		ctx,
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(o.AccessKey, o.SecretKey, "")),
		config.WithEndpointResolverWithOptions(resolver),
	)
	if err != nil {
		return nil, err
	}
	return &Client{
		s3:     s3.NewFromConfig(cfg),
		bucket: o.Bucket,
		log:    log.With(zap.String("component", "storage")),
	}, nil
}

// PutJSON writes v under key in the configured bucket and returns its
// s3://bucket/key ref.
func (c *Client) PutJSON(ctx context.Context, key string, v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	_, err = c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &c.bucket,
		Key:         &key,
		Body:        bytes.NewReader(b),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		c.log.Error("put object failed", zap.String("key", key), zap.Error(err))
		return "", err
	}
	ref := fmt.Sprintf("s3://%s/%s", c.bucket, key)
	c.log.Debug("stored object", zap.String("ref", ref), zap.Int("bytes", len(b)))
	return ref, nil
}

// GetJSON decodes the object at ref into v. The bucket named in ref is used,
// so refs outside the configured bucket can be read too.
func (c *Client) GetJSON(ctx context.Context, ref string, v any) error {
	bucket, key, err := ParseRef(ref)
	if err != nil {
		return err
	}
	out, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		c.log.Error("get object failed", zap.String("ref", ref), zap.Error(err))
		return err
	}
	defer out.Body.Close()
	if err := json.NewDecoder(out.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", ref, err)
	}
	c.log.Debug("fetched object", zap.String("ref", ref))
	return nil
}

// ParseRef splits s3://bucket/key.
func ParseRef(ref string) (string, string, error) {
	const p = "s3://"
	if !strings.HasPrefix(ref, p) {
		return "", "", fmt.Errorf("bad s3 ref (missing s3://): %q", ref)
	}
	s := strings.TrimPrefix(ref, p)
	slash := strings.IndexByte(s, '/')
	if slash <= 0 || slash == len(s)-1 {
		return "", "", fmt.Errorf("bad s3 ref (need bucket/key): %q", ref)
	}
	return s[:slash], s[slash+1:], nil
}
