package s3

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// s3API is the slice of the SDK client the downloader needs; tests
// substitute a fake.
type s3API interface {
	manager.DownloadAPIClient
	s3.ListObjectsV2APIClient
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Client wraps the AWS SDK client for riptide's S3 targets. One client is
// built per profile and shared by every object under that target.
type Client struct {
	api s3API
}

// Object is one downloadable key under a prefix.
type Object struct {
	Key  string
	Size int64
}

// ParseURL splits an s3://bucket/key URL.
func ParseURL(link string) (bucket, key string, err error) {
	trimmed := strings.TrimPrefix(link, "s3://")
	if trimmed == link {
		return "", "", fmt.Errorf("not an S3 URL: %s", link)
	}
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid S3 URL (want s3://bucket/key): %s", link)
	}
	return parts[0], parts[1], nil
}

func NewClient(ctx context.Context, profile string) (*Client, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRetryMode("adaptive"),
	}
	if profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(profile))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("error loading AWS config: %v", err)
	}
	return &Client{api: s3.NewFromConfig(cfg)}, nil
}

// Stat reports whether the key is a single object or a folder prefix, and
// the object size when it is a file (-1 for folders).
func (c *Client) Stat(ctx context.Context, bucket, key string) (isFolder bool, size int64, err error) {
	head, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		if head.ContentLength != nil {
			size = *head.ContentLength
		}
		return false, size, nil
	}
	listed, err := c.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(bucket),
		Prefix:  aws.String(key),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, 0, fmt.Errorf("error accessing S3 object: %v", err)
	}
	if len(listed.Contents) > 0 || len(listed.CommonPrefixes) > 0 {
		return true, -1, nil
	}
	return false, 0, fmt.Errorf("S3 object not found: s3://%s/%s", bucket, key)
}

// List enumerates every object under a prefix, skipping zero-byte
// directory markers.
func (c *Client) List(ctx context.Context, bucket, prefix string) ([]Object, error) {
	var objects []Object
	paginator := s3.NewListObjectsV2Paginator(c.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("error listing objects: %v", err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil || obj.Size == nil {
				continue
			}
			if *obj.Size == 0 && strings.HasSuffix(*obj.Key, "/") {
				continue
			}
			objects = append(objects, Object{Key: *obj.Key, Size: *obj.Size})
		}
	}
	return objects, nil
}
