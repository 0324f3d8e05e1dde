package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"billdesk/internal/config"
)

// Client 封装 MinIO 客户端，提供简化的上传/读取接口。
// 文档产物放在私有 Bucket（预签名下载），Logo/签名等资产放在公开读
// Bucket，渲染器通过公开 URL 直接拉取。
type Client struct {
	internalClient *minio.Client
	publicClient   *minio.Client
	publicOrigin   string
	bucketName     string
	assetBucket    string
}

// ObjectMeta 描述 Bucket 中对象的关键信息。
type ObjectMeta struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// NewClient 根据配置初始化 MinIO 客户端，并确保目标 Bucket 存在。
func NewClient(cfg config.MinIOConfig) (*Client, error) {
	internalClient, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init internal minio client: %w", err)
	}

	parsedPublicEndpoint, err := url.Parse(cfg.PublicEndpoint)
	if err != nil {
		return nil, fmt.Errorf("parse minio public endpoint: %w", err)
	}
	publicHost := parsedPublicEndpoint.Host
	if publicHost == "" {
		return nil, fmt.Errorf("invalid minio public endpoint, host missing")
	}

	publicClient, err := minio.New(publicHost, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: parsedPublicEndpoint.Scheme == "https",
	})
	if err != nil {
		return nil, fmt.Errorf("init public minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, bucket := range []string{cfg.Bucket, cfg.AssetBucket} {
		exists, err := internalClient.BucketExists(ctx, bucket)
		if err != nil {
			return nil, fmt.Errorf("check bucket %q: %w", bucket, err)
		}
		if !exists {
			if !cfg.AutoCreateBucket {
				return nil, fmt.Errorf("bucket %q does not exist (auto create disabled)", bucket)
			}
			if err := internalClient.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
				return nil, fmt.Errorf("make bucket %q: %w", bucket, err)
			}
		}
	}

	return &Client{
		internalClient: internalClient,
		publicClient:   publicClient,
		publicOrigin:   strings.TrimRight(cfg.PublicEndpoint, "/"),
		bucketName:     cfg.Bucket,
		assetBucket:    cfg.AssetBucket,
	}, nil
}

// AssetBucket 返回公开读资产 Bucket 名称。
func (c *Client) AssetBucket() string {
	return c.assetBucket
}

// PublicOrigin 返回公开读取端点（供渲染器拼接资产 URL）。
func (c *Client) PublicOrigin() string {
	return c.publicOrigin
}

// PublicAssetURL 返回资产对象的匿名读取 URL。
func (c *Client) PublicAssetURL(objectKey string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s",
		c.publicOrigin, c.assetBucket, strings.TrimLeft(objectKey, "/"))
}

// UploadFile 将文档产物上传到私有 Bucket，并返回上传结果。
func (c *Client) UploadFile(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (*minio.UploadInfo, error) {
	opts := minio.PutObjectOptions{ContentType: contentType}
	info, err := c.internalClient.PutObject(ctx, c.bucketName, objectName, reader, size, opts)
	if err != nil {
		return nil, fmt.Errorf("put object %q: %w", objectName, err)
	}
	return &info, nil
}

// UploadAsset 将 Logo/签名等资产上传到公开读 Bucket。
func (c *Client) UploadAsset(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (*minio.UploadInfo, error) {
	opts := minio.PutObjectOptions{ContentType: contentType}
	info, err := c.internalClient.PutObject(ctx, c.assetBucket, objectName, reader, size, opts)
	if err != nil {
		return nil, fmt.Errorf("put asset %q: %w", objectName, err)
	}
	return &info, nil
}

// GetObject 直接读取私有 Bucket 中的对象。
func (c *Client) GetObject(ctx context.Context, objectKey string) (*minio.Object, error) {
	obj, err := c.internalClient.GetObject(ctx, c.bucketName, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %q: %w", objectKey, err)
	}
	return obj, nil
}

// GeneratePresignedURL 生成文档对象的限时下载链接。
func (c *Client) GeneratePresignedURL(ctx context.Context, objectKey string, duration time.Duration) (string, error) {
	presignedURL, err := c.publicClient.PresignedGetObject(ctx, c.bucketName, objectKey, duration, nil)
	if err != nil {
		return "", fmt.Errorf("generate presigned url for %q: %w", objectKey, err)
	}
	return presignedURL.String(), nil
}

// ListAssets 列出资产 Bucket 指定前缀下的对象元数据。
func (c *Client) ListAssets(ctx context.Context, prefix string, limit int) ([]ObjectMeta, error) {
	if limit <= 0 {
		limit = 50
	}
	objCh := c.internalClient.ListObjects(ctx, c.assetBucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})
	result := make([]ObjectMeta, 0, limit)
	for object := range objCh {
		if object.Err != nil {
			return nil, fmt.Errorf("list assets under %q: %w", prefix, object.Err)
		}
		result = append(result, ObjectMeta{
			Key:          object.Key,
			Size:         object.Size,
			LastModified: object.LastModified,
		})
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

// DeleteAsset 删除资产对象。若对象不存在会被视为成功（幂等）。
func (c *Client) DeleteAsset(ctx context.Context, objectKey string) error {
	return c.remove(ctx, c.assetBucket, objectKey)
}

// DeleteObject 删除文档对象。若对象不存在会被视为成功（幂等）。
func (c *Client) DeleteObject(ctx context.Context, objectKey string) error {
	return c.remove(ctx, c.bucketName, objectKey)
}

func (c *Client) remove(ctx context.Context, bucket, objectKey string) error {
	objectKey = strings.TrimSpace(objectKey)
	if objectKey == "" {
		return nil
	}
	if err := c.internalClient.RemoveObject(ctx, bucket, objectKey, minio.RemoveObjectOptions{}); err != nil {
		// 对象或桶已不存在时删除视为成功，保证删除操作幂等。
		if IsNoSuchKey(err) || IsNoSuchBucket(err) {
			return nil
		}
		return fmt.Errorf("remove object %q: %w", objectKey, err)
	}
	return nil
}
