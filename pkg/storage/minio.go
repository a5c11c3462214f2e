// Package storage 提供了与对象存储服务（如 MinIO）交互的功能。
package storage

import (
	"context"
	"errors"
	"io"

	"catalog-ingest-go/internal/config"
	"catalog-ingest-go/pkg/log"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrObjectNotFound 表示请求的对象在存储桶中不存在。
var ErrObjectNotFound = errors.New("object not found")

// ObjectInfo 描述存储桶中一个对象的基本信息。
type ObjectInfo struct {
	Key  string
	Size int64
}

// ObjectStore 抽象了对象存储的读写操作。
// 分片暂存、文件合并与流水线读取都通过这个接口进行。
type ObjectStore interface {
	// Put 写入一个对象；对同一对象的重复写入为整体覆盖（幂等重试）。
	Put(ctx context.Context, objectName string, r io.Reader, size int64, contentType string) error
	// FPut 将本地文件写入为一个对象，返回写入的字节数。
	FPut(ctx context.Context, objectName, filePath, contentType string) (int64, error)
	// Get 以流的方式打开一个对象。
	Get(ctx context.Context, objectName string) (io.ReadCloser, error)
	// Stat 查询对象信息；对象不存在时返回 ErrObjectNotFound。
	Stat(ctx context.Context, objectName string) (ObjectInfo, error)
	// Compose 将多个源对象按顺序逐字节拼接为目标对象。
	Compose(ctx context.Context, destObjectName string, srcObjectNames []string) (ObjectInfo, error)
	// Copy 在桶内复制单个对象。
	Copy(ctx context.Context, destObjectName, srcObjectName string) (ObjectInfo, error)
	// Remove 删除若干对象，返回第一个遇到的错误。
	Remove(ctx context.Context, objectNames ...string) error
}

// minioStore 是 ObjectStore 的 MinIO 实现。
type minioStore struct {
	client *minio.Client
	bucket string
}

// NewMinIOStore 初始化 MinIO 客户端并确保指定的存储桶存在。
func NewMinIOStore(cfg config.MinIOConfig) (ObjectStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, err
	}

	// 检查存储桶 (Bucket) 是否存在，如果不存在则创建
	ctx := context.Background()
	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, err
	}
	if !exists {
		log.Infof("存储桶 '%s' 不存在，正在创建...", cfg.BucketName)
		if err := client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, err
		}
		log.Infof("存储桶 '%s' 创建成功", cfg.BucketName)
	}

	log.Info("MinIO 客户端初始化成功")
	return &minioStore{client: client, bucket: cfg.BucketName}, nil
}

func (s *minioStore) Put(ctx context.Context, objectName string, r io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, objectName, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	return err
}

func (s *minioStore) FPut(ctx context.Context, objectName, filePath, contentType string) (int64, error) {
	info, err := s.client.FPutObject(ctx, s.bucket, objectName, filePath, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return 0, err
	}
	return info.Size, nil
}

func (s *minioStore) Get(ctx context.Context, objectName string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, asNotFound(err)
	}
	return obj, nil
}

func (s *minioStore) Stat(ctx context.Context, objectName string) (ObjectInfo, error) {
	info, err := s.client.StatObject(ctx, s.bucket, objectName, minio.StatObjectOptions{})
	if err != nil {
		return ObjectInfo{}, asNotFound(err)
	}
	return ObjectInfo{Key: info.Key, Size: info.Size}, nil
}

func (s *minioStore) Compose(ctx context.Context, destObjectName string, srcObjectNames []string) (ObjectInfo, error) {
	srcs := make([]minio.CopySrcOptions, 0, len(srcObjectNames))
	for _, name := range srcObjectNames {
		srcs = append(srcs, minio.CopySrcOptions{Bucket: s.bucket, Object: name})
	}
	dst := minio.CopyDestOptions{Bucket: s.bucket, Object: destObjectName}
	info, err := s.client.ComposeObject(ctx, dst, srcs...)
	if err != nil {
		return ObjectInfo{}, err
	}
	return ObjectInfo{Key: info.Key, Size: info.Size}, nil
}

func (s *minioStore) Copy(ctx context.Context, destObjectName, srcObjectName string) (ObjectInfo, error) {
	src := minio.CopySrcOptions{Bucket: s.bucket, Object: srcObjectName}
	dst := minio.CopyDestOptions{Bucket: s.bucket, Object: destObjectName}
	info, err := s.client.CopyObject(ctx, dst, src)
	if err != nil {
		return ObjectInfo{}, err
	}
	return ObjectInfo{Key: info.Key, Size: info.Size}, nil
}

func (s *minioStore) Remove(ctx context.Context, objectNames ...string) error {
	var firstErr error
	for _, name := range objectNames {
		if err := s.client.RemoveObject(ctx, s.bucket, name, minio.RemoveObjectOptions{}); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// asNotFound 将 MinIO 的 NoSuchKey 错误归一化为 ErrObjectNotFound。
func asNotFound(err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.Code == "NoSuchObject" {
		return ErrObjectNotFound
	}
	return err
}
