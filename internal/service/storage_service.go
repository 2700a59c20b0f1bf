package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"oral_practice_backend/internal/config"
	"path/filepath"
	"time"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// RecordingProvider 定义录音对象存储接口。写入成功即持久；
// 任何网络/存储错误原样返回给调用方，由编排器决定重试还是判该题零分。
type RecordingProvider interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	// PresignedURL 返回限时可读的下载链接
	PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
	Delete(ctx context.Context, key string) error
}

// LocalRecordingProvider 本地存储实现（开发环境）
type LocalRecordingProvider struct {
	Config *config.StorageConfig
}

func (p *LocalRecordingProvider) Put(ctx context.Context, key string, data []byte, contentType string) error {
	dst := filepath.Join(p.Config.LocalPath, key)
	dir := filepath.Dir(dst)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, bytes.NewReader(data))
	return err
}

// 本地文件无法真正限时，直接返回静态路径
func (p *LocalRecordingProvider) PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return "/uploads/" + key, nil
}

func (p *LocalRecordingProvider) Delete(ctx context.Context, key string) error {
	return os.Remove(filepath.Join(p.Config.LocalPath, key))
}

// MinioRecordingProvider MinIO存储实现
type MinioRecordingProvider struct {
	Config *config.StorageConfig
	Client *minio.Client
}

func NewMinioRecordingProvider(cfg *config.StorageConfig) (*MinioRecordingProvider, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessID, cfg.MinioSecret, ""),
		Secure: false,
	})
	if err != nil {
		return nil, err
	}
	return &MinioRecordingProvider{Config: cfg, Client: client}, nil
}

func (p *MinioRecordingProvider) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := p.Client.PutObject(ctx, p.Config.MinioBucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	return err
}

func (p *MinioRecordingProvider) PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	u, err := p.Client.PresignedGetObject(ctx, p.Config.MinioBucket, key, expiry, url.Values{})
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func (p *MinioRecordingProvider) Delete(ctx context.Context, key string) error {
	return p.Client.RemoveObject(ctx, p.Config.MinioBucket, key, minio.RemoveObjectOptions{})
}

// OSSRecordingProvider 阿里云OSS存储实现
type OSSRecordingProvider struct {
	Config *config.StorageConfig
	Client *oss.Client
}

func NewOSSRecordingProvider(cfg *config.StorageConfig) (*OSSRecordingProvider, error) {
	client, err := oss.New(cfg.OSSEndpoint, cfg.OSSAccessKey, cfg.OSSSecretKey)
	if err != nil {
		return nil, err
	}
	return &OSSRecordingProvider{Config: cfg, Client: client}, nil
}

func (p *OSSRecordingProvider) Put(ctx context.Context, key string, data []byte, contentType string) error {
	bucket, err := p.Client.Bucket(p.Config.OSSBucket)
	if err != nil {
		return err
	}
	return bucket.PutObject(key, bytes.NewReader(data), oss.ContentType(contentType))
}

func (p *OSSRecordingProvider) PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	bucket, err := p.Client.Bucket(p.Config.OSSBucket)
	if err != nil {
		return "", err
	}
	return bucket.SignURL(key, oss.HTTPGet, int64(expiry.Seconds()))
}

func (p *OSSRecordingProvider) Delete(ctx context.Context, key string) error {
	bucket, err := p.Client.Bucket(p.Config.OSSBucket)
	if err != nil {
		return err
	}
	return bucket.DeleteObject(key)
}

// StorageService 录音存储服务。Put 在适配器层做少量固定次数的重试，
// 仍失败则作为硬错误交给编排器。
type StorageService struct {
	Provider  RecordingProvider
	urlExpiry time.Duration
}

const putRetries = 2

// NewStorageService 按配置构造录音存储。云端供应商配置有误时拒绝启动，
// 不回退到本地磁盘。
func NewStorageService(cfg *config.Config) (*StorageService, error) {
	var provider RecordingProvider
	switch cfg.Storage.Type {
	case "minio":
		p, err := NewMinioRecordingProvider(&cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("init minio storage: %w", err)
		}
		provider = p
	case "oss":
		p, err := NewOSSRecordingProvider(&cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("init oss storage: %w", err)
		}
		provider = p
	case "local", "":
		provider = &LocalRecordingProvider{Config: &cfg.Storage}
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Storage.Type)
	}

	return &StorageService{
		Provider:  provider,
		urlExpiry: time.Duration(cfg.Storage.URLExpireMinutes) * time.Minute,
	}, nil
}

// RecordingKey 录音对象键：按 (用户, 会话, 题目) 定位
func RecordingKey(ownerID uint, sessionID string, questionID uint, ext string) string {
	return fmt.Sprintf("recordings/%d/%s/%d%s", ownerID, sessionID, questionID, ext)
}

func (s *StorageService) Put(ctx context.Context, key string, data []byte, contentType string) error {
	var err error
	for i := 0; i <= putRetries; i++ {
		if err = s.Provider.Put(ctx, key, data, contentType); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return err
}

func (s *StorageService) PresignedURL(ctx context.Context, key string) (string, error) {
	return s.Provider.PresignedURL(ctx, key, s.urlExpiry)
}

func (s *StorageService) Delete(ctx context.Context, key string) error {
	return s.Provider.Delete(ctx, key)
}
