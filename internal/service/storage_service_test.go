package service

import (
	"context"
	"os"
	"oral_practice_backend/internal/config"
	"path/filepath"
	"testing"
)

func TestRecordingKey(t *testing.T) {
	key := RecordingKey(7, "b3c5d8e2", 3, ".webm")
	want := "recordings/7/b3c5d8e2/3.webm"
	if key != want {
		t.Errorf("RecordingKey() = %q, want %q", key, want)
	}
}

func TestLocalRecordingProvider(t *testing.T) {
	dir := t.TempDir()
	p := &LocalRecordingProvider{Config: &config.StorageConfig{LocalPath: dir}}
	ctx := context.Background()

	key := "recordings/1/sess/1.webm"
	data := []byte("fake-audio-bytes")

	if err := p.Put(ctx, key, data, "audio/webm"); err != nil {
		t.Fatalf("Put: %v", err)
	}

	saved, err := os.ReadFile(filepath.Join(dir, key))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(saved) != string(data) {
		t.Error("stored bytes differ from input")
	}

	url, err := p.PresignedURL(ctx, key, 0)
	if err != nil {
		t.Fatalf("PresignedURL: %v", err)
	}
	if url != "/uploads/"+key {
		t.Errorf("url = %q, want static path", url)
	}

	if err := p.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, key)); !os.IsNotExist(err) {
		t.Error("file should be gone after Delete")
	}
}

func TestNewStorageServiceLocal(t *testing.T) {
	cfg := &config.Config{}
	cfg.Storage.Type = "local"
	cfg.Storage.LocalPath = t.TempDir()
	cfg.Storage.URLExpireMinutes = 15

	s, err := NewStorageService(cfg)
	if err != nil {
		t.Fatalf("NewStorageService: %v", err)
	}
	if _, ok := s.Provider.(*LocalRecordingProvider); !ok {
		t.Errorf("provider = %T, want *LocalRecordingProvider", s.Provider)
	}
}

func TestNewStorageServiceRejectsMisconfiguredProvider(t *testing.T) {
	cfg := &config.Config{}
	cfg.Storage.Type = "minio"
	cfg.Storage.MinioEndpoint = "not a valid endpoint"

	if _, err := NewStorageService(cfg); err == nil {
		t.Error("misconfigured minio must refuse to start, not fall back to local disk")
	}
}

func TestNewStorageServiceRejectsUnknownType(t *testing.T) {
	cfg := &config.Config{}
	cfg.Storage.Type = "s3"

	if _, err := NewStorageService(cfg); err == nil {
		t.Error("unknown storage type must be rejected at construction")
	}
}
