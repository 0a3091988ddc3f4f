package local

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fieldops/fieldops/internal/config"
	"github.com/fieldops/fieldops/internal/storage"
)

func newTestStorage(t *testing.T, serveDirectly bool, baseURL string) *LocalStorage {
	t.Helper()
	cfg := &config.LocalStorageConfig{
		BasePath:      t.TempDir(),
		ServeDirectly: serveDirectly,
	}
	s, err := New(cfg, baseURL)
	if err != nil {
		t.Fatal("New:", err)
	}
	return s
}

func TestNew_CreatesDirectory(t *testing.T) {
	subDir := filepath.Join(t.TempDir(), "a", "b", "c")
	if _, err := New(&config.LocalStorageConfig{BasePath: subDir}, "http://localhost"); err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if _, err := os.Stat(subDir); os.IsNotExist(err) {
		t.Error("New() did not create base directory")
	}
}

func TestUpload(t *testing.T) {
	s := newTestStorage(t, false, "http://localhost")
	ctx := context.Background()

	content := "site photo bytes"
	path := storage.MediaPath("team-1", "report-1", "media-1", "photo.jpg")
	result, err := s.Upload(ctx, path, strings.NewReader(content), int64(len(content)))
	if err != nil {
		t.Fatalf("Upload() error: %v", err)
	}
	if result.Path != path {
		t.Errorf("Path = %q, want %q", result.Path, path)
	}
	if result.Size != int64(len(content)) {
		t.Errorf("Size = %d, want %d", result.Size, len(content))
	}
	if len(result.Checksum) != 64 {
		t.Errorf("Checksum len = %d, want 64 (SHA256 hex)", len(result.Checksum))
	}
	if _, err := os.Stat(filepath.Join(s.basePath, "teams", "team-1", "reports", "report-1")); err != nil {
		t.Errorf("Upload() did not create nested directories: %v", err)
	}
}

func TestUpload_SizeMismatch(t *testing.T) {
	s := newTestStorage(t, false, "")
	ctx := context.Background()

	if _, err := s.Upload(ctx, "short.bin", strings.NewReader("abc"), 10); err == nil {
		t.Fatal("Upload() expected error when fewer bytes than declared are written")
	}
	if exists, _ := s.Exists(ctx, "short.bin"); exists {
		t.Error("Upload() left a partial file behind")
	}
}

func TestUpload_UnknownSize(t *testing.T) {
	s := newTestStorage(t, false, "")

	result, err := s.Upload(context.Background(), "unknown.bin", strings.NewReader("abcd"), -1)
	if err != nil {
		t.Fatalf("Upload() error: %v", err)
	}
	if result.Size != 4 {
		t.Errorf("Size = %d, want 4", result.Size)
	}
}

func TestUpload_RejectsTraversal(t *testing.T) {
	s := newTestStorage(t, false, "")

	if _, err := s.Upload(context.Background(), "../escape.txt", strings.NewReader("x"), 1); err == nil {
		t.Error("Upload() expected error for a path outside the base directory")
	}
}

func TestUpload_ChecksumConsistency(t *testing.T) {
	s := newTestStorage(t, false, "")
	ctx := context.Background()

	content := "consistent data"
	r1, _ := s.Upload(ctx, "a.txt", strings.NewReader(content), int64(len(content)))
	r2, _ := s.Upload(ctx, "b.txt", strings.NewReader(content), int64(len(content)))
	if r1.Checksum != r2.Checksum {
		t.Errorf("same content produced different checksums: %q vs %q", r1.Checksum, r2.Checksum)
	}
}

func TestDownload(t *testing.T) {
	s := newTestStorage(t, false, "")
	ctx := context.Background()

	want := "download me"
	if _, err := s.Upload(ctx, "dl.txt", strings.NewReader(want), int64(len(want))); err != nil {
		t.Fatal("Upload:", err)
	}

	rc, err := s.Download(ctx, "dl.txt")
	if err != nil {
		t.Fatalf("Download() error: %v", err)
	}
	defer rc.Close()

	data, _ := io.ReadAll(rc)
	if string(data) != want {
		t.Errorf("Download() content = %q, want %q", string(data), want)
	}
}

func TestDownload_NotFound(t *testing.T) {
	s := newTestStorage(t, false, "")
	if _, err := s.Download(context.Background(), "nonexistent.txt"); err == nil {
		t.Error("Download() expected error for missing file, got nil")
	}
}

func TestDelete(t *testing.T) {
	s := newTestStorage(t, false, "")
	ctx := context.Background()

	if _, err := s.Upload(ctx, "to-delete.txt", strings.NewReader("bye"), 3); err != nil {
		t.Fatal("Upload:", err)
	}
	if err := s.Delete(ctx, "to-delete.txt"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if exists, _ := s.Exists(ctx, "to-delete.txt"); exists {
		t.Error("Delete() file still exists after deletion")
	}
}

func TestDelete_NonExistentFile(t *testing.T) {
	s := newTestStorage(t, false, "")
	if err := s.Delete(context.Background(), "does-not-exist.txt"); err != nil {
		t.Errorf("Delete() error for non-existent file: %v (want nil)", err)
	}
}

func TestDelete_CleansUpEmptyParentDirs(t *testing.T) {
	s := newTestStorage(t, false, "")
	ctx := context.Background()

	if _, err := s.Upload(ctx, "sub/leaf.txt", strings.NewReader("x"), 1); err != nil {
		t.Fatal("Upload:", err)
	}
	if err := s.Delete(ctx, "sub/leaf.txt"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.basePath, "sub")); !os.IsNotExist(err) {
		t.Error("Delete() should clean up empty parent directory 'sub'")
	}
	if _, err := os.Stat(s.basePath); err != nil {
		t.Errorf("Delete() removed the base directory: %v", err)
	}
}

func TestGetURL_ServeDirectly(t *testing.T) {
	s := newTestStorage(t, true, "https://ops.example.com/")
	ctx := context.Background()

	if _, err := s.Upload(ctx, "teams/t/file.txt", strings.NewReader("x"), 1); err != nil {
		t.Fatal("Upload:", err)
	}
	url, err := s.GetURL(ctx, "teams/t/file.txt", 0)
	if err != nil {
		t.Fatalf("GetURL() error: %v", err)
	}
	if want := "https://ops.example.com/api/v1/files/teams/t/file.txt"; url != want {
		t.Errorf("GetURL() = %q, want %q", url, want)
	}
}

func TestGetURL_FileScheme(t *testing.T) {
	s := newTestStorage(t, false, "")
	ctx := context.Background()

	if _, err := s.Upload(ctx, "file.txt", strings.NewReader("x"), 1); err != nil {
		t.Fatal("Upload:", err)
	}
	url, err := s.GetURL(ctx, "file.txt", 0)
	if err != nil {
		t.Fatalf("GetURL() error: %v", err)
	}
	if !strings.HasPrefix(url, "file://") {
		t.Errorf("GetURL() = %q, want file:// URL", url)
	}
}

func TestGetURL_NotFound(t *testing.T) {
	s := newTestStorage(t, true, "http://localhost")
	if _, err := s.GetURL(context.Background(), "missing.txt", 0); err == nil {
		t.Error("GetURL() expected error for missing file")
	}
}

func TestRegisteredAsLocal(t *testing.T) {
	cfg := &config.Config{}
	cfg.Storage.DefaultBackend = "local"
	cfg.Storage.Local.BasePath = t.TempDir()

	s, err := storage.NewStorage(cfg)
	if err != nil {
		t.Fatalf("NewStorage() error: %v", err)
	}
	if _, ok := s.(*LocalStorage); !ok {
		t.Errorf("NewStorage() = %T, want *LocalStorage", s)
	}
}
