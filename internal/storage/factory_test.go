package storage_test

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/fieldops/fieldops/internal/config"
	"github.com/fieldops/fieldops/internal/storage"
)

type mockStorage struct{}

func (m *mockStorage) Upload(_ context.Context, _ string, _ io.Reader, _ int64) (*storage.UploadResult, error) {
	return nil, nil
}
func (m *mockStorage) Download(_ context.Context, _ string) (io.ReadCloser, error) { return nil, nil }
func (m *mockStorage) Delete(_ context.Context, _ string) error                    { return nil }
func (m *mockStorage) GetURL(_ context.Context, _ string, _ time.Duration) (string, error) {
	return "", nil
}
func (m *mockStorage) Exists(_ context.Context, _ string) (bool, error) { return false, nil }

func TestRegister_AddsFactory(t *testing.T) {
	storage.Register("test-backend", func(_ *config.Config) (storage.Storage, error) {
		return &mockStorage{}, nil
	})

	cfg := &config.Config{}
	cfg.Storage.DefaultBackend = "test-backend"

	s, err := storage.NewStorage(cfg)
	if err != nil {
		t.Fatalf("NewStorage() error: %v", err)
	}
	if s == nil {
		t.Fatal("NewStorage() returned nil")
	}

	found := false
	for _, name := range storage.Registered() {
		if name == "test-backend" {
			found = true
		}
	}
	if !found {
		t.Errorf("Registered() = %v, missing test-backend", storage.Registered())
	}
}

func TestNewStorage_UnknownBackend(t *testing.T) {
	cfg := &config.Config{}
	cfg.Storage.DefaultBackend = "completely-unknown-backend"

	if _, err := storage.NewStorage(cfg); err == nil {
		t.Error("NewStorage() = nil error, want error for unregistered backend")
	}
}

func TestSanitizeFileName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"photo.jpg", "photo.jpg"},
		{"../../etc/passwd", "passwd"},
		{`C:\Users\field\site plan.pdf`, "site_plan.pdf"},
		{"weird name (1).png", "weird_name_1_.png"},
		{"..", "file"},
		{"", "file"},
	}
	for _, tt := range tests {
		if got := storage.SanitizeFileName(tt.in); got != tt.want {
			t.Errorf("SanitizeFileName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSanitizeFileName_Truncates(t *testing.T) {
	got := storage.SanitizeFileName(strings.Repeat("a", 200) + ".jpg")
	if len(got) != 128 || !strings.HasSuffix(got, ".jpg") {
		t.Errorf("SanitizeFileName(long) = %q (len %d), want 128 chars ending in .jpg", got, len(got))
	}
}

func TestMediaPath(t *testing.T) {
	got := storage.MediaPath("t1", "r1", "m1", "../x y.jpg")
	if want := "teams/t1/reports/r1/m1-x_y.jpg"; got != want {
		t.Errorf("MediaPath() = %q, want %q", got, want)
	}
}
