package storage

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLocalPutAndDelete(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocal(dir, "http://localhost:3001/uploads/")
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}

	ctx := context.Background()
	url, err := store.Put(ctx, "visits/v1/photo.jpg", []byte("data"), "image/jpeg")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if url != "http://localhost:3001/uploads/visits/v1/photo.jpg" {
		t.Errorf("url = %q", url)
	}

	got, err := os.ReadFile(filepath.Join(dir, "visits", "v1", "photo.jpg"))
	if err != nil {
		t.Fatalf("reading stored file: %v", err)
	}
	if string(got) != "data" {
		t.Errorf("stored = %q, want %q", got, "data")
	}

	if err := store.Delete(ctx, "visits/v1/photo.jpg"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "visits", "v1", "photo.jpg")); !os.IsNotExist(err) {
		t.Errorf("expected file to be removed, stat err = %v", err)
	}
	// deleting twice is fine
	if err := store.Delete(ctx, "visits/v1/photo.jpg"); err != nil {
		t.Errorf("second Delete: %v", err)
	}
}

func TestLocalRejectsTraversal(t *testing.T) {
	store, err := NewLocal(t.TempDir(), "/uploads")
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	for _, key := range []string{"../escape.txt", "/etc/passwd", ""} {
		if _, err := store.Put(context.Background(), key, []byte("x"), ""); err == nil {
			t.Errorf("Put(%q) succeeded, want error", key)
		}
	}
}

func TestObjectKey(t *testing.T) {
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	key := ObjectKey("/visits/abc/", ".JPG", now)
	if !strings.HasPrefix(key, "visits/abc/2026/03/04/") {
		t.Errorf("key = %q, want visits/abc/2026/03/04/ prefix", key)
	}
	if !strings.HasSuffix(key, ".jpg") {
		t.Errorf("key = %q, want .jpg suffix", key)
	}
}

func TestNewUnknownDriver(t *testing.T) {
	if _, err := New(Config{Driver: "s3"}); err == nil {
		t.Error("expected error for unknown driver")
	}
}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 100, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

func TestPreparePhotoDownscales(t *testing.T) {
	photo, err := PreparePhoto(testPNG(t, 400, 200), 100, 100)
	if err != nil {
		t.Fatalf("PreparePhoto: %v", err)
	}
	if photo.ContentType != "image/jpeg" {
		t.Errorf("ContentType = %q, want image/jpeg", photo.ContentType)
	}
	if photo.Width != 100 || photo.Height != 50 {
		t.Errorf("size = %dx%d, want 100x50", photo.Width, photo.Height)
	}
}

func TestPreparePhotoKeepsSmallImages(t *testing.T) {
	photo, err := PreparePhoto(testPNG(t, 40, 30), 100, 100)
	if err != nil {
		t.Fatalf("PreparePhoto: %v", err)
	}
	if photo.Width != 40 || photo.Height != 30 {
		t.Errorf("size = %dx%d, want 40x30", photo.Width, photo.Height)
	}
}

func TestPreparePhotoRejectsNonImage(t *testing.T) {
	_, err := PreparePhoto([]byte("%PDF-1.4 not an image"), 100, 100)
	if !errors.Is(err, ErrUnsupportedImage) {
		t.Errorf("err = %v, want ErrUnsupportedImage", err)
	}
}
