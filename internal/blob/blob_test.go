package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

var pngHeader = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

func testLimits() Limits {
	return Limits{MaxSize: 1024, AllowedMIME: []string{"image/png", "application/pdf", "text/plain"}}
}

func TestValidate(t *testing.T) {
	l := testLimits()
	if err := l.Validate("a.png", "image/png", 100); err != nil {
		t.Fatalf("valid png rejected: %v", err)
	}
	err := l.Validate("big.png", "image/png", 4096)
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
	if !strings.Contains(err.Error(), "1.0 kB") {
		t.Errorf("error should name the limit: %v", err)
	}
	if err := l.Validate("x.exe", "application/x-msdownload", 10); !errors.Is(err, ErrTypeNotAllowed) {
		t.Fatalf("expected ErrTypeNotAllowed, got %v", err)
	}
}

func TestCleanName(t *testing.T) {
	cases := map[string]string{
		"report.pdf":             "report.pdf",
		"../../etc/passwd":       "passwd",
		`C:\deals\Отчёт 1.pdf`:   "Отчёт 1.pdf",
		"my+deal\"sheet\n.csv":   "my dealsheet.csv",
		"":                       "",
	}
	for in, want := range cases {
		if got := CleanName(in); got != want {
			t.Errorf("CleanName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDiskUploadAndServe(t *testing.T) {
	store, err := NewDiskStore(t.TempDir(), "/files")
	if err != nil {
		t.Fatal(err)
	}
	body := append(append([]byte{}, pngHeader...), bytes.Repeat([]byte{1}, 200)...)
	att, err := Upload(context.Background(), store, testLimits(), Object{
		Name: "front yard.png", MIMEType: "image/png", Size: int64(len(body)), Body: bytes.NewReader(body),
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if att.Size != int64(len(body)) || att.MimeType != "image/png" || att.Name != "front yard.png" {
		t.Fatalf("attachment = %+v", att)
	}
	if !strings.HasPrefix(att.URL, "/files/") || !strings.Contains(att.URL, ".png?name=") {
		t.Fatalf("url = %q", att.URL)
	}

	u, err := url.Parse(att.URL)
	if err != nil {
		t.Fatal(err)
	}
	key := strings.TrimPrefix(u.Path, "/files/")
	req := httptest.NewRequest(http.MethodGet, att.URL, nil)
	rec := httptest.NewRecorder()
	store.Serve(rec, req, key)
	if rec.Code != http.StatusOK {
		t.Fatalf("serve status %d", rec.Code)
	}
	if !bytes.Equal(rec.Body.Bytes(), body) {
		t.Error("served body differs from upload")
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("content type %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "filename*=UTF-8''front%20yard.png") {
		t.Errorf("disposition %q", cd)
	}

	rec = httptest.NewRecorder()
	store.Serve(rec, httptest.NewRequest(http.MethodGet, "/files/missing.png", nil), "missing.png")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing file status %d", rec.Code)
	}
}

func TestUploadRejectsMismatchedContent(t *testing.T) {
	store, err := NewDiskStore(t.TempDir(), "/files")
	if err != nil {
		t.Fatal(err)
	}
	_, err = Upload(context.Background(), store, testLimits(), Object{
		Name: "fake.pdf", MIMEType: "application/pdf", Size: 5, Body: strings.NewReader("hello"),
	})
	if !errors.Is(err, ErrContentMismatch) {
		t.Fatalf("expected ErrContentMismatch, got %v", err)
	}
}

func TestUploadCapsUnderstatedSize(t *testing.T) {
	dir := t.TempDir()
	store, err := NewDiskStore(dir, "/files")
	if err != nil {
		t.Fatal(err)
	}
	_, err = Upload(context.Background(), store, testLimits(), Object{
		Name: "notes.txt", MIMEType: "text/plain", Size: 10, Body: strings.NewReader(strings.Repeat("x", 5000)),
	})
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
	entries, err := readDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("partial upload left behind: %v", entries)
	}
}

func TestUploadInfersTypeFromName(t *testing.T) {
	store, err := NewDiskStore(t.TempDir(), "/files")
	if err != nil {
		t.Fatal(err)
	}
	att, err := Upload(context.Background(), store, testLimits(), Object{
		Name: "comps.txt", MIMEType: "application/octet-stream", Size: 3, Body: io.LimitReader(strings.NewReader("abcdef"), 3),
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if att.MimeType != "text/plain" || att.Size != 3 {
		t.Fatalf("attachment = %+v", att)
	}
}
