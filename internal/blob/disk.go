package blob

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/dealhub/internal/logger"
	"github.com/dealhub/internal/model"
)

// DiskStore кладёт вложения в каталог сжатыми (.gz) и отдаёт их разархивированными.
type DiskStore struct {
	dir     string
	baseURL string
}

var _ Store = (*DiskStore)(nil)

func NewDiskStore(dir, publicBaseURL string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("blob.NewDiskStore: %w", err)
	}
	return &DiskStore{dir: dir, baseURL: strings.TrimRight(publicBaseURL, "/")}, nil
}

func (s *DiskStore) Put(ctx context.Context, obj Object) (model.Attachment, error) {
	key := uuid.New().String() + strings.ToLower(filepath.Ext(obj.Name))
	path := filepath.Join(s.dir, key+".gz")
	dst, err := os.Create(path)
	if err != nil {
		return model.Attachment{}, fmt.Errorf("disk.Put: %w", err)
	}
	cw := &countingWriter{}
	gz := gzip.NewWriter(dst)
	copyErr := copyWithContext(ctx, io.MultiWriter(gz, cw), obj.Body)
	if copyErr == nil {
		copyErr = gz.Close()
	}
	if err := dst.Close(); copyErr == nil {
		copyErr = err
	}
	if copyErr != nil {
		if err := os.Remove(path); err != nil {
			logger.Warnf("blob: remove partial %s: %v", path, err)
		}
		if errors.Is(copyErr, ErrTooLarge) {
			return model.Attachment{}, ErrTooLarge
		}
		return model.Attachment{}, fmt.Errorf("disk.Put: %w", copyErr)
	}
	logger.Debugf("blob: stored %s (%d bytes)", key, cw.n)
	return model.Attachment{
		URL:      s.url(key, obj.Name),
		Name:     obj.Name,
		MimeType: obj.MIMEType,
		Size:     cw.n,
	}, nil
}

func (s *DiskStore) url(key, name string) string {
	u := s.baseURL + "/" + key
	if name != "" {
		u += "?name=" + url.QueryEscape(name)
	}
	return u
}

// Serve отдаёт файл по ключу; query name=: оригинальное имя для Content-Disposition.
func (s *DiskStore) Serve(w http.ResponseWriter, r *http.Request, key string) {
	key = filepath.Base(key)
	f, err := os.Open(filepath.Join(s.dir, key+".gz"))
	if err != nil {
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		http.Error(w, "failed to read file", http.StatusInternalServerError)
		return
	}
	defer gz.Close()

	w.Header().Set("Content-Type", mimeByExt(key))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if name := CleanName(r.URL.Query().Get("name")); name != "" {
		disp := "attachment; filename*=UTF-8''" + url.PathEscape(name)
		if ascii := asciiFallbackName(name); ascii == name {
			disp = "attachment; filename=\"" + ascii + "\"; " + disp
		}
		w.Header().Set("Content-Disposition", disp)
	}
	w.WriteHeader(http.StatusOK)
	if err := copyWithContext(r.Context(), w, gz); err != nil {
		logger.Debugf("blob: serve %s: %v", key, err)
	}
}

type countingWriter struct{ n int64 }

func (c *countingWriter) Write(p []byte) (int, error) {
	c.n += int64(len(p))
	return len(p), nil
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) error {
	buf := make([]byte, 32*1024)
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("copy cancelled: %w", ctx.Err())
		default:
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return fmt.Errorf("write: %w", err)
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("read: %w", readErr)
		}
	}
}
