// Package blob хранит вложения сообщений: локальный диск (gzip, для -dev) или MinIO/S3.
// Хранилище возвращает ссылку и метаданные; сообщения хранят только их.
package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/dustin/go-humanize"

	"github.com/dealhub/internal/model"
)

var (
	ErrTooLarge        = errors.New("file too large")
	ErrTypeNotAllowed  = errors.New("file type not allowed")
	ErrContentMismatch = errors.New("file content does not match type")
)

// Store сохраняет один объект и описывает, откуда клиент его заберёт.
type Store interface {
	Put(ctx context.Context, obj Object) (model.Attachment, error)
}

// Object: проверенная загрузка, готовая к сохранению.
type Object struct {
	Name     string
	MIMEType string
	Size     int64
	Body     io.Reader
}

// Limits: правила загрузки, общие для всех хранилищ.
type Limits struct {
	MaxSize     int64
	AllowedMIME []string
}

func (l Limits) allowed(mimeType string) bool {
	if len(l.AllowedMIME) == 0 {
		return true
	}
	for _, m := range l.AllowedMIME {
		if strings.EqualFold(m, mimeType) {
			return true
		}
	}
	return false
}

// Validate проверяет заявленные размер и тип до записи первого байта.
func (l Limits) Validate(name, mimeType string, size int64) error {
	if l.MaxSize > 0 && size > l.MaxSize {
		return fmt.Errorf("%w: %s exceeds the %s limit", ErrTooLarge, humanize.Bytes(uint64(size)), humanize.Bytes(uint64(l.MaxSize)))
	}
	if !l.allowed(mimeType) {
		return fmt.Errorf("%w: %s (%s)", ErrTypeNotAllowed, mimeType, name)
	}
	return nil
}

// Upload проверяет obj, сверяет первые байты с заявленным типом и
// передаёт его в store. Тело обрезается по MaxSize, даже если Size соврал.
func Upload(ctx context.Context, store Store, limits Limits, obj Object) (model.Attachment, error) {
	obj.Name = CleanName(obj.Name)
	if obj.MIMEType == "" || obj.MIMEType == "application/octet-stream" {
		obj.MIMEType = mimeByExt(obj.Name)
	}
	if i := strings.IndexByte(obj.MIMEType, ';'); i >= 0 {
		obj.MIMEType = strings.TrimSpace(obj.MIMEType[:i])
	}
	if err := limits.Validate(obj.Name, obj.MIMEType, obj.Size); err != nil {
		return model.Attachment{}, err
	}

	head := make([]byte, 512)
	n, err := io.ReadAtLeast(obj.Body, head, len(head))
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return model.Attachment{}, fmt.Errorf("blob.Upload read: %w", err)
	}
	head = head[:n]
	if !matchMagic(obj.MIMEType, head) {
		return model.Attachment{}, ErrContentMismatch
	}
	body := io.MultiReader(bytes.NewReader(head), obj.Body)
	if limits.MaxSize > 0 {
		body = &capReader{r: body, left: limits.MaxSize}
	}
	obj.Body = body
	att, err := store.Put(ctx, obj)
	if err != nil {
		if errors.Is(err, ErrTooLarge) {
			return model.Attachment{}, err
		}
		return model.Attachment{}, fmt.Errorf("blob.Upload: %w", err)
	}
	return att, nil
}

// capReader падает с ErrTooLarge, как только прочитано больше left байт.
type capReader struct {
	r    io.Reader
	left int64
}

func (c *capReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.left -= int64(n)
	if c.left < 0 {
		return n, ErrTooLarge
	}
	return n, err
}

func matchMagic(mimeType string, head []byte) bool {
	switch mimeType {
	case "image/jpeg":
		return len(head) >= 3 && head[0] == 0xFF && head[1] == 0xD8 && head[2] == 0xFF
	case "image/png":
		return len(head) >= 8 && bytes.Equal(head[:8], []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A})
	case "image/gif":
		return len(head) >= 6 && (bytes.Equal(head[:6], []byte("GIF87a")) || bytes.Equal(head[:6], []byte("GIF89a")))
	case "image/webp":
		return len(head) >= 12 && bytes.Equal(head[8:12], []byte("WEBP"))
	case "application/pdf":
		return len(head) >= 5 && bytes.Equal(head[:5], []byte("%PDF-"))
	case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return len(head) >= 4 && head[0] == 0x50 && head[1] == 0x4B && (head[2] == 0x03 || head[2] == 0x05)
	}
	return true
}

func mimeByExt(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".csv":
		return "text/csv"
	case ".txt":
		return "text/plain"
	}
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		if i := strings.IndexByte(t, ';'); i >= 0 {
			t = t[:i]
		}
		return t
	}
	return "application/octet-stream"
}

// CleanName оставляет имя файла безопасным для Content-Disposition (без пути,
// управляющих символов и кавычек). UTF-8 сохраняется. "+" от форм считается пробелом.
func CleanName(s string) string {
	s = strings.ReplaceAll(s, "+", " ")
	s = strings.ReplaceAll(s, "\\", "/")
	s = filepath.Base(strings.TrimSpace(s))
	if s == "." || s == "/" {
		return ""
	}
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '\r', '\n', '"', '\x00':
			continue
		}
		if unicode.IsPrint(r) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// asciiFallbackName возвращает имя только из ASCII для legacy filename= в Content-Disposition.
func asciiFallbackName(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
