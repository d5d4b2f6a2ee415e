// Package media validates and stores message attachments.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/capitalize-ai/messaging-platform/internal/model"
)

// Allowed lists the accepted MIME types and their stored file extension.
var Allowed = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/gif":       ".gif",
	"image/webp":      ".webp",
	"application/pdf": ".pdf",
}

// Upload is an attachment received with a message, before it is stored.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Open        func() (io.ReadCloser, error)
}

// ValidationError describes why an upload was rejected.
type ValidationError struct {
	Filename string
	Reason   string
}

func (e *ValidationError) Error() string {
	if e.Filename == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Filename, e.Reason)
}

// Validator enforces attachment limits.
type Validator struct {
	MaxBytes int64
	MaxFiles int
}

// Validate checks every upload and returns the first violation.
// The sniffed content must agree with the declared type.
func (v Validator) Validate(uploads []Upload) error {
	if v.MaxFiles > 0 && len(uploads) > v.MaxFiles {
		return &ValidationError{Reason: fmt.Sprintf("at most %d attachments are allowed", v.MaxFiles)}
	}
	for _, u := range uploads {
		if err := v.validateOne(u); err != nil {
			return err
		}
	}
	return nil
}

func (v Validator) validateOne(u Upload) error {
	declared := normalizeType(u.ContentType)
	if _, ok := Allowed[declared]; !ok {
		return &ValidationError{Filename: u.Filename, Reason: "file type is not allowed"}
	}
	if u.Size <= 0 {
		return &ValidationError{Filename: u.Filename, Reason: "file is empty"}
	}
	if v.MaxBytes > 0 && u.Size > v.MaxBytes {
		return &ValidationError{Filename: u.Filename, Reason: fmt.Sprintf("file exceeds %d bytes", v.MaxBytes)}
	}

	sniffed, err := sniff(u)
	if err != nil {
		return &ValidationError{Filename: u.Filename, Reason: "file could not be read"}
	}
	if sniffed != declared {
		return &ValidationError{Filename: u.Filename, Reason: "file content does not match its type"}
	}
	return nil
}

func sniff(u Upload) (string, error) {
	rc, err := u.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(rc, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", err
	}
	return normalizeType(http.DetectContentType(head[:n])), nil
}

func normalizeType(ct string) string {
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(ct))
	}
	if mt == "image/jpg" || mt == "image/pjpeg" {
		return "image/jpeg"
	}
	return mt
}

// Storage persists attachment files.
type Storage interface {
	Save(ctx context.Context, u Upload) (model.Attachment, error)
	Remove(ctx context.Context, relPath string) error
}

// LocalStorage writes files below a root directory, one folder per day.
type LocalStorage struct {
	root string
	now  func() time.Time
}

// NewLocalStorage creates the root directory if needed.
func NewLocalStorage(root string) (*LocalStorage, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	return &LocalStorage{root: root, now: time.Now}, nil
}

// Save copies the upload to a uuid-named file and returns its attachment row.
func (s *LocalStorage) Save(ctx context.Context, u Upload) (model.Attachment, error) {
	ct := normalizeType(u.ContentType)
	rel := path.Join("attachments", s.now().UTC().Format("2006/01/02"), uuid.NewString()+Allowed[ct])
	full := filepath.Join(s.root, filepath.FromSlash(rel))

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return model.Attachment{}, fmt.Errorf("create attachment dir: %w", err)
	}

	src, err := u.Open()
	if err != nil {
		return model.Attachment{}, fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	dst, err := os.OpenFile(full, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return model.Attachment{}, fmt.Errorf("create attachment: %w", err)
	}
	n, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(full)
		return model.Attachment{}, fmt.Errorf("write attachment: %w", err)
	}

	return model.Attachment{
		Path:         rel,
		OriginalName: filepath.Base(u.Filename),
		MimeType:     ct,
		SizeBytes:    n,
	}, nil
}

// Remove deletes a stored file. Missing files are not an error.
func (s *LocalStorage) Remove(ctx context.Context, relPath string) error {
	full := filepath.Join(s.root, filepath.FromSlash(path.Clean("/" + relPath)))
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// BytesUpload wraps an in-memory file as an Upload.
func BytesUpload(filename, contentType string, data []byte) Upload {
	return Upload{
		Filename:    filename,
		ContentType: contentType,
		Size:        int64(len(data)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}
