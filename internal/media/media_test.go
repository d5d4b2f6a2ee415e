package media

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 64)...)
	pdfBytes = []byte("%PDF-1.4\n1 0 obj\n<<>>\nendobj\n")
	jpgBytes = append([]byte("\xff\xd8\xff\xe0"), make([]byte, 64)...)
)

func TestValidatorAcceptsAllowedTypes(t *testing.T) {
	v := Validator{MaxBytes: 1024, MaxFiles: 5}

	err := v.Validate([]Upload{
		BytesUpload("a.png", "image/png", pngBytes),
		BytesUpload("b.pdf", "application/pdf", pdfBytes),
		BytesUpload("c.jpg", "image/jpg", jpgBytes),
	})
	assert.NoError(t, err)
}

func TestValidatorRejections(t *testing.T) {
	v := Validator{MaxBytes: 32, MaxFiles: 2}

	tests := map[string]struct {
		uploads []Upload
		reason  string
	}{
		"disallowed type": {
			uploads: []Upload{BytesUpload("x.exe", "application/octet-stream", []byte("MZ"))},
			reason:  "not allowed",
		},
		"too large": {
			uploads: []Upload{BytesUpload("a.png", "image/png", pngBytes)},
			reason:  "exceeds",
		},
		"empty": {
			uploads: []Upload{BytesUpload("a.png", "image/png", nil)},
			reason:  "empty",
		},
		"content mismatch": {
			uploads: []Upload{BytesUpload("a.png", "image/png", pdfBytes)},
			reason:  "does not match",
		},
		"too many": {
			uploads: []Upload{
				BytesUpload("1.pdf", "application/pdf", pdfBytes),
				BytesUpload("2.pdf", "application/pdf", pdfBytes),
				BytesUpload("3.pdf", "application/pdf", pdfBytes),
			},
			reason: "at most 2",
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			err := v.Validate(tt.uploads)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Error(), tt.reason)
		})
	}
}

func TestLocalStorageSaveAndRemove(t *testing.T) {
	root := t.TempDir()
	s, err := NewLocalStorage(root)
	require.NoError(t, err)

	att, err := s.Save(context.Background(), BytesUpload("../../evil/photo.png", "image/png", pngBytes))
	require.NoError(t, err)
	assert.Equal(t, "photo.png", att.OriginalName)
	assert.Equal(t, "image/png", att.MimeType)
	assert.EqualValues(t, len(pngBytes), att.SizeBytes)
	assert.True(t, strings.HasPrefix(att.Path, "attachments/"))
	assert.True(t, strings.HasSuffix(att.Path, ".png"))

	full := filepath.Join(root, filepath.FromSlash(att.Path))
	data, err := os.ReadFile(full)
	require.NoError(t, err)
	assert.Equal(t, pngBytes, data)

	require.NoError(t, s.Remove(context.Background(), att.Path))
	_, err = os.Stat(full)
	assert.True(t, os.IsNotExist(err))

	assert.NoError(t, s.Remove(context.Background(), att.Path))
}
