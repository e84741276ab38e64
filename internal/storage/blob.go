// Package storage keeps canvas images and exam PDFs.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

var (
	ErrEmptyKey         = errors.New("empty blob key")
	ErrInvalidKey       = errors.New("invalid blob key")
	ErrUnsupportedMedia = errors.New("unsupported media type")
	ErrBlobNotFound     = errors.New("blob not found")
)

// Object describes a stored blob.
type Object struct {
	Key         string
	URL         string
	ContentType string
	Size        int64
}

// BlobStore writes blobs under stable keys. Put on an existing key
// replaces the content.
type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader, contentType string) (*Object, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	URL(ctx context.Context, key string) (string, error)
}

var (
	canvasTypes = map[string]bool{
		"image/png":  true,
		"image/jpeg": true,
		"image/webp": true,
	}
	documentTypes = map[string]bool{
		"application/pdf": true,
	}
)

// DetectCanvas sniffs an uploaded drawing.
func DetectCanvas(data []byte) (string, error) {
	return detect(data, canvasTypes)
}

// DetectDocument sniffs an uploaded exam document.
func DetectDocument(data []byte) (string, error) {
	return detect(data, documentTypes)
}

func detect(data []byte, allowed map[string]bool) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty payload", ErrUnsupportedMedia)
	}
	mime := mimetype.Detect(data)
	contentType := strings.ToLower(strings.TrimSpace(strings.Split(mime.String(), ";")[0]))
	if !allowed[contentType] {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedMedia, contentType)
	}
	return contentType, nil
}

// CanvasKey is the blob key of an attempt slot drawing.
func CanvasKey(attemptID uint, slotKey string) string {
	return fmt.Sprintf("attempts/%d/canvas/%s", attemptID, strings.ReplaceAll(slotKey, ":", "-"))
}

// ExamDocumentKey is the blob key of an exam PDF.
func ExamDocumentKey(examID uint) string {
	return fmt.Sprintf("exams/%d/document", examID)
}

// cleanKey rejects keys escaping the store root.
func cleanKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", ErrEmptyKey
	}
	cleaned := path.Clean("/" + key)[1:]
	if cleaned == "" || cleaned != strings.TrimPrefix(key, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return cleaned, nil
}
