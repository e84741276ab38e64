package storage

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

// 1x1 transparent PNG
var pngPixel = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
	0x0d, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}

func TestFSStore_PutOverwritesSlot(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	key := CanvasKey(7, "s:2")
	require.Equal(t, "attempts/7/canvas/s-2", key)

	_, err = store.Put(ctx, key, bytes.NewReader([]byte("first")), "image/png")
	require.NoError(t, err)
	obj, err := store.Put(ctx, key, bytes.NewReader([]byte("second!")), "image/png")
	require.NoError(t, err)
	require.EqualValues(t, 7, obj.Size)
	require.Contains(t, obj.URL, "file://")

	rc, err := store.Get(ctx, key)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "second!", string(data))
}

func TestFSStore_RejectsEscapingKeys(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Put(context.Background(), "../outside", bytes.NewReader(nil), "")
	require.ErrorIs(t, err, ErrInvalidKey)

	_, err = store.Put(context.Background(), "", bytes.NewReader(nil), "")
	require.ErrorIs(t, err, ErrEmptyKey)
}

func TestFSStore_GetMissing(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "attempts/1/canvas/q-1")
	require.ErrorIs(t, err, ErrBlobNotFound)
}

func TestDetectCanvas(t *testing.T) {
	contentType, err := DetectCanvas(pngPixel)
	require.NoError(t, err)
	require.Equal(t, "image/png", contentType)

	_, err = DetectCanvas([]byte("plain text is not a drawing"))
	require.ErrorIs(t, err, ErrUnsupportedMedia)

	_, err = DetectCanvas(nil)
	require.ErrorIs(t, err, ErrUnsupportedMedia)
}

func TestDetectDocument(t *testing.T) {
	contentType, err := DetectDocument([]byte("%PDF-1.4\n%âãÏÓ\n1 0 obj\n"))
	require.NoError(t, err)
	require.Equal(t, "application/pdf", contentType)

	_, err = DetectDocument(pngPixel)
	require.ErrorIs(t, err, ErrUnsupportedMedia)
}
