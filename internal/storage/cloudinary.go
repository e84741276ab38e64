package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
)

// CloudinaryConfig contains credentials required to talk to Cloudinary.
type CloudinaryConfig struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
}

// CloudinaryStore keeps blobs as Cloudinary assets with the blob key as
// public id.
type CloudinaryStore struct {
	client *cloudinary.Cloudinary
	folder string
	http   *http.Client
	logger *slog.Logger
}

func NewCloudinaryStore(cfg CloudinaryConfig, logger *slog.Logger) (*CloudinaryStore, error) {
	if cfg.CloudName == "" || cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("cloudinary credentials must be provided")
	}

	cld, err := cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cloudinary: %w", err)
	}
	cld.Config.URL.Secure = true

	return &CloudinaryStore{
		client: cld,
		folder: strings.Trim(cfg.Folder, "/"),
		http:   &http.Client{Timeout: 30 * time.Second},
		logger: logger.With("component", "cloudinary"),
	}, nil
}

func (s *CloudinaryStore) publicID(key string) string {
	if s.folder == "" {
		return key
	}
	return s.folder + "/" + key
}

func (s *CloudinaryStore) Put(ctx context.Context, key string, r io.Reader, contentType string) (*Object, error) {
	key, err := cleanKey(key)
	if err != nil {
		return nil, err
	}

	counter := &countingReader{r: r}
	result, err := s.client.Upload.Upload(ctx, counter, uploader.UploadParams{
		PublicID:     s.publicID(key),
		ResourceType: "auto",
		Overwrite:    api.Bool(true),
		Invalidate:   api.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload asset: %w", err)
	}
	if result.Error.Message != "" {
		return nil, fmt.Errorf("failed to upload asset: %s", result.Error.Message)
	}

	s.logger.InfoContext(ctx, "Blob uploaded", "public_id", result.PublicID, "bytes", counter.n)
	return &Object{Key: key, URL: result.SecureURL, ContentType: contentType, Size: counter.n}, nil
}

func (s *CloudinaryStore) URL(_ context.Context, key string) (string, error) {
	key, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	asset, err := s.client.Image(s.publicID(key))
	if err != nil {
		return "", fmt.Errorf("failed to build asset url: %w", err)
	}
	return asset.String()
}

func (s *CloudinaryStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	u, err := s.URL(ctx, key)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch asset: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, key)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("failed to fetch asset: status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
