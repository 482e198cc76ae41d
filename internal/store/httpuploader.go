package store

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// HTTPUploader talks to the Supabase Storage REST API directly. Used when the
// SDK client cannot be constructed, for instance with a self-hosted instance
// behind a nonstandard URL.
type HTTPUploader struct {
	BaseURL    string
	ServiceKey string
	Bucket     string
	Client     *http.Client
}

// NewHTTPUploader builds a REST-backed uploader.
func NewHTTPUploader(baseURL, serviceKey, bucket string) *HTTPUploader {
	return &HTTPUploader{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		ServiceKey: serviceKey,
		Bucket:     bucket,
		Client:     &http.Client{Timeout: 30 * time.Second},
	}
}

// Upload stores the object with upsert semantics.
func (u *HTTPUploader) Upload(ctx context.Context, key, contentType string, data []byte) error {
	if u.BaseURL == "" || u.ServiceKey == "" {
		return fmt.Errorf("store: supabase URL and service role key required")
	}
	uploadURL := fmt.Sprintf("%s/storage/v1/object/%s/%s", u.BaseURL, u.Bucket, key)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("store: create upload request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+u.ServiceKey)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Cache-Control", "3600")
	req.Header.Set("x-upsert", "true")

	resp, err := u.Client.Do(req)
	if err != nil {
		return fmt.Errorf("store: upload: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("store: upload failed with status %d", resp.StatusCode)
	}
	return nil
}
