// Package store persists checkout receipts to Supabase Storage.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/supabase-community/supabase-go"

	"github.com/codegirlMaya1/shopperAssistant/internal/catalog"
)

// Uploader writes one object into a storage bucket.
type Uploader interface {
	Upload(ctx context.Context, key, contentType string, data []byte) error
}

// SupabaseUploader uploads through the Supabase SDK client.
type SupabaseUploader struct {
	client *supabase.Client
	bucket string
}

// NewSupabaseUploader builds an SDK-backed uploader.
func NewSupabaseUploader(url, serviceRoleKey, bucket string) (*SupabaseUploader, error) {
	client, err := supabase.NewClient(url, serviceRoleKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("store: create supabase client: %w", err)
	}
	return &SupabaseUploader{client: client, bucket: bucket}, nil
}

// Upload stores the object. The SDK call has no context hook; ctx is checked
// up front so canceled checkouts do not upload.
func (s *SupabaseUploader) Upload(ctx context.Context, key, contentType string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.client.Storage.UploadFile(s.bucket, key, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("store: upload %s: %w", key, err)
	}
	return nil
}

// receipt is the persisted checkout record.
type receipt struct {
	Code  string            `json:"code"`
	At    time.Time         `json:"at"`
	Items []catalog.Product `json:"items"`
	Total float64           `json:"total"`
}

// ReceiptStore issues confirmation codes and writes checkout receipts. It
// implements the dialogue checkout recorder.
type ReceiptStore struct {
	uploader Uploader
	now      func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

// NewReceiptStore wires a receipt store over any uploader.
func NewReceiptStore(u Uploader) *ReceiptStore {
	return &ReceiptStore{
		uploader: u,
		now:      time.Now,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// RecordCheckout persists the cart as a receipt and returns its confirmation
// code, spoken back to the shopper.
func (r *ReceiptStore) RecordCheckout(ctx context.Context, items []catalog.Product, total float64) (string, error) {
	code := r.newCode()
	rec := receipt{Code: code, At: r.now().UTC(), Items: items, Total: total}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("store: marshal receipt: %w", err)
	}
	key := fmt.Sprintf("receipts/%s/%s.json", rec.At.Format("2006/01"), code)
	if err := r.uploader.Upload(ctx, key, "application/json", data); err != nil {
		return "", err
	}
	return code, nil
}

func (r *ReceiptStore) newCode() string {
	r.mu.Lock()
	n := r.rng.Intn(1000000)
	r.mu.Unlock()
	return fmt.Sprintf("CF-%06d", n)
}
