package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/codegirlMaya1/shopperAssistant/internal/catalog"
)

// DefaultTimeout is the per-call budget for the remote intent parser. A call
// that exceeds it is treated as a dropped turn, never retried automatically.
const DefaultTimeout = 15 * time.Second

// Actions the remote parser can request. Anything else is treated as a plain
// filter.
const (
	ActionFilter         = "filter"
	ActionAddToCart      = "add_to_cart"
	ActionRemoveFromCart = "remove_from_cart"
)

// Filters is the structured interpretation of one utterance. Fields are
// optional; a zero value means the parser saw nothing for that slot. Filters
// are immutable once received and get superseded wholesale by the next parse.
type Filters struct {
	Category   string  `json:"category,omitempty"`
	Product    string  `json:"product,omitempty"`
	Price      float64 `json:"price,omitempty"`
	Color      string  `json:"color,omitempty"`
	Action     string  `json:"action,omitempty"`
	Transcript string  `json:"transcript,omitempty"`
}

// Act normalizes the action field: case-insensitive, defaulting to filter.
func (f Filters) Act() string {
	switch strings.ToLower(strings.TrimSpace(f.Action)) {
	case ActionAddToCart:
		return ActionAddToCart
	case ActionRemoveFromCart:
		return ActionRemoveFromCart
	default:
		return ActionFilter
	}
}

// ContextPayload is the multi-turn context echoed between the controller and
// the parser. The parser owns slot accumulation; this layer only carries the
// most recent payload back and forth.
type ContextPayload struct {
	LastFilters  Filters  `json:"last_filters"`
	PendingSlots []string `json:"pending_slots"`
}

type parseRequest struct {
	Text    string         `json:"text"`
	Context ContextPayload `json:"context"`
}

// Response is the parser's verdict for one utterance.
type Response struct {
	Filters      Filters           `json:"filters"`
	Matches      []catalog.Product `json:"matches"`
	Clarify      bool              `json:"clarify,omitempty"`
	Question     string            `json:"question,omitempty"`
	PendingSlots []string          `json:"pending_slots,omitempty"`
	Context      *ContextPayload   `json:"context,omitempty"`
}

// Client talks to the remote intent parser.
type Client struct {
	HTTPClient *http.Client
	URL        string
}

// NewClient builds a parser client for the given /parse-voice endpoint.
func NewClient(url string) *Client {
	return &Client{
		HTTPClient: &http.Client{Timeout: DefaultTimeout},
		URL:        url,
	}
}

// Parse sends the utterance plus the current dialogue context and returns the
// parser's interpretation.
func (c *Client) Parse(ctx context.Context, text string, dctx ContextPayload) (*Response, error) {
	if c.URL == "" {
		return nil, fmt.Errorf("parser: endpoint URL missing")
	}
	reqBody, _ := json.Marshal(parseRequest{Text: text, Context: dctx})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("parser: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("parser: status=%d body=%s", resp.StatusCode, string(b))
	}
	var pr Response
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, fmt.Errorf("parser: decode: %w", err)
	}
	return &pr, nil
}
