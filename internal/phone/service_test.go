package phone

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/codegirlMaya1/shopperAssistant/internal/catalog"
	"github.com/codegirlMaya1/shopperAssistant/internal/parser"
)

const testToken = "twilio-test-token"

type fakeParser struct {
	mu   sync.Mutex
	resp *parser.Response
	err  error
	last string
}

func (f *fakeParser) Parse(ctx context.Context, text string, dctx parser.ContextPayload) (*parser.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = text
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func testCatalog() *catalog.Catalog {
	return catalog.New([]catalog.Product{
		{ID: 1, Title: "Fjallraven Backpack", Price: 109.95, Category: "men's clothing", Description: "Perfect for everyday use. Fits laptops up to 15 inches."},
		{ID: 2, Title: "Womens Summer Dress", Price: 39.99, Category: "women's clothing", Description: "Light and comfortable."},
	})
}

type fakeRecorder struct {
	calls int
}

func (f *fakeRecorder) RecordCheckout(ctx context.Context, items []catalog.Product, total float64) (string, error) {
	f.calls++
	return "CF-482917", nil
}

// sign computes the webhook signature the way Twilio does: the full URL plus
// the sorted key-value concatenation, HMAC-SHA1 under the auth token.
func sign(token, requestURL string, params url.Values) string {
	data := requestURL
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		data += k + params.Get(k)
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func newTestService(fp *fakeParser, rec *fakeRecorder) (*Service, *echo.Echo) {
	svc := New(Config{
		AuthToken:   testToken,
		Parser:      fp,
		Catalog:     testCatalog(),
		Recorder:    rec,
		AutoPresent: true,
	})
	e := echo.New()
	svc.RegisterHandlers(e)
	return svc, e
}

func post(e *echo.Echo, path string, params url.Values, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(params.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if signature != "" {
		req.Header.Set("X-Twilio-Signature", signature)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func signedPost(e *echo.Echo, path string, params url.Values) *httptest.ResponseRecorder {
	return post(e, path, params, sign(testToken, "https://example.com"+path, params))
}

func TestAuth_RejectsBadSignature(t *testing.T) {
	_, e := newTestService(&fakeParser{}, nil)

	params := url.Values{"CallSid": {"CA1"}, "From": {"+15550001111"}}
	rec := post(e, "/twilio/voice", params, "bogus")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("code = %d, want 401", rec.Code)
	}
}

func TestVoice_GreetsAndGathers(t *testing.T) {
	_, e := newTestService(&fakeParser{}, nil)

	params := url.Values{"CallSid": {"CA1"}, "From": {"+15550001111"}}
	rec := signedPost(e, "/twilio/voice", params)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if !strings.Contains(body, "Sandy") {
		t.Errorf("greeting missing from TwiML: %s", body)
	}
	if !strings.Contains(body, "<Gather") || !strings.Contains(body, "/twilio/gather") {
		t.Errorf("no speech gather in TwiML: %s", body)
	}
}

func TestGather_FilterPresentsTopMatch(t *testing.T) {
	fp := &fakeParser{resp: &parser.Response{
		Filters: parser.Filters{Category: "women's clothing"},
		Matches: []catalog.Product{{ID: 2, Title: "Womens Summer Dress", Price: 39.99}},
	}}
	_, e := newTestService(fp, nil)

	params := url.Values{"CallSid": {"CA2"}, "SpeechResult": {"show me summer dresses"}}
	rec := signedPost(e, "/twilio/gather", params)
	body := rec.Body.String()
	if !strings.Contains(body, "Womens Summer Dress") {
		t.Errorf("pitch missing: %s", body)
	}
	if !strings.Contains(body, "add it to your cart") {
		t.Errorf("confirmation question missing: %s", body)
	}
	if fp.last != "show me summer dresses" {
		t.Errorf("parser got %q", fp.last)
	}
}

func TestGather_YesThenCheckout(t *testing.T) {
	fp := &fakeParser{resp: &parser.Response{
		Filters: parser.Filters{Category: "women's clothing"},
		Matches: []catalog.Product{{ID: 2, Title: "Womens Summer Dress", Price: 39.99}},
	}}
	rec := &fakeRecorder{}
	svc, e := newTestService(fp, rec)

	sid := "CA3"
	signedPost(e, "/twilio/gather", url.Values{"CallSid": {sid}, "SpeechResult": {"show me dresses"}})

	r := signedPost(e, "/twilio/gather", url.Values{"CallSid": {sid}, "SpeechResult": {"yes please"}})
	if !strings.Contains(r.Body.String(), "Added Womens Summer Dress to your cart") {
		t.Fatalf("yes did not add: %s", r.Body.String())
	}

	r = signedPost(e, "/twilio/gather", url.Values{"CallSid": {sid}, "SpeechResult": {"check out"}})
	body := r.Body.String()
	if !strings.Contains(body, "CF-482917") {
		t.Errorf("confirmation code missing: %s", body)
	}
	if !strings.Contains(body, "<Hangup") {
		t.Errorf("call not ended: %s", body)
	}
	if rec.calls != 1 {
		t.Errorf("recorder calls = %d, want 1", rec.calls)
	}

	svc.mu.Lock()
	_, alive := svc.sessions[sid]
	svc.mu.Unlock()
	if alive {
		t.Error("session not dropped after checkout")
	}
}

func TestGather_NoRedirects(t *testing.T) {
	fp := &fakeParser{resp: &parser.Response{
		Matches: []catalog.Product{{ID: 1, Title: "Fjallraven Backpack", Price: 109.95}},
	}}
	_, e := newTestService(fp, nil)

	sid := "CA4"
	signedPost(e, "/twilio/gather", url.Values{"CallSid": {sid}, "SpeechResult": {"show me backpacks"}})
	r := signedPost(e, "/twilio/gather", url.Values{"CallSid": {sid}, "SpeechResult": {"no thanks"}})
	if !strings.Contains(r.Body.String(), "What else can I help you find") {
		t.Errorf("no decision not handled: %s", r.Body.String())
	}
}

func TestGather_EmptySpeechReprompts(t *testing.T) {
	_, e := newTestService(&fakeParser{}, nil)

	r := signedPost(e, "/twilio/gather", url.Values{"CallSid": {"CA5"}})
	if !strings.Contains(r.Body.String(), "didn't hear anything") {
		t.Errorf("no reprompt: %s", r.Body.String())
	}
}

func TestValidateSignature(t *testing.T) {
	params := map[string]string{"CallSid": "CA9", "From": "+15550001111"}
	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	u := "https://example.com/twilio/voice"
	good := sign(testToken, u, values)

	if !validateSignature(testToken, good, u, params) {
		t.Error("valid signature rejected")
	}
	if validateSignature(testToken, good, "https://example.com/other", params) {
		t.Error("signature for wrong URL accepted")
	}
	if validateSignature(testToken, "", u, params) {
		t.Error("empty signature accepted")
	}
}
