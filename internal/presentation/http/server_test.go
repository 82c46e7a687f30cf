package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	stdhttp "net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ed25519"
	"gorm.io/gorm"

	"funblink/app/internal/data/database"
	"funblink/app/internal/domain/account"
	"funblink/app/internal/domain/address"
	"funblink/app/internal/domain/blink"
	"funblink/app/internal/platform/auth"
)

func TestCreateRouteRequiresSignature(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &stubBlinkService{}, nil)
	req := httptest.NewRequest(stdhttp.MethodPost, "/v1/blinks", strings.NewReader(`{"id":"1"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)

	if rec.Code != stdhttp.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}

	body := decodeProblem(t, rec)
	if body.Code != "Unauthenticated" || body.Number != 401 {
		t.Fatalf("unexpected problem body %+v", body)
	}
	if body.RequestID == "" || body.RequestID != rec.Header().Get("X-Request-ID") {
		t.Fatalf("expected request id in body and header, got %q / %q", body.RequestID, rec.Header().Get("X-Request-ID"))
	}
}

func TestCreateRouteAppendsForSignedOwner(t *testing.T) {
	t.Parallel()

	service := &stubBlinkService{}
	srv := newTestServer(t, service, nil)
	key := testKey(1)

	payload := `{"id":"1","title":"A","toPubkey":"5ufHigmjsV3ucetqXxZgZuYkmHyRiyYPYm5RSM8y2WFQ","link":"{\"a\":[{\"value\":1}]}"}`
	rec := serveSigned(t, srv, key, stdhttp.MethodPost, "/v1/blinks", payload, nil)

	if rec.Code != stdhttp.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var body listBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding response failed: %v", err)
	}
	if len(body.Blinks) != 1 || body.Blinks[0].ID != "1" || body.Blinks[0].Title != "A" {
		t.Fatalf("unexpected list body %+v", body)
	}
	if body.Owner != ownerOf(t, key).String() {
		t.Fatalf("expected owner %s, got %s", ownerOf(t, key), body.Owner)
	}

	calls := service.recorded()
	if len(calls) != 1 || calls[0].op != "create" || calls[0].call.ListAddress != nil {
		t.Fatalf("unexpected service calls %+v", calls)
	}
	if calls[0].blink.ToPubkey != "5ufHigmjsV3ucetqXxZgZuYkmHyRiyYPYm5RSM8y2WFQ" {
		t.Fatalf("expected toPubkey to reach the service, got %+v", calls[0].blink)
	}
}

func TestTamperedBodyIsRejected(t *testing.T) {
	t.Parallel()

	service := &stubBlinkService{}
	srv := newTestServer(t, service, nil)
	key := testKey(2)

	headers, err := auth.Sign(key, stdhttp.MethodPost, "/v1/blinks", time.Now(), []byte(`{"id":"1"}`))
	if err != nil {
		t.Fatalf("signing failed: %v", err)
	}

	req := httptest.NewRequest(stdhttp.MethodPost, "/v1/blinks", strings.NewReader(`{"id":"2"}`))
	req.Header.Set("Content-Type", "application/json")
	headers.Apply(req.Header)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != stdhttp.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
	if len(service.recorded()) != 0 {
		t.Fatalf("service must not be called for a rejected signature")
	}
}

func TestDomainErrorsMapToCodes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err    error
		status int
		code   string
		number uint32
	}{
		{blink.ErrAuthorizationFailed, stdhttp.StatusForbidden, "AuthorizationFailed", 2006},
		{blink.ErrBlinkExists, stdhttp.StatusConflict, "BlinkExists", 6000},
		{blink.ErrListNotInitialized, stdhttp.StatusNotFound, "ListNotInitialized", 6001},
		{blink.ErrCapacityExceeded, stdhttp.StatusRequestEntityTooLarge, "CapacityExceeded", 6002},
		{blink.ErrBlinkNotFound, stdhttp.StatusNotFound, "BlinkNotFound", 6003},
	}

	for i, tc := range cases {
		service := &stubBlinkService{err: eris.Wrap(eris.Wrap(tc.err, "inner"), "outer")}
		srv := newTestServer(t, service, nil)

		rec := serveSigned(t, srv, testKey(byte(10+i)), stdhttp.MethodPost, "/v1/blinks", `{"id":"x"}`, nil)
		if rec.Code != tc.status {
			t.Fatalf("%s: expected status %d, got %d", tc.code, tc.status, rec.Code)
		}

		body := decodeProblem(t, rec)
		if body.Code != tc.code || body.Number != tc.number {
			t.Fatalf("%s: unexpected problem %+v", tc.code, body)
		}
	}
}

func TestUnexpectedErrorsAreHidden(t *testing.T) {
	t.Parallel()

	service := &stubBlinkService{err: eris.New("disk on fire at /var/lib/secret")}
	srv := newTestServer(t, service, nil)

	rec := serveSigned(t, srv, testKey(3), stdhttp.MethodDelete, "/v1/blinks/1", "", nil)
	if rec.Code != stdhttp.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "secret") {
		t.Fatalf("internal details leaked: %s", rec.Body.String())
	}
	if body := decodeProblem(t, rec); body.Code != "Internal" {
		t.Fatalf("expected Internal code, got %+v", body)
	}
}

func TestListHeaderIsForwarded(t *testing.T) {
	t.Parallel()

	service := &stubBlinkService{}
	srv := newTestServer(t, service, nil)
	key := testKey(4)
	list := testDeriver(t).MustDerive(ownerOf(t, key))

	rec := serveSigned(t, srv, key, stdhttp.MethodDelete, "/v1/blinks/7", "", map[string]string{auth.HeaderList: list.String()})
	if rec.Code != stdhttp.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	calls := service.recorded()
	if len(calls) != 1 || calls[0].op != "delete" || calls[0].id != "7" {
		t.Fatalf("unexpected calls %+v", calls)
	}
	if calls[0].call.ListAddress == nil || *calls[0].call.ListAddress != list {
		t.Fatalf("expected list address %s to be forwarded", list)
	}

	rec = serveSigned(t, srv, key, stdhttp.MethodDelete, "/v1/blinks/8", "", map[string]string{auth.HeaderList: "not-a-key"})
	if rec.Code != stdhttp.StatusBadRequest {
		t.Fatalf("expected status 400 for malformed list header, got %d", rec.Code)
	}
}

func TestCloseRouteReportsRefund(t *testing.T) {
	t.Parallel()

	service := &stubBlinkService{}
	srv := newTestServer(t, service, nil)

	rec := serveSigned(t, srv, testKey(5), stdhttp.MethodDelete, "/v1/blinks", "", nil)
	if rec.Code != stdhttp.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Address  string `json:"address"`
		Refunded uint64 `json:"refunded"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding response failed: %v", err)
	}
	if body.Refunded != blink.DefaultRent.MinimumBalance(blink.DefaultCapacity) {
		t.Fatalf("unexpected refund %d", body.Refunded)
	}
}

func TestOwnRouteUsesSignedOwner(t *testing.T) {
	t.Parallel()

	service := &stubBlinkService{}
	srv := newTestServer(t, service, nil)
	key := testKey(6)

	rec := serveSigned(t, srv, key, stdhttp.MethodGet, "/v1/blinks", "", nil)
	if rec.Code != stdhttp.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	calls := service.recorded()
	if len(calls) != 1 || calls[0].op != "list" || calls[0].call.Owner != ownerOf(t, key) {
		t.Fatalf("unexpected calls %+v", calls)
	}
}

func TestPublicOwnerRoutes(t *testing.T) {
	t.Parallel()

	service := &stubBlinkService{}
	srv := newTestServer(t, service, nil)
	owner := "5ufHigmjsV3ucetqXxZgZuYkmHyRiyYPYm5RSM8y2WFQ"

	rec := serve(srv, stdhttp.MethodGet, "/v1/owners/"+owner+"/address", nil)
	if rec.Code != stdhttp.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var derived struct {
		Address string `json:"address"`
		Bump    uint8  `json:"bump"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &derived); err != nil {
		t.Fatalf("decoding response failed: %v", err)
	}
	if derived.Address != "8T78tV1pfdW1QHEPJS96eBptf5LShk18unfR4kRMMrRv" || derived.Bump != 252 {
		t.Fatalf("unexpected derivation %+v", derived)
	}

	rec = serve(srv, stdhttp.MethodGet, "/v1/owners/"+owner+"/blinks", nil)
	if rec.Code != stdhttp.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	rec = serve(srv, stdhttp.MethodGet, "/v1/owners/0OIl/blinks", nil)
	if rec.Code != stdhttp.StatusBadRequest {
		t.Fatalf("expected status 400 for invalid owner, got %d", rec.Code)
	}
}

func TestActionRouteBuildsLinksWithCORS(t *testing.T) {
	t.Parallel()

	service := &stubBlinkService{found: &blink.Blink{
		ID:       "1",
		Title:    "Tip",
		ToPubkey: "5ufHigmjsV3ucetqXxZgZuYkmHyRiyYPYm5RSM8y2WFQ",
		Link:     `{"a":[{"value":1}],"m":true}`,
	}}
	srv := newTestServer(t, service, nil)

	req := httptest.NewRequest(stdhttp.MethodGet, "/api/actions?pda=8T78tV1pfdW1QHEPJS96eBptf5LShk18unfR4kRMMrRv&id=1", nil)
	req.Host = "blinks.example"
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != stdhttp.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("expected CORS header, got %v", rec.Header())
	}

	var body struct {
		Title string `json:"title"`
		Icon  string `json:"icon"`
		Links struct {
			Actions []linkedActionBody `json:"actions"`
		} `json:"links"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding response failed: %v", err)
	}

	if body.Title != "Tip" || body.Icon != "http://blinks.example/solana-token.png" {
		t.Fatalf("unexpected action metadata %+v", body)
	}
	if len(body.Links.Actions) != 2 {
		t.Fatalf("expected two actions, got %+v", body.Links.Actions)
	}
	expectedHref := "http://blinks.example/api/actions?to=5ufHigmjsV3ucetqXxZgZuYkmHyRiyYPYm5RSM8y2WFQ&amount=1"
	if body.Links.Actions[0].Href != expectedHref {
		t.Fatalf("expected href %q, got %q", expectedHref, body.Links.Actions[0].Href)
	}
	if len(body.Links.Actions[1].Parameters) != 1 || body.Links.Actions[1].Parameters[0].Name != "amount" {
		t.Fatalf("expected amount parameter, got %+v", body.Links.Actions[1])
	}
}

func TestActionRouteErrorsKeepCORS(t *testing.T) {
	t.Parallel()

	service := &stubBlinkService{err: eris.Wrap(blink.ErrBlinkNotFound, "missing")}
	srv := newTestServer(t, service, nil)

	rec := serve(srv, stdhttp.MethodGet, "/api/actions?pda=8T78tV1pfdW1QHEPJS96eBptf5LShk18unfR4kRMMrRv&id=9", nil)
	if rec.Code != stdhttp.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("expected CORS header on error responses")
	}

	rec = serve(srv, stdhttp.MethodOptions, "/api/actions", nil)
	if rec.Code != stdhttp.StatusNoContent {
		t.Fatalf("expected status 204 for preflight, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Fatalf("expected preflight to carry allowed methods")
	}
}

func TestRateLimiterBlocksBurst(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &stubBlinkService{}, nil)
	path := "/v1/owners/5ufHigmjsV3ucetqXxZgZuYkmHyRiyYPYm5RSM8y2WFQ/address"

	for i := 0; i < 3; i++ {
		if rec := serve(srv, stdhttp.MethodGet, path, nil); rec.Code != stdhttp.StatusOK {
			t.Fatalf("expected request %d to succeed, got %d", i+1, rec.Code)
		}
	}

	rec := serve(srv, stdhttp.MethodGet, path, nil)
	if rec.Code != stdhttp.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "1" {
		t.Fatalf("expected Retry-After header")
	}
	if body := decodeProblem(t, rec); body.Code != "RateLimited" {
		t.Fatalf("unexpected problem %+v", body)
	}
}

func TestRateLimiterIgnoresForwardedForByDefault(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &stubBlinkService{}, nil)
	path := "/v1/owners/5ufHigmjsV3ucetqXxZgZuYkmHyRiyYPYm5RSM8y2WFQ/address"

	var last int
	for i := 0; i < 4; i++ {
		req := httptest.NewRequest(stdhttp.MethodGet, path, nil)
		req.Header.Set("X-Forwarded-For", "203.0.113."+string(rune('1'+i)))
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		last = rec.Code
	}

	if last != stdhttp.StatusTooManyRequests {
		t.Fatalf("expected rotating X-Forwarded-For to be throttled, got %d", last)
	}
}

func TestClientIPFromRequest(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(stdhttp.MethodGet, "/healthz", nil)
	req.RemoteAddr = "198.51.100.7:5123"
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")

	if got := clientIPFromRequest(req, false); got != "198.51.100.7" {
		t.Fatalf("expected remote address without a trusted proxy, got %q", got)
	}
	if got := clientIPFromRequest(req, true); got != "203.0.113.9" {
		t.Fatalf("expected first forwarded address behind a trusted proxy, got %q", got)
	}

	req.Header.Del("X-Forwarded-For")
	req.Header.Set("X-Real-IP", "203.0.113.10")
	if got := clientIPFromRequest(req, true); got != "203.0.113.10" {
		t.Fatalf("expected X-Real-IP behind a trusted proxy, got %q", got)
	}

	req.Header.Set("X-Forwarded-Proto", "https")
	if got := requestOrigin(req, false); got != "http://example.com" {
		t.Fatalf("expected forwarded proto to be ignored, got %q", got)
	}
	if got := requestOrigin(req, true); got != "https://example.com" {
		t.Fatalf("expected forwarded proto behind a trusted proxy, got %q", got)
	}
}

func TestHealthRoute(t *testing.T) {
	t.Parallel()

	db, err := database.Open(database.Options{Path: filepath.Join(t.TempDir(), "health.db")})
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	t.Cleanup(func() {
		if closeErr := database.Close(db); closeErr != nil {
			t.Errorf("closing database failed: %v", closeErr)
		}
	})

	if rec := serve(newTestServer(t, &stubBlinkService{}, db), stdhttp.MethodGet, "/healthz", nil); rec.Code != stdhttp.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	rec := serve(newTestServer(t, &stubBlinkService{}, nil), stdhttp.MethodGet, "/healthz", nil)
	if rec.Code != stdhttp.StatusServiceUnavailable {
		t.Fatalf("expected status 503 without database, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "degraded") {
		t.Fatalf("expected degraded status, got %s", rec.Body.String())
	}
}

func TestNewServerValidatesOptions(t *testing.T) {
	t.Parallel()

	if _, err := NewServer(Options{}); err == nil {
		t.Fatalf("expected error without blink service")
	}

	_, err := NewServer(Options{
		BlinkService: &stubBlinkService{},
		Verifier:     auth.NewVerifier(auth.VerifierOptions{}),
	})
	if err == nil {
		t.Fatalf("expected error without rate limiter settings")
	}
}

// helpers

func newTestServer(t *testing.T, svc blink.Service, db *gorm.DB) *Server {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	if stub, ok := svc.(*stubBlinkService); ok && stub.deriver == nil {
		stub.deriver = testDeriver(t).Deriver
	}

	srv, err := NewServer(Options{
		BlinkService: svc,
		Verifier:     auth.NewVerifier(auth.VerifierOptions{}),
		Database:     db,
		Logger:       logger,
		RateLimiter: RateLimiterSettings{
			Burst:             3,
			RequestsPerSecond: 3,
			ClientTTL:         time.Minute,
		},
	})
	if err != nil {
		t.Fatalf("NewServer returned error: %v", err)
	}
	t.Cleanup(srv.Close)

	return srv
}

func serve(srv *Server, method, target string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func serveSigned(t *testing.T, srv *Server, key ed25519.PrivateKey, method, target, body string, extra map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	headers, err := auth.Sign(key, method, target, time.Now(), []byte(body))
	if err != nil {
		t.Fatalf("signing request failed: %v", err)
	}

	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	headers.Apply(req.Header)
	for k, v := range extra {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) problem {
	t.Helper()

	var body problem
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding problem body %q failed: %v", rec.Body.String(), err)
	}
	return body
}

func testKey(seed byte) ed25519.PrivateKey {
	return ed25519.NewKeyFromSeed(bytes.Repeat([]byte{seed}, ed25519.SeedSize))
}

func ownerOf(t *testing.T, key ed25519.PrivateKey) account.Pubkey {
	t.Helper()

	owner, err := account.PubkeyFromPrivateKey(key)
	if err != nil {
		t.Fatalf("deriving owner failed: %v", err)
	}
	return owner
}

type testListDeriver struct {
	*address.Deriver
}

func (d testListDeriver) MustDerive(owner account.Pubkey) account.Pubkey {
	derived, err := d.Derive(owner)
	if err != nil {
		panic(err)
	}
	return derived.Address
}

func testDeriver(t *testing.T) testListDeriver {
	t.Helper()

	deriver, err := address.NewDeriver(account.MustParsePubkey("5Z4UkWTCAQu2sNRKkq4GcredbKuF9jGdSxG5mH7ypY6B"), "blink_list")
	if err != nil {
		t.Fatalf("NewDeriver returned error: %v", err)
	}
	return testListDeriver{deriver}
}

// stubs

type stubCall struct {
	op    string
	call  blink.Call
	id    string
	blink blink.Blink
}

type stubBlinkService struct {
	mu      sync.Mutex
	calls   []stubCall
	err     error
	found   *blink.Blink
	deriver *address.Deriver
}

var _ blink.Service = (*stubBlinkService)(nil)

func (s *stubBlinkService) record(c stubCall) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, c)
}

func (s *stubBlinkService) recorded() []stubCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]stubCall(nil), s.calls...)
}

func (s *stubBlinkService) snapshot(owner account.Pubkey, blinks ...blink.Blink) *blink.Snapshot {
	derived, _ := s.deriver.Derive(owner)
	return &blink.Snapshot{
		Address:  derived.Address,
		Owner:    owner,
		Bump:     derived.Bump,
		Capacity: blink.DefaultCapacity,
		Deposit:  blink.DefaultRent.MinimumBalance(blink.DefaultCapacity),
		Blinks:   blinks,
	}
}

func (s *stubBlinkService) CreateBlink(_ context.Context, call blink.Call, b blink.Blink) (*blink.Snapshot, error) {
	s.record(stubCall{op: "create", call: call, blink: b})
	if s.err != nil {
		return nil, s.err
	}
	return s.snapshot(call.Owner, b), nil
}

func (s *stubBlinkService) DeleteBlink(_ context.Context, call blink.Call, id string) (*blink.Snapshot, error) {
	s.record(stubCall{op: "delete", call: call, id: id})
	if s.err != nil {
		return nil, s.err
	}
	return s.snapshot(call.Owner), nil
}

func (s *stubBlinkService) CloseBlink(_ context.Context, call blink.Call) (*blink.Closed, error) {
	s.record(stubCall{op: "close", call: call})
	if s.err != nil {
		return nil, s.err
	}
	derived, _ := s.deriver.Derive(call.Owner)
	return &blink.Closed{Address: derived.Address, Refunded: blink.DefaultRent.MinimumBalance(blink.DefaultCapacity)}, nil
}

func (s *stubBlinkService) GetList(_ context.Context, owner account.Pubkey) (*blink.Snapshot, error) {
	s.record(stubCall{op: "list", call: blink.Call{Owner: owner}})
	if s.err != nil {
		return nil, s.err
	}
	return s.snapshot(owner), nil
}

func (s *stubBlinkService) FindBlink(_ context.Context, listAddress account.Pubkey, id string) (*blink.Blink, error) {
	s.record(stubCall{op: "find", id: id})
	if s.err != nil {
		return nil, s.err
	}
	if s.found == nil {
		return nil, eris.Wrap(blink.ErrBlinkNotFound, "stub")
	}
	found := *s.found
	return &found, nil
}

func (s *stubBlinkService) Derive(owner account.Pubkey) (address.Derived, error) {
	return s.deriver.Derive(owner)
}
