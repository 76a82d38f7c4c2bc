package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/trustgate/internal/audit"
	"github.com/xela07ax/trustgate/internal/domain"
	"github.com/xela07ax/trustgate/internal/gateway"
	"github.com/xela07ax/trustgate/internal/upload"
)

const testSecret = "ingress-test-secret"

type fakeTrail struct {
	mu   sync.Mutex
	recs []audit.Record
}

func (f *fakeTrail) Append(rec audit.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs = append(f.recs, rec)
}

func (f *fakeTrail) last(t *testing.T) audit.Record {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.recs)
	return f.recs[len(f.recs)-1]
}

// fakeOpsValidator пропускает любой токен как оператора ops-7.
type fakeOpsValidator struct{}

func (fakeOpsValidator) VerifyToken(tokenStr string) (*domain.OpsClaims, error) {
	return &domain.OpsClaims{UserID: "ops-7"}, nil
}

type fakeObjectStore struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeObjectStore) Put(ctx context.Context, bucket, key string, body io.Reader, opts upload.PutOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return nil
}

type fakeForwarder struct {
	err error
	out map[string]any
}

func (f *fakeForwarder) Call(ctx context.Context, payload map[string]any) (map[string]any, error) {
	return f.out, f.err
}

func newTestServer(t *testing.T) (*Server, *gateway.SignatureVerifier) {
	t.Helper()
	logger := zap.NewNop()
	verifier := gateway.NewSignatureVerifier(testSecret)
	dispatcher := gateway.NewDispatcher(verifier, nil, gateway.NewMetrics(nil), logger)

	require.NoError(t, dispatcher.Bind("get_user", func(ctx context.Context, payload map[string]any, origin audit.Origin) domain.Result {
		return domain.Success(map[string]any{"id": payload["user_id"], "username": "alice"})
	}))

	srv := New(logger, dispatcher, nil, nil, nil, nil, &fakeTrail{}, "bucket", nil, nil)
	return srv, verifier
}

// newOpsServer поднимает сервер с проходным оператором для защищенных маршрутов.
func newOpsServer(t *testing.T, store *fakeObjectStore, fwd Forwarder) (*Server, *fakeTrail) {
	t.Helper()
	logger := zap.NewNop()
	verifier := gateway.NewSignatureVerifier(testSecret)
	dispatcher := gateway.NewDispatcher(verifier, nil, gateway.NewMetrics(nil), logger)
	trail := &fakeTrail{}
	gate := upload.NewGate(store, time.Second, logger)

	srv := New(logger, dispatcher, gate, fwd, nil, fakeOpsValidator{}, trail, "bucket", nil, nil)
	return srv, trail
}

func postMultipart(t *testing.T, srv *Server, filename string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte("payload"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/uploads", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer ops-token")

	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	return rr
}

func postWebhook(t *testing.T, srv *Server, payload map[string]any, signature string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/webhook", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", signature)

	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	return rr
}

func decodeResult(t *testing.T, rr *httptest.ResponseRecorder) domain.Result {
	t.Helper()
	var res domain.Result
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	return res
}

func TestWebhookInvalidSignature(t *testing.T) {
	srv, _ := newTestServer(t)

	payload := map[string]any{"user_id": float64(1), "action": "get_user"}
	rr := postWebhook(t, srv, payload, "sha256=0000")

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, domain.KindAuthenticationFailed, decodeResult(t, rr).Code)
}

func TestWebhookMissingActionField(t *testing.T) {
	srv, verifier := newTestServer(t)

	payload := map[string]any{"user_id": float64(1)}
	sig, err := verifier.Sign(payload)
	require.NoError(t, err)

	rr := postWebhook(t, srv, payload, sig)

	// Подпись валидна: отказ именно про поле, со статусом 400, не 401
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	res := decodeResult(t, rr)
	assert.Equal(t, domain.KindValidationRejected, res.Code)
	assert.Equal(t, "missing required field: action", res.Message)
}

func TestWebhookDisallowedAction(t *testing.T) {
	srv, verifier := newTestServer(t)

	payload := map[string]any{"user_id": float64(1), "action": "drop_all"}
	sig, err := verifier.Sign(payload)
	require.NoError(t, err)

	rr := postWebhook(t, srv, payload, sig)

	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, domain.KindAuthorizationDenied, decodeResult(t, rr).Code)
}

func TestWebhookNotImplementedAction(t *testing.T) {
	srv, verifier := newTestServer(t)

	payload := map[string]any{"user_id": float64(1), "action": "update_preferences"}
	sig, err := verifier.Sign(payload)
	require.NoError(t, err)

	rr := postWebhook(t, srv, payload, sig)

	assert.Equal(t, http.StatusNotImplemented, rr.Code)
	assert.Equal(t, "action not implemented: update_preferences", decodeResult(t, rr).Message)
}

func TestWebhookSuccess(t *testing.T) {
	srv, verifier := newTestServer(t)

	payload := map[string]any{"user_id": float64(7), "action": "get_user"}
	sig, err := verifier.Sign(payload)
	require.NoError(t, err)

	rr := postWebhook(t, srv, payload, sig)

	assert.Equal(t, http.StatusOK, rr.Code)
	res := decodeResult(t, rr)
	assert.Equal(t, "success", res.Status)
	assert.NotEmpty(t, rr.Header().Get("X-Trace-ID"))
}

func TestWebhookMalformedJSON(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/webhook", bytes.NewReader([]byte("{not json")))
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestUploadAcceptedAppendsAudit(t *testing.T) {
	store := &fakeObjectStore{}
	srv, trail := newOpsServer(t, store, nil)

	rr := postMultipart(t, srv, "report.txt")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, store.calls)

	rec := trail.last(t)
	assert.Equal(t, "upload_artifact", rec.Action)
	assert.Equal(t, audit.StatusExecuted, rec.Status)
	assert.Equal(t, "ops-7", rec.Subject)
}

func TestUploadRejectedAppendsAudit(t *testing.T) {
	store := &fakeObjectStore{}
	srv, trail := newOpsServer(t, store, nil)

	rr := postMultipart(t, srv, "malware.exe")

	// Отказ — до какого-либо касания хранилища, но след в аудите остается
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, 0, store.calls)

	rec := trail.last(t)
	assert.Equal(t, "upload_artifact", rec.Action)
	assert.Equal(t, audit.StatusRejected, rec.Status)
	assert.Equal(t, "ops-7", rec.Subject)
}

func TestForwardRateLimitedAppendsAudit(t *testing.T) {
	srv, trail := newOpsServer(t, &fakeObjectStore{}, &fakeForwarder{err: domain.ErrRateLimited})

	body := bytes.NewReader([]byte(`{"test":"data"}`))
	req := httptest.NewRequest(http.MethodPost, "/v1/process", body)
	req.Header.Set("Authorization", "Bearer ops-token")
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusTooManyRequests, rr.Code)

	rec := trail.last(t)
	assert.Equal(t, "forward_payload", rec.Action)
	assert.Equal(t, audit.StatusRateLimited, rec.Status)
	assert.Equal(t, "ops-7", rec.Subject)
}

func TestForwardSuccessAppendsAudit(t *testing.T) {
	srv, trail := newOpsServer(t, &fakeObjectStore{}, &fakeForwarder{out: map[string]any{"ok": true}})

	body := bytes.NewReader([]byte(`{"test":"data"}`))
	req := httptest.NewRequest(http.MethodPost, "/v1/process", body)
	req.Header.Set("Authorization", "Bearer ops-token")
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, audit.StatusExecuted, trail.last(t).Status)
}

func TestOpsRoutesRequireToken(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/audit", nil)
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}
