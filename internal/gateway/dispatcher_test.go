package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/trustgate/internal/audit"
	"github.com/xela07ax/trustgate/internal/domain"
)

type staticGuard struct {
	blocked map[string]bool
}

func (g *staticGuard) IsBlocked(source string) bool { return g.blocked[source] }

func newTestDispatcher(t *testing.T, secret string) (*Dispatcher, *SignatureVerifier) {
	t.Helper()
	verifier := NewSignatureVerifier(secret)
	d := NewDispatcher(verifier, nil, NewMetrics(nil), zap.NewNop())
	return d, verifier
}

func sign(t *testing.T, v *SignatureVerifier, payload map[string]any) string {
	t.Helper()
	sig, err := v.Sign(payload)
	require.NoError(t, err)
	return sig
}

func TestDispatchRejectsInvalidSignature(t *testing.T) {
	d, _ := newTestDispatcher(t, "secret")

	payload := map[string]any{"user_id": float64(1), "action": "get_user"}
	res := d.Dispatch(context.Background(), payload, "sha256=deadbeef", audit.Origin{})

	assert.Equal(t, "error", res.Status)
	assert.Equal(t, domain.KindAuthenticationFailed, res.Code)
	assert.Equal(t, "invalid signature", res.Message)
}

func TestDispatchMissingFieldNamesTheField(t *testing.T) {
	d, v := newTestDispatcher(t, "secret")

	// Подпись валидна — отказ обязан быть именно про поле, не про подпись
	payload := map[string]any{"user_id": float64(1)}
	res := d.Dispatch(context.Background(), payload, sign(t, v, payload), audit.Origin{})

	assert.Equal(t, domain.KindValidationRejected, res.Code)
	assert.Equal(t, "missing required field: action", res.Message)
}

func TestDispatchMissingUserID(t *testing.T) {
	d, v := newTestDispatcher(t, "secret")

	payload := map[string]any{"action": "get_user"}
	res := d.Dispatch(context.Background(), payload, sign(t, v, payload), audit.Origin{})

	assert.Equal(t, domain.KindValidationRejected, res.Code)
	assert.Equal(t, "missing required field: user_id", res.Message)
}

func TestDispatchDisallowedActionNamesTheAction(t *testing.T) {
	d, v := newTestDispatcher(t, "secret")

	payload := map[string]any{"user_id": float64(1), "action": "delete_everything"}
	res := d.Dispatch(context.Background(), payload, sign(t, v, payload), audit.Origin{})

	assert.Equal(t, domain.KindAuthorizationDenied, res.Code)
	assert.Equal(t, "action not allowed: delete_everything", res.Message)
}

func TestDispatchUnboundActionReturnsNotImplemented(t *testing.T) {
	d, v := newTestDispatcher(t, "secret")

	// update_preferences в allow-list, но обработчик не привязан
	payload := map[string]any{"user_id": float64(1), "action": "update_preferences"}
	res := d.Dispatch(context.Background(), payload, sign(t, v, payload), audit.Origin{})

	assert.Equal(t, "error", res.Status)
	assert.Empty(t, res.Code)
	assert.Equal(t, "action not implemented: update_preferences", res.Message)
}

func TestDispatchExecutesBoundHandler(t *testing.T) {
	d, v := newTestDispatcher(t, "secret")

	var gotPayload map[string]any
	require.NoError(t, d.Bind("get_user", func(ctx context.Context, payload map[string]any, origin audit.Origin) domain.Result {
		gotPayload = payload
		return domain.Success(map[string]any{"id": payload["user_id"]})
	}))

	payload := map[string]any{"user_id": float64(7), "action": "get_user"}
	res := d.Dispatch(context.Background(), payload, sign(t, v, payload), audit.Origin{})

	assert.Equal(t, "success", res.Status)
	assert.Equal(t, payload, gotPayload)
}

func TestDispatchBindRejectsUnknownAction(t *testing.T) {
	d, _ := newTestDispatcher(t, "secret")

	err := d.Bind("rm_rf", func(ctx context.Context, payload map[string]any, origin audit.Origin) domain.Result {
		return domain.Success(nil)
	})
	assert.Error(t, err)
}

func TestDispatchRecoversFromHandlerPanic(t *testing.T) {
	d, v := newTestDispatcher(t, "secret")

	require.NoError(t, d.Bind("get_user", func(ctx context.Context, payload map[string]any, origin audit.Origin) domain.Result {
		panic("handler exploded")
	}))

	payload := map[string]any{"user_id": float64(1), "action": "get_user"}
	res := d.Dispatch(context.Background(), payload, sign(t, v, payload), audit.Origin{})

	// Граница диспетчера: наружу только generic internal_error
	assert.Equal(t, domain.KindInternalError, res.Code)
	assert.Equal(t, "internal server error", res.Message)
	assert.NotContains(t, res.Message, "exploded")
}

func TestDispatchBlockedSource(t *testing.T) {
	verifier := NewSignatureVerifier("secret")
	guard := &staticGuard{blocked: map[string]bool{"billing-svc": true}}
	d := NewDispatcher(verifier, guard, NewMetrics(nil), zap.NewNop())

	payload := map[string]any{"user_id": float64(1), "action": "get_user", "source": "billing-svc"}
	res := d.Dispatch(context.Background(), payload, sign(t, verifier, payload), audit.Origin{})

	assert.Equal(t, domain.KindAuthorizationDenied, res.Code)
	assert.Equal(t, "source is blocked", res.Message)
}
