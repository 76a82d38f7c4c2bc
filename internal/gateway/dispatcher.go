package gateway

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/trustgate/internal/audit"
	"github.com/xela07ax/trustgate/internal/domain"
)

// allowedActions — фиксированный allow-list действий вебхука.
// Всё, чего здесь нет, отклоняется до диспетчеризации.
var allowedActions = map[string]struct{}{
	"get_user":           {},
	"update_preferences": {},
}

// requiredFields — поля, без которых payload не имеет смысла.
// Порядок важен: сообщение об отказе называет первое отсутствующее.
var requiredFields = []string{"user_id", "action"}

// ActionHandler — единственный обработчик, привязанный к действию.
type ActionHandler func(ctx context.Context, payload map[string]any, origin audit.Origin) domain.Result

// SourceGuard — проверка рантайм-блокировки источника (Redis kill-switch).
type SourceGuard interface {
	IsBlocked(source string) bool
}

// Dispatcher — конечный автомат обработки вебхука:
//
//	Received → SignatureChecked → FieldsValidated → ActionAuthorized → Executed | Rejected
//
// Каждый переход либо продвигает запрос, либо терминально отклоняет его
// со структурированным Result. Сырые детали внутренних сбоев наружу
// не выходят — граница диспетчера ловит всё.
type Dispatcher struct {
	verifier *SignatureVerifier
	guard    SourceGuard // может быть nil, тогда блокировок источников нет
	handlers map[string]ActionHandler
	metrics  *Metrics
	logger   *zap.Logger
}

func NewDispatcher(verifier *SignatureVerifier, guard SourceGuard, metrics *Metrics, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		verifier: verifier,
		guard:    guard,
		handlers: make(map[string]ActionHandler),
		metrics:  metrics,
		logger:   logger.Named("dispatcher"),
	}
}

// Bind привязывает обработчик к действию. Действие вне allow-list
// привязать нельзя — это ошибка конфигурации, ловим на старте.
func (d *Dispatcher) Bind(action string, h ActionHandler) error {
	if _, ok := allowedActions[action]; !ok {
		return fmt.Errorf("action %q is not in the allow-list", action)
	}
	d.handlers[action] = h
	return nil
}

// Dispatch прогоняет payload через все ступени защиты.
func (d *Dispatcher) Dispatch(ctx context.Context, payload map[string]any, signature string, origin audit.Origin) (res domain.Result) {
	start := time.Now()
	action := "unknown"

	// Граница диспетчера: паника хендлера не валит процесс и не
	// протекает наружу — только generic internal_error
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panic recovered",
				zap.String("trace_id", origin.TraceID),
				zap.Any("panic", r),
			)
			res = domain.Failure(domain.KindInternalError, "internal server error")
		}

		status := res.Status
		if res.Code != "" {
			status = string(res.Code)
			d.metrics.ErrorTotal.WithLabelValues(string(res.Code)).Inc()
		}
		d.metrics.TotalRequests.WithLabelValues(action).Inc()
		d.metrics.RequestDuration.WithLabelValues(action, status).Observe(time.Since(start).Seconds())
	}()

	// Received → SignatureChecked
	if !d.verifier.Verify(payload, signature) {
		d.logger.Warn("webhook signature rejected", zap.String("trace_id", origin.TraceID))
		return domain.Failure(domain.KindAuthenticationFailed, "invalid signature")
	}

	// Рантайм-блокировка источника (после аутентификации: сигнал
	// от неподписанного мусора нам не интересен)
	source := stringField(payload, "source")
	if source == "" {
		source = origin.IP
	}
	if d.guard != nil && d.guard.IsBlocked(source) {
		d.logger.Warn("blocked source intercepted",
			zap.String("source", source),
			zap.String("trace_id", origin.TraceID),
		)
		return domain.Failure(domain.KindAuthorizationDenied, "source is blocked")
	}

	// SignatureChecked → FieldsValidated
	for _, field := range requiredFields {
		if _, ok := payload[field]; !ok {
			return domain.Failure(domain.KindValidationRejected, "missing required field: "+field)
		}
	}

	// FieldsValidated → ActionAuthorized
	action = stringField(payload, "action")
	if _, ok := allowedActions[action]; !ok {
		return domain.Failure(domain.KindAuthorizationDenied, "action not allowed: "+action)
	}

	// ActionAuthorized → Executed
	handler, ok := d.handlers[action]
	if !ok {
		// Действие в allow-list, но обработчик не привязан
		return domain.Result{Status: "error", Message: "action not implemented: " + action}
	}

	return handler(ctx, payload, origin)
}

func stringField(payload map[string]any, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}
