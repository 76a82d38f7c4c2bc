package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xela07ax/trustgate/internal/domain"
)

// ThrottleError сигнализирует, что внешний API попросил подождать
// (429 + Retry-After). Ретраер учитывает эту задержку вместо бэкоффа.
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

// OutboundClient — исходящий HTTPS-вызов внешнего API со всей обвязкой
// надежности: фиксированное окно (capacity за window), сглаживающий
// лимитер, Circuit Breaker, ретраи с умной задержкой и жесткий таймаут.
// TLS-верификация всегда включена: транспорт стандартный, InsecureSkipVerify
// в кодовой базе не существует.
type OutboundClient struct {
	url     string
	apiKey  string // Bearer-токен из ENV; в логи не попадает никогда
	timeout time.Duration

	client   *http.Client
	window   *FixedWindowLimiter
	smoother *rate.Limiter
	cb       *gobreaker.CircuitBreaker
	logger   *zap.Logger
}

func NewOutboundClient(url, apiKey string, timeout time.Duration, window *FixedWindowLimiter, metrics *Metrics, logger *zap.Logger) *OutboundClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	// Настройка предохранителя: более 5 ошибок подряд — открываемся
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "outbound-api",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if metrics != nil {
				if to == gobreaker.StateOpen {
					metrics.CircuitBreakerState.Set(1)
				} else {
					metrics.CircuitBreakerState.Set(0)
				}
			}
		},
	})

	return &OutboundClient{
		url:      url,
		apiKey:   apiKey,
		timeout:  timeout,
		client:   &http.Client{Timeout: timeout},
		window:   window,
		smoother: rate.NewLimiter(rate.Limit(100), 20),
		cb:       cb,
		logger:   logger.Named("outbound"),
	}
}

// Call отправляет JSON на внешний API.
// Отказ окна — немедленный domain.ErrRateLimited без побочных эффектов:
// синхронных ретраев нет, вызыватель репортит отказ наверх для backoff.
// Таймаут и сетевые сбои приходят как domain.ErrTransport — ретраябельно
// для вызывателя, но не фатально для процесса.
func (c *OutboundClient) Call(ctx context.Context, payload map[string]any) (map[string]any, error) {
	// 1. Фиксированное окно — авторитет по capacity
	if !c.window.Admit() {
		c.logger.Warn("outbound call rejected: window capacity reached")
		return nil, domain.ErrRateLimited
	}

	// 2. Сглаживание всплесков внутри окна
	if err := c.smoother.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}

	var finalData map[string]any

	// 3. Circuit Breaker + ретраи
	_, err := c.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(3),
			// Умный расчет задержки
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				// Если API вернул 429 с Retry-After — ждем ровно столько
				var tErr *ThrottleError
				if errors.As(err, &tErr) {
					return tErr.RetryAfter
				}
				// Иначе (сетевой лаг, 500-ка) — стандартный экспоненциальный бэкофф
				return retry.BackOffDelay(n, err, config)
			}),
		)

		retryErr := r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			var callErr error
			finalData, callErr = c.post(tCtx, payload)
			return callErr
		})

		return finalData, retryErr
	})

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", domain.ErrTransport, err)
		}
		// Upstream так и не перестал троттлить за все попытки:
		// для вызывателя это временный сбой транспорта, не наша 500-ка
		var tErr *ThrottleError
		if errors.As(err, &tErr) {
			return nil, fmt.Errorf("%w: %v", domain.ErrTransport, err)
		}
		return nil, err
	}

	return finalData, nil
}

func (c *OutboundClient) post(ctx context.Context, payload map[string]any) (map[string]any, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "trustgate/1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var out map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		return out, nil

	case resp.StatusCode == http.StatusTooManyRequests:
		// Считываем Retry-After (секунды), дефолт 1s
		delay := time.Second
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, perr := strconv.Atoi(ra); perr == nil {
				delay = time.Duration(secs) * time.Second
			}
		}
		return nil, &ThrottleError{RetryAfter: delay, Cause: fmt.Errorf("api rate limited")}

	default:
		// Тело ошибки не читаем в ответ вызывателю — только статус в лог
		io.Copy(io.Discard, resp.Body)
		c.logger.Error("outbound api call failed", zap.Int("status", resp.StatusCode))
		return nil, fmt.Errorf("api call failed with status %d", resp.StatusCode)
	}
}
