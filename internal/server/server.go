package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xela07ax/trustgate/internal/audit"
	"github.com/xela07ax/trustgate/internal/domain"
	"github.com/xela07ax/trustgate/internal/gateway"
	"github.com/xela07ax/trustgate/internal/infra/auth"
	"github.com/xela07ax/trustgate/internal/upload"
)

const maxWebhookBody = 1 << 20 // 1 MiB: вебхук больше — это не вебхук

// AuditReader — чтение журнала для операторского API.
type AuditReader interface {
	FetchRecords(ctx context.Context, subject, action string, limit int) ([]audit.Record, error)
}

// Forwarder — передача валидированных данных на внешний API.
type Forwarder interface {
	Call(ctx context.Context, payload map[string]any) (map[string]any, error)
}

// Server — HTTP-периметр шлюза: публичный ингресс вебхуков
// и операторские маршруты под RS256.
type Server struct {
	router *chi.Mux
	logger *zap.Logger

	dispatcher *gateway.Dispatcher
	uploads    *upload.Gate
	outbound   Forwarder
	auditRepo  AuditReader
	validator  auth.TokenValidator
	trail      audit.Appender

	bucket     string
	retryAfter func() time.Duration // для заголовка Retry-After при 429
}

func New(
	logger *zap.Logger,
	dispatcher *gateway.Dispatcher,
	uploads *upload.Gate,
	outbound Forwarder,
	auditRepo AuditReader,
	validator auth.TokenValidator,
	trail audit.Appender,
	bucket string,
	retryAfter func() time.Duration,
	reg *prometheus.Registry,
) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		logger:     logger.Named("http"),
		dispatcher: dispatcher,
		uploads:    uploads,
		outbound:   outbound,
		auditRepo:  auditRepo,
		validator:  validator,
		trail:      trail,
		bucket:     bucket,
		retryAfter: retryAfter,
	}
	s.routes(reg)
	return s
}

func (s *Server) routes(reg *prometheus.Registry) {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(TraceMiddleware)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ ---
	r.Group(func(r chi.Router) {
		// Ингресс вебхуков: аутентификация — HMAC-подпись, не токен
		r.Post("/v1/webhook", s.handleWebhook)

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})

		if reg != nil {
			r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		}
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (Требуют RS256 токен) ---
	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(s.validator, s.logger))

		r.Get("/v1/audit", s.handleAudit)      // Журнал привилегированных доступов
		r.Post("/v1/uploads", s.handleUpload)  // Артефакты в объектное хранилище
		r.Post("/v1/process", s.handleForward) // Передача данных на внешний API
	})
}

// ServeHTTP позволяет использовать Server как стандартный http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var payload map[string]any
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err := dec.Decode(&payload); err != nil {
		s.writeResult(w, domain.Failure(domain.KindValidationRejected, "malformed json payload"))
		return
	}

	origin := audit.Origin{
		IP:        r.RemoteAddr,
		UserAgent: r.UserAgent(),
		TraceID:   extractTraceID(r.Context()),
	}

	signature := r.Header.Get("X-Webhook-Signature")
	result := s.dispatcher.Dispatch(r.Context(), payload, signature, origin)
	s.writeResult(w, result)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	subject := r.URL.Query().Get("subject")
	action := r.URL.Query().Get("action")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	records, err := s.auditRepo.FetchRecords(r.Context(), subject, action, limit)
	if err != nil {
		s.logger.Error("audit fetch failed", zap.Error(err))
		http.Error(w, "Failed to fetch audit records", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(records)
}

// newOpsRecord — заготовка записи аудита для защищенного маршрута:
// subject — оператор из проверенного токена.
func newOpsRecord(r *http.Request, action string, start time.Time) audit.Record {
	return audit.Record{
		ID:        uuid.New().String(),
		TraceID:   extractTraceID(r.Context()),
		Subject:   auth.UserIDFromContext(r.Context()),
		Action:    action,
		OriginIP:  r.RemoteAddr,
		OriginUA:  r.UserAgent(),
		Timestamp: start,
	}
}

// handleUpload принимает multipart-файл и прогоняет его через UploadGate.
// Артефакт живет во временной директории только на время запроса.
// Каждая попытка — принятая или нет — оставляет след в аудите.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := newOpsRecord(r, "upload_artifact", start)
	defer func() {
		rec.DurationMs = time.Since(start).Milliseconds()
		s.trail.Append(rec)
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		rec.Status = audit.StatusRejected
		http.Error(w, "file field is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	dir, err := os.MkdirTemp("", "trustgate-upload-")
	if err != nil {
		s.logger.Error("failed to create temp dir", zap.Error(err))
		rec.Status = audit.StatusFailed
		rec.Error = err.Error()
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	defer os.RemoveAll(dir)

	// filepath.Base отсекает попытки traversal в имени файла
	path := filepath.Join(dir, filepath.Base(header.Filename))
	dst, err := os.Create(path)
	if err != nil {
		s.logger.Error("failed to stage artifact", zap.Error(err))
		rec.Status = audit.StatusFailed
		rec.Error = err.Error()
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if _, err := dst.ReadFrom(file); err != nil {
		dst.Close()
		s.logger.Error("failed to stage artifact", zap.Error(err))
		rec.Status = audit.StatusFailed
		rec.Error = err.Error()
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	dst.Close()

	if !s.uploads.Upload(r.Context(), path, s.bucket) {
		rec.Status = audit.StatusRejected
		s.writeResult(w, domain.Failure(domain.KindValidationRejected, "artifact rejected"))
		return
	}
	rec.Status = audit.StatusExecuted
	s.writeResult(w, domain.Success(map[string]string{"key": filepath.Base(header.Filename)}))
}

// handleForward передает JSON-тело на внешний API через весь стек
// надежности (окно, сглаживание, CB, ретраи). Каждая попытка,
// включая отказы лимитера, оставляет след в аудите.
func (s *Server) handleForward(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	start := time.Now()
	rec := newOpsRecord(r, "forward_payload", start)
	defer func() {
		rec.DurationMs = time.Since(start).Milliseconds()
		s.trail.Append(rec)
	}()

	var payload map[string]any
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err := dec.Decode(&payload); err != nil {
		rec.Status = audit.StatusRejected
		s.writeResult(w, domain.Failure(domain.KindValidationRejected, "malformed json payload"))
		return
	}

	out, err := s.outbound.Call(r.Context(), payload)
	switch {
	case err == nil:
		rec.Status = audit.StatusExecuted
		s.writeResult(w, domain.Success(out))
	case errors.Is(err, domain.ErrRateLimited):
		rec.Status = audit.StatusRateLimited
		s.writeResult(w, domain.Failure(domain.KindRateLimited, "rate limit exceeded"))
	case errors.Is(err, domain.ErrTransport):
		rec.Status = audit.StatusFailed
		rec.Error = err.Error()
		s.writeResult(w, domain.Failure(domain.KindTransportFailure, "upstream unavailable"))
	default:
		s.logger.Error("forward failed", zap.Error(err))
		rec.Status = audit.StatusFailed
		rec.Error = err.Error()
		s.writeResult(w, domain.Failure(domain.KindInternalError, "internal server error"))
	}
}

// writeResult мапит Kind на HTTP-статус и сериализует Result.
func (s *Server) writeResult(w http.ResponseWriter, res domain.Result) {
	code := http.StatusOK
	switch res.Code {
	case domain.KindValidationRejected:
		code = http.StatusBadRequest
	case domain.KindAuthenticationFailed:
		code = http.StatusUnauthorized
	case domain.KindAuthorizationDenied:
		code = http.StatusForbidden
	case domain.KindRateLimited:
		code = http.StatusTooManyRequests
		if s.retryAfter != nil {
			secs := int(s.retryAfter().Seconds()) + 1
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
	case domain.KindNotFound:
		code = http.StatusNotFound
	case domain.KindTransportFailure:
		code = http.StatusBadGateway
	case domain.KindStorageFailure, domain.KindInternalError:
		code = http.StatusInternalServerError
	default:
		if res.Status == "error" {
			// Действие из allow-list без обработчика
			code = http.StatusNotImplemented
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(res)
}
