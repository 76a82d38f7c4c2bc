package domain

import "errors"

// Kind — классификация отказов шлюза. Хендлеры и внешние вызыватели
// ветвятся по Kind, а не по тексту сообщения.
type Kind string

const (
	KindValidationRejected   Kind = "validation_rejected"   // Небезопасный/битый идентификатор
	KindAuthenticationFailed Kind = "authentication_failed" // Подпись не сошлась
	KindAuthorizationDenied  Kind = "authorization_denied"  // Действие вне allow-list или источник заблокирован
	KindRateLimited          Kind = "rate_limited"          // Окно исчерпано, вызыватель должен сделать backoff
	KindNotFound             Kind = "not_found"
	KindTransportFailure     Kind = "transport_failure" // Таймаут/сеть, можно повторить
	KindStorageFailure       Kind = "storage_failure"
	KindInternalError        Kind = "internal_error"
)

// Сентинелы для errors.Is. Текст намеренно общий:
// детали уходят в zap, наружу — только категория.
var (
	ErrRejected    = errors.New("request rejected")
	ErrNotFound    = errors.New("record not found")
	ErrRateLimited = errors.New("rate limit exceeded")
	ErrTransport   = errors.New("transport failure")
	ErrStorage     = errors.New("storage failure")
)

// Result — структурированный ответ диспетчера вебхуков.
// Status всегда "success" или "error"; при ошибке Code несет Kind.
type Result struct {
	Status  string `json:"status"`
	Code    Kind   `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func Success(data any) Result {
	return Result{Status: "success", Data: data}
}

func Failure(code Kind, message string) Result {
	return Result{Status: "error", Code: code, Message: message}
}
