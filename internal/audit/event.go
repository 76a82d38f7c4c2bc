package audit

import "time"

// Статусы записи аудита. Пишутся как есть в колонку status.
const (
	StatusExecuted    = "EXECUTED"
	StatusNotFound    = "NOT_FOUND"
	StatusRejected    = "REJECTED"    // Валидация/подпись/allow-list
	StatusRateLimited = "RATE_LIMITED"
	StatusFailed      = "FAILED" // Сбой хранилища или транспорта
)

// Record — одна строка append-only журнала audit_log.
// Создается на каждую попытку привилегированного доступа,
// независимо от исхода. После записи не изменяется и не удаляется.
type Record struct {
	ID         string    `json:"id"`       // UUID события
	TraceID    string    `json:"trace_id"` // Сквозной ID запроса
	Subject    string    `json:"subject"`  // Чей идентификатор запрашивали (redacted при отказе валидации)
	Action     string    `json:"action"`   // Что хотели сделать
	Status     string    `json:"status"`
	OriginIP   string    `json:"origin_ip"`
	OriginUA   string    `json:"origin_agent"`
	DurationMs int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"` // Только для внутреннего журнала, наружу не отдается
	Timestamp  time.Time `json:"timestamp"`
}

// Origin — метаданные источника запроса, прокидываются от HTTP-слоя.
type Origin struct {
	IP        string
	UserAgent string
	TraceID   string
}
