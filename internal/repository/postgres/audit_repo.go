package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Драйвер Postgres

	"github.com/xela07ax/trustgate/internal/audit"
)

// AuditRepo пишет append-only журнал audit_log.
// Путей изменения и удаления записей у репозитория нет намеренно.
type AuditRepo struct {
	db *sql.DB
}

func NewAuditRepo(connString string) (*AuditRepo, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to open audit db: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)
	return &AuditRepo{db: db}, nil
}

func (r *AuditRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// WriteBatch выполняет пакетную вставку (Bulk Insert) пачки записей.
func (r *AuditRepo) WriteBatch(ctx context.Context, records []audit.Record) error {
	if len(records) == 0 {
		return nil
	}

	// Количество колонок в таблице audit_log
	numFields := 10
	placeholderStr := ""
	vals := make([]interface{}, 0, len(records)*numFields)

	// Динамически строим плейсхолдеры для пакетной вставки
	for i, rec := range records {
		p := i * numFields
		placeholderStr += fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d),",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7, p+8, p+9, p+10)

		vals = append(vals,
			rec.ID, rec.TraceID, rec.Subject, rec.Action, rec.Status,
			rec.OriginIP, rec.OriginUA, rec.DurationMs, rec.Error, rec.Timestamp,
		)
	}

	// Убираем лишнюю запятую в конце
	query := fmt.Sprintf(
		"INSERT INTO audit_log (id, trace_id, subject_id, action, status, ip_address, user_agent, duration_ms, error, timestamp) VALUES %s",
		strings.TrimSuffix(placeholderStr, ","),
	)

	_, err := r.db.ExecContext(ctx, query, vals...)
	return err
}

// FetchRecords возвращает свежие записи журнала с фильтрацией
// по субъекту и действию (пустая строка = без фильтра).
func (r *AuditRepo) FetchRecords(ctx context.Context, subject, action string, limit int) ([]audit.Record, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `
		SELECT id, trace_id, subject_id, action, status, ip_address, user_agent, duration_ms, error, timestamp
		FROM audit_log
		WHERE ($1 = '' OR subject_id = $1)
		  AND ($2 = '' OR action = $2)
		ORDER BY timestamp DESC
		LIMIT $3`

	rows, err := r.db.QueryContext(ctx, query, subject, action, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: audit query failed: %w", err)
	}
	defer rows.Close()

	out := make([]audit.Record, 0, limit)
	for rows.Next() {
		var rec audit.Record
		if err := rows.Scan(
			&rec.ID, &rec.TraceID, &rec.Subject, &rec.Action, &rec.Status,
			&rec.OriginIP, &rec.OriginUA, &rec.DurationMs, &rec.Error, &rec.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("postgres: audit scan failed: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
