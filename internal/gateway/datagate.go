package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/trustgate/internal/audit"
	"github.com/xela07ax/trustgate/internal/domain"
)

// RecordStore — узкий порт к персистентному хранилищу.
// Реализация обязана биндить идентификатор типизированным параметром;
// текст запроса — константа, конкатенации не существует.
type RecordStore interface {
	FetchByID(ctx context.Context, identifier any) (*domain.UserRecord, error)
}

// DataGateway выполняет параметризованные чтения записей и оставляет
// след в аудите на каждую попытку — успешную или нет.
type DataGateway struct {
	validator *InputValidator
	store     RecordStore
	trail     audit.Appender
	logger    *zap.Logger
}

func NewDataGateway(validator *InputValidator, store RecordStore, trail audit.Appender, logger *zap.Logger) *DataGateway {
	return &DataGateway{
		validator: validator,
		store:     store,
		trail:     trail,
		logger:    logger.Named("datagate"),
	}
}

// Fetch возвращает запись, domain.ErrNotFound, domain.ErrRejected
// (валидация) или domain.ErrStorage (сбой хранилища).
// Порядок жесткий: сначала валидатор (отказ — до какого-либо касания
// хранилища), затем параметризованный запрос со scoped-соединением.
// Сбой хранилища наружу выглядит как generic-ошибка: сырой текст
// бэкенда не достигает недоверенного вызывателя.
func (g *DataGateway) Fetch(ctx context.Context, identifier any, origin audit.Origin) (*domain.UserRecord, error) {
	start := time.Now()

	rec := audit.Record{
		ID:        uuid.New().String(),
		TraceID:   origin.TraceID,
		Subject:   "[redacted]",
		Action:    "get_user",
		OriginIP:  origin.IP,
		OriginUA:  origin.UserAgent,
		Timestamp: start,
	}
	defer func() {
		rec.DurationMs = time.Since(start).Milliseconds()
		g.trail.Append(rec)
	}()

	if !g.validator.Validate(identifier) {
		rec.Status = audit.StatusRejected
		return nil, domain.ErrRejected
	}
	rec.Subject = fmt.Sprintf("%v", identifier)

	record, err := g.store.FetchByID(ctx, identifier)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		rec.Status = audit.StatusNotFound
		return nil, domain.ErrNotFound
	case err != nil:
		// Полная ошибка — во внутренний лог, наружу — generic отказ
		g.logger.Error("storage fetch failed", zap.String("trace_id", origin.TraceID), zap.Error(err))
		rec.Status = audit.StatusFailed
		rec.Error = err.Error()
		return nil, domain.ErrStorage
	}

	rec.Status = audit.StatusExecuted
	return record, nil
}
