package gateway

import (
	"context"
	"errors"

	"github.com/xela07ax/trustgate/internal/audit"
	"github.com/xela07ax/trustgate/internal/domain"
)

// GetUserHandler привязывает действие get_user к DataGateway.
// Ошибки хранилища и валидации переводятся в безопасные Result-коды,
// текст ошибок бэкенда наружу не уходит.
func GetUserHandler(dg *DataGateway) ActionHandler {
	return func(ctx context.Context, payload map[string]any, origin audit.Origin) domain.Result {
		record, err := dg.Fetch(ctx, payload["user_id"], origin)
		switch {
		case errors.Is(err, domain.ErrRejected):
			return domain.Failure(domain.KindValidationRejected, "identifier rejected")
		case errors.Is(err, domain.ErrNotFound):
			return domain.Failure(domain.KindNotFound, "record not found")
		case err != nil:
			return domain.Failure(domain.KindStorageFailure, "internal storage error")
		}
		return domain.Success(record)
	}
}
