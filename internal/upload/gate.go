package upload

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/smithy-go"
	"go.uber.org/zap"
)

// allowedExtensions — фиксированный allow-list типов артефактов:
// plain text, CSV, структурированные данные, логи. Всё остальное
// отклоняется до какого-либо обращения к хранилищу.
var allowedExtensions = map[string]struct{}{
	".txt":  {},
	".csv":  {},
	".json": {},
	".log":  {},
}

// PutOptions — обязательные атрибуты записи в объектное хранилище.
type PutOptions struct {
	ServerSideEncryption string
	StorageClass         string
}

// ObjectStore — узкий порт к провайдеру объектного хранилища.
// Учетные данные провайдер берет из ambient-окружения (роль),
// в артефакте и в коде их нет.
type ObjectStore interface {
	Put(ctx context.Context, bucket, key string, body io.Reader, opts PutOptions) error
}

// Gate валидирует и передает артефакты в объектное хранилище
// с принудительным шифрованием at-rest.
type Gate struct {
	store   ObjectStore
	timeout time.Duration
	logger  *zap.Logger
}

func NewGate(store ObjectStore, timeout time.Duration, logger *zap.Logger) *Gate {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Gate{
		store:   store,
		timeout: timeout,
		logger:  logger.Named("uploadgate"),
	}
}

// Upload проверяет расширение и отправляет файл в bucket.
// Server-side шифрование (AES256) и durable storage class запрашиваются
// явно на каждой записи. Любой сбой транспорта или прав — false после
// логирования кода ошибки провайдера; исключений наружу нет.
func (g *Gate) Upload(ctx context.Context, path, bucket string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if _, ok := allowedExtensions[ext]; !ok {
		g.logger.Error("file type not allowed", zap.String("ext", ext))
		return false
	}

	f, err := os.Open(path)
	if err != nil {
		g.logger.Error("failed to open artifact", zap.Error(err))
		return false
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	key := filepath.Base(path)
	err = g.store.Put(ctx, bucket, key, f, PutOptions{
		ServerSideEncryption: "AES256",
		StorageClass:         "STANDARD",
	})
	if err != nil {
		// Код ошибки провайдера — в лог, вызывателю — только false
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			g.logger.Error("upload failed",
				zap.String("code", apiErr.ErrorCode()),
				zap.String("message", apiErr.ErrorMessage()),
			)
		} else {
			g.logger.Error("upload failed", zap.Error(err))
		}
		return false
	}

	g.logger.Info("artifact uploaded",
		zap.String("bucket", bucket),
		zap.String("key", key),
	)
	return true
}
