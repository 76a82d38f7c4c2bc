package gateway

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	blockedSetKey = "trustgate:sources:blocked_set"
	blockChannel  = "trustgate:sources:block"
)

// BlockList — рантайм-блокировка источников вебхуков (kill-switch уровня
// источника). Состояние живет в Redis (set + pub/sub), горячая проверка —
// только по локальной потокобезопасной мапе.
type BlockList struct {
	mu      sync.RWMutex
	blocked map[string]struct{}
	rdb     *redis.Client
	logger  *zap.Logger
}

func NewBlockList(rdb *redis.Client, logger *zap.Logger) *BlockList {
	return &BlockList{
		blocked: make(map[string]struct{}),
		rdb:     rdb,
		logger:  logger.Named("blocklist"),
	}
}

// Init загружает текущее состояние блокировок при старте сервиса
func (b *BlockList) Init(ctx context.Context) error {
	sources, err := b.rdb.SMembers(ctx, blockedSetKey).Result()
	if err != nil {
		return err
	}

	b.mu.Lock()
	for _, id := range sources {
		b.blocked[id] = struct{}{}
	}
	b.mu.Unlock()
	return nil
}

func (b *BlockList) IsBlocked(source string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, blocked := b.blocked[source]
	return blocked
}

func (b *BlockList) set(source string, blocked bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if blocked {
		b.blocked[source] = struct{}{}
	} else {
		delete(b.blocked, source)
	}
}

// StartListener — «живучая» подписка на сигналы блокировки.
// Обрабатывает переподключения: при каждом успешном коннекте состояние
// пересинхронизируется из set, чтобы не потерять сигналы за время разрыва.
func (b *BlockList) StartListener(ctx context.Context) {
	for {
		pubsub := b.rdb.Subscribe(ctx, blockChannel)

		// Проверка успешности подписки
		if _, err := pubsub.Receive(ctx); err != nil {
			b.logger.Error("failed to subscribe", zap.String("chan", blockChannel), zap.Error(err))
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		// Синхронизация при каждом успешном коннекте
		if err := b.Init(ctx); err != nil {
			b.logger.Error("sync failed on reconnect", zap.Error(err))
		}

		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop // Канал закрыт, идем на переподключение
				}

				// Разбор формата "source:status"
				parts := strings.Split(msg.Payload, ":")
				if len(parts) != 2 {
					b.logger.Error("invalid signal format", zap.String("payload", msg.Payload))
					continue
				}

				source := parts[0]
				blocked := parts[1] == "true" || parts[1] == "on"

				b.logger.Info("source block signal",
					zap.String("source", source),
					zap.Bool("blocked", blocked),
				)
				b.set(source, blocked)
			}
		}

		pubsub.Close()
		time.Sleep(1 * time.Second)
	}
}
