package audit

/*
Файл trail.go реализует Audit Trail — асинхронный движок персистентности
журнала привилегированных доступов.

Ключевые особенности архитектуры:
- Non-blocking Logging: события уходят из Hot Path шлюза через неблокирующий
  канал, задержки записи в БД не влияют на Response Time.
- Batching: накопление событий в памяти и пакетная запись (Bulk Insert)
  в PostgreSQL по таймеру или при достижении лимита батча.
- Drain Pattern & Graceful Shutdown: при остановке сервиса буфер вычитывается
  полностью (Final Flush), потерь записей при перезагрузке нет.
- Load Shedding: при переполнении буфера событие уходит в структурный лог,
  чтобы след не терялся даже под backpressure.
*/

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Storage определяет, куда физически сохраняются записи журнала.
type Storage interface {
	// WriteBatch сохраняет пачку записей за один раз
	WriteBatch(ctx context.Context, records []Record) error
}

// Appender — контракт для компонентов, порождающих записи аудита.
type Appender interface {
	Append(rec Record)
}

type Trail struct {
	ch     chan Record
	repo   Storage
	logger *zap.Logger
	wg     sync.WaitGroup

	batchSize     int
	flushInterval time.Duration
	bufferFill    prometheus.Gauge // опционально, может быть nil

	// mu охраняет closed и сам канал: Stop закрывает канал только под
	// эксклюзивной блокировкой, Append шлет только под RLock.
	// Send-on-closed-channel невозможен по построению.
	mu     sync.RWMutex
	closed bool
}

func NewTrail(repo Storage, logger *zap.Logger, bufferSize, batchSize int, flushInterval time.Duration) *Trail {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 500 * time.Millisecond
	}
	return &Trail{
		ch:            make(chan Record, bufferSize),
		repo:          repo,
		logger:        logger.With(zap.String("mod", "audit_trail")),
		batchSize:     batchSize,
		flushInterval: flushInterval,
	}
}

// SetBufferGauge подключает метрику заполненности буфера (backpressure).
func (t *Trail) SetBufferGauge(g prometheus.Gauge) {
	t.bufferFill = g
}

func (t *Trail) Start() {
	t.wg.Add(1)
	go t.worker()
}

// Stop «запирает» вход в канал и ждет, пока воркер всё допишет.
// Повторный Stop — no-op.
func (t *Trail) Stop() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	close(t.ch)
	t.mu.Unlock()

	t.logger.Info("stopping audit trail: flushing buffer...")
	t.wg.Wait()
	t.logger.Info("audit trail stopped gracefully")
}

func (t *Trail) Append(rec Record) {
	// Таймстемп всегда проставлен
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.closed {
		t.logger.Warn("audit record dropped: trail is stopping", zap.String("id", rec.ID))
		return
	}

	// Load Shedding: канал полон — запись уходит в структурный лог
	select {
	case t.ch <- rec:
		if t.bufferFill != nil {
			t.bufferFill.Set(float64(len(t.ch)))
		}
	default:
		t.logger.Error("audit_buffer_overflow",
			zap.String("subject", rec.Subject),
			zap.String("action", rec.Action),
			zap.String("trace_id", rec.TraceID),
		)
	}
}

func (t *Trail) worker() {
	defer t.wg.Done()

	batch := make([]Record, 0, t.batchSize)
	ticker := time.NewTicker(t.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) > 0 {
			// Background: основной контекст к этому моменту может быть закрыт
			if err := t.repo.WriteBatch(context.Background(), batch); err != nil {
				t.logger.Error("audit flush failed", zap.Error(err))
			}
			batch = batch[:0]
		}
	}

	for {
		select {
		case rec, ok := <-t.ch:
			if !ok {
				// Канал закрыт в Stop(): вычитали остатки — финальный сброс и выход
				flush()
				t.logger.Info("audit worker finished")
				return
			}
			batch = append(batch, rec)
			if len(batch) >= t.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
