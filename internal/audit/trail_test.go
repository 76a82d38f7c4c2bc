package audit

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memStorage struct {
	mu      sync.Mutex
	batches [][]Record
}

func (m *memStorage) WriteBatch(ctx context.Context, records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Копируем: воркер переиспользует слайс батча
	batch := make([]Record, len(records))
	copy(batch, records)
	m.batches = append(m.batches, batch)
	return nil
}

func (m *memStorage) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.batches {
		n += len(b)
	}
	return n
}

func TestTrailFlushesOnBatchSize(t *testing.T) {
	storage := &memStorage{}
	trail := NewTrail(storage, zap.NewNop(), 100, 2, time.Hour)
	trail.Start()
	defer trail.Stop()

	trail.Append(Record{ID: "1", Action: "get_user", Status: StatusExecuted})
	trail.Append(Record{ID: "2", Action: "get_user", Status: StatusNotFound})

	// Интервал выставлен в час: сброс может случиться только по размеру батча
	require.Eventually(t, func() bool { return storage.total() == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestTrailDrainsOnStop(t *testing.T) {
	storage := &memStorage{}
	trail := NewTrail(storage, zap.NewNop(), 100, 50, time.Hour)
	trail.Start()

	for i := 0; i < 7; i++ {
		trail.Append(Record{ID: fmt.Sprintf("rec-%d", i), Status: StatusExecuted})
	}

	// Drain Pattern: Stop обязан дожать всё, что осталось в буфере
	trail.Stop()
	assert.Equal(t, 7, storage.total())
}

func TestTrailDropsAfterStop(t *testing.T) {
	storage := &memStorage{}
	trail := NewTrail(storage, zap.NewNop(), 100, 10, time.Hour)
	trail.Start()
	trail.Stop()

	// Append после Stop не паникует и ничего не пишет
	trail.Append(Record{ID: "late"})
	assert.Equal(t, 0, storage.total())
}

func TestTrailConcurrentAppendAndStop(t *testing.T) {
	storage := &memStorage{}
	trail := NewTrail(storage, zap.NewNop(), 1000, 10, time.Hour)
	trail.Start()

	// Писатели соревнуются с остановкой: паники send-on-closed-channel
	// быть не должно, опоздавшие записи молча отбрасываются
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				trail.Append(Record{ID: fmt.Sprintf("w%d-%d", n, j), Status: StatusExecuted})
			}
		}(i)
	}
	trail.Stop()
	wg.Wait()

	// Всё, что успело попасть в канал до закрытия, дожато воркером
	assert.LessOrEqual(t, storage.total(), 20*50)
}

func TestTrailStampsTimestamp(t *testing.T) {
	storage := &memStorage{}
	trail := NewTrail(storage, zap.NewNop(), 100, 1, time.Hour)
	trail.Start()

	trail.Append(Record{ID: "no-ts"})
	trail.Stop()

	require.Equal(t, 1, storage.total())
	assert.False(t, storage.batches[0][0].Timestamp.IsZero())
}
