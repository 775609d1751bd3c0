package collector

import (
	"testing"
	"time"

	"github.com/onelab-ops/searchpipe/pkg/config"
	"github.com/onelab-ops/searchpipe/pkg/kafka"
)

func testProducer() *kafka.Producer {
	return kafka.NewProducer(config.KafkaConfig{Brokers: []string{"localhost:9092"}}, "search-analytics")
}

func TestTrackBuffersBelowBatchSize(t *testing.T) {
	bc := NewBatchCollector(testProducer(), 10, time.Hour)

	bc.Track("search", map[string]string{"query": "install agent"})
	bc.Track("search", map[string]string{"query": "restore backup"})
	bc.Track("feedback", map[string]string{"chunk_id": "c1"})

	if got := bc.BufferLen(); got != 3 {
		t.Errorf("BufferLen = %d, want 3 (no flush below batch size)", got)
	}
}

func TestNewBatchCollectorDefaults(t *testing.T) {
	bc := NewBatchCollector(testProducer(), 0, 0)
	if bc.batchSize != 100 {
		t.Errorf("batchSize = %d, want default 100", bc.batchSize)
	}
	if bc.flushInterval != 5*time.Second {
		t.Errorf("flushInterval = %v, want default 5s", bc.flushInterval)
	}
}
