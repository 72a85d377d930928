package eventflow

import (
	"sync"
	"time"
)

// Telemetry holds per-envelope processing measurements. It is created with
// the envelope, updated by observers, and never serialized as part of the
// wire format.
type Telemetry struct {
	mu sync.Mutex

	CreatedAt   time.Time
	ProcessedAt time.Time
	// Latency is ProcessedAt - CreatedAt, computed by MarkProcessed.
	Latency time.Duration

	// SerializedSize is the byte length of the last wire encoding.
	SerializedSize int
	// ValidationDuration is the time spent in schema validation.
	ValidationDuration time.Duration
	// SerializationDuration is the time spent encoding to the wire format.
	SerializationDuration time.Duration
	// CompressionRatio is compressed/original size, 0 until compressed.
	CompressionRatio float64

	tags map[string]string
}

func newTelemetry(createdAt time.Time) *Telemetry {
	return &Telemetry{CreatedAt: createdAt}
}

// MarkProcessed records the processing instant and computes latency.
func (t *Telemetry) MarkProcessed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ProcessedAt = time.Now()
	t.Latency = t.ProcessedAt.Sub(t.CreatedAt)
}

// SetTag adds an annotation. Tags are additive and non-conflicting: the
// last writer for a key wins, and writers never remove other tags.
func (t *Telemetry) SetTag(key, value string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tags == nil {
		t.tags = make(map[string]string)
	}
	t.tags[key] = value
}

// Tag returns the annotation for key.
func (t *Telemetry) Tag(key string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.tags[key]
	return v, ok
}

// Tags returns a copy of all annotations.
func (t *Telemetry) Tags() map[string]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]string, len(t.tags))
	for k, v := range t.tags {
		out[k] = v
	}
	return out
}

func (t *Telemetry) recordValidation(d time.Duration) {
	t.mu.Lock()
	t.ValidationDuration += d
	t.mu.Unlock()
}

func (t *Telemetry) recordSerialization(size int, d time.Duration) {
	t.mu.Lock()
	t.SerializedSize = size
	t.SerializationDuration += d
	t.mu.Unlock()
}

func (t *Telemetry) recordCompression(ratio float64) {
	t.mu.Lock()
	t.CompressionRatio = ratio
	t.mu.Unlock()
}

func (t *Telemetry) reset() {
	t.mu.Lock()
	t.CreatedAt = time.Time{}
	t.ProcessedAt = time.Time{}
	t.Latency = 0
	t.SerializedSize = 0
	t.ValidationDuration = 0
	t.SerializationDuration = 0
	t.CompressionRatio = 0
	t.tags = nil
	t.mu.Unlock()
}
