package logger

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Publisher ships a digest batch. pkg/kafka.Producer satisfies it.
type Publisher interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
}

type DigestConfig struct {
	Interval  time.Duration // flush interval
	Threshold int           // distinct entries that force an early flush
	Topic     string
	Publisher Publisher
}

// DigestEntry is one distinct error log with its repeat count.
type DigestEntry struct {
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields"`
	Caller    string                 `json:"caller"`
	Count     int                    `json:"count"`
	FirstSeen time.Time              `json:"first_seen"`
	LastSeen  time.Time              `json:"last_seen"`
}

// ErrorDigest folds repeated error logs into counted entries and publishes
// them periodically, so a failing upstream produces one record per
// interval rather than one per request.
type ErrorDigest struct {
	cfg     DigestConfig
	entries map[string]*DigestEntry
	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	now     func() time.Time
}

func NewErrorDigest(cfg DigestConfig) *ErrorDigest {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 100
	}
	ctx, cancel := context.WithCancel(context.Background())

	d := &ErrorDigest{
		cfg:     cfg,
		entries: make(map[string]*DigestEntry),
		ctx:     ctx,
		cancel:  cancel,
		now:     time.Now,
	}

	d.wg.Add(1)
	go d.loop()

	return d
}

func (d *ErrorDigest) Add(level, message string, fields map[string]interface{}, caller string) {
	now := d.now()
	key := digestKey(level, message, fields, caller)

	d.mu.Lock()
	if e, ok := d.entries[key]; ok {
		e.Count++
		e.LastSeen = now
	} else {
		d.entries[key] = &DigestEntry{
			Level:     level,
			Message:   message,
			Fields:    fields,
			Caller:    caller,
			Count:     1,
			FirstSeen: now,
			LastSeen:  now,
		}
	}
	var batch []DigestEntry
	if len(d.entries) >= d.cfg.Threshold {
		batch = d.drainLocked()
	}
	d.mu.Unlock()

	if batch != nil {
		d.publish(batch)
	}
}

// Flush publishes whatever has accumulated and returns the batch size.
func (d *ErrorDigest) Flush() int {
	d.mu.Lock()
	batch := d.drainLocked()
	d.mu.Unlock()
	if len(batch) > 0 {
		d.publish(batch)
	}
	return len(batch)
}

func (d *ErrorDigest) Close() {
	d.cancel()
	d.wg.Wait()
}

func (d *ErrorDigest) loop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.Flush()
		case <-d.ctx.Done():
			d.Flush()
			return
		}
	}
}

func (d *ErrorDigest) drainLocked() []DigestEntry {
	if len(d.entries) == 0 {
		return nil
	}
	out := make([]DigestEntry, 0, len(d.entries))
	for _, e := range d.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FirstSeen.Before(out[j].FirstSeen) })
	d.entries = make(map[string]*DigestEntry)
	return out
}

func (d *ErrorDigest) publish(batch []DigestEntry) {
	if d.cfg.Publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.cfg.Publisher.Publish(ctx, d.cfg.Topic, nil, batch); err != nil {
		fmt.Printf("error digest publish failed: %v\n", err)
	}
}

func digestKey(level, message string, fields map[string]interface{}, caller string) string {
	data, _ := json.Marshal(struct {
		Level   string                 `json:"level"`
		Message string                 `json:"message"`
		Fields  map[string]interface{} `json:"fields"`
		Caller  string                 `json:"caller"`
	}{level, message, fields, caller})
	return fmt.Sprintf("%x", sha256.Sum256(data))
}
