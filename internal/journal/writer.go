package journal

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/agentgov/consolestream/internal/config"
	"github.com/agentgov/consolestream/internal/connection"
)

// Entry is one inbound frame queued for persistence.
type Entry struct {
	ID         uuid.UUID
	ReceivedAt time.Time
	Msg        connection.Message
}

// messageRow is the flattened row shape for the console_messages table.
type messageRow struct {
	ID         string
	ReceivedAt int64 // µs since epoch
	Type       string
	Role       string
	AgentID    string
	Content    string
	Metadata   []byte // frame metadata as JSON, nil when absent
	EventTS    string // the frame's own timestamp, verbatim
}

// Metrics counts writer activity.
type Metrics struct {
	Enqueued  int64
	Dropped   int64
	Inserts   int64
	Conflicts int64
	Flushes   int64
	Errors    int64
}

// batchSender is the slice of pgxpool.Pool the writer needs. Injected so
// tests can run flushes without a database.
type batchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Writer consumes journal entries and batch-inserts them into Postgres.
type Writer struct {
	cfg    config.JournalConfig
	db     batchSender
	logger *slog.Logger

	input *buffer

	batch       []messageRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics Metrics
}

// NewWriter creates a message journal writer.
func NewWriter(cfg config.JournalConfig, db batchSender, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		cfg:    cfg,
		db:     db,
		logger: logger,
		input:  newBuffer(cfg.BufferSize),
		batch:  make([]messageRow, 0, cfg.BatchSize),
	}
}

// Enqueue queues one inbound frame for persistence. Returns false if the
// writer has been stopped. Safe to call from the connection manager's
// delivery path; it never blocks on the database.
func (w *Writer) Enqueue(msg connection.Message, receivedAt time.Time) bool {
	ok := w.input.push(Entry{
		ID:         uuid.New(),
		ReceivedAt: receivedAt,
		Msg:        msg,
	})

	w.batchMu.Lock()
	if ok {
		w.metrics.Enqueued++
	} else {
		w.metrics.Dropped++
	}
	w.batchMu.Unlock()
	return ok
}

// Start begins consuming entries and writing to the database.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	w.wg.Add(1)
	go w.consumeLoop()

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("journal writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop drains the buffer, performs a final flush, and shuts down.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping journal writer")

	w.input.close()
	if w.cancel != nil {
		w.cancel()
	}
	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("journal writer stopped")
	case <-ctx.Done():
		w.logger.Warn("journal writer stop timed out")
	}

	w.finalFlush(ctx)
	return nil
}

// Stats returns current metrics.
func (w *Writer) Stats() Metrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// consumeLoop drains the input buffer into the batch.
func (w *Writer) consumeLoop() {
	defer w.wg.Done()

	for {
		entry, ok := w.input.pop()
		if !ok {
			return
		}
		w.handleEntry(entry)
	}
}

// flushLoop periodically flushes the batch.
func (w *Writer) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush()
		}
	}
}

// handleEntry transforms and adds an entry to the batch.
func (w *Writer) handleEntry(entry Entry) {
	row := w.transform(entry)

	w.batchMu.Lock()
	w.batch = append(w.batch, row)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush()
	}
}

// transform converts an Entry to a messageRow.
func (w *Writer) transform(entry Entry) messageRow {
	row := messageRow{
		ID:         entry.ID.String(),
		ReceivedAt: entry.ReceivedAt.UnixMicro(),
		Type:       entry.Msg.Type,
		Role:       entry.Msg.Role,
		AgentID:    entry.Msg.AgentID,
		Content:    entry.Msg.Content,
		EventTS:    entry.Msg.Timestamp,
	}
	if entry.Msg.Metadata != nil {
		// Stored verbatim; the journal does not interpret metadata.
		if data, err := json.Marshal(entry.Msg.Metadata); err == nil {
			row.Metadata = data
		}
	}
	return row
}

// flush writes the current batch to the database.
func (w *Writer) flush() { w.flushWith(w.ctx) }

// finalFlush runs after the consume loop has exited, under the caller's
// context (w.ctx is already cancelled by then).
func (w *Writer) finalFlush(ctx context.Context) { w.flushWith(ctx) }

func (w *Writer) flushWith(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	batch := w.batch
	w.batch = make([]messageRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed messages",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *Writer) batchInsert(ctx context.Context, rows []messageRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO console_messages (id, received_at, msg_type, role, agent_id, content, metadata, event_ts)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO NOTHING
		`, r.ID, r.ReceivedAt, r.Type, r.Role, r.AgentID, r.Content, r.Metadata, r.EventTS)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
