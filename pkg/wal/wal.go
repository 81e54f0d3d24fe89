package wal

import (
	"bufio"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/orneryd/vdb/pkg/obs"
	"github.com/orneryd/vdb/pkg/pool"
	"github.com/orneryd/vdb/pkg/vdberr"
	"go.uber.org/zap"
)

// FsyncMode controls when buffered writes hit disk, per §6's
// wal.fsync_mode configuration option.
type FsyncMode int

const (
	// FsyncInterval flushes and fsyncs on a background ticker. Append never
	// blocks on disk I/O in this mode.
	FsyncInterval FsyncMode = iota
	// FsyncPerWrite fsyncs synchronously inside Append ("durable" mode).
	FsyncPerWrite
)

// Config configures a single collection's WAL, per §6's wal block.
type Config struct {
	Dir                  string
	FsyncMode            FsyncMode
	FsyncInterval        time.Duration
	CheckpointThreshold  int
	CheckpointIntervalMs int
	Metrics              *obs.Metrics
}

// DefaultConfig matches §6's wal defaults.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:                  dir,
		FsyncMode:            FsyncInterval,
		FsyncInterval:        100 * time.Millisecond,
		CheckpointThreshold:  1000,
		CheckpointIntervalMs: 300_000,
	}
}

// WAL is a single collection's append-only write-ahead log. Appends are
// single-producer-single-consumer against the underlying file per §5:
// callers enqueue under mu and return; a background ticker owns the fsync
// in interval mode. This mirrors the teacher's WAL (pkg/storage/wal.go) —
// same bufio.Writer-behind-a-mutex-plus-ticker shape — but frames records
// in the binary §4.E layout instead of one-JSON-object-per-line.
type WAL struct {
	mu     sync.Mutex
	file    *os.File
	writer  *bufio.Writer
	log     *zap.Logger
	metrics *obs.Metrics

	cfg Config

	seqNo            atomic.Uint64
	recordsSinceSync atomic.Int64 // records appended since the last Truncate

	closed atomic.Bool

	syncTicker *time.Ticker
	stopSync   chan struct{}
}

// Open opens (or creates) the WAL file under cfg.Dir, recovering the last
// persisted sequence number so seq_no stays monotonic across restarts.
func Open(cfg Config, log *zap.Logger) (*WAL, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, vdberr.Wrap(vdberr.Internal, err, "wal: create dir %s", cfg.Dir)
	}
	path := filepath.Join(cfg.Dir, "wal.log")

	if err := truncateTornTail(path); err != nil {
		log.Warn("wal: torn tail truncation failed", zap.String("path", path), zap.Error(err))
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, vdberr.Wrap(vdberr.Internal, err, "wal: open %s", path)
	}

	w := &WAL{
		file:     file,
		writer:   bufio.NewWriterSize(file, 64*1024),
		log:      log,
		metrics:  cfg.Metrics,
		cfg:      cfg,
		stopSync: make(chan struct{}),
	}

	lastSeq, err := lastSequence(path)
	if err != nil {
		file.Close()
		return nil, err
	}
	w.seqNo.Store(lastSeq)

	if cfg.FsyncMode == FsyncInterval {
		interval := cfg.FsyncInterval
		if interval <= 0 {
			interval = 100 * time.Millisecond
		}
		w.syncTicker = time.NewTicker(interval)
		go w.syncLoop()
	}

	return w, nil
}

func (w *WAL) syncLoop() {
	for {
		select {
		case <-w.syncTicker.C:
			if err := w.Sync(); err != nil {
				w.log.Warn("wal: periodic sync failed", zap.Error(err))
			}
		case <-w.stopSync:
			return
		}
	}
}

// Append writes op with payload to the log, assigning the next seq_no.
// Append never blocks on disk I/O unless the WAL is configured for
// per-write durability, per §5's "writers never block on fsync in the
// default mode" ordering guarantee.
func (w *WAL) Append(op OpKind, payload []byte) (uint64, error) {
	if w.closed.Load() {
		return 0, vdberr.New(vdberr.Internal, "wal: closed")
	}
	seq := w.seqNo.Add(1)
	buf := pool.GetByteBuffer()
	defer pool.PutByteBuffer(buf)
	buf = append(buf, encode(Record{SeqNo: seq, Op: op, Payload: payload})...)

	w.mu.Lock()
	n, err := w.writer.Write(buf)
	if err == nil {
		w.recordsSinceSync.Add(1)
	}
	var syncErr error
	if err == nil && w.cfg.FsyncMode == FsyncPerWrite {
		syncErr = w.syncLocked()
	}
	w.mu.Unlock()

	if err != nil {
		return 0, vdberr.Wrap(vdberr.Internal, err, "wal: append seq_no %d", seq)
	}
	if w.metrics != nil {
		w.metrics.WALRecordsTotal.Inc()
		w.metrics.WALBytesWritten.Add(float64(n))
	}
	if syncErr != nil {
		return 0, syncErr
	}
	return seq, nil
}

// Sync flushes the buffered writer and fsyncs the underlying file.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.syncLocked()
}

func (w *WAL) syncLocked() error {
	start := time.Now()
	if err := w.writer.Flush(); err != nil {
		return vdberr.Wrap(vdberr.Internal, err, "wal: flush")
	}
	if err := w.file.Sync(); err != nil {
		return vdberr.Wrap(vdberr.Internal, err, "wal: fsync")
	}
	if w.metrics != nil {
		w.metrics.WALSyncLatency.Observe(time.Since(start).Seconds())
	}
	return nil
}

// SeqNo returns the most recently assigned sequence number.
func (w *WAL) SeqNo() uint64 { return w.seqNo.Load() }

// ShouldCheckpoint reports whether enough records have accumulated since
// the last checkpoint's Truncate to warrant a new one, per §4.E's "N records since last
// checkpoint (default 1000)" trigger.
func (w *WAL) ShouldCheckpoint() bool {
	threshold := int64(w.cfg.CheckpointThreshold)
	if threshold <= 0 {
		threshold = 1000
	}
	return w.recordsSinceSync.Load() >= threshold
}

// Truncate discards every record with SeqNo <= upToSeqNo, used after a
// checkpoint has captured them into a snapshot. Records appended after the
// checkpoint's SeqNo() was captured but before this call runs are kept,
// per §4.E's "truncate up to that seq_no" wording.
func (w *WAL) Truncate(upToSeqNo uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.writer.Flush(); err != nil {
		return vdberr.Wrap(vdberr.Internal, err, "wal: flush before truncate")
	}

	path := w.file.Name()
	data, err := os.ReadFile(path)
	if err != nil {
		return vdberr.Wrap(vdberr.Internal, err, "wal: read before truncate")
	}

	keepFrom := len(data)
	offset := 0
	for offset < len(data) {
		rec, n, err := decodeAt(data[offset:])
		if err != nil {
			break
		}
		if rec.SeqNo > upToSeqNo {
			keepFrom = offset
			break
		}
		offset += n
		keepFrom = offset
	}
	tail := data[keepFrom:]

	if err := w.file.Truncate(0); err != nil {
		return vdberr.Wrap(vdberr.Internal, err, "wal: truncate")
	}
	if _, err := w.file.Seek(0, 0); err != nil {
		return vdberr.Wrap(vdberr.Internal, err, "wal: seek after truncate")
	}
	if len(tail) > 0 {
		if _, err := w.file.Write(tail); err != nil {
			return vdberr.Wrap(vdberr.Internal, err, "wal: rewrite tail after truncate")
		}
	}
	w.writer.Reset(w.file)
	w.recordsSinceSync.Store(0)
	return nil
}

// Close flushes and closes the WAL.
func (w *WAL) Close() error {
	if w.closed.Swap(true) {
		return nil
	}
	if w.syncTicker != nil {
		w.syncTicker.Stop()
		close(w.stopSync)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.syncLocked(); err != nil {
		w.log.Warn("wal: final sync failed", zap.Error(err))
	}
	return w.file.Close()
}

func lastSequence(path string) (uint64, error) {
	recs, _, err := ReadAll(path)
	if err != nil {
		return 0, err
	}
	var last uint64
	for _, r := range recs {
		if r.SeqNo > last {
			last = r.SeqNo
		}
	}
	return last, nil
}
