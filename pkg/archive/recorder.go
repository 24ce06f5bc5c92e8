package archive

import (
    "context"
    "log"
    "sync"

    "github.com/amirimatin/go-topics/pkg/internal/logutil"
    "github.com/amirimatin/go-topics/pkg/machine"
    "github.com/amirimatin/go-topics/pkg/observability/metrics"
)

const DefaultQueue = 1024

type entry struct {
    r  machine.Receipt
    tx machine.Transaction
}

// Recorder is a machine.Observer that archives receipts off the apply path.
// When the queue is full the receipt is dropped and counted; the apply path
// never waits on SQLite.
type Recorder struct {
    a      *Archive
    log    *log.Logger
    queue  chan entry
    wg     sync.WaitGroup
    once   sync.Once
    mu     sync.RWMutex
    closed bool
}

// NewRecorder starts the background writer. Close flushes what is queued.
func NewRecorder(a *Archive, queue int, logger *log.Logger) *Recorder {
    if queue <= 0 { queue = DefaultQueue }
    rec := &Recorder{a: a, log: logutil.Component(logger, "archive"), queue: make(chan entry, queue)}
    rec.wg.Add(1)
    go rec.run()
    return rec
}

func (rec *Recorder) run() {
    defer rec.wg.Done()
    for e := range rec.queue {
        if err := rec.a.Record(context.Background(), e.r, e.tx); err != nil {
            logutil.Warnf(rec.log, "record %s: %v", e.r, err)
        }
    }
}

func (rec *Recorder) OnReceipt(r machine.Receipt, tx machine.Transaction) {
    rec.mu.RLock(); defer rec.mu.RUnlock()
    if rec.closed { return }
    select {
    case rec.queue <- entry{r: r, tx: tx}:
    default:
        metrics.ArchiveDropped.Inc()
        logutil.Debugf(rec.log, "queue full, dropped %s", r)
    }
}

// Close stops accepting receipts and waits for the queue to drain.
func (rec *Recorder) Close() {
    rec.once.Do(func() {
        rec.mu.Lock()
        rec.closed = true
        close(rec.queue)
        rec.mu.Unlock()
        rec.wg.Wait()
    })
}

var _ machine.Observer = (*Recorder)(nil)
