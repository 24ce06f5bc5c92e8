// Package archive mirrors receipts and accepted messages into SQLite so that
// outside readers can page through a topic's history and check its running
// hash chain without access to the ordering log.
package archive

import (
    "context"
    "database/sql"
    "encoding/json"
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "time"

    _ "modernc.org/sqlite"

    "github.com/amirimatin/go-topics/pkg/machine"
    "github.com/amirimatin/go-topics/pkg/topic"
    "github.com/amirimatin/go-topics/pkg/topic/runninghash"
)

const busyTimeoutMs = 5000

var ErrUnknownTopic = errors.New("archive: topic not archived")

// ChainError reports the first archived message whose stored running hash
// does not match the recomputed chain.
type ChainError struct {
    TopicID  topic.ID
    Sequence uint64
    Stored   topic.Hash
    Computed topic.Hash
}

func (e *ChainError) Error() string {
    if e.Sequence == 0 { return fmt.Sprintf("archive: %s genesis mismatch", e.TopicID) }
    return fmt.Sprintf("archive: %s chain broken at sequence %d: stored %s, computed %s", e.TopicID, e.Sequence, e.Stored, e.Computed)
}

// Message is one archived submission.
type Message struct {
    TopicID            topic.ID   `json:"topicId"`
    SequenceNumber     uint64     `json:"sequenceNumber"`
    ConsensusTimestamp time.Time  `json:"consensusTimestamp"`
    Payload            []byte     `json:"payload"`
    RunningHash        topic.Hash `json:"runningHash"`
}

type Archive struct {
    db *sql.DB
}

// Open creates or opens the database file at path.
func Open(path string) (*Archive, error) {
    if path == "" { return nil, errors.New("archive: empty path") }
    if path != ":memory:" {
        if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil { return nil, fmt.Errorf("archive: create dir: %w", err) }
    }
    db, err := sql.Open("sqlite", path)
    if err != nil { return nil, fmt.Errorf("archive: open: %w", err) }
    // a single connection keeps :memory: databases coherent and serializes writers
    db.SetMaxOpenConns(1)
    if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d", busyTimeoutMs)); err != nil {
        _ = db.Close()
        return nil, fmt.Errorf("archive: busy_timeout: %w", err)
    }
    a := &Archive{db: db}
    if err := a.ensureSchema(); err != nil { _ = db.Close(); return nil, err }
    return a, nil
}

func (a *Archive) ensureSchema() error {
    _, err := a.db.Exec(`
CREATE TABLE IF NOT EXISTS topics (
    id          TEXT PRIMARY KEY,
    created_ns  INTEGER NOT NULL,
    genesis     BLOB NOT NULL,
    deleted     INTEGER NOT NULL DEFAULT 0,
    reclaimed_ns INTEGER
);
CREATE TABLE IF NOT EXISTS messages (
    topic        TEXT NOT NULL,
    seq          INTEGER NOT NULL,
    consensus_ns INTEGER NOT NULL,
    payload      BLOB NOT NULL,
    running_hash BLOB NOT NULL,
    PRIMARY KEY (topic, seq)
);
CREATE TABLE IF NOT EXISTS receipts (
    consensus_ns INTEGER NOT NULL,
    tx_id        TEXT NOT NULL,
    kind         TEXT NOT NULL,
    topic        TEXT NOT NULL,
    seq          INTEGER NOT NULL,
    outcome      TEXT NOT NULL,
    action       TEXT NOT NULL,
    reason       TEXT NOT NULL,
    running_hash BLOB NOT NULL,
    UNIQUE (consensus_ns, tx_id, topic, action)
);`)
    if err != nil { return fmt.Errorf("archive: schema: %w", err) }
    return nil
}

// Record stores a receipt and whatever it changed. Recording the same
// receipt twice is harmless, so a node replaying its log can archive again.
func (a *Archive) Record(ctx context.Context, r machine.Receipt, tx machine.Transaction) error {
    dbtx, err := a.db.BeginTx(ctx, nil)
    if err != nil { return fmt.Errorf("archive: begin: %w", err) }
    defer dbtx.Rollback()

    ns := r.ConsensusTimestamp.UnixNano()
    _, err = dbtx.ExecContext(ctx, `INSERT OR IGNORE INTO receipts
        (consensus_ns, tx_id, kind, topic, seq, outcome, action, reason, running_hash)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
        ns, r.TxID, string(r.Kind), r.TopicID.String(), int64(r.SequenceNumber), string(r.Outcome), string(r.Action), r.Reason, r.RunningHash[:])
    if err != nil { return fmt.Errorf("archive: insert receipt: %w", err) }

    if r.OK() {
        if err := apply(ctx, dbtx, r, tx); err != nil { return err }
    }
    if err := dbtx.Commit(); err != nil { return fmt.Errorf("archive: commit: %w", err) }
    return nil
}

func apply(ctx context.Context, dbtx *sql.Tx, r machine.Receipt, tx machine.Transaction) error {
    id := r.TopicID.String()
    ns := r.ConsensusTimestamp.UnixNano()
    var err error
    switch {
    case r.Kind == machine.KindCreate:
        _, err = dbtx.ExecContext(ctx, `INSERT OR IGNORE INTO topics (id, created_ns, genesis) VALUES (?, ?, ?)`, id, ns, r.RunningHash[:])
    case r.Kind == machine.KindSubmit:
        var b machine.SubmitMessageBody
        if err := json.Unmarshal(tx.Body, &b); err != nil { return fmt.Errorf("archive: submit body: %w", err) }
        _, err = dbtx.ExecContext(ctx, `INSERT OR REPLACE INTO messages (topic, seq, consensus_ns, payload, running_hash) VALUES (?, ?, ?, ?, ?)`,
            id, int64(r.SequenceNumber), ns, b.Message, r.RunningHash[:])
    case r.Kind == machine.KindDelete:
        _, err = dbtx.ExecContext(ctx, `UPDATE topics SET deleted = 1 WHERE id = ?`, id)
    case r.Action == machine.ActionReclaimed:
        _, err = dbtx.ExecContext(ctx, `UPDATE topics SET reclaimed_ns = ? WHERE id = ?`, ns, id)
    }
    if err != nil { return fmt.Errorf("archive: apply %s: %w", r.Kind, err) }
    return nil
}

// Messages returns up to limit messages of id starting at sequence fromSeq.
// A limit of zero or less means no limit.
func (a *Archive) Messages(ctx context.Context, id topic.ID, fromSeq uint64, limit int) ([]Message, error) {
    if limit <= 0 { limit = -1 }
    rows, err := a.db.QueryContext(ctx, `SELECT seq, consensus_ns, payload, running_hash FROM messages
        WHERE topic = ? AND seq >= ? ORDER BY seq LIMIT ?`, id.String(), int64(fromSeq), limit)
    if err != nil { return nil, fmt.Errorf("archive: query messages: %w", err) }
    defer rows.Close()
    var out []Message
    for rows.Next() {
        var (
            seq, ns int64
            payload, hash []byte
        )
        if err := rows.Scan(&seq, &ns, &payload, &hash); err != nil { return nil, fmt.Errorf("archive: scan message: %w", err) }
        m := Message{TopicID: id, SequenceNumber: uint64(seq), ConsensusTimestamp: time.Unix(0, ns).UTC(), Payload: payload}
        copy(m.RunningHash[:], hash)
        out = append(out, m)
    }
    if err := rows.Err(); err != nil { return nil, fmt.Errorf("archive: messages: %w", err) }
    return out, nil
}

// VerifyChain recomputes id's chain from its genesis through every archived
// message and compares each link with the stored running hash. It returns
// the final head, or a *ChainError at the first mismatch or gap.
func (a *Archive) VerifyChain(ctx context.Context, id topic.ID) (topic.Hash, error) {
    var (
        createdNs int64
        genesis   []byte
    )
    err := a.db.QueryRowContext(ctx, `SELECT created_ns, genesis FROM topics WHERE id = ?`, id.String()).Scan(&createdNs, &genesis)
    if errors.Is(err, sql.ErrNoRows) { return topic.Hash{}, fmt.Errorf("%w: %s", ErrUnknownTopic, id) }
    if err != nil { return topic.Hash{}, fmt.Errorf("archive: load topic: %w", err) }

    head := runninghash.Genesis(id, time.Unix(0, createdNs).UTC())
    var stored topic.Hash
    copy(stored[:], genesis)
    if stored != head { return topic.Hash{}, &ChainError{TopicID: id, Stored: stored, Computed: head} }

    msgs, err := a.Messages(ctx, id, 1, 0)
    if err != nil { return topic.Hash{}, err }
    for i, m := range msgs {
        if m.SequenceNumber != uint64(i+1) {
            return head, &ChainError{TopicID: id, Sequence: uint64(i + 1), Computed: head}
        }
        head = runninghash.Next(head, id, m.ConsensusTimestamp, m.SequenceNumber, m.Payload)
        if head != m.RunningHash {
            return head, &ChainError{TopicID: id, Sequence: m.SequenceNumber, Stored: m.RunningHash, Computed: head}
        }
    }
    return head, nil
}

// Receipts lists the archived receipts touching id in consensus order.
func (a *Archive) Receipts(ctx context.Context, id topic.ID) ([]machine.Receipt, error) {
    rows, err := a.db.QueryContext(ctx, `SELECT consensus_ns, tx_id, kind, seq, outcome, action, reason, running_hash
        FROM receipts WHERE topic = ? ORDER BY consensus_ns, rowid`, id.String())
    if err != nil { return nil, fmt.Errorf("archive: query receipts: %w", err) }
    defer rows.Close()
    var out []machine.Receipt
    for rows.Next() {
        var (
            ns, seq                             int64
            txID, kind, outcome, action, reason string
            hash                                []byte
        )
        if err := rows.Scan(&ns, &txID, &kind, &seq, &outcome, &action, &reason, &hash); err != nil {
            return nil, fmt.Errorf("archive: scan receipt: %w", err)
        }
        r := machine.Receipt{
            TxID: txID, Kind: machine.Kind(kind), TopicID: id, SequenceNumber: uint64(seq),
            ConsensusTimestamp: time.Unix(0, ns).UTC(), Outcome: machine.Outcome(outcome),
            Action: machine.Action(action), Reason: reason,
        }
        copy(r.RunningHash[:], hash)
        out = append(out, r)
    }
    return out, rows.Err()
}

func (a *Archive) Close() error { return a.db.Close() }
