// Package runninghash computes the chained digest that commits a topic to
// its full ordered message history.
//
// Each link is SHA-384 over, in order: the version byte, the prior hash, the
// topic id (shard, realm, num as uint64), the consensus timestamp as int64
// nanoseconds since the Unix epoch, the sequence number as uint64 and the
// payload prefixed by its uint32 length. All integers are big-endian. This
// byte layout is part of the wire contract: an observer holding the payloads
// and timestamps recomputes the exact same chain.
package runninghash

import (
    "crypto/sha512"
    "encoding/binary"
    "time"

    "github.com/amirimatin/go-topics/pkg/topic"
)

// Version is the leading byte of every hashed record.
const Version byte = 3

// Next returns the chain head after appending payload as message seq.
func Next(prior topic.Hash, id topic.ID, ts time.Time, seq uint64, payload []byte) topic.Hash {
    buf := make([]byte, 0, 1+topic.HashSize+topic.IDSize+8+8+4+len(payload))
    buf = append(buf, Version)
    buf = append(buf, prior[:]...)
    buf = id.AppendBinary(buf)
    buf = binary.BigEndian.AppendUint64(buf, uint64(ts.UnixNano()))
    buf = binary.BigEndian.AppendUint64(buf, seq)
    buf = binary.BigEndian.AppendUint32(buf, uint32(len(payload)))
    buf = append(buf, payload...)
    return topic.Hash(sha512.Sum384(buf))
}

// Genesis is the chain head of a freshly created topic: the zero hash folded
// with the topic id and creation time at sequence 0 with no payload.
func Genesis(id topic.ID, createdAt time.Time) topic.Hash {
    return Next(topic.Hash{}, id, createdAt, 0, nil)
}

// Message is one accepted submission as seen by an outside verifier.
type Message struct {
    SequenceNumber     uint64
    ConsensusTimestamp time.Time
    Payload            []byte
}

// Replay recomputes the chain from genesis over msgs, which must be the
// complete ordered history starting at sequence 1. It returns the final head
// and the index of the first message whose sequence number breaks the
// 1..n progression, or -1 when the history is contiguous.
func Replay(id topic.ID, createdAt time.Time, msgs []Message) (topic.Hash, int) {
    h := Genesis(id, createdAt)
    for i, m := range msgs {
        if m.SequenceNumber != uint64(i+1) { return h, i }
        h = Next(h, id, m.ConsensusTimestamp, m.SequenceNumber, m.Payload)
    }
    return h, -1
}
