package topic

import (
    "encoding/binary"
    "fmt"
    "time"
)

const stateCodecVersion byte = 1

// MarshalBinary encodes the record. Integers are fixed-width big-endian,
// optional values carry a presence byte and variable-length values a uint32
// length prefix.
func (s State) MarshalBinary() ([]byte, error) {
    b := make([]byte, 0, 192)
    b = append(b, stateCodecVersion)
    b = s.ID.AppendBinary(b)
    if s.Memo != nil {
        b = append(b, 1)
        b = appendBytes(b, []byte(*s.Memo))
    } else {
        b = append(b, 0)
    }
    b = appendKey(b, s.AdminKey)
    b = appendKey(b, s.SubmitKey)
    b = binary.BigEndian.AppendUint64(b, uint64(s.AutoRenewSeconds))
    if s.AutoRenewAccount != nil {
        b = append(b, 1)
        b = s.AutoRenewAccount.AppendBinary(b)
    } else {
        b = append(b, 0)
    }
    b = binary.BigEndian.AppendUint64(b, uint64(s.Expiration.UnixNano()))
    b = binary.BigEndian.AppendUint64(b, s.SequenceNumber)
    b = append(b, s.RunningHash[:]...)
    if s.Deleted {
        b = append(b, 1)
    } else {
        b = append(b, 0)
    }
    b = binary.BigEndian.AppendUint64(b, uint64(s.CreatedAt.UnixNano()))
    return b, nil
}

// UnmarshalBinary decodes the output of MarshalBinary.
func (s *State) UnmarshalBinary(data []byte) error {
    d := decoder{b: data}
    if v := d.u8(); d.err == nil && v != stateCodecVersion {
        return fmt.Errorf("topic: unsupported state encoding version %d", v)
    }
    var out State
    out.ID = ID{Shard: d.u64(), Realm: d.u64(), Num: d.u64()}
    if d.present() {
        m := string(d.lenBytes())
        out.Memo = &m
    }
    out.AdminKey = d.key()
    out.SubmitKey = d.key()
    out.AutoRenewSeconds = int64(d.u64())
    if d.present() {
        a := AccountID{Shard: d.u64(), Realm: d.u64(), Num: d.u64()}
        out.AutoRenewAccount = &a
    }
    out.Expiration = time.Unix(0, int64(d.u64())).UTC()
    out.SequenceNumber = d.u64()
    copy(out.RunningHash[:], d.take(HashSize))
    out.Deleted = d.flag()
    out.CreatedAt = time.Unix(0, int64(d.u64())).UTC()
    if d.err != nil { return d.err }
    if len(d.b) != 0 { return fmt.Errorf("topic: %d trailing bytes in state record", len(d.b)) }
    *s = out
    return nil
}

func appendBytes(b, v []byte) []byte {
    b = binary.BigEndian.AppendUint32(b, uint32(len(v)))
    return append(b, v...)
}

func appendKey(b []byte, k *Key) []byte {
    if k == nil { return append(b, 0) }
    b = append(b, 1)
    return appendBytes(b, k.AppendBinary(nil))
}

// decoder reads sequentially and latches the first error.
type decoder struct {
    b   []byte
    err error
}

func (d *decoder) take(n int) []byte {
    if d.err != nil { return make([]byte, n) }
    if len(d.b) < n {
        d.err = fmt.Errorf("topic: truncated state record")
        return make([]byte, n)
    }
    v := d.b[:n]
    d.b = d.b[n:]
    return v
}

func (d *decoder) u8() byte      { return d.take(1)[0] }
func (d *decoder) u64() uint64   { return binary.BigEndian.Uint64(d.take(8)) }
func (d *decoder) present() bool { return d.flag() }

// flag reads a boolean byte. Anything but 0 or 1 is a corrupt record.
func (d *decoder) flag() bool {
    switch v := d.u8(); v {
    case 0:
        return false
    case 1:
        return true
    default:
        if d.err == nil { d.err = fmt.Errorf("topic: invalid flag byte %d in state record", v) }
        return false
    }
}

func (d *decoder) lenBytes() []byte {
    n := binary.BigEndian.Uint32(d.take(4))
    if d.err == nil && uint64(n) > uint64(len(d.b)) {
        d.err = fmt.Errorf("topic: length %d exceeds record", n)
        return nil
    }
    return append([]byte(nil), d.take(int(n))...)
}

func (d *decoder) key() *Key {
    if !d.present() { return nil }
    raw := d.lenBytes()
    if d.err != nil { return nil }
    k, rest, err := DecodeKey(raw)
    if err != nil { d.err = err; return nil }
    if len(rest) != 0 { d.err = fmt.Errorf("topic: trailing bytes after key"); return nil }
    return &k
}
