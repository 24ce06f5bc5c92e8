package topic

import (
    "encoding/binary"
    "fmt"
    "strconv"
    "strings"
)

// ID identifies a topic as shard.realm.num. It is immutable once allocated.
type ID struct {
    Shard uint64
    Realm uint64
    Num   uint64
}

// IDSize is the length of the fixed-width binary form of an ID.
const IDSize = 24

func (id ID) String() string { return fmt.Sprintf("%d.%d.%d", id.Shard, id.Realm, id.Num) }

func (id ID) IsZero() bool { return id == ID{} }

// Less orders ids by shard, realm and num. Used as the tie-break wherever
// topics must be visited in a deterministic order.
func (id ID) Less(o ID) bool {
    if id.Shard != o.Shard { return id.Shard < o.Shard }
    if id.Realm != o.Realm { return id.Realm < o.Realm }
    return id.Num < o.Num
}

// Bytes returns the big-endian fixed-width encoding used as the store key
// and inside the running hash.
func (id ID) Bytes() []byte {
    return id.AppendBinary(make([]byte, 0, IDSize))
}

func (id ID) AppendBinary(b []byte) []byte {
    b = binary.BigEndian.AppendUint64(b, id.Shard)
    b = binary.BigEndian.AppendUint64(b, id.Realm)
    return binary.BigEndian.AppendUint64(b, id.Num)
}

// IDFromBytes decodes the output of Bytes.
func IDFromBytes(b []byte) (ID, error) {
    if len(b) != IDSize {
        return ID{}, fmt.Errorf("topic: id must be %d bytes, got %d", IDSize, len(b))
    }
    return ID{
        Shard: binary.BigEndian.Uint64(b[0:8]),
        Realm: binary.BigEndian.Uint64(b[8:16]),
        Num:   binary.BigEndian.Uint64(b[16:24]),
    }, nil
}

// ParseID parses "shard.realm.num". A bare number is accepted as 0.0.num.
func ParseID(s string) (ID, error) {
    parts, err := parseTriple(s)
    if err != nil { return ID{}, fmt.Errorf("topic: invalid id %q: %w", s, err) }
    return ID{Shard: parts[0], Realm: parts[1], Num: parts[2]}, nil
}

func (id ID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *ID) UnmarshalText(b []byte) error {
    v, err := ParseID(string(b))
    if err != nil { return err }
    *id = v
    return nil
}

// AccountID references an external billing account. Topics never own the
// account; it is only a lookup key handed to the billing collaborator.
type AccountID struct {
    Shard uint64
    Realm uint64
    Num   uint64
}

func (a AccountID) String() string { return fmt.Sprintf("%d.%d.%d", a.Shard, a.Realm, a.Num) }

func (a AccountID) AppendBinary(b []byte) []byte { return ID(a).AppendBinary(b) }

// ParseAccountID parses "shard.realm.num".
func ParseAccountID(s string) (AccountID, error) {
    parts, err := parseTriple(s)
    if err != nil { return AccountID{}, fmt.Errorf("topic: invalid account id %q: %w", s, err) }
    return AccountID{Shard: parts[0], Realm: parts[1], Num: parts[2]}, nil
}

func (a AccountID) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *AccountID) UnmarshalText(b []byte) error {
    v, err := ParseAccountID(string(b))
    if err != nil { return err }
    *a = v
    return nil
}

func parseTriple(s string) ([3]uint64, error) {
    var out [3]uint64
    s = strings.TrimSpace(s)
    if s == "" { return out, fmt.Errorf("empty") }
    fields := strings.Split(s, ".")
    switch len(fields) {
    case 1:
        fields = []string{"0", "0", fields[0]}
    case 3:
    default:
        return out, fmt.Errorf("expected shard.realm.num")
    }
    for i, f := range fields {
        v, err := strconv.ParseUint(f, 10, 64)
        if err != nil { return out, err }
        out[i] = v
    }
    return out, nil
}
