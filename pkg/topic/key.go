package topic

import (
    "bytes"
    "crypto/ed25519"
    "encoding/binary"
    "fmt"
)

// MaxKeyDepth bounds key list nesting so that decoding and signature
// evaluation stay bounded for adversarial input.
const MaxKeyDepth = 8

// Key is either a single Ed25519 public key or a list of keys of which at
// least Threshold must be satisfied (Threshold 0 means all of them).
// Exactly one of Ed25519 and Keys is set on a valid key.
type Key struct {
    Ed25519   []byte `json:"ed25519,omitempty"`
    Keys      []Key  `json:"keys,omitempty"`
    Threshold uint32 `json:"threshold,omitempty"`
}

// Ed25519Key wraps a raw public key.
func Ed25519Key(pub ed25519.PublicKey) *Key {
    return &Key{Ed25519: append([]byte(nil), pub...)}
}

// KeyList builds a threshold list. threshold 0 requires every key.
func KeyList(threshold uint32, keys ...Key) *Key {
    return &Key{Keys: append([]Key(nil), keys...), Threshold: threshold}
}

func (k Key) IsList() bool { return len(k.Keys) > 0 }

// Required is the number of child keys that must be satisfied.
func (k Key) Required() int {
    if k.Threshold == 0 { return len(k.Keys) }
    return int(k.Threshold)
}

// Validate checks structural well-formedness. A public key may appear only
// once in the whole tree, otherwise one signature would count toward a
// threshold several times.
func (k Key) Validate() error { return k.validate(1, map[string]struct{}{}) }

func (k Key) validate(depth int, seen map[string]struct{}) error {
    if depth > MaxKeyDepth { return fmt.Errorf("%w: key nested deeper than %d", ErrInvalidKey, MaxKeyDepth) }
    switch {
    case len(k.Ed25519) > 0 && len(k.Keys) > 0:
        return fmt.Errorf("%w: both ed25519 and key list set", ErrInvalidKey)
    case len(k.Ed25519) > 0:
        if len(k.Ed25519) != ed25519.PublicKeySize {
            return fmt.Errorf("%w: ed25519 key must be %d bytes", ErrInvalidKey, ed25519.PublicKeySize)
        }
        if _, dup := seen[string(k.Ed25519)]; dup { return fmt.Errorf("%w: duplicate key %x", ErrInvalidKey, k.Ed25519) }
        seen[string(k.Ed25519)] = struct{}{}
        return nil
    case len(k.Keys) > 0:
        if int(k.Threshold) > len(k.Keys) {
            return fmt.Errorf("%w: threshold %d exceeds %d keys", ErrInvalidKey, k.Threshold, len(k.Keys))
        }
        for _, c := range k.Keys {
            if err := c.validate(depth+1, seen); err != nil { return err }
        }
        return nil
    default:
        return fmt.Errorf("%w: empty key", ErrInvalidKey)
    }
}

func (k Key) Equal(o Key) bool {
    if !bytes.Equal(k.Ed25519, o.Ed25519) || k.Threshold != o.Threshold || len(k.Keys) != len(o.Keys) {
        return false
    }
    for i := range k.Keys {
        if !k.Keys[i].Equal(o.Keys[i]) { return false }
    }
    return true
}

// Clone returns a deep copy.
func (k Key) Clone() Key {
    out := Key{Threshold: k.Threshold}
    if k.Ed25519 != nil { out.Ed25519 = append([]byte(nil), k.Ed25519...) }
    if k.Keys != nil {
        out.Keys = make([]Key, len(k.Keys))
        for i, c := range k.Keys { out.Keys[i] = c.Clone() }
    }
    return out
}

const (
    keyTagEd25519 byte = 1
    keyTagList    byte = 2
)

// AppendBinary appends the canonical encoding: a tag byte, then either the
// 32-byte public key or threshold(u32) count(u32) and the children.
func (k Key) AppendBinary(b []byte) []byte {
    if !k.IsList() {
        b = append(b, keyTagEd25519)
        return append(b, k.Ed25519...)
    }
    b = append(b, keyTagList)
    b = binary.BigEndian.AppendUint32(b, k.Threshold)
    b = binary.BigEndian.AppendUint32(b, uint32(len(k.Keys)))
    for _, c := range k.Keys { b = c.AppendBinary(b) }
    return b
}

// DecodeKey parses the canonical encoding and returns the remaining bytes.
func DecodeKey(b []byte) (Key, []byte, error) { return decodeKey(b, 1) }

func decodeKey(b []byte, depth int) (Key, []byte, error) {
    if depth > MaxKeyDepth { return Key{}, nil, fmt.Errorf("%w: key nested deeper than %d", ErrInvalidKey, MaxKeyDepth) }
    if len(b) < 1 { return Key{}, nil, fmt.Errorf("%w: truncated key", ErrInvalidKey) }
    switch b[0] {
    case keyTagEd25519:
        if len(b) < 1+ed25519.PublicKeySize { return Key{}, nil, fmt.Errorf("%w: truncated ed25519 key", ErrInvalidKey) }
        pub := append([]byte(nil), b[1:1+ed25519.PublicKeySize]...)
        return Key{Ed25519: pub}, b[1+ed25519.PublicKeySize:], nil
    case keyTagList:
        if len(b) < 9 { return Key{}, nil, fmt.Errorf("%w: truncated key list", ErrInvalidKey) }
        k := Key{Threshold: binary.BigEndian.Uint32(b[1:5])}
        n := binary.BigEndian.Uint32(b[5:9])
        rest := b[9:]
        // every child needs at least one byte
        if uint64(n) > uint64(len(rest)) { return Key{}, nil, fmt.Errorf("%w: key list count %d too large", ErrInvalidKey, n) }
        k.Keys = make([]Key, 0, n)
        for i := uint32(0); i < n; i++ {
            c, r, err := decodeKey(rest, depth+1)
            if err != nil { return Key{}, nil, err }
            k.Keys = append(k.Keys, c)
            rest = r
        }
        return k, rest, nil
    default:
        return Key{}, nil, fmt.Errorf("%w: unknown key tag %d", ErrInvalidKey, b[0])
    }
}
