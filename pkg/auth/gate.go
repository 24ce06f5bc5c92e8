// Package auth sequences the admin/submit key policy of topics. It never
// performs cryptography itself: signature checks are delegated to a Verifier.
package auth

import (
    "bytes"
    "fmt"

    "github.com/amirimatin/go-topics/pkg/topic"
)

// Verifier checks a signature over msg under a raw public key. It must be a
// pure function so every replica reaches the same decision.
type Verifier interface {
    Verify(pub, msg, sig []byte) bool
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(pub, msg, sig []byte) bool

func (f VerifierFunc) Verify(pub, msg, sig []byte) bool { return f(pub, msg, sig) }

// SignaturePair is one signature in a transaction's signature bundle.
type SignaturePair struct {
    PublicKey []byte `json:"publicKey"`
    Signature []byte `json:"signature"`
}

// Operation is the kind of access being authorized.
type Operation string

const (
    OpCreate Operation = "create"
    OpUpdate Operation = "update"
    OpDelete Operation = "delete"
    OpSubmit Operation = "submit"
)

// Reason explains a denial.
type Reason string

const (
    ReasonImmutableTopic   Reason = "ImmutableTopic"
    ReasonMissingSignature Reason = "MissingSignature"
    ReasonInvalidSignature Reason = "InvalidSignature"
    ReasonInvalidKey       Reason = "InvalidKey"
)

// Denial is returned when the policy denies an operation. It unwraps to
// topic.ErrUnauthorized.
type Denial struct {
    Op     Operation
    Reason Reason
}

func (d *Denial) Error() string { return fmt.Sprintf("auth: %s denied: %s", d.Op, d.Reason) }

func (d *Denial) Unwrap() error { return topic.ErrUnauthorized }

// Gate is the authorization policy. The zero value is unusable; use New.
type Gate struct {
    v Verifier
}

func New(v Verifier) *Gate {
    if v == nil { v = Ed25519Verifier{} }
    return &Gate{v: v}
}

// Authorize decides whether op on st is allowed given the signatures over
// msg, the transaction's signing bytes. It returns nil when allowed and a
// *Denial otherwise.
func (g *Gate) Authorize(st topic.State, op Operation, msg []byte, sigs []SignaturePair) error {
    switch op {
    case OpUpdate, OpDelete:
        if st.AdminKey == nil { return &Denial{Op: op, Reason: ReasonImmutableTopic} }
        return g.Require(op, *st.AdminKey, msg, sigs)
    case OpSubmit:
        if st.SubmitKey == nil { return nil }
        return g.Require(op, *st.SubmitKey, msg, sigs)
    case OpCreate:
        if st.AdminKey == nil { return nil }
        return g.Require(op, *st.AdminKey, msg, sigs)
    default:
        return fmt.Errorf("auth: unknown operation %q", op)
    }
}

// Require checks that key is satisfied by sigs over msg.
func (g *Gate) Require(op Operation, key topic.Key, msg []byte, sigs []SignaturePair) error {
    if err := key.Validate(); err != nil { return &Denial{Op: op, Reason: ReasonInvalidKey} }
    switch g.satisfied(key, msg, sigs) {
    case verdictOK:
        return nil
    case verdictMissing:
        return &Denial{Op: op, Reason: ReasonMissingSignature}
    default:
        return &Denial{Op: op, Reason: ReasonInvalidSignature}
    }
}

type verdict int

const (
    verdictOK verdict = iota
    verdictMissing
    verdictInvalid
)

func (g *Gate) satisfied(key topic.Key, msg []byte, sigs []SignaturePair) verdict {
    if !key.IsList() {
        found := false
        for _, sp := range sigs {
            if !bytes.Equal(sp.PublicKey, key.Ed25519) { continue }
            found = true
            if g.v.Verify(key.Ed25519, msg, sp.Signature) { return verdictOK }
        }
        if found { return verdictInvalid }
        return verdictMissing
    }
    need := key.Required()
    ok, anyInvalid := 0, false
    for _, child := range key.Keys {
        switch g.satisfied(child, msg, sigs) {
        case verdictOK:
            ok++
            if ok >= need { return verdictOK }
        case verdictInvalid:
            anyInvalid = true
        }
    }
    if anyInvalid { return verdictInvalid }
    return verdictMissing
}
