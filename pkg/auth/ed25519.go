package auth

import "crypto/ed25519"

// Ed25519Verifier is the reference Verifier.
type Ed25519Verifier struct{}

func (Ed25519Verifier) Verify(pub, msg, sig []byte) bool {
    if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize { return false }
    return ed25519.Verify(ed25519.PublicKey(pub), msg, sig)
}

// Sign produces the signature pair a client attaches for msg, the
// transaction's signing bytes.
func Sign(priv ed25519.PrivateKey, msg []byte) SignaturePair {
    pub := priv.Public().(ed25519.PublicKey)
    return SignaturePair{PublicKey: append([]byte(nil), pub...), Signature: ed25519.Sign(priv, msg)}
}

var _ Verifier = Ed25519Verifier{}
