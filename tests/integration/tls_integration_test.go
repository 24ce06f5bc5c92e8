//go:build integration

package integration

import (
    "context"
    "crypto/ecdsa"
    "crypto/elliptic"
    "crypto/rand"
    "crypto/x509"
    "crypto/x509/pkix"
    "encoding/pem"
    "math/big"
    "os"
    "path/filepath"
    "testing"
    "time"

    "github.com/amirimatin/go-topics/pkg/bootstrap"
    "github.com/amirimatin/go-topics/pkg/machine"
)

func writeSelfSigned(t *testing.T, dir string) (cert, key string) {
    t.Helper()
    k, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
    if err != nil { t.Fatal(err) }
    tmpl := &x509.Certificate{
        SerialNumber:          big.NewInt(7),
        Subject:               pkix.Name{CommonName: "localhost"},
        DNSNames:              []string{"localhost"},
        NotBefore:             time.Now().Add(-time.Hour),
        NotAfter:              time.Now().Add(time.Hour),
        IsCA:                  true,
        BasicConstraintsValid: true,
        KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
        ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
    }
    der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &k.PublicKey, k)
    if err != nil { t.Fatal(err) }
    kder, err := x509.MarshalECPrivateKey(k)
    if err != nil { t.Fatal(err) }
    cert, key = filepath.Join(dir, "node.crt"), filepath.Join(dir, "node.key")
    if err := os.WriteFile(cert, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600); err != nil { t.Fatal(err) }
    if err := os.WriteFile(key, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: kder}), 0o600); err != nil { t.Fatal(err) }
    return cert, key
}

// The management API over mutual TLS on both the HTTP and the gRPC listener.
func TestMutualTLS_HTTPAndGRPC(t *testing.T) {
    ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
    defer cancel()
    cert, key := writeSelfSigned(t, t.TempDir())
    cfg := config(1)
    cfg.MemBind = ""
    cfg.GRPCAddr = "127.0.0.1:17947"
    cfg.TLSEnable, cfg.TLSCA, cfg.TLSCert, cfg.TLSKey, cfg.TLSServerName = true, cert, key, cert, "localhost"
    n := start(t, ctx, cfg)
    defer n.Close()
    waitUntil(t, 10*time.Second, func() error { return n.Health() })

    _, cliTLS, err := cfg.TLS()
    if err != nil { t.Fatalf("tls: %v", err) }
    https := bootstrap.Client("http", 3*time.Second, cliTLS)
    grpcs := bootstrap.Client("grpc", 3*time.Second, cliTLS)

    id := createTopic(t, ctx, https, mgmt(1))
    r := submit(t, ctx, grpcs, cfg.GRPCAddr, machine.KindSubmit, machine.SubmitMessageBody{TopicID: id, Message: []byte("over grpc")})
    if r.SequenceNumber != 1 { t.Fatalf("seq = %d", r.SequenceNumber) }

    if _, err := newClient().GetStatus(ctx, mgmt(1)); err == nil { t.Fatalf("plaintext client reached a TLS listener") }
}
