// Package tlsconfig builds mutual TLS configs for the management API from
// PEM files. The hot-reload variants re-read the key pair at most every
// ReloadEvery so certificates can be rotated in place.
package tlsconfig

import (
    "crypto/tls"
    "crypto/x509"
    "errors"
    "fmt"
    "os"
    "sync"
    "time"
)

// ReloadEvery bounds how long a loaded key pair is reused.
const ReloadEvery = 10 * time.Second

var ErrMissingKeyPair = errors.New("tlsconfig: server cert and key are required")

type Options struct {
    Enable             bool
    CAFile             string
    CertFile           string
    KeyFile            string
    InsecureSkipVerify bool
    ServerName         string
}

func (o Options) pool() (*x509.CertPool, error) {
    if o.CAFile == "" { return nil, nil }
    pem, err := os.ReadFile(o.CAFile)
    if err != nil { return nil, fmt.Errorf("tlsconfig: read CA: %w", err) }
    pool := x509.NewCertPool()
    if !pool.AppendCertsFromPEM(pem) { return nil, fmt.Errorf("tlsconfig: no certificates in %s", o.CAFile) }
    return pool, nil
}

func (o Options) server() (*tls.Config, error) {
    if o.CertFile == "" || o.KeyFile == "" { return nil, ErrMissingKeyPair }
    pool, err := o.pool()
    if err != nil { return nil, err }
    cfg := &tls.Config{MinVersion: tls.VersionTLS12}
    if pool != nil {
        cfg.ClientCAs = pool
        cfg.ClientAuth = tls.RequireAndVerifyClientCert
    }
    return cfg, nil
}

func (o Options) client() (*tls.Config, error) {
    pool, err := o.pool()
    if err != nil { return nil, err }
    return &tls.Config{MinVersion: tls.VersionTLS12, RootCAs: pool, ServerName: o.ServerName, InsecureSkipVerify: o.InsecureSkipVerify}, nil //nolint:gosec
}

// Server loads the key pair once. A CA file turns on client verification.
// It returns nil when TLS is disabled.
func (o Options) Server() (*tls.Config, error) {
    if !o.Enable { return nil, nil }
    cfg, err := o.server()
    if err != nil { return nil, err }
    cert, err := tls.LoadX509KeyPair(o.CertFile, o.KeyFile)
    if err != nil { return nil, fmt.Errorf("tlsconfig: load key pair: %w", err) }
    cfg.Certificates = []tls.Certificate{cert}
    return cfg, nil
}

// Client presents a key pair when one is configured.
func (o Options) Client() (*tls.Config, error) {
    if !o.Enable { return nil, nil }
    cfg, err := o.client()
    if err != nil { return nil, err }
    if o.CertFile != "" && o.KeyFile != "" {
        cert, err := tls.LoadX509KeyPair(o.CertFile, o.KeyFile)
        if err != nil { return nil, fmt.Errorf("tlsconfig: load key pair: %w", err) }
        cfg.Certificates = []tls.Certificate{cert}
    }
    return cfg, nil
}

func (o Options) ServerHotReload() (*tls.Config, error) {
    if !o.Enable { return nil, nil }
    cfg, err := o.server()
    if err != nil { return nil, err }
    kp := &keyPair{cert: o.CertFile, key: o.KeyFile}
    // fail fast on a bad pair instead of on the first handshake
    if _, err := kp.get(); err != nil { return nil, err }
    cfg.GetCertificate = func(*tls.ClientHelloInfo) (*tls.Certificate, error) { return kp.get() }
    return cfg, nil
}

func (o Options) ClientHotReload() (*tls.Config, error) {
    if !o.Enable { return nil, nil }
    cfg, err := o.client()
    if err != nil { return nil, err }
    if o.CertFile == "" || o.KeyFile == "" { return cfg, nil }
    kp := &keyPair{cert: o.CertFile, key: o.KeyFile}
    cfg.GetClientCertificate = func(*tls.CertificateRequestInfo) (*tls.Certificate, error) { return kp.get() }
    return cfg, nil
}

type keyPair struct {
    cert, key string
    mu        sync.Mutex
    cached    *tls.Certificate
    loaded    time.Time
}

func (k *keyPair) get() (*tls.Certificate, error) {
    k.mu.Lock(); defer k.mu.Unlock()
    if k.cached != nil && time.Since(k.loaded) < ReloadEvery { return k.cached, nil }
    c, err := tls.LoadX509KeyPair(k.cert, k.key)
    if err != nil {
        // keep serving the previous pair while a rotation is half written
        if k.cached != nil { return k.cached, nil }
        return nil, fmt.Errorf("tlsconfig: load key pair: %w", err)
    }
    k.cached, k.loaded = &c, time.Now()
    return k.cached, nil
}
