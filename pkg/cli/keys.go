package cli

import (
    "crypto/ed25519"
    "crypto/rand"
    "encoding/hex"
    "encoding/json"
    "errors"
    "fmt"
    "os"

    "github.com/spf13/cobra"

    "github.com/amirimatin/go-topics/pkg/auth"
    "github.com/amirimatin/go-topics/pkg/topic"
)

// keyFile is what keygen writes: hex encoded, private key as the 32 byte seed.
type keyFile struct {
    PublicKey  string `json:"publicKey"`
    PrivateKey string `json:"privateKey"`
}

func writeKeyFile(path string, priv ed25519.PrivateKey) error {
    kf := keyFile{
        PublicKey:  hex.EncodeToString(priv.Public().(ed25519.PublicKey)),
        PrivateKey: hex.EncodeToString(priv.Seed()),
    }
    b, err := json.MarshalIndent(kf, "", "  ")
    if err != nil { return err }
    return os.WriteFile(path, append(b, '\n'), 0o600)
}

func readKeyFile(path string) (keyFile, error) {
    var kf keyFile
    b, err := os.ReadFile(path)
    if err != nil { return kf, err }
    if err := json.Unmarshal(b, &kf); err != nil { return kf, fmt.Errorf("key file %s: %w", path, err) }
    return kf, nil
}

// loadSigner reads a key file and returns a transaction signer.
func loadSigner(path string) (func([]byte) auth.SignaturePair, error) {
    kf, err := readKeyFile(path)
    if err != nil { return nil, err }
    seed, err := hex.DecodeString(kf.PrivateKey)
    if err != nil || len(seed) != ed25519.SeedSize { return nil, fmt.Errorf("key file %s: bad private key", path) }
    priv := ed25519.NewKeyFromSeed(seed)
    return func(msg []byte) auth.SignaturePair { return auth.Sign(priv, msg) }, nil
}

func loadSigners(paths []string) ([]func([]byte) auth.SignaturePair, error) {
    out := make([]func([]byte) auth.SignaturePair, 0, len(paths))
    for _, p := range paths {
        s, err := loadSigner(p)
        if err != nil { return nil, err }
        out = append(out, s)
    }
    return out, nil
}

// parsePublicKey accepts a hex public key or the path of a key file.
func parsePublicKey(s string) (topic.Key, error) {
    if b, err := hex.DecodeString(s); err == nil && len(b) == ed25519.PublicKeySize {
        return *topic.Ed25519Key(b), nil
    }
    kf, err := readKeyFile(s)
    if err != nil { return topic.Key{}, fmt.Errorf("key %q is neither a hex public key nor a readable key file: %w", s, err) }
    b, err := hex.DecodeString(kf.PublicKey)
    if err != nil || len(b) != ed25519.PublicKeySize { return topic.Key{}, fmt.Errorf("key file %s: bad public key", s) }
    return *topic.Ed25519Key(b), nil
}

// buildKey turns repeated key flags into a Key: nil for none, the key itself
// for one, a threshold list otherwise.
func buildKey(specs []string, threshold uint32) (*topic.Key, error) {
    if len(specs) == 0 {
        if threshold != 0 { return nil, errors.New("threshold given without keys") }
        return nil, nil
    }
    keys := make([]topic.Key, 0, len(specs))
    for _, s := range specs {
        k, err := parsePublicKey(s)
        if err != nil { return nil, err }
        keys = append(keys, k)
    }
    if len(keys) == 1 && threshold <= 1 { return &keys[0], nil }
    k := topic.KeyList(threshold, keys...)
    if err := k.Validate(); err != nil { return nil, err }
    return k, nil
}

// NewKeygenCmd returns the "keygen" command.
func NewKeygenCmd() *cobra.Command {
    var out string
    cmd := &cobra.Command{
        Use:   "keygen",
        Short: "Generate an Ed25519 key file for signing transactions",
        RunE: func(cmd *cobra.Command, args []string) error {
            if out == "" { return fmt.Errorf("missing --out") }
            if _, err := os.Stat(out); err == nil { return fmt.Errorf("%s already exists", out) }
            _, priv, err := ed25519.GenerateKey(rand.Reader)
            if err != nil { return err }
            if err := writeKeyFile(out, priv); err != nil { return err }
            fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(priv.Public().(ed25519.PublicKey)))
            return nil
        },
    }
    cmd.Flags().StringVar(&out, "out", "", "path of the key file to create (required)")
    return cmd
}
