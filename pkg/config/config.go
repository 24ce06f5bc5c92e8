// Package config holds the network-wide parameters every replica must agree
// on: topic limits and the reference billing ledger seed.
//
// Load reads a JSON file, fills defaults for anything absent and then applies
// TOPICS_* environment overrides. Replicas loading different values will
// diverge, so the file is meant to be distributed with the network.
package config

import (
    "encoding/json"
    "errors"
    "fmt"
    "os"
    "strconv"
    "time"

    validation "github.com/go-ozzo/ozzo-validation/v4"

    "github.com/amirimatin/go-topics/pkg/billing"
    "github.com/amirimatin/go-topics/pkg/topic"
)

const (
    DefaultMaxMessageBytes     = 1024
    DefaultMaxMemoBytes        = 100
    DefaultMinAutoRenewSeconds = 6999999
    DefaultMaxAutoRenewSeconds = 8000001
    DefaultFirstTopicNum       = 1001
    DefaultDedupWindow         = 180 * time.Second
)

// Duration is a time.Duration written as a Go duration string in JSON.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) { return []byte(time.Duration(d).String()), nil }

func (d *Duration) UnmarshalText(b []byte) error {
    v, err := time.ParseDuration(string(b))
    if err != nil { return err }
    *d = Duration(v)
    return nil
}

type Limits struct {
    MaxMessageBytes     int      `json:"maxMessageBytes"`
    MaxMemoBytes        int      `json:"maxMemoBytes"`
    MinAutoRenewSeconds int64    `json:"minAutoRenewSeconds"`
    MaxAutoRenewSeconds int64    `json:"maxAutoRenewSeconds"`
    Shard               uint64   `json:"shard"`
    Realm               uint64   `json:"realm"`
    FirstTopicNum       uint64   `json:"firstTopicNum"`
    DedupWindow         Duration `json:"dedupWindow"`
}

func (l Limits) Validate() error {
    return validation.ValidateStruct(&l,
        validation.Field(&l.MaxMessageBytes, validation.Required, validation.Min(1)),
        validation.Field(&l.MaxMemoBytes, validation.Min(0)),
        validation.Field(&l.MinAutoRenewSeconds, validation.Required, validation.Min(int64(1))),
        validation.Field(&l.MaxAutoRenewSeconds, validation.Required, validation.Min(l.MinAutoRenewSeconds)),
        validation.Field(&l.FirstTopicNum, validation.Required),
        validation.Field(&l.DedupWindow, validation.By(func(any) error {
            if l.DedupWindow < 0 { return errors.New("must not be negative") }
            return nil
        })),
    )
}

type Account struct {
    ID      topic.AccountID `json:"id"`
    Balance uint64          `json:"balance"`
}

type Billing struct {
    RatePerSecond uint64    `json:"ratePerSecond"`
    Accounts      []Account `json:"accounts"`
}

func (b Billing) Validate() error {
    seen := make(map[topic.AccountID]bool, len(b.Accounts))
    for _, a := range b.Accounts {
        if seen[a.ID] { return fmt.Errorf("accounts: duplicate account %s", a.ID) }
        seen[a.ID] = true
    }
    return nil
}

// Ledger builds the reference billing ledger seeded with Accounts.
func (b Billing) Ledger() *billing.Ledger {
    balances := make(map[topic.AccountID]uint64, len(b.Accounts))
    for _, a := range b.Accounts { balances[a.ID] = a.Balance }
    return billing.NewLedger(b.RatePerSecond, balances)
}

type Config struct {
    Limits  Limits  `json:"limits"`
    Billing Billing `json:"billing"`
}

func (c Config) Validate() error {
    return validation.ValidateStruct(&c,
        validation.Field(&c.Limits),
        validation.Field(&c.Billing),
    )
}

// Default returns the stock network parameters.
func Default() Config {
    return Config{
        Limits: Limits{
            MaxMessageBytes:     DefaultMaxMessageBytes,
            MaxMemoBytes:        DefaultMaxMemoBytes,
            MinAutoRenewSeconds: DefaultMinAutoRenewSeconds,
            MaxAutoRenewSeconds: DefaultMaxAutoRenewSeconds,
            FirstTopicNum:       DefaultFirstTopicNum,
            DedupWindow:         Duration(DefaultDedupWindow),
        },
        Billing: Billing{RatePerSecond: 1},
    }
}

// Load reads path (empty means defaults only), applies environment overrides
// and validates the result.
func Load(path string) (Config, error) {
    cfg := Default()
    if path != "" {
        b, err := os.ReadFile(path)
        if err != nil { return Config{}, fmt.Errorf("config: read %s: %w", path, err) }
        if err := json.Unmarshal(b, &cfg); err != nil { return Config{}, fmt.Errorf("config: parse %s: %w", path, err) }
    }
    if err := applyEnv(&cfg, os.LookupEnv); err != nil { return Config{}, err }
    if err := cfg.Validate(); err != nil { return Config{}, fmt.Errorf("config: %w", err) }
    return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
    ints := []struct {
        name string
        set  func(int64)
    }{
        {"TOPICS_MAX_MESSAGE_BYTES", func(v int64) { cfg.Limits.MaxMessageBytes = int(v) }},
        {"TOPICS_MAX_MEMO_BYTES", func(v int64) { cfg.Limits.MaxMemoBytes = int(v) }},
        {"TOPICS_MIN_AUTO_RENEW_SECONDS", func(v int64) { cfg.Limits.MinAutoRenewSeconds = v }},
        {"TOPICS_MAX_AUTO_RENEW_SECONDS", func(v int64) { cfg.Limits.MaxAutoRenewSeconds = v }},
        {"TOPICS_SHARD", func(v int64) { cfg.Limits.Shard = uint64(v) }},
        {"TOPICS_REALM", func(v int64) { cfg.Limits.Realm = uint64(v) }},
        {"TOPICS_FIRST_TOPIC_NUM", func(v int64) { cfg.Limits.FirstTopicNum = uint64(v) }},
        {"TOPICS_RENEW_RATE", func(v int64) { cfg.Billing.RatePerSecond = uint64(v) }},
    }
    for _, e := range ints {
        s, ok := lookup(e.name)
        if !ok || s == "" { continue }
        v, err := strconv.ParseInt(s, 10, 64)
        if err != nil { return fmt.Errorf("config: %s: %w", e.name, err) }
        if v < 0 { return fmt.Errorf("config: %s must not be negative", e.name) }
        e.set(v)
    }
    if s, ok := lookup("TOPICS_DEDUP_WINDOW"); ok && s != "" {
        d, err := time.ParseDuration(s)
        if err != nil { return fmt.Errorf("config: TOPICS_DEDUP_WINDOW: %w", err) }
        cfg.Limits.DedupWindow = Duration(d)
    }
    return nil
}
