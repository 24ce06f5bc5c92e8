package config

import (
    "os"
    "path/filepath"
    "testing"
    "time"

    "github.com/amirimatin/go-topics/pkg/topic"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
    cfg, err := Load("")
    if err != nil { t.Fatalf("load: %v", err) }
    l := cfg.Limits
    if l.MaxMessageBytes != 1024 || l.MaxMemoBytes != 100 || l.MinAutoRenewSeconds != 6999999 || l.MaxAutoRenewSeconds != 8000001 {
        t.Fatalf("limits = %+v", l)
    }
    if l.FirstTopicNum != 1001 || time.Duration(l.DedupWindow) != 180*time.Second { t.Fatalf("limits = %+v", l) }
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
    path := filepath.Join(t.TempDir(), "network.json")
    body := `{"limits":{"maxMessageBytes":2048,"dedupWindow":"1m"},"billing":{"ratePerSecond":3,"accounts":[{"id":"0.0.98","balance":500}]}}`
    if err := os.WriteFile(path, []byte(body), 0o600); err != nil { t.Fatalf("write: %v", err) }
    cfg, err := Load(path)
    if err != nil { t.Fatalf("load: %v", err) }
    if cfg.Limits.MaxMessageBytes != 2048 || cfg.Limits.MaxMemoBytes != 100 { t.Fatalf("limits = %+v", cfg.Limits) }
    if time.Duration(cfg.Limits.DedupWindow) != time.Minute { t.Fatalf("dedup = %v", cfg.Limits.DedupWindow) }
    led := cfg.Billing.Ledger()
    if b, ok := led.Balance(topic.AccountID{Num: 98}); !ok || b != 500 { t.Fatalf("seed balance = %d %v", b, ok) }
    if led.Fee(10) != 30 { t.Fatalf("fee = %d", led.Fee(10)) }
}

func TestApplyEnv(t *testing.T) {
    cfg := Default()
    env := map[string]string{"TOPICS_MAX_MEMO_BYTES": "10", "TOPICS_SHARD": "2", "TOPICS_DEDUP_WINDOW": "5s"}
    lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }
    if err := applyEnv(&cfg, lookup); err != nil { t.Fatalf("apply: %v", err) }
    if cfg.Limits.MaxMemoBytes != 10 || cfg.Limits.Shard != 2 || time.Duration(cfg.Limits.DedupWindow) != 5*time.Second {
        t.Fatalf("limits = %+v", cfg.Limits)
    }
    env["TOPICS_MAX_MESSAGE_BYTES"] = "lots"
    if err := applyEnv(&cfg, lookup); err == nil { t.Fatalf("bad integer must fail") }
}

func TestValidate_RejectsBadRanges(t *testing.T) {
    cfg := Default()
    cfg.Limits.MaxAutoRenewSeconds = cfg.Limits.MinAutoRenewSeconds - 1
    if err := cfg.Validate(); err == nil { t.Fatalf("max below min must fail") }

    cfg = Default()
    cfg.Limits.MaxMessageBytes = 0
    if err := cfg.Validate(); err == nil { t.Fatalf("zero message size must fail") }

    cfg = Default()
    cfg.Billing.Accounts = []Account{{ID: topic.AccountID{Num: 1}}, {ID: topic.AccountID{Num: 1}}}
    if err := cfg.Validate(); err == nil { t.Fatalf("duplicate account must fail") }
}
