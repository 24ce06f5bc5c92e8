package cli

import (
    "bufio"
    "bytes"
    "encoding/json"
    "os"
    "path/filepath"
    "strings"
    "testing"
    "time"

    "github.com/amirimatin/go-topics/pkg/auth"
    "github.com/amirimatin/go-topics/pkg/machine"
    "github.com/amirimatin/go-topics/pkg/topic"
)

func TestKeygenAndKeys(t *testing.T) {
    dir := t.TempDir()
    path := filepath.Join(dir, "admin.key")
    var out bytes.Buffer
    cmd := NewKeygenCmd()
    cmd.SetOut(&out)
    cmd.SetArgs([]string{"--out", path})
    if err := cmd.Execute(); err != nil { t.Fatalf("keygen: %v", err) }
    pubHex := strings.TrimSpace(out.String())
    if len(pubHex) != 64 { t.Fatalf("public key = %q", pubHex) }
    if fi, err := os.Stat(path); err != nil || fi.Mode().Perm() != 0o600 { t.Fatalf("key file: %v %v", fi, err) }

    // refuses to overwrite
    cmd = NewKeygenCmd()
    cmd.SetOut(&out)
    cmd.SetArgs([]string{"--out", path})
    if err := cmd.Execute(); err == nil { t.Fatalf("keygen overwrote %s", path) }

    fromFile, err := parsePublicKey(path)
    if err != nil { t.Fatalf("parse file: %v", err) }
    fromHex, err := parsePublicKey(pubHex)
    if err != nil { t.Fatalf("parse hex: %v", err) }
    if !fromFile.Equal(fromHex) { t.Fatalf("file and hex keys differ") }

    sign, err := loadSigner(path)
    if err != nil { t.Fatalf("signer: %v", err) }
    sp := sign([]byte("body"))
    if !(auth.Ed25519Verifier{}).Verify(fromHex.Ed25519, []byte("body"), sp.Signature) { t.Fatalf("signature does not verify") }

    k, err := buildKey([]string{path}, 0)
    if err != nil || k == nil || k.IsList() { t.Fatalf("single key = %+v %v", k, err) }
    k, err = buildKey([]string{path, pubHex}, 1)
    if err != nil || !k.IsList() || k.Required() != 1 { t.Fatalf("list key = %+v %v", k, err) }
    if _, err := buildKey([]string{path, pubHex}, 3); err == nil { t.Fatalf("threshold above key count accepted") }
    if _, err := buildKey(nil, 2); err == nil { t.Fatalf("threshold without keys accepted") }
    if k, err := buildKey(nil, 0); k != nil || err != nil { t.Fatalf("no keys = %+v %v", k, err) }
    if _, err := parsePublicKey("zz"); err == nil { t.Fatalf("garbage key accepted") }
}

func writeTxs(t *testing.T, path string, txs ...machine.Transaction) {
    t.Helper()
    var buf bytes.Buffer
    buf.WriteString("# replay input\n")
    for _, tx := range txs {
        b, err := machine.MarshalTransaction(tx)
        if err != nil { t.Fatalf("marshal: %v", err) }
        buf.Write(b)
        buf.WriteByte('\n')
    }
    if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil { t.Fatalf("write: %v", err) }
}

func TestReplayThenVerify(t *testing.T) {
    dir := t.TempDir()
    id := topic.ID{Num: 1001}
    create, err := machine.NewTransaction(machine.KindCreate, machine.CreateTopicBody{AutoRenewSeconds: 7000000})
    if err != nil { t.Fatalf("create tx: %v", err) }
    var txs []machine.Transaction
    txs = append(txs, create)
    for _, msg := range []string{"a", "b"} {
        tx, err := machine.NewTransaction(machine.KindSubmit, machine.SubmitMessageBody{TopicID: id, Message: []byte(msg)})
        if err != nil { t.Fatalf("submit tx: %v", err) }
        txs = append(txs, tx)
    }
    in := filepath.Join(dir, "txs.jsonl")
    writeTxs(t, in, txs...)
    arch := filepath.Join(dir, "archive.db")

    var out, errOut bytes.Buffer
    cmd := NewReplayCmd()
    cmd.SetOut(&out)
    cmd.SetErr(&errOut)
    cmd.SetArgs([]string{"--in", in, "--archive", arch, "--quiet", "--start", "2024-01-01T00:00:00Z"})
    if err := cmd.Execute(); err != nil { t.Fatalf("replay: %v (%s)", err, errOut.String()) }

    var receipts []machine.Receipt
    sc := bufio.NewScanner(&out)
    for sc.Scan() {
        var r machine.Receipt
        if err := json.Unmarshal(sc.Bytes(), &r); err != nil { t.Fatalf("decode receipt %q: %v", sc.Text(), err) }
        receipts = append(receipts, r)
    }
    if len(receipts) != 3 { t.Fatalf("receipts = %d", len(receipts)) }
    for _, r := range receipts {
        if !r.OK() { t.Fatalf("receipt not ok: %s %s", r, r.Reason) }
    }
    if receipts[0].TopicID != id { t.Fatalf("created %s", receipts[0].TopicID) }
    if last := receipts[2]; last.SequenceNumber != 2 { t.Fatalf("last seq = %d", last.SequenceNumber) }
    if !receipts[1].ConsensusTimestamp.After(receipts[0].ConsensusTimestamp) { t.Fatalf("timestamps not increasing") }
    if !strings.Contains(errOut.String(), "replayed 3 transactions") { t.Fatalf("summary = %q", errOut.String()) }

    out.Reset()
    cmd = NewVerifyCmd()
    cmd.SetOut(&out)
    cmd.SetArgs([]string{"--archive", arch, "--id", id.String()})
    if err := cmd.Execute(); err != nil { t.Fatalf("verify: %v", err) }
    if !strings.Contains(out.String(), receipts[2].RunningHash.String()) { t.Fatalf("verify output %q lacks head %s", out.String(), receipts[2].RunningHash) }
}

func TestReplayRejectsOutOfOrder(t *testing.T) {
    dir := t.TempDir()
    a, _ := machine.NewTransaction(machine.KindCreate, machine.CreateTopicBody{AutoRenewSeconds: 7000000})
    b, _ := machine.NewTransaction(machine.KindCreate, machine.CreateTopicBody{AutoRenewSeconds: 7000000})
    var err error
    if a.ConsensusTimestamp, err = time.Parse(time.RFC3339, "2024-01-02T00:00:00Z"); err != nil { t.Fatal(err) }
    if b.ConsensusTimestamp, err = time.Parse(time.RFC3339, "2024-01-01T00:00:00Z"); err != nil { t.Fatal(err) }
    in := filepath.Join(dir, "txs.jsonl")
    writeTxs(t, in, a, b)
    cmd := NewReplayCmd()
    cmd.SetOut(&bytes.Buffer{})
    cmd.SetErr(&bytes.Buffer{})
    cmd.SetArgs([]string{"--in", in, "--quiet"})
    err = cmd.Execute()
    if err == nil || !strings.Contains(err.Error(), "line 3") { t.Fatalf("err = %v", err) }
}

func TestRootWiring(t *testing.T) {
    root := NewTopicsCommand()
    want := []string{"run", "status", "join", "leave", "keygen", "topic", "submit", "watch", "verify", "replay"}
    for _, name := range want {
        c, _, err := root.Find([]string{name})
        if err != nil || c.Name() != name { t.Fatalf("missing %s: %v", name, err) }
    }
    c, _, err := root.Find([]string{"topic", "update"})
    if err != nil || c.Flags().Lookup("clear-submit-key") == nil { t.Fatalf("topic update flags: %v", err) }
}
