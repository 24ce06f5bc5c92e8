package cli

import (
    "bufio"
    "context"
    "encoding/json"
    "fmt"
    "io"
    "log"
    "os"
    "time"

    "github.com/spf13/cobra"

    "github.com/amirimatin/go-topics/pkg/archive"
    "github.com/amirimatin/go-topics/pkg/config"
    "github.com/amirimatin/go-topics/pkg/machine"
    "github.com/amirimatin/go-topics/pkg/store/memory"
    "github.com/amirimatin/go-topics/pkg/topic"
)

// NewVerifyCmd returns the "verify" command that rechecks an archived
// topic's running hash chain offline.
func NewVerifyCmd() *cobra.Command {
    var path, id string
    cmd := &cobra.Command{
        Use:   "verify",
        Short: "Verify the running hash chain of an archived topic",
        RunE: func(cmd *cobra.Command, args []string) error {
            if path == "" { return fmt.Errorf("missing --archive") }
            tid, err := topic.ParseID(id)
            if err != nil { return err }
            a, err := archive.Open(path)
            if err != nil { return err }
            defer a.Close()
            head, err := a.VerifyChain(cmd.Context(), tid)
            if err != nil { return err }
            fmt.Fprintf(cmd.OutOrStdout(), "%s ok, head %s\n", tid, head)
            return nil
        },
    }
    cmd.Flags().StringVar(&path, "archive", "", "sqlite archive path (required)")
    cmd.Flags().StringVar(&id, "id", "", "topic id (shard.realm.num)")
    return cmd
}

// replayer feeds JSON-lines transactions into a fresh in-memory machine.
// Transactions without a consensus timestamp are stamped one millisecond
// after the previous one.
type replayer struct {
    m    *machine.Machine
    next time.Time
}

func (rp *replayer) run(ctx context.Context, in io.Reader) (int, error) {
    sc := bufio.NewScanner(in)
    sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
    n, line := 0, 0
    for sc.Scan() {
        line++
        b := sc.Bytes()
        if len(b) == 0 || b[0] == '#' { continue }
        tx, err := machine.UnmarshalTransaction(b)
        if err != nil { return n, fmt.Errorf("line %d: %w", line, err) }
        if tx.ConsensusTimestamp.IsZero() {
            tx.ConsensusTimestamp = rp.next
        }
        rp.next = tx.ConsensusTimestamp.Add(time.Millisecond)
        if _, err := rp.m.Process(ctx, tx); err != nil { return n, fmt.Errorf("line %d: %w", line, err) }
        n++
    }
    return n, sc.Err()
}

// NewReplayCmd returns the "replay" command. Every receipt, reclamation
// actions included, is printed as a JSON line.
func NewReplayCmd() *cobra.Command {
    var (
        in, netCfg, archivePath, start string
        quiet                          bool
    )
    cmd := &cobra.Command{
        Use:   "replay",
        Short: "Replay transactions from a JSON-lines file through a local state machine",
        RunE: func(cmd *cobra.Command, args []string) error {
            cfg, err := config.Load(netCfg)
            if err != nil { return err }
            logger := log.New(io.Discard, "", 0)
            if !quiet { logger = log.New(cmd.ErrOrStderr(), "", log.LstdFlags) }
            m, err := machine.New(machine.Options{Store: memory.New(), Billing: cfg.Billing.Ledger(), Limits: cfg.Limits, Logger: logger})
            if err != nil { return err }

            enc := json.NewEncoder(cmd.OutOrStdout())
            m.Subscribe(machine.ObserverFunc(func(r machine.Receipt, _ machine.Transaction) { _ = enc.Encode(r) }))
            var recErr error
            if archivePath != "" {
                a, err := archive.Open(archivePath)
                if err != nil { return err }
                defer a.Close()
                m.Subscribe(machine.ObserverFunc(func(r machine.Receipt, tx machine.Transaction) {
                    if err := a.Record(cmd.Context(), r, tx); err != nil && recErr == nil { recErr = err }
                }))
            }

            rp := &replayer{m: m, next: time.Now().UTC()}
            if start != "" {
                if rp.next, err = time.Parse(time.RFC3339Nano, start); err != nil { return fmt.Errorf("--start: %w", err) }
            }
            src := io.Reader(cmd.InOrStdin())
            if in != "" && in != "-" {
                f, err := os.Open(in)
                if err != nil { return err }
                defer f.Close()
                src = f
            }
            n, err := rp.run(cmd.Context(), src)
            if err != nil { return err }
            if recErr != nil { return fmt.Errorf("archive: %w", recErr) }
            topics, err := m.Topics()
            if err != nil { return err }
            fmt.Fprintf(cmd.ErrOrStderr(), "replayed %d transactions, %d live topics\n", n, len(topics))
            return nil
        },
    }
    cmd.Flags().StringVar(&in, "in", "-", "JSON-lines transaction file, or - for stdin")
    cmd.Flags().StringVar(&netCfg, "config", "", "network config file (limits, billing accounts)")
    cmd.Flags().StringVar(&archivePath, "archive", "", "also record receipts into this sqlite archive")
    cmd.Flags().StringVar(&start, "start", "", "consensus time for the first unstamped transaction (RFC3339, default now)")
    cmd.Flags().BoolVar(&quiet, "quiet", false, "suppress machine logs")
    return cmd
}
