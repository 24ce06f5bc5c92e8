package cli

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "os"
    "time"

    "github.com/spf13/cobra"

    "github.com/amirimatin/go-topics/pkg/config"
    "github.com/amirimatin/go-topics/pkg/machine"
    "github.com/amirimatin/go-topics/pkg/topic"
    "github.com/amirimatin/go-topics/pkg/transport"
)

// NewTopicCmd returns the "topic" parent with create, update, delete and get.
func NewTopicCmd() *cobra.Command {
    parent := &cobra.Command{Use: "topic", Short: "Create, update, delete and inspect topics"}
    parent.AddCommand(newTopicCreateCmd())
    parent.AddCommand(newTopicUpdateCmd())
    parent.AddCommand(newTopicDeleteCmd())
    parent.AddCommand(newTopicGetCmd())
    return parent
}

// keyFlags collects one key slot: repeated --<name>-key and a threshold.
type keyFlags struct {
    specs     []string
    threshold uint32
}

func (k *keyFlags) bind(cmd *cobra.Command, name string) {
    cmd.Flags().StringSliceVar(&k.specs, name+"-key", nil, name+" key: hex public key or key file; repeat for a key list")
    cmd.Flags().Uint32Var(&k.threshold, name+"-threshold", 0, "signatures required from the "+name+" key list (0 means all)")
}

func (k *keyFlags) key() (*topic.Key, error) { return buildKey(k.specs, k.threshold) }

func parseAccount(s string) (*topic.AccountID, error) {
    if s == "" { return nil, nil }
    a, err := topic.ParseAccountID(s)
    if err != nil { return nil, err }
    return &a, nil
}

// send builds the transaction, signs it with the key files, submits it and
// prints the receipt.
// A receipt with a failure outcome is printed and returned as an error.
func send(cmd *cobra.Command, r *remote, kind machine.Kind, body any, signWith []string) error {
    signers, err := loadSigners(signWith)
    if err != nil { return err }
    tx, err := machine.NewTransaction(kind, body, signers...)
    if err != nil { return err }
    client, err := r.client()
    if err != nil { return err }
    ctx, cancel := r.withTimeout()
    defer cancel()
    resp, err := client.Submit(ctx, r.addr, transport.SubmitRequest{Tx: tx})
    if err != nil { return fmt.Errorf("submit error: %w", err) }
    if err := printJSON(cmd.OutOrStdout(), resp.Receipt); err != nil { return err }
    if !resp.Receipt.OK() {
        if e := resp.Receipt.Outcome.Err(); e != nil { return e }
        return fmt.Errorf("transaction failed: %s", resp.Receipt.Outcome)
    }
    return nil
}

func newTopicCreateCmd() *cobra.Command {
    var (
        r                remote
        memo, account    string
        admin, submit    keyFlags
        autoRenewSeconds int64
        sign             []string
    )
    cmd := &cobra.Command{
        Use:   "create",
        Short: "Create a topic",
        RunE: func(cmd *cobra.Command, args []string) error {
            body := machine.CreateTopicBody{AutoRenewSeconds: autoRenewSeconds}
            if cmd.Flags().Changed("memo") { body.Memo = &memo }
            var err error
            if body.AdminKey, err = admin.key(); err != nil { return err }
            if body.SubmitKey, err = submit.key(); err != nil { return err }
            if body.AutoRenewAccount, err = parseAccount(account); err != nil { return err }
            return send(cmd, &r, machine.KindCreate, body, sign)
        },
    }
    cmd.Flags().StringVar(&memo, "memo", "", "topic memo")
    admin.bind(cmd, "admin")
    submit.bind(cmd, "submit")
    cmd.Flags().Int64Var(&autoRenewSeconds, "auto-renew-seconds", config.DefaultMinAutoRenewSeconds+1, "auto-renew period in seconds")
    cmd.Flags().StringVar(&account, "auto-renew-account", "", "account paying for renewals (shard.realm.num)")
    cmd.Flags().StringSliceVar(&sign, "sign", nil, "key files to sign with; repeatable")
    r.bind(cmd.Flags())
    return cmd
}

func newTopicUpdateCmd() *cobra.Command {
    var (
        r                                     remote
        id, memo, account, expiration         string
        admin, submit                         keyFlags
        clearAdmin, clearSubmit, clearAccount bool
        autoRenewSeconds                      int64
        sign                                  []string
    )
    cmd := &cobra.Command{
        Use:   "update",
        Short: "Update a topic; only the flags given are changed",
        RunE: func(cmd *cobra.Command, args []string) error {
            tid, err := topic.ParseID(id)
            if err != nil { return err }
            body := machine.UpdateTopicBody{TopicID: tid, ClearAdminKey: clearAdmin, ClearSubmitKey: clearSubmit, ClearAutoRenewAccount: clearAccount}
            f := cmd.Flags()
            if f.Changed("memo") { body.Memo = &memo }
            if f.Changed("auto-renew-seconds") { body.AutoRenewSeconds = &autoRenewSeconds }
            if body.AdminKey, err = admin.key(); err != nil { return err }
            if body.SubmitKey, err = submit.key(); err != nil { return err }
            if body.AutoRenewAccount, err = parseAccount(account); err != nil { return err }
            if expiration != "" {
                t, err := time.Parse(time.RFC3339, expiration)
                if err != nil { return fmt.Errorf("--expiration: %w", err) }
                body.Expiration = &t
            }
            return send(cmd, &r, machine.KindUpdate, body, sign)
        },
    }
    cmd.Flags().StringVar(&id, "id", "", "topic id (shard.realm.num)")
    cmd.Flags().StringVar(&memo, "memo", "", "new memo")
    admin.bind(cmd, "admin")
    submit.bind(cmd, "submit")
    cmd.Flags().BoolVar(&clearAdmin, "clear-admin-key", false, "remove the admin key")
    cmd.Flags().BoolVar(&clearSubmit, "clear-submit-key", false, "remove the submit key")
    cmd.Flags().Int64Var(&autoRenewSeconds, "auto-renew-seconds", 0, "new auto-renew period in seconds")
    cmd.Flags().StringVar(&account, "auto-renew-account", "", "new auto-renew account (shard.realm.num)")
    cmd.Flags().BoolVar(&clearAccount, "clear-auto-renew-account", false, "remove the auto-renew account")
    cmd.Flags().StringVar(&expiration, "expiration", "", "new expiration (RFC3339), must extend the current one")
    cmd.Flags().StringSliceVar(&sign, "sign", nil, "key files to sign with; repeatable")
    r.bind(cmd.Flags())
    return cmd
}

func newTopicDeleteCmd() *cobra.Command {
    var (
        r    remote
        id   string
        sign []string
    )
    cmd := &cobra.Command{
        Use:   "delete",
        Short: "Delete a topic; requires the admin key",
        RunE: func(cmd *cobra.Command, args []string) error {
            tid, err := topic.ParseID(id)
            if err != nil { return err }
            return send(cmd, &r, machine.KindDelete, machine.DeleteTopicBody{TopicID: tid}, sign)
        },
    }
    cmd.Flags().StringVar(&id, "id", "", "topic id (shard.realm.num)")
    cmd.Flags().StringSliceVar(&sign, "sign", nil, "key files to sign with; repeatable")
    r.bind(cmd.Flags())
    return cmd
}

func newTopicGetCmd() *cobra.Command {
    var (
        r  remote
        id string
    )
    cmd := &cobra.Command{
        Use:   "get",
        Short: "Print the committed state of a topic",
        RunE: func(cmd *cobra.Command, args []string) error {
            tid, err := topic.ParseID(id)
            if err != nil { return err }
            client, err := r.client()
            if err != nil { return err }
            ctx, cancel := r.withTimeout()
            defer cancel()
            resp, err := client.GetTopic(ctx, r.addr, tid)
            if err != nil { return err }
            if !resp.Found { return fmt.Errorf("topic %s: %w", tid, topic.ErrTopicNotFound) }
            return printJSON(cmd.OutOrStdout(), resp.Topic)
        },
    }
    cmd.Flags().StringVar(&id, "id", "", "topic id (shard.realm.num)")
    r.bind(cmd.Flags())
    return cmd
}

// NewSubmitCmd returns the "submit" command that appends one message.
func NewSubmitCmd() *cobra.Command {
    var (
        r             remote
        id, msg, file string
        sign          []string
    )
    cmd := &cobra.Command{
        Use:   "submit",
        Short: "Submit a message to a topic",
        RunE: func(cmd *cobra.Command, args []string) error {
            tid, err := topic.ParseID(id)
            if err != nil { return err }
            payload := []byte(msg)
            switch {
            case file == "-":
                if payload, err = io.ReadAll(cmd.InOrStdin()); err != nil { return err }
            case file != "":
                if payload, err = os.ReadFile(file); err != nil { return err }
            case !cmd.Flags().Changed("message"):
                return errors.New("one of --message or --file is required")
            }
            return send(cmd, &r, machine.KindSubmit, machine.SubmitMessageBody{TopicID: tid, Message: payload}, sign)
        },
    }
    cmd.Flags().StringVar(&id, "id", "", "topic id (shard.realm.num)")
    cmd.Flags().StringVar(&msg, "message", "", "message text")
    cmd.Flags().StringVar(&file, "file", "", "read the message from a file, or - for stdin")
    cmd.Flags().StringSliceVar(&sign, "sign", nil, "key files to sign with; repeatable")
    r.bind(cmd.Flags())
    return cmd
}

// NewWatchCmd returns the "watch" command that prints receipts as JSON lines
// until interrupted.
func NewWatchCmd() *cobra.Command {
    var (
        r  remote
        id string
    )
    cmd := &cobra.Command{
        Use:   "watch",
        Short: "Stream receipts for one topic or, without --id, for all",
        RunE: func(cmd *cobra.Command, args []string) error {
            var tid topic.ID
            if id != "" {
                var err error
                if tid, err = topic.ParseID(id); err != nil { return err }
            }
            client, err := r.client()
            if err != nil { return err }
            ctx, cancel := signalContext()
            defer cancel()
            enc := json.NewEncoder(cmd.OutOrStdout())
            err = client.Stream(ctx, r.addr, tid, func(rc machine.Receipt) { _ = enc.Encode(rc) })
            if errors.Is(err, context.Canceled) { return nil }
            return err
        },
    }
    cmd.Flags().StringVar(&id, "id", "", "topic id (shard.realm.num); empty for every receipt")
    r.bind(cmd.Flags())
    return cmd
}
