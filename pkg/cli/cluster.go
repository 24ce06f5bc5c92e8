package cli

import (
    "fmt"

    "github.com/spf13/cobra"

    "github.com/amirimatin/go-topics/pkg/transport"
)

// NewStatusCmd returns the "status" command.
func NewStatusCmd() *cobra.Command {
    var r remote
    cmd := &cobra.Command{
        Use:   "status",
        Short: "Fetch node and cluster status as JSON",
        RunE: func(cmd *cobra.Command, args []string) error {
            client, err := r.client()
            if err != nil { return err }
            ctx, cancel := r.withTimeout()
            defer cancel()
            data, err := client.GetStatus(ctx, r.addr)
            if err != nil { return fmt.Errorf("status error: %w", err) }
            out := cmd.OutOrStdout()
            out.Write(data)
            if len(data) == 0 || data[len(data)-1] != '\n' { out.Write([]byte("\n")) }
            return nil
        },
    }
    r.bind(cmd.Flags())
    return cmd
}

// NewJoinCmd returns the "join" command. --addr must reach the leader.
func NewJoinCmd() *cobra.Command {
    var (
        r            remote
        id, raftAddr string
    )
    cmd := &cobra.Command{
        Use:   "join",
        Short: "Add a node to the voters",
        RunE: func(cmd *cobra.Command, args []string) error {
            if id == "" || raftAddr == "" { return fmt.Errorf("missing required flags: --id and --raft-addr") }
            client, err := r.client()
            if err != nil { return err }
            ctx, cancel := r.withTimeout()
            defer cancel()
            resp, err := client.PostJoin(ctx, r.addr, transport.JoinRequest{ID: id, RaftAddr: raftAddr})
            if err != nil && resp.Leader == "" { return fmt.Errorf("join error: %w", err) }
            return printJSON(cmd.OutOrStdout(), resp)
        },
    }
    cmd.Flags().StringVar(&id, "id", "", "node id to add (required)")
    cmd.Flags().StringVar(&raftAddr, "raft-addr", "", "node raft address (host:port, required)")
    r.bind(cmd.Flags())
    return cmd
}

// NewLeaveCmd returns the "leave" command.
func NewLeaveCmd() *cobra.Command {
    var (
        r  remote
        id string
    )
    cmd := &cobra.Command{
        Use:   "leave",
        Short: "Remove a node from the voters",
        RunE: func(cmd *cobra.Command, args []string) error {
            if id == "" { return fmt.Errorf("missing required flag: --id") }
            client, err := r.client()
            if err != nil { return err }
            ctx, cancel := r.withTimeout()
            defer cancel()
            resp, err := client.PostLeave(ctx, r.addr, transport.LeaveRequest{ID: id})
            if err != nil { return fmt.Errorf("leave error: %w", err) }
            return printJSON(cmd.OutOrStdout(), resp)
        },
    }
    cmd.Flags().StringVar(&id, "id", "", "node id to remove (required)")
    r.bind(cmd.Flags())
    return cmd
}
