package main

import (
    "log"

    "github.com/spf13/cobra"

    topicscli "github.com/amirimatin/go-topics/pkg/cli"
)

func main() {
    if err := newRoot().Execute(); err != nil {
        log.Fatal(err)
    }
}

func newRoot() *cobra.Command {
    root := &cobra.Command{
        Use:           "topicctl",
        Short:         "consensus topic node and client",
        SilenceUsage:  true,
        SilenceErrors: true,
    }
    topicscli.AddAll(root)
    return root
}
