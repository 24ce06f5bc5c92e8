package node

import "errors"

var (
    ErrNoLeader   = errors.New("node: leader unknown")
    ErrNoClient   = errors.New("node: no RPC client configured")
    ErrNotRunning = errors.New("node: not running")
)
