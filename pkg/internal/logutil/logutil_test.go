package logutil

import (
    "bytes"
    "encoding/json"
    "log"
    "strings"
    "testing"
)

func TestLogf_TextAndJSON(t *testing.T) {
    var buf bytes.Buffer
    l := Component(log.New(&buf, "", 0), "machine")

    SetJSON(false)
    Warnf(l, "topic %s expired", "0.0.1001")
    if got := buf.String(); !strings.HasPrefix(got, "WARN [machine] topic 0.0.1001 expired") { t.Fatalf("text line = %q", got) }

    buf.Reset()
    SetJSON(true)
    defer SetJSON(false)
    Infof(l, "applied %d", 3)
    var evt map[string]any
    if err := json.Unmarshal(buf.Bytes(), &evt); err != nil { t.Fatalf("json line %q: %v", buf.String(), err) }
    if evt["level"] != "info" || evt["msg"] != "applied 3" || evt["component"] != "machine" { t.Fatalf("event = %v", evt) }
}

func TestDebugf_Gated(t *testing.T) {
    var buf bytes.Buffer
    l := log.New(&buf, "", 0)
    SetDebug(false)
    Debugf(l, "hidden")
    if buf.Len() != 0 { t.Fatalf("debug emitted while disabled: %q", buf.String()) }
    SetDebug(true)
    defer SetDebug(false)
    Debugf(l, "shown")
    if !strings.Contains(buf.String(), "DEBUG shown") { t.Fatalf("debug line = %q", buf.String()) }
}
