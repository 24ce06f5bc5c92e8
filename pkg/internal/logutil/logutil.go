package logutil

import (
    "encoding/json"
    "fmt"
    "log"
    "os"
    "strings"
    "sync/atomic"
    "time"
)

var (
    jsonMode  atomic.Bool
    debugMode atomic.Bool
)

func init() {
    if os.Getenv("TOPICS_LOG_JSON") == "1" || os.Getenv("TOPICS_LOG_FORMAT") == "json" {
        jsonMode.Store(true)
    }
    if strings.EqualFold(os.Getenv("TOPICS_LOG_LEVEL"), "debug") {
        debugMode.Store(true)
    }
}

func prefix(l *log.Logger, p string) *log.Logger {
    if l == nil { l = log.Default() }
    return log.New(l.Writer(), p+l.Prefix(), l.Flags())
}

func SetJSON(enabled bool)  { jsonMode.Store(enabled) }
func SetDebug(enabled bool) { debugMode.Store(enabled) }

// Component returns a logger that tags every line with name.
func Component(l *log.Logger, name string) *log.Logger {
    if l == nil { l = log.Default() }
    return log.New(l.Writer(), "["+name+"] ", l.Flags())
}

func Debugf(l *log.Logger, f string, args ...any) {
    if !debugMode.Load() { return }
    logf(l, "debug", f, args...)
}
func Infof(l *log.Logger, f string, args ...any)  { logf(l, "info", f, args...) }
func Warnf(l *log.Logger, f string, args ...any)  { logf(l, "warn", f, args...) }
func Errorf(l *log.Logger, f string, args ...any) { logf(l, "error", f, args...) }

func logf(l *log.Logger, level, f string, args ...any) {
    if l == nil { l = log.Default() }
    if jsonMode.Load() {
        evt := map[string]any{
            "ts":    time.Now().UTC().Format(time.RFC3339Nano),
            "level": level,
            "msg":   fmt.Sprintf(f, args...),
        }
        if c := strings.TrimSpace(strings.Trim(strings.TrimSpace(l.Prefix()), "[]")); c != "" { evt["component"] = c }
        b, _ := json.Marshal(evt)
        log.New(l.Writer(), "", l.Flags()).Println(string(b))
        return
    }
    prefix(l, strings.ToUpper(level)+" ").Printf(f, args...)
}
