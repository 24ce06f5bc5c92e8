package httpjson

import (
    "context"
    "crypto/tls"
    "encoding/json"
    "errors"
    "fmt"
    "log"
    "net"
    "net/http"
    "strconv"
    "sync"
    "time"

    "github.com/gorilla/websocket"
    "github.com/prometheus/client_golang/prometheus/promhttp"

    "github.com/amirimatin/go-topics/pkg/internal/logutil"
    "github.com/amirimatin/go-topics/pkg/observability/tracing"
    "github.com/amirimatin/go-topics/pkg/topic"
    "github.com/amirimatin/go-topics/pkg/transport"
)

// maxBody bounds request bodies; a transaction carries at most a few KiB.
const maxBody = 1 << 20

var upgrader = websocket.Upgrader{
    CheckOrigin: func(r *http.Request) bool { return true },
}

// Server exposes the management API over HTTP/JSON, plus /healthz,
// /metrics and websocket receipt streams.
type Server struct {
    bind   string
    mu     sync.Mutex
    srv    *http.Server
    addr   string
    logger *log.Logger
    tlsCfg *tls.Config
    // Healthy reports readiness for /healthz; nil means always healthy.
    Healthy func() error
}

// NewServer binds to the given TCP address (e.g., ":17946").
func NewServer(bind string, logger *log.Logger) *Server {
    return &Server{bind: bind, logger: logutil.Component(logger, "http")}
}

func (s *Server) UseTLS(cfg *tls.Config) *Server { s.tlsCfg = cfg; return s }

func writeJSON(w http.ResponseWriter, code int, v any) {
    w.Header().Set("Content-Type", "application/json")
    w.WriteHeader(code)
    _ = json.NewEncoder(w).Encode(v)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
    dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
    if err := dec.Decode(v); err != nil {
        http.Error(w, fmt.Sprintf("bad request: %v", err), http.StatusBadRequest)
        return false
    }
    return true
}

func topicID(w http.ResponseWriter, r *http.Request) (topic.ID, bool) {
    id, err := topic.ParseID(r.PathValue("id"))
    if err != nil { http.Error(w, fmt.Sprintf("bad topic id: %v", err), http.StatusBadRequest); return topic.ID{}, false }
    return id, true
}

// Handler builds the mux. It is exported for httptest.
func (s *Server) Handler(h transport.Handlers) http.Handler {
    mux := http.NewServeMux()
    mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
        if h.Status == nil { http.Error(w, transport.ErrUnsupported.Error(), http.StatusNotImplemented); return }
        ctx, end := tracing.StartSpan(r.Context(), "http.status")
        defer end()
        data, err := h.Status(ctx)
        if err != nil { http.Error(w, fmt.Sprintf("status error: %v", err), http.StatusInternalServerError); return }
        w.Header().Set("Content-Type", "application/json")
        _, _ = w.Write(data)
    })
    mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
        if s.Healthy != nil {
            if err := s.Healthy(); err != nil { http.Error(w, err.Error(), http.StatusServiceUnavailable); return }
        }
        _, _ = w.Write([]byte("ok"))
    })
    mux.Handle("GET /metrics", promhttp.Handler())

    mux.HandleFunc("POST /join", func(w http.ResponseWriter, r *http.Request) {
        if h.Join == nil { http.Error(w, transport.ErrUnsupported.Error(), http.StatusNotImplemented); return }
        var req transport.JoinRequest
        if !decode(w, r, &req) { return }
        ctx, end := tracing.StartSpan(r.Context(), "http.join", "id", req.ID)
        defer end()
        resp, err := h.Join(ctx, req)
        if err != nil {
            if resp.Error == "" { resp.Error = err.Error() }
            writeJSON(w, http.StatusInternalServerError, resp)
            return
        }
        writeJSON(w, http.StatusOK, resp)
    })
    mux.HandleFunc("POST /leave", func(w http.ResponseWriter, r *http.Request) {
        if h.Leave == nil { http.Error(w, transport.ErrUnsupported.Error(), http.StatusNotImplemented); return }
        var req transport.LeaveRequest
        if !decode(w, r, &req) { return }
        ctx, end := tracing.StartSpan(r.Context(), "http.leave", "id", req.ID)
        defer end()
        resp, err := h.Leave(ctx, req)
        if err != nil {
            if resp.Error == "" { resp.Error = err.Error() }
            writeJSON(w, http.StatusInternalServerError, resp)
            return
        }
        writeJSON(w, http.StatusOK, resp)
    })
    mux.HandleFunc("POST /submit", func(w http.ResponseWriter, r *http.Request) {
        if h.Submit == nil { http.Error(w, transport.ErrUnsupported.Error(), http.StatusNotImplemented); return }
        var req transport.SubmitRequest
        if !decode(w, r, &req) { return }
        ctx, end := tracing.StartSpan(r.Context(), "http.submit", "kind", string(req.Tx.Kind), "tx", req.Tx.TxID)
        defer end()
        resp, err := h.Submit(ctx, req)
        if err != nil {
            if resp.Error == "" { resp.Error = err.Error() }
            writeJSON(w, http.StatusServiceUnavailable, resp)
            return
        }
        writeJSON(w, http.StatusOK, resp)
    })
    mux.HandleFunc("GET /topics/{id}", func(w http.ResponseWriter, r *http.Request) {
        if h.Topic == nil { http.Error(w, transport.ErrUnsupported.Error(), http.StatusNotImplemented); return }
        id, ok := topicID(w, r)
        if !ok { return }
        resp, err := h.Topic(r.Context(), transport.TopicRequest{ID: id})
        if err != nil { http.Error(w, err.Error(), http.StatusInternalServerError); return }
        code := http.StatusOK
        if !resp.Found { code = http.StatusNotFound }
        writeJSON(w, code, resp)
    })
    mux.HandleFunc("GET /topics/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
        if h.Messages == nil { http.Error(w, transport.ErrUnsupported.Error(), http.StatusNotImplemented); return }
        id, ok := topicID(w, r)
        if !ok { return }
        req := transport.MessagesRequest{ID: id, From: 1}
        q := r.URL.Query()
        if v := q.Get("from"); v != "" {
            n, err := strconv.ParseUint(v, 10, 64)
            if err != nil { http.Error(w, "bad from", http.StatusBadRequest); return }
            req.From = n
        }
        if v := q.Get("limit"); v != "" {
            n, err := strconv.Atoi(v)
            if err != nil { http.Error(w, "bad limit", http.StatusBadRequest); return }
            req.Limit = n
        }
        resp, err := h.Messages(r.Context(), req)
        if err != nil { http.Error(w, err.Error(), http.StatusInternalServerError); return }
        writeJSON(w, http.StatusOK, resp)
    })
    stream := func(w http.ResponseWriter, r *http.Request, id topic.ID) {
        if h.Subscribe == nil { http.Error(w, transport.ErrUnsupported.Error(), http.StatusNotImplemented); return }
        ch, cancel, err := h.Subscribe(r.Context(), id)
        if err != nil { http.Error(w, err.Error(), http.StatusServiceUnavailable); return }
        defer cancel()
        conn, err := upgrader.Upgrade(w, r, nil)
        if err != nil { logutil.Warnf(s.logger, "websocket upgrade failed: %v", err); return }
        defer conn.Close()
        // the read side only notices the peer going away
        gone := make(chan struct{})
        go func() {
            defer close(gone)
            for {
                if _, _, err := conn.ReadMessage(); err != nil { return }
            }
        }()
        for {
            select {
            case <-gone:
                return
            case rc, ok := <-ch:
                if !ok {
                    _ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "node stopping"), time.Now().Add(time.Second))
                    return
                }
                if err := conn.WriteJSON(rc); err != nil { return }
            }
        }
    }
    mux.HandleFunc("GET /stream", func(w http.ResponseWriter, r *http.Request) { stream(w, r, topic.ID{}) })
    mux.HandleFunc("GET /topics/{id}/stream", func(w http.ResponseWriter, r *http.Request) {
        id, ok := topicID(w, r)
        if !ok { return }
        stream(w, r, id)
    })
    return mux
}

// Start launches the server; it shuts down when ctx is canceled.
func (s *Server) Start(ctx context.Context, h transport.Handlers) error {
    ln, err := net.Listen("tcp", s.bind)
    if err != nil { return err }
    if s.tlsCfg != nil { ln = tls.NewListener(ln, s.tlsCfg) }
    srv := &http.Server{Handler: s.Handler(h), ReadHeaderTimeout: 5 * time.Second}
    s.mu.Lock()
    s.srv, s.addr = srv, ln.Addr().String()
    s.mu.Unlock()

    go func() {
        <-ctx.Done()
        _ = s.Stop(context.Background())
    }()
    go func() {
        if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
            logutil.Errorf(s.logger, "server error: %v", err)
        }
    }()
    return nil
}

// Addr returns the bound address once started, else the configured one.
func (s *Server) Addr() string {
    s.mu.Lock(); defer s.mu.Unlock()
    if s.addr != "" { return s.addr }
    return s.bind
}

// Stop attempts a graceful shutdown with a short timeout.
func (s *Server) Stop(ctx context.Context) error {
    s.mu.Lock()
    srv := s.srv
    s.srv = nil
    s.mu.Unlock()
    if srv == nil { return nil }
    c, cancel := context.WithTimeout(ctx, 2*time.Second)
    defer cancel()
    // hijacked websocket connections are not tracked by Shutdown
    if err := srv.Shutdown(c); err != nil { return srv.Close() }
    return nil
}

var _ transport.RPCServer = (*Server)(nil)
