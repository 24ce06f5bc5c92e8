package httpjson

import (
    "context"
    "errors"
    "net/http"
    "net/http/httptest"
    "strings"
    "testing"
    "time"

    "github.com/amirimatin/go-topics/pkg/archive"
    "github.com/amirimatin/go-topics/pkg/machine"
    "github.com/amirimatin/go-topics/pkg/topic"
    "github.com/amirimatin/go-topics/pkg/transport"
)

var id = topic.ID{Num: 1001}

func handlers(feed chan machine.Receipt) transport.Handlers {
    return transport.Handlers{
        Status: func(context.Context) ([]byte, error) { return []byte(`{"nodeId":"n1"}`), nil },
        Join: func(_ context.Context, req transport.JoinRequest) (transport.JoinResponse, error) {
            if req.ID == "" { return transport.JoinResponse{}, errors.New("missing id") }
            return transport.JoinResponse{Accepted: true, Leader: "n1"}, nil
        },
        Submit: func(_ context.Context, req transport.SubmitRequest) (transport.SubmitResponse, error) {
            if req.Tx.TxID == "down" { return transport.SubmitResponse{}, errors.New("no leader") }
            return transport.SubmitResponse{Receipt: machine.Receipt{TxID: req.Tx.TxID, Kind: req.Tx.Kind, TopicID: id, Outcome: machine.OutcomeSuccess}}, nil
        },
        Topic: func(_ context.Context, req transport.TopicRequest) (transport.TopicResponse, error) {
            if req.ID != id { return transport.TopicResponse{}, nil }
            return transport.TopicResponse{Found: true, Topic: &topic.State{ID: id, SequenceNumber: 2}}, nil
        },
        Messages: func(_ context.Context, req transport.MessagesRequest) (transport.MessagesResponse, error) {
            var out []archive.Message
            for seq := req.From; seq < req.From+uint64(req.Limit); seq++ {
                out = append(out, archive.Message{TopicID: req.ID, SequenceNumber: seq, Payload: []byte("m")})
            }
            return transport.MessagesResponse{Messages: out}, nil
        },
        Subscribe: func(_ context.Context, sub topic.ID) (<-chan machine.Receipt, func(), error) {
            if sub != id { return nil, nil, errors.New("unexpected topic") }
            return feed, func() {}, nil
        },
    }
}

func start(t *testing.T, feed chan machine.Receipt) (addr string, srv *Server) {
    t.Helper()
    srv = NewServer("127.0.0.1:0", nil)
    ts := httptest.NewServer(srv.Handler(handlers(feed)))
    t.Cleanup(ts.Close)
    return strings.TrimPrefix(ts.URL, "http://"), srv
}

func TestHTTP_ManagementRoundTrip(t *testing.T) {
    addr, _ := start(t, nil)
    c := NewClient(2 * time.Second)
    ctx := context.Background()

    st, err := c.GetStatus(ctx, addr)
    if err != nil || !strings.Contains(string(st), "n1") { t.Fatalf("status: %s %v", st, err) }

    jr, err := c.PostJoin(ctx, addr, transport.JoinRequest{ID: "n2", RaftAddr: "127.0.0.1:1"})
    if err != nil || !jr.Accepted { t.Fatalf("join: %+v %v", jr, err) }
    if _, err := c.PostJoin(ctx, addr, transport.JoinRequest{}); err == nil || !strings.Contains(err.Error(), "missing id") {
        t.Fatalf("join error = %v", err)
    }
    if _, err := c.PostLeave(ctx, addr, transport.LeaveRequest{ID: "n2"}); err == nil { t.Fatalf("leave should be unsupported") }

    tx, _ := machine.NewTransaction(machine.KindSubmit, machine.SubmitMessageBody{TopicID: id, Message: []byte("hi")})
    sr, err := c.Submit(ctx, addr, transport.SubmitRequest{Tx: tx})
    if err != nil || sr.Receipt.TxID != tx.TxID || !sr.Receipt.OK() { t.Fatalf("submit: %+v %v", sr, err) }
    tx.TxID = "down"
    if _, err := c.Submit(ctx, addr, transport.SubmitRequest{Tx: tx}); err == nil || err.Error() != "no leader" { t.Fatalf("submit error = %v", err) }

    tr, err := c.GetTopic(ctx, addr, id)
    if err != nil || !tr.Found || tr.Topic.SequenceNumber != 2 { t.Fatalf("topic: %+v %v", tr, err) }
    tr, err = c.GetTopic(ctx, addr, topic.ID{Num: 7})
    if err != nil || tr.Found { t.Fatalf("missing topic: %+v %v", tr, err) }

    mr, err := c.GetMessages(ctx, addr, transport.MessagesRequest{ID: id, From: 3, Limit: 2})
    if err != nil || len(mr.Messages) != 2 || mr.Messages[0].SequenceNumber != 3 { t.Fatalf("messages: %+v %v", mr, err) }
}

func TestHTTP_RejectsBadInput(t *testing.T) {
    srv := NewServer("127.0.0.1:0", nil)
    h := srv.Handler(handlers(nil))
    for _, tc := range []struct {
        method, path, body string
        code               int
    }{
        {http.MethodGet, "/topics/not-an-id", "", http.StatusBadRequest},
        {http.MethodGet, "/topics/0.0.1001/messages?from=x", "", http.StatusBadRequest},
        {http.MethodPost, "/submit", "{", http.StatusBadRequest},
        {http.MethodGet, "/submit", "", http.StatusMethodNotAllowed},
        {http.MethodGet, "/healthz", "", http.StatusOK},
    } {
        rec := httptest.NewRecorder()
        h.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, strings.NewReader(tc.body)))
        if rec.Code != tc.code { t.Fatalf("%s %s = %d, want %d", tc.method, tc.path, rec.Code, tc.code) }
    }

    srv.Healthy = func() error { return errors.New("halted") }
    rec := httptest.NewRecorder()
    h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
    if rec.Code != http.StatusServiceUnavailable { t.Fatalf("unhealthy = %d", rec.Code) }
}

func TestHTTP_ReceiptStream(t *testing.T) {
    feed := make(chan machine.Receipt, 4)
    addr, _ := start(t, feed)
    feed <- machine.Receipt{TxID: "a", TopicID: id, SequenceNumber: 1}
    feed <- machine.Receipt{TxID: "b", TopicID: id, SequenceNumber: 2}
    close(feed)

    ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
    defer cancel()
    var got []string
    if err := NewClient(time.Second).Stream(ctx, addr, id, func(r machine.Receipt) { got = append(got, r.TxID) }); err != nil {
        t.Fatalf("stream: %v", err)
    }
    if len(got) != 2 || got[0] != "a" || got[1] != "b" { t.Fatalf("got %v", got) }
}

func TestHTTP_StartStop(t *testing.T) {
    srv := NewServer("127.0.0.1:0", nil)
    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()
    if err := srv.Start(ctx, handlers(nil)); err != nil { t.Fatalf("start: %v", err) }
    if strings.HasSuffix(srv.Addr(), ":0") { t.Fatalf("addr not resolved: %s", srv.Addr()) }
    if _, err := NewClient(time.Second).GetStatus(ctx, srv.Addr()); err != nil { t.Fatalf("status: %v", err) }
    if err := srv.Stop(context.Background()); err != nil { t.Fatalf("stop: %v", err) }
}
