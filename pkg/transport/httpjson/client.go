package httpjson

import (
    "bytes"
    "context"
    "crypto/tls"
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "net/http"
    "net/url"
    "strconv"
    "time"

    "github.com/gorilla/websocket"

    "github.com/amirimatin/go-topics/pkg/machine"
    "github.com/amirimatin/go-topics/pkg/topic"
    "github.com/amirimatin/go-topics/pkg/transport"
)

const attempts = 3

// Client calls the HTTP management API. Idempotent reads are retried with
// backoff; submissions are sent once, since a retried transaction would
// only come back as a duplicate.
type Client struct {
    httpc     *http.Client
    transport *http.Transport
    tlsCfg    *tls.Config
}

func NewClient(timeout time.Duration) *Client {
    if timeout <= 0 { timeout = 3 * time.Second }
    tr := &http.Transport{}
    return &Client{httpc: &http.Client{Timeout: timeout, Transport: tr}, transport: tr}
}

// UseTLS sets the TLS config and switches the scheme to https/wss.
func (c *Client) UseTLS(cfg *tls.Config) *Client {
    c.transport.TLSClientConfig = cfg
    c.tlsCfg = cfg
    return c
}

func (c *Client) url(addr, path string) string {
    scheme := "http"
    if c.tlsCfg != nil { scheme = "https" }
    return fmt.Sprintf("%s://%s%s", scheme, addr, path)
}

// statusError is a non-2xx answer. 4xx answers are not retried.
type statusError struct {
    code int
    body string
}

func (e *statusError) Error() string { return fmt.Sprintf("status %d: %s", e.code, e.body) }

// call performs one request and decodes a JSON answer into out. An error
// field in the body is preserved in out even on non-2xx answers.
func (c *Client) call(ctx context.Context, method, u string, in, out any) error {
    var body io.Reader
    if in != nil {
        b, err := json.Marshal(in)
        if err != nil { return err }
        body = bytes.NewReader(b)
    }
    req, err := http.NewRequestWithContext(ctx, method, u, body)
    if err != nil { return err }
    if in != nil { req.Header.Set("Content-Type", "application/json") }
    resp, err := c.httpc.Do(req)
    if err != nil { return err }
    defer resp.Body.Close()
    b, err := io.ReadAll(resp.Body)
    if err != nil { return err }
    if out != nil && json.Valid(b) { _ = json.Unmarshal(b, out) }
    if resp.StatusCode/100 != 2 { return &statusError{code: resp.StatusCode, body: string(bytes.TrimSpace(b))} }
    return nil
}

// retry runs fn up to three times with exponential backoff.
func retry(ctx context.Context, fn func() error) error {
    var lastErr error
    for attempt := 0; attempt < attempts; attempt++ {
        lastErr = fn()
        if lastErr == nil { return nil }
        var se *statusError
        if errors.As(lastErr, &se) && se.code < 500 { return lastErr }
        select {
        case <-ctx.Done():
            return lastErr
        case <-time.After(time.Duration(100*(1<<attempt)) * time.Millisecond):
        }
    }
    return lastErr
}

func (c *Client) GetStatus(ctx context.Context, addr string) ([]byte, error) {
    var raw json.RawMessage
    err := retry(ctx, func() error { return c.call(ctx, http.MethodGet, c.url(addr, "/status"), nil, &raw) })
    return raw, err
}

func (c *Client) PostJoin(ctx context.Context, addr string, req transport.JoinRequest) (transport.JoinResponse, error) {
    var out transport.JoinResponse
    err := retry(ctx, func() error { return c.call(ctx, http.MethodPost, c.url(addr, "/join"), req, &out) })
    if err != nil && out.Error != "" { err = errors.New(out.Error) }
    return out, err
}

func (c *Client) PostLeave(ctx context.Context, addr string, req transport.LeaveRequest) (transport.LeaveResponse, error) {
    var out transport.LeaveResponse
    err := retry(ctx, func() error { return c.call(ctx, http.MethodPost, c.url(addr, "/leave"), req, &out) })
    if err != nil && out.Error != "" { err = errors.New(out.Error) }
    return out, err
}

func (c *Client) Submit(ctx context.Context, addr string, req transport.SubmitRequest) (transport.SubmitResponse, error) {
    var out transport.SubmitResponse
    err := c.call(ctx, http.MethodPost, c.url(addr, "/submit"), req, &out)
    if err != nil && out.Error != "" { err = errors.New(out.Error) }
    return out, err
}

func (c *Client) GetTopic(ctx context.Context, addr string, id topic.ID) (transport.TopicResponse, error) {
    var out transport.TopicResponse
    err := retry(ctx, func() error { return c.call(ctx, http.MethodGet, c.url(addr, "/topics/"+id.String()), nil, &out) })
    var se *statusError
    if errors.As(err, &se) && se.code == http.StatusNotFound { return transport.TopicResponse{}, nil }
    return out, err
}

func (c *Client) GetMessages(ctx context.Context, addr string, req transport.MessagesRequest) (transport.MessagesResponse, error) {
    q := url.Values{}
    q.Set("from", strconv.FormatUint(req.From, 10))
    if req.Limit > 0 { q.Set("limit", strconv.Itoa(req.Limit)) }
    var out transport.MessagesResponse
    u := c.url(addr, "/topics/"+req.ID.String()+"/messages?"+q.Encode())
    err := retry(ctx, func() error { return c.call(ctx, http.MethodGet, u, nil, &out) })
    return out, err
}

// Stream follows the websocket receipt feed.
func (c *Client) Stream(ctx context.Context, addr string, id topic.ID, onReceipt func(machine.Receipt)) error {
    scheme, path := "ws", "/stream"
    if c.tlsCfg != nil { scheme = "wss" }
    if !id.IsZero() { path = "/topics/" + id.String() + "/stream" }
    d := websocket.Dialer{TLSClientConfig: c.tlsCfg, HandshakeTimeout: c.httpc.Timeout}
    conn, _, err := d.DialContext(ctx, scheme+"://"+addr+path, nil)
    if err != nil { return err }
    defer conn.Close()
    go func() {
        <-ctx.Done()
        _ = conn.Close()
    }()
    for {
        var r machine.Receipt
        if err := conn.ReadJSON(&r); err != nil {
            if ctx.Err() != nil { return ctx.Err() }
            if websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) { return nil }
            return err
        }
        if onReceipt != nil { onReceipt(r) }
    }
}

var _ transport.RPCClient = (*Client)(nil)
