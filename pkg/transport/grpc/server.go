// Package grpc serves the management API over gRPC with a JSON codec and a
// hand-written service descriptor.
package grpc

import (
    "context"
    "crypto/tls"
    "net"
    "sync"
    "time"

    "google.golang.org/grpc"
    "google.golang.org/grpc/codes"
    "google.golang.org/grpc/credentials"
    "google.golang.org/grpc/health"
    healthpb "google.golang.org/grpc/health/grpc_health_v1"
    "google.golang.org/grpc/keepalive"
    "google.golang.org/grpc/status"

    "github.com/amirimatin/go-topics/pkg/observability/tracing"
    "github.com/amirimatin/go-topics/pkg/topic"
    "github.com/amirimatin/go-topics/pkg/transport"
)

const (
    managementService = "topics.v1.Management"
    receiptsService   = "topics.v1.Receipts"
)

type empty struct{}

type statusBlob struct {
    Data []byte `json:"data"`
}

type subscribeRequest struct {
    TopicID topic.ID `json:"topicId"`
}

type Server struct {
    bind   string
    mu     sync.Mutex
    lis    net.Listener
    srv    *grpc.Server
    health *health.Server
    tlsCfg *tls.Config
}

func NewServer(bind string) *Server { return &Server{bind: bind} }

func (s *Server) UseTLS(cfg *tls.Config) *Server { s.tlsCfg = cfg; return s }

// unsupported maps a nil handler to codes.Unimplemented.
func unsupported(name string) error {
    return status.Errorf(codes.Unimplemented, "%s: %v", name, transport.ErrUnsupported)
}

// unary builds a MethodDesc around fn; fn sees a decoded request.
func unary[Req any, Resp any](name string, fn func(context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
    return grpc.MethodDesc{
        MethodName: name,
        Handler: func(_ any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
            in := new(Req)
            if err := dec(in); err != nil { return nil, err }
            if interceptor == nil { return fn(ctx, in) }
            info := &grpc.UnaryServerInfo{FullMethod: "/" + managementService + "/" + name}
            return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) { return fn(ctx, req.(*Req)) })
        },
    }
}

func managementDesc(h transport.Handlers) *grpc.ServiceDesc {
    return &grpc.ServiceDesc{
        ServiceName: managementService,
        HandlerType: (*any)(nil),
        Methods: []grpc.MethodDesc{
            unary("GetStatus", func(ctx context.Context, _ *empty) (*statusBlob, error) {
                if h.Status == nil { return nil, unsupported("status") }
                ctx, end := tracing.StartSpan(ctx, "grpc.status")
                defer end()
                b, err := h.Status(ctx)
                if err != nil { return nil, err }
                return &statusBlob{Data: b}, nil
            }),
            unary("Join", func(ctx context.Context, in *transport.JoinRequest) (*transport.JoinResponse, error) {
                if h.Join == nil { return &transport.JoinResponse{Error: transport.ErrUnsupported.Error()}, nil }
                ctx, end := tracing.StartSpan(ctx, "grpc.join", "id", in.ID)
                defer end()
                out, err := h.Join(ctx, *in)
                if err != nil && out.Error == "" { out.Error = err.Error() }
                return &out, nil
            }),
            unary("Leave", func(ctx context.Context, in *transport.LeaveRequest) (*transport.LeaveResponse, error) {
                if h.Leave == nil { return &transport.LeaveResponse{Error: transport.ErrUnsupported.Error()}, nil }
                ctx, end := tracing.StartSpan(ctx, "grpc.leave", "id", in.ID)
                defer end()
                out, err := h.Leave(ctx, *in)
                if err != nil && out.Error == "" { out.Error = err.Error() }
                return &out, nil
            }),
            unary("Submit", func(ctx context.Context, in *transport.SubmitRequest) (*transport.SubmitResponse, error) {
                if h.Submit == nil { return &transport.SubmitResponse{Error: transport.ErrUnsupported.Error()}, nil }
                ctx, end := tracing.StartSpan(ctx, "grpc.submit", "kind", string(in.Tx.Kind), "tx", in.Tx.TxID)
                defer end()
                out, err := h.Submit(ctx, *in)
                if err != nil && out.Error == "" { out.Error = err.Error() }
                return &out, nil
            }),
            unary("GetTopic", func(ctx context.Context, in *transport.TopicRequest) (*transport.TopicResponse, error) {
                if h.Topic == nil { return nil, unsupported("topic") }
                out, err := h.Topic(ctx, *in)
                if err != nil { return nil, err }
                return &out, nil
            }),
            unary("GetMessages", func(ctx context.Context, in *transport.MessagesRequest) (*transport.MessagesResponse, error) {
                if h.Messages == nil { return nil, unsupported("messages") }
                out, err := h.Messages(ctx, *in)
                if err != nil { return nil, err }
                return &out, nil
            }),
        },
    }
}

func receiptsDesc(h transport.Handlers) *grpc.ServiceDesc {
    return &grpc.ServiceDesc{
        ServiceName: receiptsService,
        HandlerType: (*any)(nil),
        Streams: []grpc.StreamDesc{{
            StreamName:    "Subscribe",
            ServerStreams: true,
            Handler: func(_ any, stream grpc.ServerStream) error {
                if h.Subscribe == nil { return unsupported("subscribe") }
                var req subscribeRequest
                if err := stream.RecvMsg(&req); err != nil { return err }
                ch, cancel, err := h.Subscribe(stream.Context(), req.TopicID)
                if err != nil { return status.Error(codes.Unavailable, err.Error()) }
                defer cancel()
                for {
                    select {
                    case <-stream.Context().Done():
                        return nil
                    case r, ok := <-ch:
                        if !ok { return nil }
                        if err := stream.SendMsg(&r); err != nil { return err }
                    }
                }
            },
        }},
    }
}

func (s *Server) Start(ctx context.Context, h transport.Handlers) error {
    lis, err := net.Listen("tcp", s.bind)
    if err != nil { return err }
    opts := []grpc.ServerOption{
        grpc.ForceServerCodec(jsonCodec{}),
        grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{MinTime: 5 * time.Second, PermitWithoutStream: true}),
        grpc.KeepaliveParams(keepalive.ServerParameters{Time: 30 * time.Second, Timeout: 10 * time.Second}),
    }
    if s.tlsCfg != nil { opts = append(opts, grpc.Creds(credentials.NewTLS(s.tlsCfg))) }
    srv := grpc.NewServer(opts...)
    hs := health.NewServer()
    healthpb.RegisterHealthServer(srv, hs)
    srv.RegisterService(managementDesc(h), struct{}{})
    srv.RegisterService(receiptsDesc(h), struct{}{})

    s.mu.Lock()
    s.lis, s.srv, s.health = lis, srv, hs
    s.mu.Unlock()

    go func() {
        <-ctx.Done()
        _ = s.Stop(context.Background())
    }()
    go func() { _ = srv.Serve(lis) }()
    return nil
}

// SetServing flips the standard gRPC health status, e.g. when the node halts.
func (s *Server) SetServing(ok bool) {
    s.mu.Lock(); defer s.mu.Unlock()
    if s.health == nil { return }
    st := healthpb.HealthCheckResponse_SERVING
    if !ok { st = healthpb.HealthCheckResponse_NOT_SERVING }
    s.health.SetServingStatus("", st)
}

func (s *Server) Addr() string {
    s.mu.Lock(); defer s.mu.Unlock()
    if s.lis != nil { return s.lis.Addr().String() }
    return s.bind
}

func (s *Server) Stop(ctx context.Context) error {
    s.mu.Lock()
    srv := s.srv
    s.srv, s.lis, s.health = nil, nil, nil
    s.mu.Unlock()
    if srv == nil { return nil }
    ch := make(chan struct{})
    go func() { srv.GracefulStop(); close(ch) }()
    c, cancel := context.WithTimeout(ctx, 2*time.Second)
    defer cancel()
    select {
    case <-ch:
    case <-c.Done():
        srv.Stop()
    }
    return nil
}

var _ transport.RPCServer = (*Server)(nil)
