package server

import (
	"PerpClearing/internal/observability"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "perpclearing.v1.Clearing"

// CodecName is the gRPC content subtype of the clearing service. Clients
// call with grpc.CallContentSubtype(CodecName).
const CodecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string { return CodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// unary builds the method descriptor for one ClearingServer method.
func unary[Req any, Resp any](name string, call func(ClearingServer, context.Context, *Req) (Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, status.Errorf(codes.InvalidArgument, "decode %s: %v", name, err)
			}
			handler := func(ctx context.Context, req any) (any, error) {
				resp, err := call(srv.(ClearingServer), ctx, req.(*Req))
				if err != nil {
					return nil, toStatus(err)
				}
				return resp, nil
			}
			if interceptor == nil {
				return handler(ctx, in)
			}
			return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}, handler)
		},
	}
}

// ServiceDesc describes the clearing service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ClearingServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("SubmitCommand", ClearingServer.SubmitCommand),
		unary("GetPrice", ClearingServer.GetPrice),
		unary("GetAccount", ClearingServer.GetAccount),
		unary("GetPosition", ClearingServer.GetPosition),
		unary("ListPositions", ClearingServer.ListPositions),
		unary("GetPool", ClearingServer.GetPool),
		unary("GetProvider", ClearingServer.GetProvider),
		unary("GetMarket", ClearingServer.GetMarket),
		unary("ListFundingHistory", ClearingServer.ListFundingHistory),
		unary("ListLiquidationHistory", ClearingServer.ListLiquidationHistory),
		unary("ListJournal", ClearingServer.ListJournal),
		unary("VerifyIntegrity", ClearingServer.VerifyIntegrity),
	},
	Metadata: "perpclearing/v1/clearing",
}

// GRPCServer wraps the gRPC server and the HTTP gateway.
type GRPCServer struct {
	grpcServer *grpc.Server
	health     *health.Server
	httpServer *http.Server
	handler    http.Handler
	grpcAddr   string
	httpAddr   string
	logger     zerolog.Logger
}

// ServerDeps holds everything the transports serve.
type ServerDeps struct {
	API            ClearingServer
	Stream         *StreamHub                  // nil disables /v1/stream
	HealthChecker  *observability.HealthChecker // nil serves a static /healthz
	Gatherer       prometheus.Gatherer          // nil disables /metrics
	AllowedOrigins []string                     // CORS; empty allows all
	Logger         zerolog.Logger
}

// NewGRPCServer creates the gRPC server with the clearing, health and
// reflection services registered, and builds the gateway handler.
func NewGRPCServer(grpcAddr, httpAddr string, deps *ServerDeps) (*GRPCServer, error) {
	logger := deps.Logger.With().Str("component", "server").Logger()

	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(logUnary(logger)))
	grpcServer.RegisterService(&ServiceDesc, deps.API)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	// Reflection for grpcurl / grpcui
	reflection.Register(grpcServer)

	handler, err := newGateway(deps)
	if err != nil {
		return nil, err
	}

	return &GRPCServer{
		grpcServer: grpcServer,
		health:     healthServer,
		handler:    handler,
		grpcAddr:   grpcAddr,
		httpAddr:   httpAddr,
		logger:     logger,
	}, nil
}

// SetServing flips the gRPC health status, normally once recovery is done.
func (s *GRPCServer) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// Handler is the HTTP gateway handler, including CORS.
func (s *GRPCServer) Handler() http.Handler { return s.handler }

// Serve runs the gRPC server on lis until ctx is cancelled.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.grpcServer.GracefulStop()
	}()
	return s.grpcServer.Serve(lis)
}

// StartGRPC starts the gRPC server (blocking).
func (s *GRPCServer) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	s.logger.Info().Str("addr", s.grpcAddr).Msg("gRPC server listening")
	return s.Serve(ctx, lis)
}

// StartHTTPGateway starts the HTTP/JSON gateway (blocking).
func (s *GRPCServer) StartHTTPGateway(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.httpAddr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("HTTP gateway shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.httpAddr).Msg("HTTP gateway listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func logUnary(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)
		ev := logger.Debug()
		if code == codes.Internal || code == codes.Unknown {
			ev = logger.Warn().Err(err)
		}
		ev.Str("method", info.FullMethod).
			Str("code", code.String()).
			Dur("took", time.Since(start)).
			Msg("grpc call")
		return resp, err
	}
}
