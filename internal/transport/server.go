package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/photo-retrieval/internal/ledger"
	"github.com/danielpatrickdp/photo-retrieval/internal/session"
)

// #region server
// Engine is the part of session.Engine the server calls.
type Engine interface {
	Create(ctx context.Context, req session.CreateRequest) (session.View, error)
	Start(ctx context.Context, id string) (session.View, error)
	SubmitAnswer(ctx context.Context, id string, no int, answer string) (session.View, error)
	Abort(ctx context.Context, id, reason string) (session.View, error)
	Get(ctx context.Context, id string) (session.View, error)
	History(ctx context.Context, id string) ([]ledger.Iteration, error)
}

// Server implements RetrievalServer on an Engine.
type Server struct {
	engine Engine
}

func NewServer(engine Engine) *Server {
	return &Server{engine: engine}
}

func (s *Server) CreateSession(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req createRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return reply(s.engine.Create(ctx, req.toSession()))
}

func (s *Server) StartSession(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := sessionArgs(in)
	if err != nil {
		return nil, err
	}
	return reply(s.engine.Start(ctx, req.ID))
}

func (s *Server) SubmitAnswer(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := sessionArgs(in)
	if err != nil {
		return nil, err
	}
	if req.Answer == "" {
		return nil, toStatus(fmt.Errorf("answer is required: %w", session.ErrInvalidRequest))
	}
	return reply(s.engine.SubmitAnswer(ctx, req.ID, req.Round, req.Answer))
}

func (s *Server) AbortSession(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := sessionArgs(in)
	if err != nil {
		return nil, err
	}
	return reply(s.engine.Abort(ctx, req.ID, req.Reason))
}

func (s *Server) GetSession(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := sessionArgs(in)
	if err != nil {
		return nil, err
	}
	return reply(s.engine.Get(ctx, req.ID))
}

func (s *Server) GetHistory(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := sessionArgs(in)
	if err != nil {
		return nil, err
	}
	hist, err := s.engine.History(ctx, req.ID)
	if err != nil {
		return nil, toStatus(err)
	}
	resp := historyResponse{ID: req.ID, Rounds: make([]Round, len(hist))}
	for i, it := range hist {
		resp.Rounds[i] = roundOf(it)
	}
	return reply(resp, nil)
}

func sessionArgs(in *structpb.Struct) (sessionRequest, error) {
	var req sessionRequest
	if err := fromStruct(in, &req); err != nil {
		return req, status.Error(codes.InvalidArgument, err.Error())
	}
	if req.ID == "" {
		return req, toStatus(fmt.Errorf("id is required: %w", session.ErrInvalidRequest))
	}
	return req, nil
}

func reply(v any, err error) (*structpb.Struct, error) {
	if err != nil {
		return nil, toStatus(err)
	}
	out, err := toStruct(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

var _ RetrievalServer = (*Server)(nil)
// #endregion server

// #region interceptor
// UnaryLogger logs every call with its status code and latency. Internal
// failures log at error level, rejections at debug.
func UnaryLogger(log zerolog.Logger) grpc.UnaryServerInterceptor {
	log = log.With().Str("component", "grpc").Logger()
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)

		lvl := zerolog.DebugLevel
		switch code {
		case codes.Internal, codes.Unknown, codes.DataLoss:
			lvl = zerolog.ErrorLevel
		case codes.OK:
			lvl = zerolog.InfoLevel
		}
		ev := log.WithLevel(lvl).
			Str("method", info.FullMethod).
			Str("code", code.String()).
			Dur("took", time.Since(start))
		if err != nil {
			reason, class := ErrorInfo(err)
			ev = ev.Err(err).Str("reason", reason).Str("class", class)
		}
		ev.Msg("rpc")
		return resp, err
	}
}
// #endregion interceptor
