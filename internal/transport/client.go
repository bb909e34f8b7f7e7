package transport

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/photo-retrieval/internal/session"
)

// #region client-struct
// Client calls RetrievalService over a gRPC connection.
type Client struct {
	conn grpc.ClientConnInterface
	own  *grpc.ClientConn
}

// Dial connects to a retrievald at addr.
func Dial(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &Client{conn: conn, own: conn}, nil
}

// NewClient wraps an existing connection. Close leaves it open.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Close shuts down a connection opened by Dial.
func (c *Client) Close() error {
	if c.own == nil {
		return nil
	}
	return c.own.Close()
}
// #endregion client-struct

// #region calls
func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	in, err := toStruct(req)
	if err != nil {
		return err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, in, out); err != nil {
		return fmt.Errorf("%s rpc: %w", method, err)
	}
	return fromStruct(out, resp)
}

func (c *Client) Create(ctx context.Context, req session.CreateRequest) (session.View, error) {
	var v session.View
	err := c.invoke(ctx, MethodCreateSession, createRequest{
		UserID:            req.UserID,
		Remark:            req.Remark,
		Library:           req.Library,
		Distance:          req.Distance,
		Strategy:          req.Strategy,
		MaxIteration:      req.MaxIteration,
		MaxIterationFaces: req.MaxIterationFaces,
		SeedPhoto:         req.SeedPhoto,
	}, &v)
	return v, err
}

func (c *Client) Start(ctx context.Context, id string) (session.View, error) {
	var v session.View
	err := c.invoke(ctx, MethodStartSession, sessionRequest{ID: id}, &v)
	return v, err
}

func (c *Client) SubmitAnswer(ctx context.Context, id string, round int, answer string) (session.View, error) {
	var v session.View
	err := c.invoke(ctx, MethodSubmitAnswer, sessionRequest{ID: id, Round: round, Answer: answer}, &v)
	return v, err
}

func (c *Client) Abort(ctx context.Context, id, reason string) (session.View, error) {
	var v session.View
	err := c.invoke(ctx, MethodAbortSession, sessionRequest{ID: id, Reason: reason}, &v)
	return v, err
}

func (c *Client) Get(ctx context.Context, id string) (session.View, error) {
	var v session.View
	err := c.invoke(ctx, MethodGetSession, sessionRequest{ID: id}, &v)
	return v, err
}

func (c *Client) History(ctx context.Context, id string) ([]Round, error) {
	var resp historyResponse
	if err := c.invoke(ctx, MethodGetHistory, sessionRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	return resp.Rounds, nil
}
// #endregion calls
