// Package rpc exposes live chart series over a server-streaming gRPC method.
//
// Messages are google.protobuf.Struct values so the service needs no
// generated code; frame.go defines their shape.
package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName     = "perpchart.ChartService"
	subscribeMethod = "/" + ServiceName + "/Subscribe"
)

// ChartServer is the server API for ChartService.
type ChartServer interface {
	Subscribe(*structpb.Struct, SubscribeStream) error
}

// SubscribeStream is the server side of a Subscribe call.
type SubscribeStream interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

// ChartServiceDesc describes ChartService for grpc.Server registration.
var ChartServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ChartServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			Handler:       subscribeHandler,
			ServerStreams: true,
		},
	},
	Metadata: "perpchart/chart.proto",
}

// RegisterChartServer registers srv on s.
func RegisterChartServer(s grpc.ServiceRegistrar, srv ChartServer) {
	s.RegisterService(&ChartServiceDesc, srv)
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	req := new(structpb.Struct)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(ChartServer).Subscribe(req, &subscribeStream{stream})
}

type subscribeStream struct {
	grpc.ServerStream
}

func (s *subscribeStream) Send(m *structpb.Struct) error {
	return s.ServerStream.SendMsg(m)
}

// Client is the client API for ChartService.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Subscribe opens a stream for symbol at res seconds. The first frame is
// always a snapshot.
func (c *Client) Subscribe(ctx context.Context, symbol string, res int64, opts ...grpc.CallOption) (*FrameStream, error) {
	stream, err := c.cc.NewStream(ctx, &ChartServiceDesc.Streams[0], subscribeMethod, opts...)
	if err != nil {
		return nil, err
	}
	req, err := EncodeRequest(symbol, res)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &FrameStream{stream: stream}, nil
}

// FrameStream reads decoded frames from a Subscribe call.
type FrameStream struct {
	stream grpc.ClientStream
}

// Recv blocks for the next frame. It returns io.EOF when the server ends
// the stream.
func (s *FrameStream) Recv() (*Frame, error) {
	m := new(structpb.Struct)
	if err := s.stream.RecvMsg(m); err != nil {
		return nil, err
	}
	return DecodeFrame(m)
}
