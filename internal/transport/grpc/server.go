package grpcx

import (
	"context"
	"encoding/json"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/cwrk-planet/signaling-service/internal/domain"
	"github.com/cwrk-planet/signaling-service/internal/transport/ws"
)

const ServiceName = "signaling.v1.Introspection"

type StatsSource interface {
	Stats() ws.Stats
}

type RoomSource interface {
	List() []domain.RoomSummary
	Get(roomID string) (*domain.Room, error)
	Participants(roomID string) ([]domain.Participant, error)
}

// IntrospectionServer exposes read-only views of the live signaling state.
// Replies are generic structs carrying the same JSON shapes as the HTTP API.
type IntrospectionServer interface {
	Stats(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ListRooms(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetRoom(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
}

type Server struct {
	stats StatsSource
	rooms RoomSource
}

func NewServer(stats StatsSource, rooms RoomSource) *Server {
	return &Server{stats: stats, rooms: rooms}
}

// Register installs the introspection and health services on grpcServer.
func Register(grpcServer *grpc.Server, s *Server) *health.Server {
	grpcServer.RegisterService(&introspectionDesc, s)

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, hs)
	return hs
}

func (s *Server) Stats(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return toStruct(s.stats.Stats())
}

func (s *Server) ListRooms(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return toStruct(map[string]any{"items": s.rooms.List()})
}

func (s *Server) GetRoom(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	id := in.GetValue()
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "room id is required")
	}
	room, err := s.rooms.Get(id)
	if err != nil {
		return nil, mapErr(err)
	}
	parts, err := s.rooms.Participants(id)
	if err != nil {
		return nil, mapErr(err)
	}
	return toStruct(map[string]any{"room": room, "participants": parts})
}

// toStruct converts v through its JSON form.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, domain.ErrRoomNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrNotAuthorized):
		return status.Error(codes.PermissionDenied, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// -------- service descriptor --------

var introspectionDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*IntrospectionServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Stats", Handler: statsHandler},
		{MethodName: "ListRooms", Handler: listRoomsHandler},
		{MethodName: "GetRoom", Handler: getRoomHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "signaling/v1/introspection.proto",
}

func statsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(IntrospectionServer).Stats(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Stats"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(IntrospectionServer).Stats(ctx, req.(*emptypb.Empty))
	})
}

func listRoomsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(IntrospectionServer).ListRooms(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/ListRooms"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(IntrospectionServer).ListRooms(ctx, req.(*emptypb.Empty))
	})
}

func getRoomHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(IntrospectionServer).GetRoom(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/GetRoom"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(IntrospectionServer).GetRoom(ctx, req.(*wrapperspb.StringValue))
	})
}

// Client calls the introspection service over cc.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) Stats(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/Stats", &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListRooms(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/ListRooms", &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetRoom(ctx context.Context, id string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/GetRoom", wrapperspb.String(id), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// NewGRPCServer builds a server with the logging, recovery and auth chain.
// verify may be nil to disable auth.
func NewGRPCServer(verify func(token string) error, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts,
		grpc.ChainUnaryInterceptor(UnaryServerInterceptor(), AuthUnaryInterceptor(verify)),
		grpc.ChainStreamInterceptor(StreamServerInterceptor()),
	)
	return grpc.NewServer(opts...)
}
