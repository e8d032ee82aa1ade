package posestream

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/headtrack/internal/pointtracker"
)

// ServiceName is the fully-qualified gRPC service name. Messages use the
// protobuf well-known Struct and Empty types so clients need no generated
// stubs.
const ServiceName = "headtrack.v1.PoseStream"

const (
	streamPosesMethod = "/" + ServiceName + "/StreamPoses"
	controlMethod     = "/" + ServiceName + "/Control"
)

// PoseStreamServer is the server API for the PoseStream service.
type PoseStreamServer interface {
	// StreamPoses sends one Struct per published sample. The request may
	// set "valid_only" to skip samples without tracking.
	StreamPoses(req *structpb.Struct, stream grpc.ServerStream) error
	// Control applies {"command": "center"|"reset"|"pause"|"resume"}.
	Control(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PoseStreamServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Control", Handler: controlHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "StreamPoses", Handler: streamPosesHandler, ServerStreams: true},
	},
	Metadata: "headtrack/v1/posestream.proto",
}

var streamPosesDesc = serviceDesc.Streams[0]

func streamPosesHandler(srv any, stream grpc.ServerStream) error {
	req := new(structpb.Struct)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(PoseStreamServer).StreamPoses(req, stream)
}

func controlHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PoseStreamServer).Control(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: controlMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PoseStreamServer).Control(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// Ensure service implements the gRPC interface.
var _ PoseStreamServer = (*service)(nil)

type service struct {
	publisher *Publisher
}

func (s *service) StreamPoses(req *structpb.Struct, stream grpc.ServerStream) error {
	validOnly := req.GetFields()["valid_only"].GetBoolValue()

	id, ch, err := s.publisher.addClient()
	if err != nil {
		return status.Error(codes.ResourceExhausted, err.Error())
	}
	defer s.publisher.removeClient(id)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.publisher.stopCh:
			return nil
		case sample := <-ch:
			if validOnly && !sample.Valid {
				continue
			}
			msg, err := SampleToStruct(sample)
			if err != nil {
				return status.Error(codes.Internal, err.Error())
			}
			if err := stream.SendMsg(msg); err != nil {
				return err
			}
		}
	}
}

func (s *service) Control(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	ctrl := s.publisher.getController()
	if ctrl == nil {
		return nil, status.Error(codes.Unavailable, "tracker control is not enabled")
	}
	cmd := strings.ToLower(req.GetFields()["command"].GetStringValue())
	switch cmd {
	case "center":
		ctrl.Center()
	case "reset":
		ctrl.Reset()
	case "pause":
		ctrl.Pause()
	case "resume":
		ctrl.Resume()
	default:
		return nil, status.Errorf(codes.InvalidArgument, "unknown command %q", cmd)
	}
	return &emptypb.Empty{}, nil
}

// SampleToStruct encodes a sample as a Struct with the time in RFC 3339.
func SampleToStruct(s pointtracker.Sample) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"time":               s.Time.UTC().Format(time.RFC3339Nano),
		"valid":              s.Valid,
		"yaw":                s.Pose.Yaw,
		"pitch":              s.Pose.Pitch,
		"roll":               s.Pose.Roll,
		"x":                  s.Pose.X,
		"y":                  s.Pose.Y,
		"z":                  s.Pose.Z,
		"reprojection_error": s.ReprojectionError,
	})
}

// StructToSample decodes a Struct produced by SampleToStruct.
func StructToSample(m *structpb.Struct) (pointtracker.Sample, error) {
	f := m.GetFields()
	t, err := time.Parse(time.RFC3339Nano, f["time"].GetStringValue())
	if err != nil {
		return pointtracker.Sample{}, fmt.Errorf("invalid time: %w", err)
	}
	return pointtracker.Sample{
		Time:  t,
		Valid: f["valid"].GetBoolValue(),
		Pose: pointtracker.HeadPose{
			Yaw:   f["yaw"].GetNumberValue(),
			Pitch: f["pitch"].GetNumberValue(),
			Roll:  f["roll"].GetNumberValue(),
			X:     f["x"].GetNumberValue(),
			Y:     f["y"].GetNumberValue(),
			Z:     f["z"].GetNumberValue(),
		},
		ReprojectionError: f["reprojection_error"].GetNumberValue(),
	}, nil
}

// Subscription is the client side of StreamPoses.
type Subscription struct {
	stream grpc.ClientStream
}

// Subscribe opens a pose stream on conn.
func Subscribe(ctx context.Context, conn grpc.ClientConnInterface, validOnly bool) (*Subscription, error) {
	stream, err := conn.NewStream(ctx, &streamPosesDesc, streamPosesMethod)
	if err != nil {
		return nil, err
	}
	req, err := structpb.NewStruct(map[string]any{"valid_only": validOnly})
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &Subscription{stream: stream}, nil
}

// Recv blocks for the next sample.
func (s *Subscription) Recv() (pointtracker.Sample, error) {
	msg := new(structpb.Struct)
	if err := s.stream.RecvMsg(msg); err != nil {
		return pointtracker.Sample{}, err
	}
	return StructToSample(msg)
}

// SendControl invokes the Control RPC.
func SendControl(ctx context.Context, conn grpc.ClientConnInterface, command string) error {
	req, err := structpb.NewStruct(map[string]any{"command": command})
	if err != nil {
		return err
	}
	return conn.Invoke(ctx, controlMethod, req, new(emptypb.Empty))
}
