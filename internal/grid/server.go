package grid

import (
	"context"
	"errors"

	"github.com/GoSim-25-26J-441/simulation-campaign/pkg/logger"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name of the scheduler. It
// is also the service name reported through the health service.
const ServiceName = "sem.grid.v1.Scheduler"

const (
	submitMethod = "/" + ServiceName + "/Submit"
	statusMethod = "/" + ServiceName + "/Status"
)

// SchedulerServer is the server API of the scheduler service.
type SchedulerServer interface {
	Submit(context.Context, *structpb.Struct) (*wrapperspb.StringValue, error)
	Status(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
}

var schedulerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SchedulerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Submit", Handler: submitHandler},
		{MethodName: "Status", Handler: statusHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "sem/grid/v1/scheduler.proto",
}

func submitHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SchedulerServer).Submit(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: submitMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SchedulerServer).Submit(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func statusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SchedulerServer).Status(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: statusMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SchedulerServer).Status(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

// Server implements SchedulerServer on top of a Scheduler.
type Server struct {
	scheduler *Scheduler
}

// NewServer creates a Server backed by scheduler.
func NewServer(scheduler *Scheduler) *Server {
	return &Server{scheduler: scheduler}
}

// Register installs the scheduler and a health service reporting it as
// serving on registrar. The returned health server lets callers flip the
// status on shutdown.
func Register(registrar grpc.ServiceRegistrar, srv *Server) *health.Server {
	registrar.RegisterService(&schedulerServiceDesc, srv)
	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(registrar, hs)
	return hs
}

func (s *Server) Submit(ctx context.Context, req *structpb.Struct) (*wrapperspb.StringValue, error) {
	job, err := jobFromStruct(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	rec, err := s.scheduler.Submit(job)
	if err != nil {
		switch {
		case errors.Is(err, ErrJobExists):
			return nil, status.Error(codes.AlreadyExists, err.Error())
		case errors.Is(err, ErrInvalidJob):
			return nil, status.Error(codes.InvalidArgument, err.Error())
		case errors.Is(err, ErrSchedulerClosed):
			return nil, status.Error(codes.Unavailable, err.Error())
		}
		return nil, status.Error(codes.Internal, err.Error())
	}

	logger.Info("job submitted", "job_id", rec.Job.ID, "dir", rec.Job.Dir)
	return wrapperspb.String(rec.Job.ID), nil
}

func (s *Server) Status(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	if req.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "job id is required")
	}
	st, err := s.scheduler.Status(req.GetValue())
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			return nil, status.Error(codes.NotFound, err.Error())
		}
		return nil, status.Error(codes.Internal, err.Error())
	}
	out, err := st.toStruct()
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}
