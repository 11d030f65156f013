package grid

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Client talks to a remote scheduler.
type Client struct {
	conn  *grpc.ClientConn
	retry RetryPolicy
}

// DefaultDialOptions returns the options every client connection starts
// with: no transport security and trace propagation.
func DefaultDialOptions() []grpc.DialOption {
	return []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}
}

// Dial returns a client for the scheduler at addr. opts are applied after
// DefaultDialOptions.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append(DefaultDialOptions(), opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial scheduler %s: %w", addr, err)
	}
	return &Client{conn: conn, retry: DefaultRetryPolicy()}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Submit queues job and returns its id.
func (c *Client) Submit(ctx context.Context, job Job) (string, error) {
	in, err := job.toStruct()
	if err != nil {
		return "", fmt.Errorf("encode job: %w", err)
	}
	out := new(wrapperspb.StringValue)
	if err := c.conn.Invoke(ctx, submitMethod, in, out); err != nil {
		return "", fmt.Errorf("submit job: %w", err)
	}
	return out.GetValue(), nil
}

// Status returns the state of the job with the given id.
func (c *Client) Status(ctx context.Context, id string) (JobStatus, error) {
	out := new(structpb.Struct)
	err := c.retry.do(ctx, func() error {
		return c.conn.Invoke(ctx, statusMethod, wrapperspb.String(id), out)
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return JobStatus{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
		}
		return JobStatus{}, fmt.Errorf("job status: %w", err)
	}
	return statusFromStruct(out), nil
}

// Healthy reports whether the scheduler answers its health check as serving.
func (c *Client) Healthy(ctx context.Context) bool {
	resp, err := healthpb.NewHealthClient(c.conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return false
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
}

// Detect reports whether a serving scheduler answers at addr within timeout.
func Detect(ctx context.Context, addr string, timeout time.Duration, opts ...grpc.DialOption) bool {
	if addr == "" {
		return false
	}
	c, err := Dial(addr, opts...)
	if err != nil {
		return false
	}
	defer c.Close()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return c.Healthy(ctx)
}
