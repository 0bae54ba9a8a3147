package supervisorproto

import (
	"context"

	"google.golang.org/grpc"
)

const serviceName = "supervisorproto.Supervisor"

// Server is the interface a supervisor process implements to answer the
// registry's private-channel RPCs.
type Server interface {
	Forward(context.Context, *ForwardRequest) (*ForwardResponse, error)
	GetMetrics(context.Context, *MetricsRequest) (*MetricsResponse, error)
	GetInfo(context.Context, *InfoRequest) (*InfoResponse, error)
	Shutdown(context.Context, *ShutdownRequest) (*ShutdownResponse, error)
}

// RegisterSupervisorServer wires impl into s under this package's service
// descriptor.
func RegisterSupervisorServer(s grpc.ServiceRegistrar, impl Server) {
	s.RegisterService(&serviceDesc, impl)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Forward",
			Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
				req := new(ForwardRequest)
				if err := dec(req); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return srv.(Server).Forward(ctx, req)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Forward"}
				handler := func(ctx context.Context, req interface{}) (interface{}, error) {
					return srv.(Server).Forward(ctx, req.(*ForwardRequest))
				}
				return interceptor(ctx, req, info, handler)
			},
		},
		{
			MethodName: "GetMetrics",
			Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
				req := new(MetricsRequest)
				if err := dec(req); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return srv.(Server).GetMetrics(ctx, req)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/GetMetrics"}
				handler := func(ctx context.Context, req interface{}) (interface{}, error) {
					return srv.(Server).GetMetrics(ctx, req.(*MetricsRequest))
				}
				return interceptor(ctx, req, info, handler)
			},
		},
		{
			MethodName: "GetInfo",
			Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
				req := new(InfoRequest)
				if err := dec(req); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return srv.(Server).GetInfo(ctx, req)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/GetInfo"}
				handler := func(ctx context.Context, req interface{}) (interface{}, error) {
					return srv.(Server).GetInfo(ctx, req.(*InfoRequest))
				}
				return interceptor(ctx, req, info, handler)
			},
		},
		{
			MethodName: "Shutdown",
			Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
				req := new(ShutdownRequest)
				if err := dec(req); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return srv.(Server).Shutdown(ctx, req)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Shutdown"}
				handler := func(ctx context.Context, req interface{}) (interface{}, error) {
					return srv.(Server).Shutdown(ctx, req.(*ShutdownRequest))
				}
				return interceptor(ctx, req, info, handler)
			},
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "supervisorproto.proto",
}

// Client is the registry-side stub for one supervisor's private channel.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) Forward(ctx context.Context, req *ForwardRequest) (*ForwardResponse, error) {
	resp := new(ForwardResponse)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/Forward", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) GetMetrics(ctx context.Context, req *MetricsRequest) (*MetricsResponse, error) {
	resp := new(MetricsResponse)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/GetMetrics", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) GetInfo(ctx context.Context, req *InfoRequest) (*InfoResponse, error) {
	resp := new(InfoResponse)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/GetInfo", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) Shutdown(ctx context.Context, req *ShutdownRequest) (*ShutdownResponse, error) {
	resp := new(ShutdownResponse)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/Shutdown", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Dial connects to a supervisor's private channel over a Unix domain
// socket at socketPath.
func Dial(ctx context.Context, socketPath string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	allOpts := append([]grpc.DialOption{
		grpc.WithContextDialer(unixDialer),
	}, opts...)
	return grpc.DialContext(ctx, "unix://"+socketPath, allOpts...)
}
