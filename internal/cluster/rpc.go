package cluster

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
)

// jsonCodec implements the grpc wire codec with JSON rather than
// protobuf binary encoding. The admin surface here is a single
// status call with no generated message types, so protoc-generated
// marshaling buys nothing the standard library doesn't already give us;
// grpc's ForceServerCodec/ForceCodec options exist precisely to let a
// service opt out of the default proto codec.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                               { return "json" }

// StatusRequest is the Admin.Status RPC's request (currently empty).
type StatusRequest struct{}

// StatusResponse reports a node's lifecycle state and leadership.
type StatusResponse struct {
	NodeID     string
	State      string
	IsLeader   bool
	LeaderHint string
}

// AdminServer is the cluster admin RPC surface external tooling uses to
// query node status without going through Raft's own transport.
type AdminServer interface {
	Status(ctx context.Context, req *StatusRequest) (*StatusResponse, error)
}

var adminServiceDesc = grpc.ServiceDesc{
	ServiceName: "neuroquantum.cluster.Admin",
	HandlerType: (*AdminServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Status",
			Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
				req := new(StatusRequest)
				if err := dec(req); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return srv.(AdminServer).Status(ctx, req)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/neuroquantum.cluster.Admin/Status"}
				handler := func(ctx context.Context, req interface{}) (interface{}, error) {
					return srv.(AdminServer).Status(ctx, req.(*StatusRequest))
				}
				return interceptor(ctx, req, info, handler)
			},
		},
	},
	Metadata: "cluster/admin",
}

// RegisterAdminServer attaches srv's Admin service to s.
func RegisterAdminServer(s *grpc.Server, srv AdminServer) {
	s.RegisterService(&adminServiceDesc, srv)
}

// ServerOption returns the grpc.ServerOption that makes a grpc.Server
// understand this package's JSON-coded admin messages.
func ServerOption() grpc.ServerOption {
	return grpc.ForceServerCodec(jsonCodec{})
}

type nodeAdminServer struct {
	node *Node
}

// NewAdminServer wraps node as an AdminServer.
func NewAdminServer(node *Node) AdminServer {
	return &nodeAdminServer{node: node}
}

func (s *nodeAdminServer) Status(ctx context.Context, req *StatusRequest) (*StatusResponse, error) {
	leaderAddr, _ := s.node.raw.LeaderWithID()
	return &StatusResponse{
		NodeID:     s.node.cfg.NodeID,
		State:      s.node.State().String(),
		IsLeader:   s.node.IsLeader(),
		LeaderHint: string(leaderAddr),
	}, nil
}

// AdminClient calls the Admin service over a dialed connection.
type AdminClient interface {
	Status(ctx context.Context, req *StatusRequest) (*StatusResponse, error)
}

type adminClient struct {
	cc *grpc.ClientConn
}

// NewAdminClient wraps a dialed connection as an AdminClient.
func NewAdminClient(cc *grpc.ClientConn) AdminClient {
	return &adminClient{cc: cc}
}

func (c *adminClient) Status(ctx context.Context, req *StatusRequest) (*StatusResponse, error) {
	out := new(StatusResponse)
	err := c.cc.Invoke(ctx, "/neuroquantum.cluster.Admin/Status", req, out, grpc.ForceCodec(jsonCodec{}))
	return out, err
}
