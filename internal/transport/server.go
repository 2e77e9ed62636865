package transport

import (
	"context"
	"errors"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pb "routex/api/proto/v1"
	"routex/internal/logging"
	"routex/internal/version"
)

// ErrNotFound is returned by a Controller for an unknown pipeline id.
var ErrNotFound = errors.New("pipeline not found")

// Controller is what the control service drives.
type Controller interface {
	Deploy(ctx context.Context, manifest []byte) (string, error)
	Pause(id string) error
}

type Server struct {
	grpc *grpc.Server
	lis  net.Listener
}

func StartServer(port int, ctl Controller) (*Server, error) {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, err
	}
	return NewServer(lis, ctl), nil
}

// NewServer registers the control service on lis; Serve starts accepting.
func NewServer(lis net.Listener, ctl Controller) *Server {
	s := &Server{
		grpc: grpc.NewServer(),
		lis:  lis,
	}
	pb.RegisterControlServer(s.grpc, &control{ctl: ctl})
	return s
}

func (s *Server) Addr() net.Addr { return s.lis.Addr() }

func (s *Server) Serve() error {
	return s.grpc.Serve(s.lis)
}
func (s *Server) Stop() {
	s.grpc.GracefulStop()
}

/*──────── control service ───────*/

type control struct {
	pb.UnimplementedControlServer
	ctl Controller
}

func (c *control) Ping(context.Context, *pb.PingRequest) (*pb.PingReply, error) {
	return &pb.PingReply{Status: "ok " + version.Version}, nil
}

func (c *control) DeployPipeline(ctx context.Context, in *pb.DeployRequest) (*pb.DeployReply, error) {
	if in.GetYaml() == "" {
		return nil, status.Error(codes.InvalidArgument, "empty pipeline manifest")
	}
	id, err := c.ctl.Deploy(ctx, []byte(in.GetYaml()))
	if err != nil {
		logging.L().With("component", "control").Warn("deploy rejected", "err", err)
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return &pb.DeployReply{Id: id}, nil
}

func (c *control) PausePipeline(_ context.Context, in *pb.PauseRequest) (*pb.PauseReply, error) {
	if err := c.ctl.Pause(in.GetId()); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, status.Error(codes.NotFound, err.Error())
		}
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &pb.PauseReply{Ok: true}, nil
}
