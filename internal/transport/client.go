package transport

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	pb "routex/api/proto/v1"
)

type Client struct {
	pb.ControlClient
	conn *grpc.ClientConn
}

// Dial connects to a control server at target, e.g. "localhost:7070".
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	cc, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{ControlClient: pb.NewControlClient(cc), conn: cc}, nil
}

func (c *Client) Close() error { return c.conn.Close() }
