package transport

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	pb "routex/api/proto/v1"
	"routex/internal/version"
)

type fakeController struct {
	deployed []string
	paused   []string
}

func (f *fakeController) Deploy(_ context.Context, m []byte) (string, error) {
	if string(m) == "bad" {
		return "", errors.New("pipeline schema_version \"v9\" not supported")
	}
	f.deployed = append(f.deployed, string(m))
	return "id-1", nil
}

func (f *fakeController) Pause(id string) error {
	switch id {
	case "id-1":
		f.paused = append(f.paused, id)
		return nil
	case "broken":
		return errors.New("close sink stdout: boom")
	default:
		return ErrNotFound
	}
}

func startBufconn(t *testing.T, ctl Controller) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := NewServer(lis, ctl)
	go func() { _ = srv.Serve() }()
	t.Cleanup(srv.Stop)

	cli, err := Dial("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cli.Close() })
	return cli
}

func TestControlService(t *testing.T) {
	ctl := &fakeController{}
	cli := startBufconn(t, ctl)
	ctx := context.Background()

	ping, err := cli.Ping(ctx, &pb.PingRequest{})
	require.NoError(t, err)
	assert.Equal(t, "ok "+version.Version, ping.GetStatus())

	dep, err := cli.DeployPipeline(ctx, &pb.DeployRequest{Yaml: "source: {class: x}"})
	require.NoError(t, err)
	assert.Equal(t, "id-1", dep.GetId())
	assert.Equal(t, []string{"source: {class: x}"}, ctl.deployed)

	pause, err := cli.PausePipeline(ctx, &pb.PauseRequest{Id: "id-1"})
	require.NoError(t, err)
	assert.True(t, pause.GetOk())
	assert.Equal(t, []string{"id-1"}, ctl.paused)
}

func TestControlServiceErrors(t *testing.T) {
	cli := startBufconn(t, &fakeController{})
	ctx := context.Background()

	_, err := cli.DeployPipeline(ctx, &pb.DeployRequest{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = cli.DeployPipeline(ctx, &pb.DeployRequest{Yaml: "bad"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	assert.Contains(t, status.Convert(err).Message(), "schema_version")

	_, err = cli.PausePipeline(ctx, &pb.PauseRequest{Id: "nope"})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = cli.PausePipeline(ctx, &pb.PauseRequest{Id: "broken"})
	assert.Equal(t, codes.Internal, status.Code(err))
}
