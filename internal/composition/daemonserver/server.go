package daemonserver

import (
	"context"

	"github.com/KEI-finance/treasury-contracts/internal/adapters/rpc"
	"github.com/KEI-finance/treasury-contracts/internal/composition/daemon/servicefactory"
	"github.com/KEI-finance/treasury-contracts/internal/composition/daemonservice"
)

// NewRPCServerWithOptions wires the composed treasury runtime and the
// RPC transport. An empty rpcAddr falls back to the configured address,
// then the transport default.
func NewRPCServerWithOptions(rpcAddr, configPath, dataDir, version string) (*rpc.Server, *daemonservice.Runtime, error) {
	rt, err := servicefactory.BuildDaemonRuntime(configPath, dataDir, version)
	if err != nil {
		return nil, nil, err
	}
	if rpcAddr == "" {
		rpcAddr = rt.RPCAddr
	}
	srv := rpc.NewServerWithOptions(rpcAddr, rt.Service, rpc.ServerOptions{
		Verifier:    rt.Verifier,
		Revocations: rt.Revocations,
		Logger:      rt.Logger,
	})
	return srv, rt, nil
}

// Run composes the daemon and serves until the context is canceled,
// releasing the chain connection on the way out.
func Run(ctx context.Context, rpcAddr, configPath, dataDir, version string) error {
	srv, rt, err := NewRPCServerWithOptions(rpcAddr, configPath, dataDir, version)
	if err != nil {
		return err
	}
	defer rt.Close()
	return srv.Run(ctx)
}
