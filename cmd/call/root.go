package call

import (
	"context"
	"github.com/ValentinKolb/portrpc/cmd/util"
	"github.com/ValentinKolb/portrpc/rpc/client"
	"github.com/ValentinKolb/portrpc/rpc/common"
	"github.com/spf13/cobra"
)

var (
	rpcClient *client.RPCClient
	rpcPort   *client.Port
	rpcConfig *common.ClientConfig

	// Commands are the client commands (call, stream, bench)
	Commands = []*cobra.Command{callCmd, streamCmd, benchCmd}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	for _, cmd := range Commands {
		util.SetupRPCClientFlags(cmd)
		cmd.PreRunE = chain(setupClient, cmd.PreRunE)
		cmd.PostRunE = closeClient
	}
}

// setupClient connects to the server and opens the configured port
func setupClient(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	rpcConfig = util.GetClientConfig()

	s, err := util.GetSerializer()
	if err != nil {
		return err
	}

	t, err := util.GetTransport()
	if err != nil {
		return err
	}

	ctx, cancel := util.Timeout(context.Background(), rpcConfig)
	defer cancel()

	rpcClient, err = client.Dial(ctx, *rpcConfig, t, s)
	if err != nil {
		return err
	}

	rpcPort, err = rpcClient.CreatePort(ctx, rpcConfig.PortName)
	if err != nil {
		_ = rpcClient.Close()
		return err
	}
	return nil
}

// closeClient destroys the port and closes the connection
func closeClient(_ *cobra.Command, _ []string) error {
	if rpcPort != nil {
		_ = rpcPort.Close()
	}
	if rpcClient != nil {
		return rpcClient.Close()
	}
	return nil
}

// loadModule loads the module named by the first argument
func loadModule(ctx context.Context, name string) (*client.Module, error) {
	return rpcPort.LoadModule(ctx, name)
}

func chain(first, second func(*cobra.Command, []string) error) func(*cobra.Command, []string) error {
	if second == nil {
		return first
	}
	return func(cmd *cobra.Command, args []string) error {
		if err := first(cmd, args); err != nil {
			return err
		}
		return second(cmd, args)
	}
}
