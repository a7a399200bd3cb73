package cmd

import (
	"fmt"
	"github.com/ValentinKolb/portrpc/cmd/call"
	"github.com/ValentinKolb/portrpc/cmd/serve"
	"github.com/ValentinKolb/portrpc/cmd/util"
	"github.com/spf13/cobra"
	"os"
)

const (
	Version = "0.1.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "portrpc",
		Short: "port based rpc runtime",
		Long: fmt.Sprintf(`portrpc (v%s)

A message oriented RPC runtime written in Go. Clients open ports on a server,
load modules on them and call their procedures as unary, server streaming,
client streaming or bidirectional calls with acknowledged flow control.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of portrpc",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("portrpc v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(call.Commands...)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "serializer"
	RootCmd.PersistentFlags().String(key, "binary", util.WrapString("serializer to use (binary, json)"))
	key = "transport"
	RootCmd.PersistentFlags().String(key, "tcp", util.WrapString("transport to use (tcp, unix, ws)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
