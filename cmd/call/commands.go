package call

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"github.com/ValentinKolb/portrpc/cmd/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"io"
)

var (
	callCmd = &cobra.Command{
		Use:   "call <module> <procedure> [payload]",
		Short: "Call a unary procedure and print its result",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := util.Timeout(context.Background(), rpcConfig)
			defer cancel()

			module, err := loadModule(ctx, args[0])
			if err != nil {
				return err
			}

			result, err := module.Call(ctx, args[1], payloadArg(args))
			if err != nil {
				return err
			}

			printPayload(cmd.OutOrStdout(), result)
			return nil
		},
	}

	streamCmd = &cobra.Command{
		Use:   "stream <module> <procedure> [payload]",
		Short: "Call a server streaming procedure and print every element",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := util.Timeout(context.Background(), rpcConfig)
			defer cancel()

			module, err := loadModule(ctx, args[0])
			if err != nil {
				return err
			}

			elements, err := module.CallStream(ctx, args[1], payloadArg(args))
			if err != nil {
				return err
			}
			defer elements.Close()

			for {
				item, err := elements.Next(ctx)
				if errors.Is(err, io.EOF) {
					return nil
				}
				if err != nil {
					return err
				}
				printPayload(cmd.OutOrStdout(), item)
			}
		},
	}
)

func init() {
	for _, cmd := range []*cobra.Command{callCmd, streamCmd} {
		cmd.Flags().Bool("hex", false, util.WrapString("Print payloads hex encoded instead of as text"))
	}
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func payloadArg(args []string) []byte {
	if len(args) < 3 {
		return nil
	}
	return []byte(args[2])
}

func printPayload(w io.Writer, payload []byte) {
	if viper.GetBool("hex") {
		_, _ = fmt.Fprintln(w, hex.EncodeToString(payload))
		return
	}
	_, _ = fmt.Fprintln(w, string(payload))
}
