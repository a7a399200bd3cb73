package call

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"github.com/ValentinKolb/portrpc/cmd/util"
	"github.com/ValentinKolb/portrpc/lib/echo"
	"github.com/ValentinKolb/portrpc/rpc/common"
	"github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"os"
	"strconv"
	"sync/atomic"
	"time"
)

var (
	benchCmd = &cobra.Command{
		Use:     "bench",
		Short:   "Performance testing tool for portrpc servers",
		Long:    "Runs concurrent unary calls of the echo procedure and prints latency percentiles",
		PreRunE: processBenchConfig,
		RunE:    runBench,
	}
	benchCalls       = 10000
	benchThreads     = 10
	benchPayloadSize = 64
)

// benchPercentiles are the latency percentiles that are reported
var benchPercentiles = []float64{0.5, 0.9, 0.99, 0.999}

func init() {
	key := "calls"
	benchCmd.Flags().Int(key, 10000, util.WrapString("Total number of calls to make"))
	key = "threads"
	benchCmd.Flags().Int(key, 10, util.WrapString("Number of concurrent callers"))
	key = "size"
	benchCmd.Flags().Int(key, 64, util.WrapString("Payload size of every call in bytes"))
	key = "csv"
	benchCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processBenchConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	benchCalls = viper.GetInt("calls")
	benchThreads = viper.GetInt("threads")
	benchPayloadSize = viper.GetInt("size")

	if benchCalls <= 0 || benchThreads <= 0 || benchPayloadSize < 0 {
		return fmt.Errorf("calls and threads must be positive, size must not be negative")
	}
	return nil
}

func runBench(_ *cobra.Command, _ []string) error {
	fmt.Println("Performance testing tool for portrpc servers")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(rpcConfig.String())
	fmt.Printf("Calls: %d, Threads: %d, Payload: %d bytes\n", benchCalls, benchThreads, benchPayloadSize)
	fmt.Println()

	ctx := context.Background()
	module, err := rpcPort.LoadModule(ctx, echo.Name)
	if err != nil {
		return err
	}

	timer, elapsed, err := benchUnary(ctx, func(ctx context.Context, payload []byte) error {
		result, err := module.Call(ctx, "echo", payload)
		if err != nil {
			return err
		}
		if !bytes.Equal(result, payload) {
			return fmt.Errorf("echo returned %d bytes, sent %d", len(result), len(payload))
		}
		return nil
	})
	if err != nil {
		return err
	}

	printTimer("echo", timer, elapsed)

	// Write results to csv if specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, "echo", timer, elapsed, rpcConfig); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// benchUnary runs call benchCalls times on benchThreads goroutines and records every latency
func benchUnary(ctx context.Context, call func(ctx context.Context, payload []byte) error) (metrics.Timer, time.Duration, error) {
	timer := metrics.NewCustomTimer(metrics.NewHistogram(metrics.NewUniformSample(benchCalls)), metrics.NewMeter())
	defer timer.Stop()

	payload := bytes.Repeat([]byte{'x'}, benchPayloadSize)
	var issued atomic.Int64

	start := time.Now()
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < benchThreads; i++ {
		g.Go(func() error {
			for issued.Add(1) <= int64(benchCalls) {
				if ctx.Err() != nil {
					return nil
				}
				callStart := time.Now()
				if err := call(ctx, payload); err != nil {
					return err
				}
				timer.UpdateSince(callStart)
			}
			return nil
		})
	}
	err := g.Wait()
	return timer.Snapshot(), time.Since(start), err
}

// printTimer prints the result of a benchmark in a formatted way
func printTimer(test string, timer metrics.Timer, elapsed time.Duration) {
	opsPerSec := float64(timer.Count()) / elapsed.Seconds()
	fmt.Printf("%-10s%d calls in %s\t%.0f ops/sec\n", test, timer.Count(), elapsed.Round(time.Millisecond), opsPerSec)
	fmt.Printf("%-10smean %s, min %s, max %s\n", "", time.Duration(timer.Mean()), time.Duration(timer.Min()), time.Duration(timer.Max()))

	values := timer.Percentiles(benchPercentiles)
	for i, p := range benchPercentiles {
		fmt.Printf("%-10sp%-6s %s\n", "", strconv.FormatFloat(p*100, 'f', -1, 64), time.Duration(values[i]))
	}
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath, test string, timer metrics.Timer, elapsed time.Duration, config *common.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Test", "Calls", "Threads", "PayloadBytes", "OpsPerSec",
		"MeanNs", "P50Ns", "P90Ns", "P99Ns", "P999Ns",
		"Endpoint", "Serializer", "Transport",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	values := timer.Percentiles(benchPercentiles)
	row := []string{
		test,
		strconv.FormatInt(timer.Count(), 10),
		strconv.Itoa(benchThreads),
		strconv.Itoa(benchPayloadSize),
		fmt.Sprintf("%.0f", float64(timer.Count())/elapsed.Seconds()),
		fmt.Sprintf("%.0f", timer.Mean()),
	}
	for _, v := range values {
		row = append(row, fmt.Sprintf("%.0f", v))
	}
	row = append(row,
		config.Transport.Endpoint,
		viper.GetString("serializer"),
		viper.GetString("transport"),
	)

	if err := writer.Write(row); err != nil {
		return fmt.Errorf("failed to write row for test %s: %v", test, err)
	}
	return nil
}
