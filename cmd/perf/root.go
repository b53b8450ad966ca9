package perf

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/emberdb/ember/cmd/util"
	"github.com/emberdb/ember/lib/store"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	PerfCmd = &cobra.Command{
		Use:   "perf",
		Short: "Performance testing tool for ember stores",
		Long: util.WrapString("Runs a write / query / async-query / refresh workload against the " +
			"database and reports go-metrics timer statistics, optionally exported as CSV. " +
			"The workload writes into its own table and drops it afterwards."),
		RunE:    run,
		PreRunE: processPerfConfig,
	}

	perfTable       = "__perf"
	perfOps         = 1000
	perfKeySpread   = 100
	perfValueSizeKB = 1
)

func init() {
	// add flags
	key := "ops"
	PerfCmd.Flags().Int(key, 1000, util.WrapString("Number of operations per workload phase"))
	key = "keys"
	PerfCmd.Flags().Int(key, 100, util.WrapString("How many different keys to use for the tests"))
	key = "value-size"
	PerfCmd.Flags().Int(key, 1, util.WrapString("Size of the written field value (in KB)"))
	key = "csv"
	PerfCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfOps = viper.GetInt("ops")
	perfKeySpread = viper.GetInt("keys")
	perfValueSizeKB = viper.GetInt("value-size")

	return nil
}

func run(_ *cobra.Command, _ []string) error {
	path := viper.GetString("db")

	fmt.Println("Performance testing tool for ember stores")
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Printf("Database:   %s\n", path)
	fmt.Printf("Operations: %d\n", perfOps)
	fmt.Printf("Keys:       %d\n", perfKeySpread)
	fmt.Printf("Value size: %d KB\n", perfValueSizeKB)
	fmt.Println()

	st, err := store.Open(path, nil)
	if err != nil {
		return err
	}
	defer st.Close()

	// The workload uses its own table and removes it again.
	defer func() {
		_ = st.Write(func(tx *store.Store) error {
			return tx.DropTable(perfTable)
		})
	}()

	reg := gometrics.NewRegistry()
	value := make([]byte, perfValueSizeKB*1024)

	writeTimer := gometrics.GetOrRegisterTimer("write", reg)
	for i := 0; i < perfOps; i++ {
		key := perfKey(i)
		writeTimer.Time(func() {
			if err := st.Write(func(tx *store.Store) error {
				return tx.Set(perfTable, key, map[string][]byte{"v": value})
			}); err != nil {
				fmt.Fprintf(os.Stderr, "(write) - error committing: %v\n", err)
			}
		})
	}
	printResult("write", writeTimer)

	queryTimer := gometrics.GetOrRegisterTimer("query", reg)
	for i := 0; i < perfOps; i++ {
		queryTimer.Time(func() {
			if _, err := st.Query(perfTable, nil); err != nil {
				fmt.Fprintf(os.Stderr, "(query) - error querying: %v\n", err)
			}
		})
	}
	printResult("query", queryTimer)

	asyncTimer := gometrics.GetOrRegisterTimer("query-async", reg)
	for i := 0; i < perfOps; i++ {
		asyncTimer.Time(func() {
			coll, err := st.QueryAsync(perfTable, nil)
			if err != nil {
				fmt.Fprintf(os.Stderr, "(query-async) - error submitting: %v\n", err)
				return
			}
			// Submit-to-delivery latency, including the refresh that
			// drains the result.
			for !coll.IsLoaded() {
				if _, err := st.Refresh(); err != nil {
					fmt.Fprintf(os.Stderr, "(query-async) - error refreshing: %v\n", err)
					return
				}
			}
		})
	}
	printResult("query-async", asyncTimer)

	refreshTimer := gometrics.GetOrRegisterTimer("refresh", reg)
	for i := 0; i < perfOps; i++ {
		refreshTimer.Time(func() {
			if _, err := st.Refresh(); err != nil {
				fmt.Fprintf(os.Stderr, "(refresh) - error refreshing: %v\n", err)
			}
		})
	}
	printResult("refresh", refreshTimer)

	// Write results to csv if specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, reg); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func perfKey(i int) string {
	return perfTable + "-" + strconv.Itoa(i%perfKeySpread)
}

// printResult prints one timer's statistics in a formatted way
func printResult(test string, t gometrics.Timer) {
	snap := t.Snapshot()
	if snap.Count() == 0 {
		fmt.Printf("%-14sskipped\n", test)
		return
	}

	mean := time.Duration(int64(snap.Mean()))
	p95 := time.Duration(int64(snap.Percentile(0.95)))
	fmt.Printf("%-14s%8d ops\t%12s/op (p95 %s)\t%.0f ops/sec\n",
		test, snap.Count(), mean, p95, snap.RateMean())
}

// writeResultsToCSV writes the timer statistics to a CSV file
func writeResultsToCSV(csvPath string, reg gometrics.Registry) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Test", "Count", "MeanNs", "P95Ns", "MaxNs", "OpsPerSec",
		"Ops", "Keys", "ValueSizeKB",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	var writeErr error
	reg.Each(func(name string, m interface{}) {
		t, ok := m.(gometrics.Timer)
		if !ok || writeErr != nil {
			return
		}
		snap := t.Snapshot()
		row := []string{
			name,
			strconv.FormatInt(snap.Count(), 10),
			fmt.Sprintf("%.0f", snap.Mean()),
			fmt.Sprintf("%.0f", snap.Percentile(0.95)),
			strconv.FormatInt(snap.Max(), 10),
			fmt.Sprintf("%.0f", snap.RateMean()),
			strconv.Itoa(perfOps),
			strconv.Itoa(perfKeySpread),
			strconv.Itoa(perfValueSizeKB),
		}
		if err := writer.Write(row); err != nil {
			writeErr = fmt.Errorf("failed to write row for test %s: %v", name, err)
		}
	})
	return writeErr
}
