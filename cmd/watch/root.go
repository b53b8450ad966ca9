package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/emberdb/ember/cmd/util"
	"github.com/emberdb/ember/lib/engine"
	"github.com/emberdb/ember/lib/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	WatchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Watch a table for changes and print change sets",
		Long: util.WrapString("Opens the database, registers a change listener on one table and " +
			"runs a notification loop that prints every delivered change set until interrupted. " +
			"With --demo a background writer commits random mutations so the notifications " +
			"can be observed on an otherwise idle database."),
		RunE:    run,
		PreRunE: processConfig,
	}

	watchTable    string
	watchDemo     bool
	watchInterval time.Duration
	watchMetrics  bool
)

func init() {
	// add flags
	key := "table"
	WatchCmd.Flags().String(key, "demo", util.WrapString("Table to watch"))
	key = "demo"
	WatchCmd.Flags().Bool(key, false, util.WrapString("Run a background writer that commits random mutations"))
	key = "demo-interval"
	WatchCmd.Flags().Duration(key, 500*time.Millisecond, util.WrapString("Time between demo commits"))
	key = "metrics"
	WatchCmd.Flags().Bool(key, false, util.WrapString("Dump prometheus metrics on exit"))
}

func processConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	watchTable = viper.GetString("table")
	watchDemo = viper.GetBool("demo")
	watchInterval = viper.GetDuration("demo-interval")
	watchMetrics = viper.GetBool("metrics")

	return nil
}

func run(_ *cobra.Command, _ []string) error {
	path := viper.GetString("db")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(path, nil)
	if err != nil {
		return err
	}
	defer st.Close()

	if watchDemo {
		go demoWriter(ctx, path)
	}

	coll, err := openCollection(ctx, st)
	if err != nil {
		return err
	}

	if err := coll.Watch(printChangeSet(st)); err != nil {
		return err
	}

	v, _ := st.Version()
	size, _ := coll.Size()
	fmt.Printf("watching %q in %s (version %d, %d rows), ctrl-c to stop\n", watchTable, path, v, size)

	if err := st.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	if watchMetrics {
		fmt.Println()
		metrics.WritePrometheus(os.Stdout, true)
	}
	return nil
}

// openCollection queries the watched table, waiting for the demo writer to
// create it when necessary.
func openCollection(ctx context.Context, st *store.Store) (*store.Collection, error) {
	for {
		coll, err := st.Query(watchTable, nil)
		if err == nil {
			return coll, nil
		}
		if !engine.IsCode(err, engine.RetCQueryFailed) {
			return nil, err
		}
		if !watchDemo {
			return nil, fmt.Errorf("table %q does not exist (run with --demo to create one)", watchTable)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if _, err := st.Refresh(); err != nil {
			return nil, err
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func printChangeSet(st *store.Store) store.CollectionChangeFunc {
	return func(c *store.Collection, cs store.ChangeSet) {
		v, _ := st.Version()
		size, _ := c.Size()
		fmt.Printf("[v%-4d] %3d rows  +%v -%v ~%v\n", v, size, cs.Insertions, cs.Deletions, cs.Modifications)
	}
}

// demoWriter commits random mutations on its own goroutine with its own
// handle until the context is cancelled.
func demoWriter(ctx context.Context, path string) {
	st, err := store.Open(path, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "demo writer: %v\n", err)
		return
	}
	defer st.Close()

	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	for i := 0; ; i++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		key := "demo-" + strconv.Itoa(i%16)
		err := st.Write(func(tx *store.Store) error {
			// Every fifth commit deletes instead of writing.
			if i%5 == 4 {
				return tx.DeleteRow(watchTable, key)
			}
			return tx.Set(watchTable, key, map[string][]byte{
				"tick": []byte(strconv.Itoa(i)),
				"at":   []byte(time.Now().Format(time.RFC3339)),
			})
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "demo writer: %v\n", err)
		}
	}
}
