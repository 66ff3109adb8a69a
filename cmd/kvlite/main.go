// Command kvlite is a small shell around the kv store: get, set,
// delete, and prefix listing against a database file.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/kvlite/kvlite"
	kvlogger "github.com/kvlite/kvlite/logger"
	"github.com/kvlite/kvlite/store"
)

var (
	dbPath  string
	verbose bool

	listLimit   int
	listOffset  int
	listReverse bool
	listOrderBy string
	listExact   bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "kvlite",
	Short:        "key-value store over sqlite",
	SilenceUsage: true,
}

func init() {
	viper.SetEnvPrefix("KVLITE")

	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "kvlite.sqlite", "path to the database file")
	viper.BindEnv("DB")
	if h := viper.GetString("DB"); h != "" {
		dbPath = h
	}

	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "log each operation")

	listCmd.Flags().IntVar(&listLimit, "limit", kvlite.DefaultLimit, "maximum records to return")
	listCmd.Flags().IntVar(&listOffset, "offset", 0, "records to skip")
	listCmd.Flags().BoolVar(&listReverse, "reverse", false, "reverse the ordering")
	listCmd.Flags().StringVar(&listOrderBy, "order-by", string(kvlite.ColumnKey), "column to order by (key, value, created_at, updated_at)")
	listCmd.Flags().BoolVar(&listExact, "exact", false, "also match the key equal to the bare prefix")

	rootCmd.AddCommand(getCmd, setCmd, delCmd, listCmd, deleteAllCmd)
}

// openSession binds a session to the configured database file.
func openSession() (kvlite.Session, error) {
	log := zap.NewNop()
	if verbose {
		log = kvlogger.New(os.Stderr)
	}

	s, err := store.Open(dbPath, kvlite.Config{}, log)
	if err != nil {
		return nil, err
	}
	if verbose {
		return store.NewLoggingSession(log, s), nil
	}
	return s, nil
}

var getCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "print the record stored under a key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		rec, err := s.Get(context.Background(), args[0])
		if err != nil {
			return err
		}
		if rec == nil {
			fmt.Println("null")
			return nil
		}
		return printJSON(rec)
	},
}

var setCmd = &cobra.Command{
	Use:   "set <key> <json-value>",
	Short: "write a JSON value under a key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var value interface{}
		if err := json.Unmarshal([]byte(args[1]), &value); err != nil {
			return fmt.Errorf("value must be valid JSON: %w", err)
		}

		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		rec, err := s.Set(context.Background(), args[0], value)
		if err != nil {
			return err
		}
		if rec == nil {
			return nil
		}
		return printJSON(rec)
	},
}

var delCmd = &cobra.Command{
	Use:   "del <key>",
	Short: "delete a key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		return s.Delete(context.Background(), args[0])
	},
}

var listCmd = &cobra.Command{
	Use:   "list [prefix]",
	Short: "list records under a prefix",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		prefix := ""
		if len(args) == 1 {
			prefix = args[0]
		}

		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		res, err := s.List(context.Background(), prefix, &kvlite.ListOptions{
			Limit:             listLimit,
			Offset:            listOffset,
			Reverse:           listReverse,
			OrderBy:           kvlite.Column(listOrderBy),
			IncludeExactMatch: listExact,
		})
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

var deleteAllCmd = &cobra.Command{
	Use:   "delete-all [prefix]",
	Short: "delete every record under a prefix; no prefix deletes everything",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		prefix := ""
		if len(args) == 1 {
			prefix = args[0]
		}

		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		return s.DeleteAll(context.Background(), prefix)
	},
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
