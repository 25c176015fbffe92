// Command lynxkv is a small demo CLI exercising the lynxkv façade end to
// end: insert, get, select and a scripted transaction against a throwaway
// in-process database seeded with one "items" table.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/untoldecay/lynxkv"
	"github.com/untoldecay/lynxkv/internal/config"
)

var (
	version = "0.1.0"

	isolationFlag string
	timeoutFlag   int
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cmd := buildCommand()
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}

func buildCommand() *cobra.Command {
	if err := config.Initialize(); err != nil {
		fmt.Fprintln(os.Stderr, "warning: config init:", err)
	}

	root := &cobra.Command{
		Use:          "lynxkv",
		Short:        "in-memory transactional key-value store demo",
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&isolationFlag, "isolation", config.IsolationLevel(), "isolation level: read-latest, serializable")
	root.PersistentFlags().IntVar(&timeoutFlag, "lock-timeout-ms", config.LockTimeoutMs(), "lock acquisition timeout in milliseconds")

	root.AddCommand(insertCmd(), getCmd(), selectCmd(), txDemoCmd())
	return root
}

func options() lynxkv.Options {
	level, ok := lynxkv.ParseIsolationLevel(isolationFlag)
	if !ok {
		level = lynxkv.ReadLatest
	}
	timeout := lynxkv.DefaultLockTimeout
	if timeoutFlag > 0 {
		timeout = time.Duration(timeoutFlag) * time.Millisecond
	}
	return lynxkv.Options{IsolationLevel: level, LockTimeout: timeout}
}

func demoDatabase() (*lynxkv.Database, error) {
	return lynxkv.NewDatabase(map[string]lynxkv.TableDefinition{
		"items": {PrimaryKey: []string{"id"}},
	}, options())
}

func insertCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "insert <json-record>",
		Short: "insert a JSON record into the demo items table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := demoDatabase()
			if err != nil {
				return err
			}
			var rec lynxkv.Record
			if err := json.Unmarshal([]byte(args[0]), &rec); err != nil {
				return fmt.Errorf("parsing record: %w", err)
			}
			items, err := db.Get("items")
			if err != nil {
				return err
			}
			stored, err := items.Insert(rec)
			if err != nil {
				return err
			}
			return printRecords(cmd, []lynxkv.Record{stored})
		},
	}
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "find a record in the demo items table by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := demoDatabase()
			if err != nil {
				return err
			}
			items, err := db.Get("items")
			if err != nil {
				return err
			}
			id, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return fmt.Errorf("parsing id: %w", err)
			}
			rec, err := items.FindByPk(cmd.Context(), lynxkv.PartialRecord{"id": id})
			if err != nil {
				return err
			}
			if rec == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "not found")
				return nil
			}
			return printRecords(cmd, []lynxkv.Record{rec})
		},
	}
}

func selectCmd() *cobra.Command {
	var whereJSON string
	cmd := &cobra.Command{
		Use:   "select",
		Short: "select records from the demo items table with a filter",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := demoDatabase()
			if err != nil {
				return err
			}
			items, err := db.Get("items")
			if err != nil {
				return err
			}
			where := lynxkv.Filter{}
			if whereJSON != "" {
				if err := json.Unmarshal([]byte(whereJSON), &where); err != nil {
					return fmt.Errorf("parsing filter: %w", err)
				}
			}
			recs, err := items.Select(cmd.Context(), nil, where)
			if err != nil {
				return err
			}
			return printRecords(cmd, recs)
		},
	}
	cmd.Flags().StringVar(&whereJSON, "where", "", `JSON filter, e.g. {"id":{"$gte":3}}`)
	return cmd
}

// txDemoCmd exercises a scripted transaction: insert two records, update
// one, then commit.
func txDemoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tx-demo",
		Short: "run a scripted insert+update transaction and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := demoDatabase()
			if err != nil {
				return err
			}
			ctx := context.Background()
			err = db.Transaction(ctx, func(tx *lynxkv.Tx) error {
				items, err := tx.Get("items")
				if err != nil {
					return err
				}
				if _, err := items.Insert(lynxkv.Record{"id": float64(1), "name": "widget", "stock": float64(10)}); err != nil {
					return err
				}
				if _, err := items.Insert(lynxkv.Record{"id": float64(2), "name": "gadget", "stock": float64(3)}); err != nil {
					return err
				}
				_, err = items.Update(ctx, lynxkv.PartialRecord{"stock": float64(5)}, lynxkv.Filter{"id": float64(2)})
				return err
			}, options())
			if err != nil {
				return err
			}
			items, err := db.Get("items")
			if err != nil {
				return err
			}
			recs, err := items.Select(ctx, nil, lynxkv.Filter{})
			if err != nil {
				return err
			}
			return printRecords(cmd, recs)
		},
	}
}

var headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)

// printRecords renders records as a simple aligned table of their field
// names, sorted so output is deterministic across a map-backed Record.
func printRecords(cmd *cobra.Command, recs []lynxkv.Record) error {
	out := cmd.OutOrStdout()
	if len(recs) == 0 {
		fmt.Fprintln(out, "no records")
		return nil
	}
	fieldSet := map[string]bool{}
	for _, r := range recs {
		for f := range r {
			fieldSet[f] = true
		}
	}
	fields := make([]string, 0, len(fieldSet))
	for f := range fieldSet {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	header := make([]string, len(fields))
	for i, f := range fields {
		header[i] = headerStyle.Render(f)
	}
	fmt.Fprintln(out, lipgloss.JoinHorizontal(lipgloss.Top, pad(header)...))
	for _, r := range recs {
		row := make([]string, len(fields))
		for i, f := range fields {
			row[i] = fmt.Sprint(r[f])
		}
		fmt.Fprintln(out, lipgloss.JoinHorizontal(lipgloss.Top, pad(row)...))
	}
	return nil
}

func pad(cells []string) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		out[i] = lipgloss.NewStyle().Width(16).Render(c)
	}
	return out
}
