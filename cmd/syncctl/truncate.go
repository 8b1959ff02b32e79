package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/diarco/connexa-sync/internal/infrastructure/config"
)

func newTruncateCmd(root *rootOptions) *cobra.Command {
	var side string

	cmd := &cobra.Command{
		Use:   "truncate <schema.table>",
		Short: "Truncate a table, backing off while other sessions hold locks on it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			schema, table, err := parseTarget(args[0], side)
			if err != nil {
				return err
			}

			a, err := bootstrap(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := a.close(); cerr != nil {
					a.log.Warn("Shutdown incomplete", zap.Error(cerr))
				}
			}()

			if err := a.openDatabases(side == "source", side == "destination"); err != nil {
				return err
			}
			m, err := a.maintainer(side)
			if err != nil {
				return err
			}
			return m.Truncate(cmd.Context(), schema, table)
		},
	}
	cmd.Flags().StringVar(&side, "db", "source", "Database holding the table: source or destination")
	return cmd
}

func newReloadCmd(root *rootOptions) *cobra.Command {
	var (
		side string
		file string
	)

	cmd := &cobra.Command{
		Use:   "reload <schema.table>",
		Short: "Truncate a table and bulk-load it from a CSV file whose header names the columns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			schema, table, err := parseTarget(args[0], side)
			if err != nil {
				return err
			}
			columns, rows, err := readCSV(file)
			if err != nil {
				return err
			}

			a, err := bootstrap(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := a.close(); cerr != nil {
					a.log.Warn("Shutdown incomplete", zap.Error(cerr))
				}
			}()

			if err := a.openDatabases(side == "source", side == "destination"); err != nil {
				return err
			}
			m, err := a.maintainer(side)
			if err != nil {
				return err
			}
			n, err := m.Reload(cmd.Context(), schema, table, columns, rows)
			if err != nil {
				return err
			}
			cmd.Printf("%d rows loaded into %s\n", n, args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&side, "db", "source", "Database holding the table: source or destination")
	cmd.Flags().StringVar(&file, "file", "", "CSV file to load")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func parseTarget(name, side string) (string, string, error) {
	if side != "source" && side != "destination" {
		return "", "", fmt.Errorf("--db must be source or destination, got %q", side)
	}
	return config.SplitQualified(name)
}

// readCSV returns the header as column names and every record as a row.
// Empty fields load as NULL.
func readCSV(path string) ([]string, [][]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	columns, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, fmt.Errorf("%s: missing header row", path)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}

	var rows [][]any
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", path, err)
		}
		row := make([]any, len(rec))
		for i, v := range rec {
			if v == "" {
				row[i] = nil
				continue
			}
			row[i] = v
		}
		rows = append(rows, row)
	}
	return columns, rows, nil
}
