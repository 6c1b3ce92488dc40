package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/torosent/loadgate/internal/state"
)

// reportKeys are printed in pipeline order.
var reportKeys = []string{state.KeyLoadTest, state.KeyResourceMetrics}

func (a *app) reportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Print the Markdown reports recorded in the state file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer s.close()
			if err := s.printReports(); err != nil {
				return phaseError("report", err)
			}
			return nil
		},
	}
}

// printReports writes each recorded Markdown file to stdout. Missing
// entries or files are skipped with a log line.
func (s *session) printReports() error {
	printed := 0
	for _, key := range reportKeys {
		path := s.state.Lookup(key + ".markdown").String()
		if path == "" {
			s.logger.Info("no report recorded", zap.String("key", key))
			continue
		}
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("report file missing", zap.String("key", key), zap.String("path", path))
			continue
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		if printed > 0 {
			fmt.Fprintln(s.stdout)
		}
		if _, err := s.stdout.Write(data); err != nil {
			return err
		}
		printed++
	}
	if printed == 0 {
		s.logger.Info("state has no reports", zap.String("state", s.state.Path()))
	}
	return nil
}

func (a *app) stateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect the pipeline state file",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "get KEY",
		Short: "Print the value at a dotted key path such as load_test.markdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			res := s.state.Lookup(args[0])
			if !res.Exists() {
				return fmt.Errorf("state: key %q not found in %s", args[0], s.state.Path())
			}
			if res.Type == gjson.String {
				fmt.Fprintln(s.stdout, res.String())
			} else {
				fmt.Fprintln(s.stdout, res.Raw)
			}
			return nil
		},
	}, &cobra.Command{
		Use:   "keys",
		Short: "List the top-level keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer s.close()
			for _, k := range s.state.Keys() {
				fmt.Fprintln(s.stdout, k)
			}
			return nil
		},
	})
	return cmd
}
