package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vango-dev/prefsync/internal/errors"
	"github.com/vango-dev/prefsync/pkg/format"
)

func getCmd(flags *globalFlags) *cobra.Command {
	var def string

	cmd := &cobra.Command{
		Use:   "get KEY",
		Short: "Print the value stored under a key",
		Long: `Print the JSON value stored under KEY.

A missing or unparseable value prints the default instead.

Examples:
  prefsync get theme
  prefsync get counter --default '{"count":0}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defValue, err := parseJSONArg("--default", def)
			if err != nil {
				return err
			}
			s, err := openSession(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer s.Close()

			return printJSON(cmd.OutOrStdout(), s.cell(cmd.Context(), args[0], defValue).Get())
		},
	}

	cmd.Flags().StringVarP(&def, "default", "d", "null", "JSON default printed when the key is unset")
	return cmd
}

func setCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set KEY JSON",
		Short: "Store a JSON value under a key",
		Long: `Store a JSON value under KEY. Every process watching KEY on the
same backend observes the change.

Examples:
  prefsync set theme '"dark"'
  prefsync set counter '{"count":3}'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := parseJSONArg("value", args[1])
			if err != nil {
				return err
			}
			s, err := openSession(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer s.Close()

			s.cell(cmd.Context(), args[0], nil).Set(value)
			if err := s.firstWarning(); err != nil {
				return err
			}
			success("Set %s", args[0])
			return nil
		},
	}
	return cmd
}

func rmCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "rm KEY",
		Aliases: []string{"remove", "delete"},
		Short:   "Delete the value stored under a key",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer s.Close()

			s.cell(cmd.Context(), args[0], nil).Remove()
			if err := s.firstWarning(); err != nil {
				return err
			}
			success("Removed %s", args[0])
			return nil
		},
	}
	return cmd
}

func watchCmd(flags *globalFlags) *cobra.Command {
	var layout string

	cmd := &cobra.Command{
		Use:   "watch KEY...",
		Short: "Print changes to keys as they happen",
		Long: `Print the current value of each KEY, then one line per change made
by any process sharing the backend, until interrupted. Changes that
cannot be applied, such as unparseable payloads, are printed as warnings.

Examples:
  prefsync watch theme counter
  prefsync watch theme --time-format 'YYYY-MM-DD HH:mm:ss'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runWatch(ctx, flags, cmd.OutOrStdout(), layout, args)
		},
	}

	cmd.Flags().StringVar(&layout, "time-format", "HH:mm:ss", "Timestamp layout (tokens YYYY MM DD HH mm ss)")
	return cmd
}

func runWatch(ctx context.Context, flags *globalFlags, out io.Writer, layout string, keys []string) error {
	s, err := openSession(ctx, flags)
	if err != nil {
		return err
	}
	defer s.Close()

	lines := make(chan string, 64)
	warnings := make(chan error, 16)
	s.onWarning = func(err error) {
		select {
		case warnings <- err:
		default:
		}
	}
	for _, key := range keys {
		c := s.cell(ctx, key, nil)
		fmt.Fprintln(out, watchLine(layout, key, c.Get()))
		c.OnChange(func(v any) {
			select {
			case lines <- watchLine(layout, key, v):
			case <-ctx.Done():
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case line := <-lines:
			fmt.Fprintln(out, line)
		case err := <-warnings:
			warn(out, "%s", compactError(err))
		}
	}
}

func compactError(err error) string {
	var e *errors.Error
	if errors.As(err, &e) {
		return e.FormatCompact()
	}
	return err.Error()
}

func watchLine(layout, key string, v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		data = []byte(fmt.Sprintf("%q", fmt.Sprint(v)))
	}
	return fmt.Sprintf("%s %s = %s", format.Date(time.Now(), layout), key, data)
}

func parseJSONArg(name, text string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, errors.Newf(errors.CategoryCLI, "%s is not valid JSON", name).
			WithDetail(err.Error()).
			WithSuggestion(`Quote strings as JSON, e.g. '"dark"'`)
	}
	return v, nil
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
