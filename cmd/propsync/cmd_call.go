package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkuntong/highlanderhomes-sub002/internal/transport"
	"github.com/pkuntong/highlanderhomes-sub002/sdk"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// parseArgs merges the args file (YAML or JSON) with key=value pairs. Pair
// values are read as YAML scalars, so 3 is a number and true a bool; quote
// them to force a string.
func parseArgs(file string, pairs []string) (map[string]any, error) {
	args := map[string]any{}
	if file != "" {
		raw, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read args file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("parse args file: %w", err)
		}
		if args == nil {
			args = map[string]any{}
		}
	}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --arg %q, want key=value", pair)
		}
		var v any
		if err := yaml.Unmarshal([]byte(value), &v); err != nil || v == nil {
			v = value
		}
		args[key] = v
	}
	return args, nil
}

func printJSON(w io.Writer, raw json.RawMessage) error {
	if len(raw) == 0 {
		fmt.Fprintln(w, "null")
		return nil
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		_, err = fmt.Fprintln(w, string(raw))
		return err
	}
	_, err := fmt.Fprintln(w, buf.String())
	return err
}

func newCallCmd(a *app) *cobra.Command {
	var (
		pairs    []string
		argsFile string
	)
	cmd := &cobra.Command{
		Use:   "call <query|mutation|action> <path>",
		Short: "Call a backend function and print its value",
		Long: "Call a backend function by path (module:function) and print the JSON value.\n" +
			"Arguments come from --args-file (YAML or JSON) and repeated --arg key=value.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := transport.ParseKind(args[0])
			if err != nil {
				return err
			}
			callArgs, err := parseArgs(argsFile, pairs)
			if err != nil {
				return err
			}
			return a.withClient(cmd, func(ctx context.Context, c *sdk.Client) error {
				value, err := transport.Call[json.RawMessage](ctx, c.Transport(), kind, args[1], callArgs)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), value)
			})
		},
	}
	cmd.Flags().StringArrayVar(&pairs, "arg", nil, "argument as key=value (repeatable)")
	cmd.Flags().StringVar(&argsFile, "args-file", "", "YAML or JSON file with the arguments object")
	return cmd
}
