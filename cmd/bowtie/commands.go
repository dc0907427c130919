package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jon077/bowtie"
)

// absentArg on the command line stands for an absent optional argument.
const absentArg = "~"

var (
	specPath    string
	servers     []string
	callArgs    []string
	logLevel    string
	devLogging  bool
	versionJSON bool
)

var rootCmd = &cobra.Command{
	Use:           "bowtie",
	Short:         "Call declared REST methods",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the methods declared in a spec file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, err := loadRegistry(specPath)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, id := range registry.IDs() {
			d, err := registry.Descriptor(id)
			if err != nil {
				return err
			}
			streamed := ""
			if d.Streamed() {
				streamed = " (streamed)"
			}
			fmt.Fprintf(out, "%-24s %-7s %s  [%s]%s\n", id, d.Verb(), d.URITemplate(), d.Key(), streamed)
		}
		return nil
	},
}

var callCmd = &cobra.Command{
	Use:   "call <method-id>",
	Short: "Invoke a declared method and print the result as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, err := loadRegistry(specPath)
		if err != nil {
			return err
		}

		logger, err := bowtie.NewLogger(logLevel, devLogging)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		client := bowtie.New(
			bowtie.WithRegistry(registry),
			bowtie.WithServers(servers...),
			bowtie.WithLogger(logger),
		)
		if err := client.ValidationError(); err != nil {
			return err
		}

		id := args[0]
		d, err := registry.Descriptor(id)
		if err != nil {
			return err
		}
		values, err := convertArgs(d, callArgs)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		result, err := invoke(ctx, client, id, values)
		if err != nil {
			logger.Debug("call failed", zap.String("method", id), zap.Error(err))
			return err
		}
		return printResult(cmd.OutOrStdout(), result)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !versionJSON {
			fmt.Fprintln(cmd.OutOrStdout(), bowtie.GetVersion())
			return nil
		}
		data, err := sonic.ConfigStd.MarshalIndent(bowtie.GetVersionInfo(), "", "  ")
		if err != nil {
			return fmt.Errorf("encode version: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&specPath, "spec", "f", "bowtie.yaml", "YAML file with method declarations")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&devLogging, "log-dev", false, "Human-readable console logs")

	callCmd.Flags().StringSliceVarP(&servers, "server", "s", nil, "Base URL of a server (repeatable)")
	callCmd.Flags().StringArrayVarP(&callArgs, "arg", "a", nil, "Argument in declaration order (repeatable, "+absentArg+" for absent)")
	_ = callCmd.MarkFlagRequired("server")

	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "Print version metadata as JSON")

	rootCmd.AddCommand(listCmd, callCmd, versionCmd)
}

func loadRegistry(path string) (*bowtie.Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open spec file: %w", err)
	}
	defer f.Close()

	specs, err := bowtie.LoadSpecs(f)
	if err != nil {
		return nil, err
	}

	registry := bowtie.NewRegistry()
	if err := registry.Register(specs...); err != nil {
		return nil, err
	}
	return registry, nil
}

// convertArgs turns command-line strings into call arguments. Body
// arguments are parsed as JSON when they look like JSON.
func convertArgs(d *bowtie.Descriptor, raw []string) ([]any, error) {
	bindings := d.Bindings()
	if len(raw) != len(bindings) {
		return nil, fmt.Errorf("%s takes %d arguments, got %d", d.ID(), len(bindings), len(raw))
	}

	values := make([]any, len(raw))
	for i, s := range raw {
		if s == absentArg {
			continue
		}
		if bindings[i].Role == bowtie.RoleBody && looksLikeJSON(s) {
			var v any
			if err := sonic.UnmarshalString(s, &v); err != nil {
				return nil, fmt.Errorf("argument %d: %w", i, err)
			}
			values[i] = v
			continue
		}
		values[i] = s
	}
	return values, nil
}

func looksLikeJSON(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[")
}

func invoke(ctx context.Context, client *bowtie.Client, id string, args []any) (any, error) {
	result, err := client.Invoke(ctx, id, args...)
	if err != nil {
		return nil, err
	}
	if o, ok := result.(*bowtie.Observable); ok {
		return o.Get(ctx)
	}
	return result, nil
}

func printResult(w io.Writer, result any) error {
	switch v := result.(type) {
	case *http.Response:
		defer v.Body.Close()
		fmt.Fprintln(w, v.Status)
		_, err := io.Copy(w, v.Body)
		return err
	case string:
		_, err := fmt.Fprintln(w, v)
		return err
	case []byte:
		_, err := w.Write(v)
		return err
	}

	data, err := sonic.ConfigStd.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
