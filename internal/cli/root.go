// Package cli implements the metastore command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nainya/metastore/internal/server"
)

// Version is reported by `metastore version` and the Health call.
var Version = "1.0.0"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Addr    string
	Timeout time.Duration
}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "metastore",
		Short: "Schema-validated store for METS composite metadata documents",
		Long: `MetaStore splits METS documents into independently validated and
updatable sections, keeps their history, and reassembles them on read.

Run "metastore serve" to start the gRPC server; the schema and mets
subcommands are clients of a running server.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Addr, "addr", "localhost:50051", "server address for client commands")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "client call timeout")

	cmd.AddCommand(NewServeCommand())
	cmd.AddCommand(NewVersionCommand())
	cmd.AddCommand(NewSchemaCommand(opts))
	cmd.AddCommand(NewMetsCommand(opts))

	return cmd
}

// NewVersionCommand prints the version.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "metastore %s\n", Version)
		},
	}
}

// withClient dials the server for the duration of fn.
func withClient(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, c *server.Client) error) error {
	c, err := server.Dial(opts.Addr)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
	defer cancel()
	return fn(ctx, c)
}

// readInput returns the contents of path, or stdin when path is "-".
func readInput(cmd *cobra.Command, path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}
