package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nainya/metastore/internal/server"
)

// NewSchemaCommand groups the schema registry commands.
func NewSchemaCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Register and inspect metadata schemas",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "register <prefix> <file.xsd|->",
		Short: "Bind a prefix to the target namespace of a schema",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readInput(cmd, args[1])
			if err != nil {
				return err
			}
			return withClient(cmd, opts, func(ctx context.Context, c *server.Client) error {
				ns, outcome, err := c.RegisterSchema(ctx, args[0], body)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s (%s)\n", args[0], ns, outcome)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get <prefix>",
		Short: "Print the schema bound to a prefix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, opts, func(ctx context.Context, c *server.Client) error {
				body, err := c.GetSchema(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), body)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered prefixes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd, opts, func(ctx context.Context, c *server.Client) error {
				prefixes, err := c.ListPrefixes(ctx)
				if err != nil {
					return err
				}
				if len(prefixes) > 0 {
					fmt.Fprintln(cmd.OutOrStdout(), strings.Join(prefixes, "\n"))
				}
				return nil
			})
		},
	})

	return cmd
}
