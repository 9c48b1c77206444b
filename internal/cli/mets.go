package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nainya/metastore/internal/server"
	"github.com/nainya/metastore/pkg/metastore"
	"github.com/nainya/metastore/pkg/mets"
)

// NewMetsCommand groups the document commands.
func NewMetsCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mets",
		Short: "Store, read, update and search METS documents",
	}

	var format string
	addFormat := func(c *cobra.Command) *cobra.Command {
		c.Flags().StringVar(&format, "format", "xml", "output format (xml|json)")
		return c
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "store <id> <file.xml|->",
		Short: "Validate, decompose and store a document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			xml, err := readInput(cmd, args[1])
			if err != nil {
				return err
			}
			return withClient(cmd, opts, func(ctx context.Context, c *server.Client) error {
				n, err := c.StoreDocument(ctx, xml, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "stored %s with %d sections\n", args[0], n)
				return nil
			})
		},
	})

	cmd.AddCommand(addFormat(&cobra.Command{
		Use:   "get <id>",
		Short: "Print the recomposed document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := mets.ParseFormat(format); err != nil {
				return err
			}
			return withClient(cmd, opts, func(ctx context.Context, c *server.Client) error {
				doc, err := c.GetDocument(ctx, args[0], format)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), doc)
				return nil
			})
		},
	}))

	cmd.AddCommand(&cobra.Command{
		Use:   "update <id> <file.xml|->",
		Short: "Replace a stored document, keeping section history",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			xml, err := readInput(cmd, args[1])
			if err != nil {
				return err
			}
			return withClient(cmd, opts, func(ctx context.Context, c *server.Client) error {
				res, err := c.UpdateDocument(ctx, xml, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "updated %s: %d created, %d updated, %d unchanged\n",
					args[0], res.Created, res.Updated, res.Unchanged)
				return nil
			})
		},
	})

	var prefix string
	sections := addFormat(&cobra.Command{
		Use:   "sections <id>",
		Short: "Print the sections of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := mets.ParseFormat(format); err != nil {
				return err
			}
			return withClient(cmd, opts, func(ctx context.Context, c *server.Client) error {
				out, err := c.GetSections(ctx, prefix, args[0], format)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), out)
				return nil
			})
		},
	})
	sections.Flags().StringVar(&prefix, "prefix", "", "only sections of this registered prefix")
	cmd.AddCommand(sections)

	var sectionID string
	updateSection := &cobra.Command{
		Use:   "update-section <id> <file.xml|->",
		Short: "Replace one section body",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			xml, err := readInput(cmd, args[1])
			if err != nil {
				return err
			}
			return withClient(cmd, opts, func(ctx context.Context, c *server.Client) error {
				history, err := c.UpdateSection(ctx, xml, args[0], sectionID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "section updated, %d previous versions kept\n", history)
				return nil
			})
		},
	}
	updateSection.Flags().StringVar(&sectionID, "section", "", "section ID, required when several sections share a type")
	cmd.AddCommand(updateSection)

	cmd.AddCommand(&cobra.Command{
		Use:   "validate <file.xml|->",
		Short: "Validate a document against its registered schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			xml, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			return withClient(cmd, opts, func(ctx context.Context, c *server.Client) error {
				if err := c.ValidateDocument(ctx, xml); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "valid")
				return nil
			})
		},
	})

	var req metastore.SearchRequest
	searchCmd := addFormat(&cobra.Command{
		Use:   "search <term>...",
		Short: "Find documents whose sections contain all terms",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := mets.ParseFormat(format)
			if err != nil {
				return err
			}
			req.Terms = args
			req.Format = f
			return withClient(cmd, opts, func(ctx context.Context, c *server.Client) error {
				out, err := c.Search(ctx, req)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), out)
				return nil
			})
		},
	})
	searchCmd.Flags().StringSliceVar(&req.Prefixes, "prefix", nil, "restrict to sections of these prefixes")
	searchCmd.Flags().BoolVar(&req.Any, "any", false, "match documents containing any term")
	searchCmd.Flags().IntVar(&req.MaxHits, "max", metastore.DefaultMaxHits, "maximum number of hits")
	searchCmd.Flags().BoolVar(&req.Short, "short", false, "print object ids only")
	cmd.AddCommand(searchCmd)

	return cmd
}
