package cli

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/promptseal/internal/listing"
	"github.com/dmitrijs2005/promptseal/internal/server"
)

func (a *App) reader(ctx context.Context) (*listing.Reader, error) {
	blobs, err := server.NewBlobStore(ctx, a.config, a.logger, nil)
	if err != nil {
		return nil, err
	}
	return server.NewReader(a.config, server.NewChain(a.config, a.logger), blobs, a.logger, nil), nil
}

// summaries streams listings from the gateway or straight from the
// network. skipped reports, once the sequence is drained, how many entries
// were left out; the gateway does not say.
func (a *App) summaries(ctx context.Context, marketplaceID string) (seq iter.Seq2[listing.Summary, error], skipped func() int, closeFn func(), err error) {
	if a.opts.gateway != "" {
		c, err := a.gatewayClient()
		if err != nil {
			return nil, nil, nil, err
		}
		return c.ListPrompts(ctx, marketplaceID), func() int { return 0 }, func() { _ = c.Close() }, nil
	}

	r, err := a.reader(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	ls, err := r.ListAll(ctx, marketplaceID)
	if err != nil {
		return nil, nil, nil, err
	}
	seq = func(yield func(listing.Summary, error) bool) {
		for s := range ls.All() {
			if !yield(s, nil) {
				return
			}
		}
		if err := ls.Err(); err != nil {
			yield(listing.Summary{}, err)
		}
	}
	return seq, ls.Skipped, func() {}, nil
}

func (a *App) listCommand() *cobra.Command {
	var marketplace string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the prompts of a marketplace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if marketplace == "" {
				marketplace = a.config.Market.MarketplaceID
			}

			seq, skipped, closeFn, err := a.summaries(cmd.Context(), marketplace)
			if err != nil {
				return err
			}
			defer closeFn()

			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "LISTING\tTITLE\tCATEGORY\tMODEL\tPRICE\tTEST PRICE")

			n := 0
			for s, err := range seq {
				if err != nil {
					_ = tw.Flush()
					return err
				}
				n++
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					s.ListingID, s.Metadata.Title, s.Metadata.Category, s.Metadata.Model,
					humanize.CommafWithDigits(s.Price, 4), humanize.CommafWithDigits(s.TestPrice, 4))
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			fmt.Fprintf(a.out, "%s %s", humanize.Comma(int64(n)), plural(n, "listing", "listings"))
			if k := skipped(); k > 0 {
				fmt.Fprintf(a.out, ", %d unreadable skipped", k)
			}
			fmt.Fprintln(a.out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&marketplace, "marketplace", "m", "", "marketplace object id; defaults to market.marketplace_id")
	return cmd
}

func (a *App) showCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show LISTING_ID",
		Short: "Show one listing with its public metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.reader(cmd.Context())
			if err != nil {
				return err
			}
			s, err := r.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			fmt.Fprintf(a.out, "Listing:         %s\n", s.ListingID)
			fmt.Fprintf(a.out, "Seller:          %s\n", s.Seller)
			fmt.Fprintf(a.out, "Price:           %s (%s base units)\n", humanize.CommafWithDigits(s.Price, 4), humanize.Comma(int64(s.PriceBase)))
			fmt.Fprintf(a.out, "Test price:      %s (%s base units)\n", humanize.CommafWithDigits(s.TestPrice, 4), humanize.Comma(int64(s.TestPriceBase)))
			fmt.Fprintf(a.out, "Encrypted blob:  %s\n", s.EncryptedBlobID)
			fmt.Fprintf(a.out, "Metadata blob:   %s\n", s.MetadataBlobID)
			a.printMetadata(&s.Metadata)
			return nil
		},
	}
}

func (a *App) metadataCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "metadata BLOB_ID",
		Short: "Fetch and print a metadata blob",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				m   *listing.Metadata
				err error
			)
			if a.opts.gateway != "" {
				c, cerr := a.gatewayClient()
				if cerr != nil {
					return cerr
				}
				defer c.Close()
				m, err = c.FetchMetadata(cmd.Context(), args[0])
			} else {
				r, rerr := a.reader(cmd.Context())
				if rerr != nil {
					return rerr
				}
				m, err = r.Metadata(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}
			a.printMetadata(m)
			return nil
		},
	}
}

func (a *App) printMetadata(m *listing.Metadata) {
	fmt.Fprintf(a.out, "Title:           %s\n", m.Title)
	fmt.Fprintf(a.out, "Description:     %s\n", m.Description)
	fmt.Fprintf(a.out, "Category:        %s", m.Category)
	if m.Subcategory != "" {
		fmt.Fprintf(a.out, " / %s", m.Subcategory)
	}
	fmt.Fprintln(a.out)
	fmt.Fprintf(a.out, "Model:           %s\n", m.Model)
	if m.LongDescription != "" {
		fmt.Fprintf(a.out, "\n%s\n", m.LongDescription)
	}
	for i, in := range m.SampleInputs {
		fmt.Fprintf(a.out, "\nSample input %d:\n%s\n", i+1, indent(in))
		if i < len(m.SampleOutputs) {
			fmt.Fprintf(a.out, "Sample output %d:\n%s\n", i+1, indent(m.SampleOutputs[i]))
		}
	}
	for _, img := range m.SampleImages {
		fmt.Fprintf(a.out, "Sample image:    %s\n", img)
	}
}

func indent(s string) string {
	return "  " + strings.ReplaceAll(s, "\n", "\n  ")
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
