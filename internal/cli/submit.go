package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dmitrijs2005/promptseal/internal/gateway"
	"github.com/dmitrijs2005/promptseal/internal/journal"
	"github.com/dmitrijs2005/promptseal/internal/ledger"
	"github.com/dmitrijs2005/promptseal/internal/server"
	"github.com/dmitrijs2005/promptseal/internal/submission"
)

// LoadForm reads a submission form. Files ending in .yaml or .yml are YAML,
// anything else is JSON.
func LoadForm(path string) (*submission.Form, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var f submission.Form
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &f)
	default:
		err = json.Unmarshal(data, &f)
	}
	if err != nil {
		return nil, fmt.Errorf("parse form %s: %w", path, err)
	}
	return &f, nil
}

type submitFlags struct {
	policy string
	cap    string
	rate   float64
}

func (a *App) submitCommand() *cobra.Command {
	var fl submitFlags

	cmd := &cobra.Command{
		Use:   "submit FORM",
		Short: "Encrypt a prompt, store it and list it on the marketplace",
		Long: `submit reads a JSON or YAML form, encrypts its system prompt under the
access policy, stores the ciphertext and the public metadata and creates the
listing. A failed submission is journaled; see "promptctl orphans".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			form, err := LoadForm(args[0])
			if err != nil {
				return err
			}

			if fl.policy == "" {
				fl.policy = a.config.Market.PolicyID
			}
			if fl.cap == "" {
				fl.cap = a.config.Market.CapabilityID
			}
			if fl.rate == 0 {
				fl.rate = a.config.Market.ExchangeRate
			}

			// Fail before asking for a passphrase.
			if err := form.Validate(fl.rate, a.config.Market.MaxTestPriceRatio); err != nil {
				return err
			}
			if fl.policy == "" {
				return errors.New("no policy object: pass --policy or set market.policy_id")
			}

			if a.opts.gateway != "" {
				return a.submitRemote(cmd.Context(), form, fl)
			}
			return a.submitLocal(cmd.Context(), form, fl)
		},
	}

	cmd.Flags().StringVarP(&fl.policy, "policy", "p", "", "policy object id the ciphertext is bound to")
	cmd.Flags().StringVar(&fl.cap, "cap", "", "policy capability id; looked up from the seller's objects when empty")
	cmd.Flags().Float64Var(&fl.rate, "rate", 0, "display units per base unit; defaults to market.exchange_rate")
	return cmd
}

func (a *App) submitLocal(ctx context.Context, form *submission.Form, fl submitFlags) error {
	key, err := a.loadKey()
	if err != nil {
		return err
	}

	chain := server.NewChain(a.config, a.logger)
	signer := server.NewSigner(a.config, chain, key)

	if fl.cap == "" {
		fl.cap, err = chain.FindCapability(ctx, signer.Address(), a.config.Market.PackageID, a.config.Market.PolicyModule)
		if err != nil {
			return err
		}
		a.logger.Info(ctx, "capability found", "cap", fl.cap)
	}

	blobs, err := server.NewBlobStore(ctx, a.config, a.logger, nil)
	if err != nil {
		return err
	}
	enc, err := server.NewSealClient(ctx, a.config, server.NewFetcher(a.config), a.logger)
	if err != nil {
		return err
	}

	j, err := journal.Open(ctx, a.config.Journal, a.logger)
	if err != nil {
		return err
	}
	defer j.Close()

	o := server.NewOrchestrator(a.config, enc, blobs, server.NewPublisher(a.config, a.logger), a.logger, j)
	res, err := o.Submit(ctx, *form, fl.policy, fl.cap, signer, fl.rate)
	if err != nil {
		var se *submission.StepError
		if errors.As(err, &se) {
			fmt.Fprintln(a.errOut, `the attempt was journaled; run "promptctl orphans" to see what it left behind`)
		}
		return err
	}

	a.printSubmitted(form, fl.rate, submittedView{
		attemptID:       res.Attempt.ID,
		identity:        res.Attempt.Identity,
		encryptedBlobID: res.Attempt.EncryptedBlobID,
		metadataBlobID:  res.Attempt.MetadataBlobID,
		digest:          res.Listing.Digest,
	})
	return nil
}

func (a *App) submitRemote(ctx context.Context, form *submission.Form, fl submitFlags) error {
	c, err := a.gatewayClient()
	if err != nil {
		return err
	}
	defer c.Close()

	resp, err := c.Submit(ctx, &gateway.SubmitRequest{
		Form:         *form,
		PolicyID:     fl.policy,
		CapabilityID: fl.cap,
		ExchangeRate: fl.rate,
	})
	if err != nil {
		return err
	}

	a.printSubmitted(form, fl.rate, submittedView{
		attemptID:       resp.AttemptID,
		identity:        resp.Identity,
		encryptedBlobID: resp.EncryptedBlobID,
		metadataBlobID:  resp.MetadataBlobID,
		digest:          resp.Digest,
	})
	return nil
}

type submittedView struct {
	attemptID       string
	identity        string
	encryptedBlobID string
	metadataBlobID  string
	digest          string
}

func (a *App) printSubmitted(form *submission.Form, rate float64, v submittedView) {
	fmt.Fprintf(a.out, "Listed %q\n", form.Title)
	fmt.Fprintf(a.out, "  attempt:         %s\n", v.attemptID)
	fmt.Fprintf(a.out, "  identity:        %s\n", v.identity)
	fmt.Fprintf(a.out, "  encrypted blob:  %s\n", v.encryptedBlobID)
	fmt.Fprintf(a.out, "  metadata blob:   %s\n", v.metadataBlobID)
	fmt.Fprintf(a.out, "  transaction:     %s\n", v.digest)
	fmt.Fprintf(a.out, "  price:           %s\n", formatPrice(form.Price, rate))
	fmt.Fprintf(a.out, "  test price:      %s\n", formatPrice(form.TestPrice, rate))
}

func formatPrice(display, rate float64) string {
	base, err := ledger.ToBaseUnits(display, rate)
	if err != nil {
		return humanize.CommafWithDigits(display, 4)
	}
	return fmt.Sprintf("%s (%s base units)", humanize.CommafWithDigits(display, 4), humanize.Comma(int64(base)))
}
