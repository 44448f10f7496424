package cli

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/promptseal/internal/common"
	"github.com/dmitrijs2005/promptseal/internal/ledger/sui"
)

var errKeystoreExists = errors.New("keystore exists, not overwritten")

func (a *App) keygenCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Create a new seller key and store it encrypted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := a.config.KeystorePath
			if _, err := os.Stat(path); err == nil && !force {
				if !Confirm(a.in, fmt.Sprintf("%s exists. Overwrite?", path), a.errOut) {
					return errKeystoreExists
				}
			}

			pw, err := a.passphrase(true)
			if err != nil {
				return err
			}
			defer common.WipeByteArray(pw)

			key, err := sui.GenerateKey(nil)
			if err != nil {
				return err
			}
			if err := sui.SaveKeystore(path, key, pw); err != nil {
				return err
			}

			fmt.Fprintf(a.errOut, "keystore written to %s\n", path)
			fmt.Fprintln(a.out, sui.Address(key.Public().(ed25519.PublicKey)))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing keystore without asking")
	return cmd
}

func (a *App) addressCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "address",
		Short: "Print the seller address stored in the keystore",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr, err := sui.KeystoreAddress(a.config.KeystorePath)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, addr)
			return nil
		},
	}
}
