package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/promptseal/internal/common"
	"github.com/dmitrijs2005/promptseal/internal/filex"
	"github.com/dmitrijs2005/promptseal/internal/seal"
	"github.com/dmitrijs2005/promptseal/internal/server"
)

func (a *App) decryptCommand() *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "decrypt ENCRYPTED_BLOB_ID",
		Short: "Fetch an encrypted prompt and open it with shares from the key servers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			key, err := a.loadKey()
			if err != nil {
				return err
			}

			blobs, err := server.NewBlobStore(ctx, a.config, a.logger, nil)
			if err != nil {
				return err
			}
			raw, err := blobs.Fetch(ctx, args[0])
			if err != nil {
				return err
			}
			obj, err := seal.ParseEncryptedObject(raw)
			if err != nil {
				return err
			}

			// Key servers check the session against the object's package.
			session, err := seal.NewSession(key, obj.PackageID, a.config.Seal.SessionTTL.Duration)
			if err != nil {
				return err
			}

			fetcher := server.NewFetcher(a.config)
			client, err := server.NewSealClient(ctx, a.config, fetcher, a.logger)
			if err != nil {
				return err
			}
			plaintext, err := client.Decrypt(ctx, obj, fetcher, session)
			if err != nil {
				return err
			}
			defer common.WipeByteArray(plaintext)

			if outPath == "" {
				_, err = a.out.Write(plaintext)
				return err
			}
			if err := filex.WriteFileAtomic(outPath, plaintext, 0o600); err != nil {
				return err
			}
			fmt.Fprintf(a.errOut, "wrote %s to %s\n", humanize.Bytes(uint64(len(plaintext))), outPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write the prompt to this file instead of stdout")
	return cmd
}
