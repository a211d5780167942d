package main

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ramiz4/helvetia-cloud-sub000/internal/domain"
	"github.com/ramiz4/helvetia-cloud-sub000/internal/repository/postgres"
	"github.com/ramiz4/helvetia-cloud-sub000/pkg/crypto"
)

func newCredentialsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage source-control credentials used for private repositories",
	}

	var ownerID, provider, token string
	set := &cobra.Command{
		Use:   "set",
		Short: "Store an encrypted access token for an owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			ownerID, token = strings.TrimSpace(ownerID), strings.TrimSpace(token)
			if ownerID == "" || token == "" {
				return errors.New("--owner and --token are required")
			}
			e := loadEnv("credentials")
			pool, _, err := openDatabase(cmd.Context(), e)
			if err != nil {
				return err
			}
			defer pool.Close()

			encrypted, err := crypto.NewCipher(e.cfg.EnvEncryptionKey).Encrypt(token)
			if err != nil {
				return err
			}
			err = postgres.New(pool).UpsertSourceCredential(cmd.Context(), &domain.SourceCredential{
				OwnerID:        ownerID,
				Provider:       provider,
				EncryptedToken: encrypted,
				UpdatedAt:      time.Now().UTC(),
			})
			if err != nil {
				return err
			}
			e.log.Info("source credential stored", "owner_id", ownerID, "provider", provider)
			return nil
		},
	}
	set.Flags().StringVar(&ownerID, "owner", "", "owner (user) id")
	set.Flags().StringVar(&provider, "provider", "github", "source-control provider")
	set.Flags().StringVar(&token, "token", "", "access token")
	cmd.AddCommand(set)

	return cmd
}
