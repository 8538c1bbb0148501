package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/cultivar-crm/cultivar/internal/core/auth"
	"github.com/cultivar-crm/cultivar/internal/core/config"
	"github.com/cultivar-crm/cultivar/internal/core/db"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage API keys",
}

var keysCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a new API key",
	Long:  `Create generates an API key signed with a configured HMAC secret and stores its hash. The key itself is printed once and never stored.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runKeysCreate,
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List API keys",
	RunE:  runKeysList,
}

var keysRevokeCmd = &cobra.Command{
	Use:   "revoke <key-id>",
	Short: "Revoke an API key",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeysRevoke,
}

func init() {
	rootCmd.AddCommand(keysCmd)
	keysCmd.AddCommand(keysCreateCmd, keysListCmd, keysRevokeCmd)
	keysCreateCmd.Flags().String("secret-id", "", "HMAC secret to sign the key with (defaults to the only configured secret)")
}

func openKeysDB() (*sqlx.DB, *db.Queries, error) {
	if dbURL == "" {
		return nil, nil, fmt.Errorf("--db-url required")
	}
	database, err := db.Open(dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	queries, err := db.LoadQueries(database)
	if err != nil {
		database.Close()
		return nil, nil, fmt.Errorf("failed to load queries: %w", err)
	}
	return database, queries, nil
}

func runKeysCreate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	name := args[0]

	secrets, err := config.HMACSecrets()
	if err != nil {
		return fmt.Errorf("failed to load HMAC secrets: %w", err)
	}
	if len(secrets) == 0 {
		return fmt.Errorf("no HMAC secrets configured (set CULTIVAR_HMAC_SECRET environment variable)")
	}

	secretID, _ := cmd.Flags().GetString("secret-id")
	if secretID == "" {
		if len(secrets) > 1 {
			return fmt.Errorf("multiple HMAC secrets configured, pass --secret-id")
		}
		for id := range secrets {
			secretID = id
		}
	}
	secret, ok := secrets[secretID]
	if !ok {
		return fmt.Errorf("no HMAC secret configured for id %q", secretID)
	}

	database, queries, err := openKeysDB()
	if err != nil {
		return err
	}
	defer database.Close()

	apiKey, err := auth.NewAPIKey(secretID)
	if err != nil {
		return fmt.Errorf("failed to generate key: %w", err)
	}
	keyID := uuid.Must(uuid.NewV7()).String()
	now := time.Now().UTC().Format(time.RFC3339)

	_, err = queries.Exec(ctx, "create-api-key", keyID, auth.ComputeHMAC(secret, apiKey), name, now)
	if err != nil {
		return fmt.Errorf("failed to store key: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "key id: %s\n", keyID)
	fmt.Fprintf(cmd.OutOrStdout(), "api key: %s\n", apiKey)
	fmt.Fprintln(cmd.OutOrStdout(), "store the api key now; it cannot be recovered")
	return nil
}

func runKeysList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	database, queries, err := openKeysDB()
	if err != nil {
		return err
	}
	defer database.Close()

	var rows []struct {
		APIKeyID   string         `db:"api_key_id"`
		Name       string         `db:"name"`
		CreatedAt  string         `db:"created_at"`
		RevokedAt  sql.NullString `db:"revoked_at"`
		LastUsedAt sql.NullString `db:"last_used_at"`
	}
	if err := queries.Select(ctx, "list-api-keys", &rows); err != nil {
		return fmt.Errorf("failed to list keys: %w", err)
	}

	for _, row := range rows {
		state := "active"
		if row.RevokedAt.Valid {
			state = "revoked " + row.RevokedAt.String
		}
		lastUsed := "never used"
		if row.LastUsedAt.Valid {
			lastUsed = "last used " + row.LastUsedAt.String
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %-20s created %s  %s  %s\n",
			row.APIKeyID, row.Name, row.CreatedAt, state, lastUsed)
	}
	return nil
}

func runKeysRevoke(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	keyID := args[0]

	database, queries, err := openKeysDB()
	if err != nil {
		return err
	}
	defer database.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	res, err := queries.Exec(ctx, "revoke-api-key", now, keyID)
	if err != nil {
		return fmt.Errorf("failed to revoke key: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to revoke key: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("key %s not found or already revoked", keyID)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "key %s revoked\n", keyID)
	return nil
}
