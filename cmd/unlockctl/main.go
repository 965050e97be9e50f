package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/uptrace/bun"

	"github.com/unlockscore/unlockscore-api/cmd/unlockctl/ui"
	"github.com/unlockscore/unlockscore-api/internal/auth"
	"github.com/unlockscore/unlockscore-api/internal/config"
	"github.com/unlockscore/unlockscore-api/internal/database"
	"github.com/unlockscore/unlockscore-api/internal/user"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "unlockctl",
		Short:         "Administer the UnlockScore AI account store",
		Long:          "Operational commands for migrations, account verification and cleanup. Reads the same environment as the API server.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	migrateCmd := &cobra.Command{
		Use:       "migrate [up|status]",
		Short:     "Apply or inspect database migrations",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "status"},
		RunE:      runMigrate,
	}

	usersCmd := &cobra.Command{
		Use:   "users",
		Short: "Manage accounts",
	}

	verifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Mark an account as verified",
		RunE:  runVerify,
	}
	verifyCmd.Flags().String("email", "", "Account email")
	_ = verifyCmd.MarkFlagRequired("email")

	purgeCmd := &cobra.Command{
		Use:   "purge-unverified",
		Short: "Delete accounts that never verified their email",
		RunE:  runPurge,
	}
	purgeCmd.Flags().Duration("older-than", 72*time.Hour, "Only delete accounts created before this long ago")
	purgeCmd.Flags().BoolP("yes", "y", false, "Skip confirmation prompt")

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a pre-verified account interactively",
		RunE:  runCreateUser,
	}

	secretsCmd := &cobra.Command{
		Use:   "secrets",
		Short: "Generate token secrets for the environment",
		Args:  cobra.NoArgs,
		RunE:  runSecrets,
	}

	usersCmd.AddCommand(verifyCmd, purgeCmd, createCmd)
	rootCmd.AddCommand(migrateCmd, usersCmd, secretsCmd)

	if err := rootCmd.Execute(); err != nil {
		ui.PrintError(err.Error())
		os.Exit(1)
	}
}

// openDB connects to the configured Postgres database.
func openDB(ctx context.Context) (*bun.DB, error) {
	cfg, err := config.LoadDatabase()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.Driver != config.StoreDriverPostgres {
		return nil, fmt.Errorf("STORE_DRIVER=%s has no persistent store to administer", cfg.Driver)
	}
	return database.Connect(ctx, *cfg)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	db, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	if len(args) == 1 && args[0] == "status" {
		return database.MigrationStatus(ctx, db.DB)
	}

	if err := database.Migrate(ctx, db.DB); err != nil {
		return err
	}
	ui.PrintSuccess("Migrations applied.")
	return nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	email, _ := cmd.Flags().GetString("email")

	ctx := cmd.Context()
	db, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	u, err := verifyUser(ctx, user.NewRepository(db), email)
	if errors.Is(err, errAlreadyVerified) {
		ui.PrintHint(u.Email + " is already verified.")
		return nil
	}
	if err != nil {
		return err
	}

	ui.PrintSuccess(u.Email + " verified.")
	return nil
}

func runPurge(cmd *cobra.Command, args []string) error {
	olderThan, _ := cmd.Flags().GetDuration("older-than")
	yes, _ := cmd.Flags().GetBool("yes")

	if !yes {
		ok, err := ui.Confirm(
			"Delete unverified accounts?",
			fmt.Sprintf("Accounts that have not verified their email and were created more than %s ago will be removed.", olderThan),
		)
		if err != nil {
			return fmt.Errorf("confirmation cancelled: %w", err)
		}
		if !ok {
			ui.PrintHint("Aborted.")
			return nil
		}
	}

	ctx := cmd.Context()
	db, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	n, err := purgeUnverified(ctx, user.NewRepository(db), olderThan, time.Now())
	if err != nil {
		return err
	}

	ui.PrintSuccess(fmt.Sprintf("Deleted %d unverified account(s).", n))
	return nil
}

func runCreateUser(cmd *cobra.Command, args []string) error {
	ui.PrintTitle("New account")

	acc, err := ui.RunCreateUserForm()
	if err != nil {
		return fmt.Errorf("form cancelled: %w", err)
	}

	ctx := cmd.Context()
	db, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	u, err := createVerifiedUser(ctx, user.NewRepository(db), auth.NewPasswordHasher(), accountInput(*acc))
	if err != nil {
		return err
	}

	ui.PrintSuccess(fmt.Sprintf("Created %s account %s (%s).", u.Role, u.Email, u.ID))
	return nil
}

func runSecrets(cmd *cobra.Command, args []string) error {
	ui.PrintTitle("Token secrets")
	for _, key := range []string{"ACCESS_TOKEN_SECRET", "REFRESH_TOKEN_SECRET"} {
		secret, err := generateSecret()
		if err != nil {
			return err
		}
		ui.PrintKeyValue(key+"=", secret)
	}
	ui.PrintHint("Add these to .env. They work with TOKEN_FORMAT=jwt and TOKEN_FORMAT=paseto.")
	return nil
}
