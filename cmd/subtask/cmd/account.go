package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/subtask-dev/subtask/account"
	"github.com/subtask-dev/subtask/internal/config"
)

var (
	accountUsername    string
	accountDisplayName string
)

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Account administration",
	Long:  `Commands for managing local accounts directly in the credential store.`,
}

var accountCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an account; the password is read from stdin",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if flags := cmd.Flags(); flags.Changed("data-dir") {
			cfg.DataDir = dataDir
		}
		if cfg.CredentialBackend == config.CredentialMemory {
			return errors.New("accounts created in the memory backend do not outlive this command")
		}

		password, err := readPassword(cmd.InOrStdin())
		if err != nil {
			return err
		}

		repo, closeRepo, err := openCredentialRepository(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer closeRepo()

		svc := account.NewService(account.NewRepositoryStore(repo))
		acct, err := svc.Create(cmd.Context(), accountUsername, accountDisplayName, password)
		if err != nil {
			return fmt.Errorf("creating account: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created account %s (%s)\n", acct.Username, acct.ID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(accountCmd)
	accountCmd.AddCommand(accountCreateCmd)
	accountCreateCmd.Flags().StringVarP(&accountUsername, "username", "u", "", "Username for the new account")
	accountCreateCmd.Flags().StringVar(&accountDisplayName, "display-name", "", "Display name; defaults to the username")
	accountCreateCmd.Flags().StringVar(&dataDir, "data-dir", "./data", "Directory for persistent data")
	accountCreateCmd.MarkFlagRequired("username")
}

// readPassword reads the first line of r. Only the line terminator is
// stripped; surrounding spaces are part of the password.
func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading password: %w", err)
	}
	line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
	if line == "" {
		return "", errors.New("password must be provided on stdin")
	}
	return line, nil
}
