package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/petabi/deview/config"
	"github.com/petabi/deview/store"
)

const passwordEnv = "DEVIEW_ACCOUNT_PASSWORD"

var errNoPassword = errors.New("no password given in " + passwordEnv + " or on stdin")

var (
	accountRole       string
	accountName       string
	accountDepartment string
)

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage sign-in accounts",
}

var accountCreateCmd = &cobra.Command{
	Use:   "create USERNAME",
	Short: "Create an account",
	Long: `Create an account with the given role. The password is read from
` + passwordEnv + ` or, if that is unset, from the first line of stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		password, err := readPassword(os.LookupEnv, cmd.InOrStdin())
		if err != nil {
			return err
		}
		acct, err := store.NewAccount(args[0], password, store.Role(accountRole),
			store.WithName(accountName),
			store.WithDepartment(accountDepartment),
		)
		if err != nil {
			return err
		}
		if err := createAccount(cmd.Context(), cfg, acct); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created account %s (%s)\n", acct.Username, acct.Role)
		return nil
	},
}

var accountDeleteCmd = &cobra.Command{
	Use:   "delete USERNAME",
	Short: "Delete an account and its session token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		if err := deleteAccount(cmd.Context(), cfg, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted account %s\n", args[0])
		return nil
	},
}

// readPassword prefers the environment so the password can be supplied
// without a terminal.
func readPassword(lookup func(string) (string, bool), in io.Reader) (string, error) {
	if pw, ok := lookup(passwordEnv); ok && pw != "" {
		return pw, nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errNoPassword
	}
	return line, nil
}

func withStore(ctx context.Context, cfg *config.Config, fn func(store.Tables) error) error {
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	if err := st.Write(fn); err != nil {
		st.Close()
		return err
	}
	return st.Close()
}

func createAccount(ctx context.Context, cfg *config.Config, acct *store.Account) error {
	return withStore(ctx, cfg, func(tbl store.Tables) error {
		if err := tbl.Accounts.Insert(acct); err != nil {
			return fmt.Errorf("creating account %s: %w", acct.Username, err)
		}
		return nil
	})
}

func deleteAccount(ctx context.Context, cfg *config.Config, username string) error {
	return withStore(ctx, cfg, func(tbl store.Tables) error {
		acct, err := tbl.Accounts.Get(username)
		if err != nil {
			return err
		}
		if acct == nil {
			return fmt.Errorf("account %s does not exist", username)
		}
		if err := tbl.Tokens.Revoke(username); err != nil {
			return err
		}
		return tbl.Accounts.Delete(username)
	})
}

func init() {
	rootCmd.AddCommand(accountCmd)
	accountCmd.AddCommand(accountCreateCmd, accountDeleteCmd)

	accountCreateCmd.Flags().StringVar(&accountRole, "role", "", `Account role, e.g. "System Administrator"`)
	accountCreateCmd.Flags().StringVar(&accountName, "name", "", "Display name")
	accountCreateCmd.Flags().StringVar(&accountDepartment, "department", "", "Department")
	accountCreateCmd.MarkFlagRequired("role")
}
