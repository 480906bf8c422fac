package cli

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/ThiagoRGoveia/desvios/internal/auth"
	"github.com/spf13/cobra"
)

// HashPasswordCmd returns the hash-password command
func HashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print a bcrypt hash for the accounts file",
		Long: `Print a bcrypt hash for the accounts file.

The password is read from the first line of stdin when no argument is given,
which keeps it out of the shell history:

  read -rs PW && echo "$PW" | desvios hash-password`,
		Args: cobra.MaximumNArgs(1),
		RunE: runHashPassword,
	}
}

func runHashPassword(cmd *cobra.Command, args []string) error {
	var password string
	if len(args) == 1 {
		password = args[0]
	} else {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("failed to read password from stdin: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), hash)
	return nil
}
