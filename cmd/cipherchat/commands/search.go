package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func searchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Find users by username",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := wire.CurrentUser(); err != nil {
				return err
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()

			users, err := wire.Chats.SearchUsers(ctx, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(users) == 0 {
				fmt.Fprintln(out, "No users found.")
				return nil
			}
			for _, u := range users {
				key := "has key"
				if strings.TrimSpace(string(u.PublicKey)) == "" {
					key = "no key"
				}
				fmt.Fprintf(out, "%-20s %-36s %s\n", u.Username, u.ID, key)
			}
			return nil
		},
	}
}
