package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lijuchacko/sheetsync/internal/auth"
)

func init() {
	rootCmd.AddCommand(hashKeyCmd)
}

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key [KEY]",
	Short: "Print the bcrypt hash of an access key for access_key_hash",
	Long: `Print the bcrypt hash of an access key for the access_key_hash setting.
Without KEY a random key is generated and printed first.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		var key string
		if len(args) == 1 {
			key = args[0]
		} else {
			k, err := auth.GenerateKey()
			if err != nil {
				return err
			}
			key = k
			fmt.Fprintln(out, "key: ", key)
		}
		hash, err := auth.HashKey(key)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, "hash:", hash)
		return nil
	},
}
