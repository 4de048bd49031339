package main

import (
	"fmt"

	"github.com/jpalmerr/livestore/internal/store"
	"github.com/spf13/cobra"
)

// seedCmd writes a seed file for serve's seed_file setting.
var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Write a seed file",
	Long: `Write a JSON seed file holding the built-in users, roles and permissions,
plus any number of generated users with random names and emails.

Example:
  livestore seed -o db.json
  livestore seed -o db.json --users 200`,
	RunE: runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)

	seedCmd.Flags().StringP("output", "o", "db.json", "path to write the seed file to")
	seedCmd.Flags().Int("users", 0, "number of extra users to generate")
}

func runSeed(cmd *cobra.Command, args []string) error {
	output, _ := cmd.Flags().GetString("output")
	n, _ := cmd.Flags().GetInt("users")
	if n < 0 {
		return fmt.Errorf("--users must not be negative, got %d", n)
	}

	data := store.DefaultSeed()
	if n > 0 {
		users := data["users"]
		var next int64 = 1
		for _, u := range users {
			if id, ok := u.ID(); ok && id >= next {
				next = id + 1
			}
		}
		data["users"] = append(users, store.FakeUsers(n, next, store.RoleNames(data["roles"]))...)
	}

	if err := store.WriteSeedFile(output, data); err != nil {
		return err
	}

	fmt.Printf("Wrote %s\n", output)
	for _, name := range []string{"users", "roles", "permissions"} {
		fmt.Printf("  %-12s %d\n", name+":", len(data[name]))
	}
	return nil
}
