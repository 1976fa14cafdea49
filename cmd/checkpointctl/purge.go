package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newPurgeCmd(e *env) *cobra.Command {
	var (
		olderThan time.Duration
		corrupt   bool
		remote    bool
		dryRun    bool
		yes       bool
	)
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete checkpoints that can no longer be restored",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if olderThan <= 0 {
				olderThan = e.cfg.RecoveryWindow
			}
			if err := e.connect(ctx, remote); err != nil {
				return err
			}

			now := time.Now()
			r, err := scanLocal(ctx, e.cache, now, olderThan, nil)
			if err != nil {
				return err
			}
			keys := r.stale
			if corrupt {
				keys = append(keys, r.corrupt...)
			}

			fmt.Printf("%d Redis checkpoint(s) older than %s", len(r.stale), olderThan)
			if corrupt {
				fmt.Printf(", %d corrupt", len(r.corrupt))
			}
			fmt.Println()
			if remote {
				fmt.Printf("PostgreSQL checkpoints written before %s will be deleted\n", now.Add(-olderThan).Format(time.RFC3339))
			}
			if dryRun {
				for _, k := range keys {
					fmt.Println("  ", k)
				}
				return nil
			}
			if !yes && !confirm("Proceed?") {
				return fmt.Errorf("aborted")
			}

			if err := e.cache.DeleteKeys(ctx, keys); err != nil {
				return fmt.Errorf("delete redis checkpoints: %w", err)
			}
			fmt.Printf("deleted %d Redis checkpoint(s)\n", len(keys))

			if remote {
				n, err := e.repo.DeleteOlderThan(ctx, now.Add(-olderThan))
				if err != nil {
					return fmt.Errorf("delete postgres checkpoints: %w", err)
				}
				fmt.Printf("deleted %d PostgreSQL checkpoint(s)\n", n)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "age cutoff (default: the recovery window)")
	cmd.Flags().BoolVar(&corrupt, "corrupt", false, "also delete checkpoints that fail verification")
	cmd.Flags().BoolVar(&remote, "remote", false, "also purge the PostgreSQL copies")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list what would be deleted")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

// confirm asks on an interactive terminal. Non-interactive runs must pass --yes.
func confirm(prompt string) bool {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprintln(os.Stderr, "stdin is not a terminal, pass --yes to confirm")
		return false
	}
	fmt.Printf("%s [y/N] ", prompt)
	line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
