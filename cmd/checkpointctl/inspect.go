package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/spf13/cobra"
	"github.com/stemsi/exstem-session/internal/session"
)

func newInspectCmd(e *env) *cobra.Command {
	var remote bool
	cmd := &cobra.Command{
		Use:   "inspect <exam_id> <student_id>",
		Short: "Print a stored checkpoint",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			examID, studentID, err := parseTarget(args)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := e.connect(ctx, remote); err != nil {
				return err
			}

			var raw []byte
			if remote {
				raw, err = e.repo.Get(ctx, examID, studentID)
				if errors.Is(err, pgx.ErrNoRows) {
					raw, err = nil, nil
				}
			} else {
				raw, err = e.cache.Load(ctx, examID, studentID)
			}
			if err != nil {
				return err
			}
			if raw == nil {
				return errors.New("no checkpoint stored")
			}

			cp, err := session.DecodeCheckpoint(raw, nil, studentID)
			if err != nil {
				fmt.Fprintln(os.Stderr, "warning:", err)
				_, err = os.Stdout.Write(append(raw, '\n'))
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(cp)
		},
	}
	cmd.Flags().BoolVar(&remote, "remote", false, "read the PostgreSQL copy instead of Redis")
	return cmd
}
