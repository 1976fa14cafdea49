package main

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/spf13/cobra"
	"github.com/stemsi/exstem-session/internal/session"
)

// newRestoreCmd copies the PostgreSQL checkpoint back into Redis, where the
// next session open will find it. Used after Redis lost its data.
func newRestoreCmd(e *env) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "restore <exam_id> <student_id>",
		Short: "Copy a checkpoint from PostgreSQL back into Redis",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			examID, studentID, err := parseTarget(args)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := e.connect(ctx, true); err != nil {
				return err
			}

			raw, err := e.repo.Get(ctx, examID, studentID)
			if errors.Is(err, pgx.ErrNoRows) {
				return errors.New("no checkpoint stored in PostgreSQL")
			}
			if err != nil {
				return err
			}
			remote, err := session.DecodeCheckpoint(raw, nil, studentID)
			if err != nil {
				return fmt.Errorf("stored checkpoint is unusable: %w", err)
			}
			if remote.ExamID != examID || remote.CandidateID != studentID {
				return errors.New("stored checkpoint belongs to another session")
			}

			if !force {
				existing, err := e.cache.Load(ctx, examID, studentID)
				if err != nil {
					return err
				}
				if existing != nil {
					if local, err := session.DecodeCheckpoint(existing, nil, studentID); err == nil && !local.Timestamp.Before(remote.Timestamp) {
						return fmt.Errorf("redis already holds a checkpoint from %s, use --force to overwrite", local.Timestamp.Format("2006-01-02 15:04:05"))
					}
				}
			}

			if err := e.cache.Save(ctx, examID, studentID, raw); err != nil {
				return err
			}
			fmt.Printf("restored checkpoint from %s\n", remote.Timestamp.Format("2006-01-02 15:04:05"))
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite a newer Redis checkpoint")
	return cmd
}
