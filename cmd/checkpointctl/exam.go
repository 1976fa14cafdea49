package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/stemsi/exstem-session/internal/repository"
	"github.com/stemsi/exstem-session/internal/service"
)

// newRefreshExamCmd reloads an exam's cached payload after it was edited in the
// database. Sessions already open keep the layout they started with.
func newRefreshExamCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh-exam <exam_id>",
		Short: "Drop and reload the cached exam payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			examID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid exam ID: %w", err)
			}
			ctx := cmd.Context()
			if err := e.connect(ctx, true); err != nil {
				return err
			}

			exams := service.NewExamService(repository.NewExamRepository(e.pool), e.rdb, e.cfg.ExamCacheTTL, e.log)
			if err := exams.InvalidateExam(ctx, examID); err != nil {
				return fmt.Errorf("invalidate: %w", err)
			}
			payload, err := exams.WarmExamCache(ctx, examID)
			if err != nil {
				return fmt.Errorf("reload: %w", err)
			}
			fmt.Printf("%s: %d sections, %d questions cached\n",
				payload.Exam.Title, len(payload.Exam.Sections), len(payload.Questions))
			return nil
		},
	}
}
