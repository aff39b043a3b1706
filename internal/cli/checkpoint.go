package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/ivolkov/Praxis/internal/domain"
	"github.com/spf13/cobra"
)

// NewCheckpointCmd создаёт группу команд для управления checkpoint'ами.
func NewCheckpointCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Manage checkpoints",
	}

	cmd.AddCommand(
		newCheckpointListCmd(clientFn, outputFn),
		newCheckpointShowCmd(clientFn, outputFn),
		newCheckpointDecideCmd(clientFn, outputFn, domain.DecisionApproved),
		newCheckpointDecideCmd(clientFn, outputFn, domain.DecisionRejected),
	)

	return cmd
}

func newCheckpointListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var taskIDStr string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending checkpoints (or full history of one task)",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			taskID := uuid.Nil
			if taskIDStr != "" {
				var err error
				if taskID, err = uuid.Parse(taskIDStr); err != nil {
					return fmt.Errorf("invalid task id: %w", err)
				}
			}

			checkpoints, err := client.ListCheckpoints(cmd.Context(), taskID, limit)
			if err != nil {
				return err
			}

			headers := []string{"ID", "TASK_ID", "STEP_ID", "TYPE", "STATUS", "TIMEOUT_AT"}
			rows := make([][]string, len(checkpoints))
			for i, cp := range checkpoints {
				rows[i] = []string{
					cp.ID.String(), cp.TaskID.String(), cp.StepID,
					string(cp.Type), string(cp.Status),
					cp.TimeoutAt.Format(time.RFC3339),
				}
			}

			out.Print(headers, rows, checkpoints)
			return nil
		},
	}

	cmd.Flags().StringVar(&taskIDStr, "task", "", "Show full checkpoint history of one task")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")

	return cmd
}

func newCheckpointShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show checkpoint details including the preview",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid checkpoint id: %w", err)
			}

			cp, err := client.GetCheckpoint(cmd.Context(), id)
			if err != nil {
				return err
			}

			pairs := [][2]string{
				{"ID", cp.ID.String()},
				{"Task", cp.TaskID.String()},
				{"Step", cp.StepID},
				{"Type", string(cp.Type)},
				{"Status", string(cp.Status)},
				{"Preference key", cp.PreferenceKey},
				{"Timeout at", cp.TimeoutAt.Format(time.RFC3339)},
				{"Preview", fmt.Sprintf("%v", cp.Preview)},
			}
			if cp.DecidedAt != nil {
				pairs = append(pairs,
					[2]string{"Decision", string(cp.Decision)},
					[2]string{"Decided by", cp.DecidedBy},
					[2]string{"Decided at", cp.DecidedAt.Format(time.RFC3339)},
					[2]string{"Feedback", cp.Feedback},
				)
			}

			out.Details(pairs, cp)
			return nil
		},
	}
}

// newCheckpointDecideCmd строит approve или reject: команды идентичны
// с точностью до решения.
func newCheckpointDecideCmd(clientFn func() *Client, outputFn func() *Output, decision domain.Decision) *cobra.Command {
	use, short := "approve ID", "Approve a pending checkpoint"
	if decision == domain.DecisionRejected {
		use, short = "reject ID", "Reject a pending checkpoint"
	}

	var feedback string
	var decidedBy string

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid checkpoint id: %w", err)
			}

			cp, err := client.Decide(cmd.Context(), id, decision, decidedBy, feedback)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Decision %s submitted for checkpoint %s (step %s)",
				decision, cp.ID, cp.StepID))
			return nil
		},
	}

	cmd.Flags().StringVar(&feedback, "feedback", "", "Feedback for the decision")
	cmd.Flags().StringVar(&decidedBy, "by", defaultDecider(), "Who makes the decision")

	return cmd
}

// defaultDecider — имя пользователя ОС как decided_by по умолчанию.
func defaultDecider() string {
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "cli"
}
