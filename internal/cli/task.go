package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/ivolkov/Praxis/internal/domain"
	"github.com/spf13/cobra"
)

// NewTaskCmd создаёт группу команд для управления задачами.
func NewTaskCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
	}

	cmd.AddCommand(
		newTaskSubmitCmd(clientFn, outputFn),
		newTaskListCmd(clientFn, outputFn),
		newTaskShowCmd(clientFn, outputFn),
		newTaskCancelCmd(clientFn, outputFn),
		newTaskRetryCmd(clientFn, outputFn),
	)

	return cmd
}

func newTaskSubmitCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var owner string
	var goal string
	var planPath string

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a new task with a plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			var plan []PlanStep
			if planPath != "" {
				var err error
				if plan, err = LoadPlan(planPath); err != nil {
					return err
				}
			}

			task, err := client.SubmitTask(cmd.Context(), owner, goal, plan)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Task submitted: %s", task.ID))
			out.Print(
				[]string{"ID", "OWNER", "STATUS", "STEPS", "GOAL"},
				[][]string{{task.ID.String(), task.OwnerID, string(task.Status), strconv.Itoa(len(plan)), task.Goal}},
				task,
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Task owner (required)")
	cmd.Flags().StringVar(&goal, "goal", "", "Task goal (required)")
	cmd.Flags().StringVar(&planPath, "plan", "", "Path to a JSON file with plan steps")
	cmd.MarkFlagRequired("owner")
	cmd.MarkFlagRequired("goal")

	return cmd
}

func newTaskListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var owner string
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			tasks, err := client.ListTasks(cmd.Context(), ListTasksOpts{
				OwnerID: owner,
				Status:  domain.TaskStatus(status),
				Limit:   limit,
			})
			if err != nil {
				return err
			}

			headers := []string{"ID", "OWNER", "STATUS", "GOAL", "CREATED"}
			rows := make([][]string, len(tasks))
			for i, t := range tasks {
				rows[i] = []string{
					t.ID.String(), t.OwnerID, string(t.Status), t.Goal,
					t.CreatedAt.Format(time.RFC3339),
				}
			}

			out.Print(headers, rows, tasks)
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Filter by owner")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (PLANNING, READY, EXECUTING, CHECKPOINT, PAUSED, COMPLETED, FAILED, CANCELLED, SUPERSEDED)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")

	return cmd
}

func newTaskShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show task details and steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid task id: %w", err)
			}

			task, steps, err := client.GetTask(cmd.Context(), id)
			if err != nil {
				return err
			}

			out.Details([][2]string{
				{"ID", task.ID.String()},
				{"Owner", task.OwnerID},
				{"Goal", task.Goal},
				{"Status", string(task.Status)},
				{"Version", strconv.Itoa(task.Version)},
				{"Error", task.Error},
				{"Created", task.CreatedAt.Format(time.RFC3339)},
			}, struct {
				Task  *domain.Task  `json:"task"`
				Steps []domain.Step `json:"steps"`
			}{task, steps})

			if len(steps) == 0 || out.jsonMode {
				return nil
			}

			headers := []string{"STEP_ID", "AGENT", "STATUS", "DEPENDS_ON", "ERROR"}
			rows := make([][]string, len(steps))
			for i, s := range steps {
				rows[i] = []string{
					s.StepID, s.AgentType, string(s.Status),
					fmt.Sprintf("%v", s.DependsOn), s.Error,
				}
			}
			out.Table(headers, rows)
			return nil
		},
	}
}

func newTaskCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid task id: %w", err)
			}

			task, err := client.CancelTask(cmd.Context(), id, reason)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Task cancelled: %s", task.ID))
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Cancellation reason")

	return cmd
}

func newTaskRetryCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "retry ID",
		Short: "Retry a failed or cancelled task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid task id: %w", err)
			}

			task, err := client.RetryTask(cmd.Context(), id)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Task queued for retry: %s", task.ID))
			return nil
		},
	}
}
