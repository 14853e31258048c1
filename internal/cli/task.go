package cli

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewTaskCmd создаёт группу команд для управления задачами.
func NewTaskCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage change tasks",
	}

	cmd.AddCommand(
		newTaskCreateCmd(clientFn, outputFn),
		newTaskShowCmd(clientFn, outputFn),
		newTaskApprovalsCmd(clientFn, outputFn),
		newTaskDecideCmd(clientFn, outputFn, true),
		newTaskDecideCmd(clientFn, outputFn, false),
		newTaskExecuteCmd(clientFn, outputFn),
		newTaskRollbackCmd(clientFn, outputFn),
	)

	return cmd
}

func newTaskCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var templateID string
	var devices []string
	var params []string
	var dryRun bool
	var levels int

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a deploy task",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			req := CreateTaskRequest{
				Type:           "deploy",
				TemplateID:     templateID,
				DeviceIDs:      devices,
				DryRun:         dryRun,
				ApprovalLevels: levels,
			}
			p, err := parseParams(params)
			if err != nil {
				return err
			}
			req.Params = p

			task, err := client.CreateTask(req)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Task created: %s", task.ID))
			out.Task(task)
			return nil
		},
	}

	cmd.Flags().StringVar(&templateID, "template", "", "Template ID (required)")
	cmd.Flags().StringSliceVar(&devices, "device", nil, "Target device ID (repeatable)")
	cmd.Flags().StringArrayVar(&params, "param", nil, "Template parameter as KEY=VALUE (repeatable, JSON values allowed)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Render and validate only, do not touch devices")
	cmd.Flags().IntVar(&levels, "approval-levels", 0, "Number of approval levels (0-5)")
	cmd.MarkFlagRequired("template")
	cmd.MarkFlagRequired("device")

	return cmd
}

func newTaskShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show TASK_ID",
		Short: "Show task status and per-device outcomes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := clientFn().GetTask(args[0])
			if err != nil {
				return err
			}
			outputFn().Task(task)
			return nil
		},
	}
}

func newTaskApprovalsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "approvals TASK_ID",
		Short: "List approval steps of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, err := clientFn().ListApprovals(args[0])
			if err != nil {
				return err
			}

			headers := []string{"LEVEL", "STATUS", "APPROVER", "DECIDED", "COMMENT"}
			rows := make([][]string, len(steps))
			for i, s := range steps {
				rows[i] = []string{strconv.Itoa(s.Level), s.Status, s.Approver, s.DecidedAt, s.Comment}
			}
			outputFn().Print(headers, rows, steps)
			return nil
		},
	}
}

// newTaskDecideCmd создаёт команду approve или reject.
func newTaskDecideCmd(clientFn func() *Client, outputFn func() *Output, approve bool) *cobra.Command {
	var comment string

	use, short, verb := "approve", "Approve the current approval level", "approved"
	if !approve {
		use, short, verb = "reject", "Reject the task at the current approval level", "rejected"
	}

	cmd := &cobra.Command{
		Use:   use + " TASK_ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()
			task, err := clientFn().Approve(args[0], ApproveRequest{Approve: approve, Comment: comment})
			if err != nil {
				return err
			}
			out.Success(fmt.Sprintf("Task %s %s (approval %s, %d/%d)", task.ID, verb, task.ApprovalStatus, task.CurrentLevel, task.ApprovalLevels))
			out.Task(task)
			return nil
		},
	}

	cmd.Flags().StringVar(&comment, "comment", "", "Decision comment")
	return cmd
}

func newTaskExecuteCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "execute TASK_ID",
		Short: "Submit an approved task for execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()
			task, err := clientFn().Execute(args[0])
			if err != nil {
				return err
			}
			out.Success(fmt.Sprintf("Task submitted: %s", task.ID))
			out.Task(task)
			return nil
		},
	}
}

func newTaskRollbackCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var devices []string
	var levels int

	cmd := &cobra.Command{
		Use:   "rollback TASK_ID",
		Short: "Create a rollback task restoring pre-change configurations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()
			task, err := clientFn().Rollback(args[0], RollbackRequest{DeviceIDs: devices, ApprovalLevels: levels})
			if err != nil {
				return err
			}
			out.Success(fmt.Sprintf("Rollback task created: %s", task.ID))
			out.Task(task)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&devices, "device", nil, "Device ID to roll back (repeatable, default: all devices of the task)")
	cmd.Flags().IntVar(&levels, "approval-levels", 0, "Number of approval levels (0-5)")
	return cmd
}

// parseParams разбирает KEY=VALUE. Значение, являющееся корректным JSON
// (число, bool, объект), передаётся как JSON, иначе как строка.
func parseParams(kvs []string) (map[string]any, error) {
	if len(kvs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(kvs))
	for _, kv := range kvs {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid param format %q, expected KEY=VALUE", kv)
		}
		var v any
		if err := json.Unmarshal([]byte(value), &v); err != nil {
			v = value
		}
		out[key] = v
	}
	return out, nil
}
