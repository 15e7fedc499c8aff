package cli

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// NewJobCmd создаёт группу команд для управления jobs.
func NewJobCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Manage jobs",
	}

	cmd.AddCommand(
		newJobListCmd(clientFn, outputFn),
		newJobSubmitCmd(clientFn, outputFn),
		newJobShowCmd(clientFn, outputFn),
		newJobResultCmd(clientFn, outputFn),
		newJobCancelCmd(clientFn, outputFn),
		newJobStatsCmd(clientFn, outputFn),
	)

	return cmd
}

// parseInputs разбирает пары KEY=VALUE из повторяемого флага --input.
func parseInputs(kvs []string) (map[string]any, error) {
	if len(kvs) == 0 {
		return nil, nil
	}
	inputs := make(map[string]any, len(kvs))
	for _, kv := range kvs {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid input format %q, expected KEY=VALUE", kv)
		}
		inputs[parts[0]] = parts[1]
	}
	return inputs, nil
}

func newJobListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var status string
	var environment string
	var workflowID string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			jobs, err := client.ListJobs(ListJobsOpts{
				Status:      status,
				Environment: environment,
				WorkflowID:  workflowID,
				Limit:       limit,
			})
			if err != nil {
				return err
			}

			headers := []string{"ID", "WORKFLOW", "STATUS", "ENV", "PRIORITY", "RETRIES", "ROBOT", "CREATED"}
			rows := make([][]string, len(jobs))
			for i, j := range jobs {
				rows[i] = []string{
					j.ID, j.WorkflowName, j.Status, j.Environment,
					strconv.Itoa(j.Priority),
					fmt.Sprintf("%d/%d", j.RetryCount, j.MaxRetries),
					j.RobotID, j.CreatedAt,
				}
			}

			out.Print(headers, rows, jobs)
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by status (PENDING, QUEUED, RUNNING, COMPLETED, FAILED, CANCELLED, TIMEOUT)")
	cmd.Flags().StringVar(&environment, "environment", "", "Filter by environment")
	cmd.Flags().StringVar(&workflowID, "workflow-id", "", "Filter by workflow ID")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")

	return cmd
}

func newJobSubmitCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var workflow string
	var file string
	var inputs []string
	var environment string
	var priority int
	var deadlineSec int

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a job for execution",
		Long: `Submit a job for execution.

The graph comes either from a saved workflow (--workflow, by name or ID)
or from a definition file (--file) for an ad-hoc run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if (workflow == "") == (file == "") {
				return fmt.Errorf("exactly one of --workflow or --file is required")
			}

			req := SubmitJobRequest{
				Environment: environment,
				Priority:    priority,
				DeadlineSec: deadlineSec,
			}

			parsed, err := parseInputs(inputs)
			if err != nil {
				return err
			}
			req.Input = parsed

			switch {
			case workflow != "":
				if _, err := uuid.Parse(workflow); err == nil {
					req.WorkflowID = workflow
				} else {
					req.WorkflowName = workflow
				}
			default:
				def, err := LoadWorkflowDefinition(file)
				if err != nil {
					return err
				}
				req.Graph = def.Graph
				req.MaxRetries = def.MaxRetries
				if req.Environment == "" {
					req.Environment = def.Environment
				}
			}

			job, err := client.SubmitJob(req)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Job submitted: %s", job.ID))
			out.Print(
				[]string{"ID", "WORKFLOW", "STATUS", "ENV", "PRIORITY"},
				[][]string{{job.ID, job.WorkflowName, job.Status, job.Environment, strconv.Itoa(job.Priority)}},
				job,
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&workflow, "workflow", "", "Workflow name or ID")
	cmd.Flags().StringVar(&file, "file", "", "Definition file for an ad-hoc run")
	cmd.Flags().StringSliceVar(&inputs, "input", nil, "Input values as KEY=VALUE (repeatable)")
	cmd.Flags().StringVar(&environment, "environment", "", "Target environment")
	cmd.Flags().IntVar(&priority, "priority", 0, "Job priority (higher is claimed first)")
	cmd.Flags().IntVar(&deadlineSec, "deadline", 0, "Execution deadline in seconds")

	return cmd
}

func newJobShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show job details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			job, err := client.GetJob(args[0])
			if err != nil {
				return err
			}

			out.Details([][2]string{
				{"ID", job.ID},
				{"Workflow", job.WorkflowName},
				{"Status", job.Status},
				{"Environment", job.Environment},
				{"Priority", strconv.Itoa(job.Priority)},
				{"Robot", job.RobotID},
				{"Retries", fmt.Sprintf("%d/%d", job.RetryCount, job.MaxRetries)},
				{"Error", job.ErrorMessage},
				{"Created", job.CreatedAt},
				{"Started", job.StartedAt},
				{"Completed", job.CompletedAt},
			}, job)
			return nil
		},
	}
}

func newJobResultCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "result ID",
		Short: "Print the result of a completed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			job, err := client.GetJob(args[0])
			if err != nil {
				return err
			}

			switch job.Status {
			case "COMPLETED":
				data, err := json.MarshalIndent(job.Result, "", "  ")
				if err != nil {
					return fmt.Errorf("marshal result: %w", err)
				}
				out.Raw(data)
				return nil
			case "FAILED", "TIMEOUT":
				return fmt.Errorf("job %s: %s: %s", job.ID, job.Status, job.ErrorMessage)
			case "CANCELLED":
				return fmt.Errorf("job %s was cancelled", job.ID)
			default:
				return fmt.Errorf("job %s is still %s, no result yet", job.ID, job.Status)
			}
		},
	}
}

func newJobCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			state, err := client.CancelJob(args[0])
			if err != nil {
				return err
			}

			// RUNNING означает кооперативную отмену: job остановится,
			// когда робот подтвердит сигнал
			if state.Status == "RUNNING" {
				out.Success(fmt.Sprintf("Cancellation requested for running job %s", state.ID))
			} else {
				out.Success(fmt.Sprintf("Job cancelled: %s", state.ID))
			}
			return nil
		},
	}
}

func newJobStatsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show queue statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			stats, err := client.QueueStats()
			if err != nil {
				return err
			}

			statuses := make([]string, 0, len(stats.Statuses))
			for s := range stats.Statuses {
				statuses = append(statuses, s)
			}
			sort.Strings(statuses)

			rows := make([][]string, 0, len(statuses)+1)
			for _, s := range statuses {
				rows = append(rows, []string{s, strconv.Itoa(stats.Statuses[s])})
			}
			rows = append(rows, []string{"TOTAL", strconv.Itoa(stats.Total)})

			out.Print([]string{"STATUS", "COUNT"}, rows, stats)
			return nil
		},
	}
}
