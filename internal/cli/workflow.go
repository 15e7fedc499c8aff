package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewWorkflowCmd создаёт группу команд для управления workflows.
func NewWorkflowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Manage workflows",
	}

	cmd.AddCommand(
		newWorkflowListCmd(clientFn, outputFn),
		newWorkflowCreateCmd(clientFn, outputFn),
		newWorkflowShowCmd(clientFn, outputFn),
		newWorkflowUpdateCmd(clientFn, outputFn),
		newWorkflowDeleteCmd(clientFn, outputFn),
		newWorkflowExportCmd(clientFn, outputFn),
	)

	return cmd
}

func workflowRow(wf *WorkflowResponse) []string {
	return []string{
		wf.ID, wf.Name, wf.Environment,
		strconv.Itoa(wf.MaxRetries), strconv.FormatBool(wf.IsActive), wf.CreatedAt,
	}
}

var workflowHeaders = []string{"ID", "NAME", "ENV", "RETRIES", "ACTIVE", "CREATED"}

func newWorkflowListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			workflows, err := client.ListWorkflows()
			if err != nil {
				return err
			}

			rows := make([][]string, len(workflows))
			for i := range workflows {
				rows[i] = workflowRow(&workflows[i])
			}

			out.Print(workflowHeaders, rows, workflows)
			return nil
		},
	}
}

func newWorkflowCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a workflow from a definition file",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			def, err := LoadWorkflowDefinition(file)
			if err != nil {
				return err
			}

			wf, err := client.CreateWorkflow(CreateWorkflowRequest{
				Name:        def.Name,
				Description: def.Description,
				Graph:       def.Graph,
				Environment: def.Environment,
				MaxRetries:  def.MaxRetries,
			})
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Workflow created: %s", wf.ID))
			out.Print(workflowHeaders, [][]string{workflowRow(wf)}, wf)
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Path to definition file, YAML or JSON (required)")
	cmd.MarkFlagRequired("file")

	return cmd
}

func newWorkflowShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID_OR_NAME",
		Short: "Show workflow details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			wf, err := client.GetWorkflow(args[0])
			if err != nil {
				return err
			}

			out.Details([][2]string{
				{"ID", wf.ID},
				{"Name", wf.Name},
				{"Description", wf.Description},
				{"Environment", wf.Environment},
				{"Max retries", strconv.Itoa(wf.MaxRetries)},
				{"Active", strconv.FormatBool(wf.IsActive)},
				{"Created", wf.CreatedAt},
				{"Updated", wf.UpdatedAt},
			}, wf)
			return nil
		},
	}
}

func newWorkflowUpdateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var file string
	var description string
	var active string

	cmd := &cobra.Command{
		Use:   "update ID",
		Short: "Update a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			req := UpdateWorkflowRequest{}
			if cmd.Flags().Changed("file") {
				def, err := LoadWorkflowDefinition(file)
				if err != nil {
					return err
				}
				req.Name = &def.Name
				req.Graph = def.Graph
				req.MaxRetries = def.MaxRetries
				if def.Description != "" {
					req.Description = &def.Description
				}
				if def.Environment != "" {
					req.Environment = &def.Environment
				}
			}
			if cmd.Flags().Changed("description") {
				req.Description = &description
			}
			if cmd.Flags().Changed("active") {
				b, err := strconv.ParseBool(active)
				if err != nil {
					return fmt.Errorf("invalid value for --active: %s", active)
				}
				req.IsActive = &b
			}

			wf, err := client.UpdateWorkflow(args[0], req)
			if err != nil {
				return err
			}

			out.Success("Workflow updated")
			out.Print(workflowHeaders, [][]string{workflowRow(wf)}, wf)
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Definition file with new name/graph/settings")
	cmd.Flags().StringVar(&description, "description", "", "New description")
	cmd.Flags().StringVar(&active, "active", "", "Set active status (true/false)")

	return cmd
}

func newWorkflowDeleteCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if err := client.DeleteWorkflow(args[0]); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Workflow deleted: %s", args[0]))
			return nil
		},
	}
}

func newWorkflowExportCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var asYAML bool

	cmd := &cobra.Command{
		Use:   "export ID_OR_NAME",
		Short: "Export a workflow as a definition file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			wf, err := client.GetWorkflow(args[0])
			if err != nil {
				return err
			}

			def := &WorkflowDefinition{
				Name:        wf.Name,
				Description: wf.Description,
				Environment: wf.Environment,
				MaxRetries:  &wf.MaxRetries,
				Graph:       wf.Graph,
			}

			data, err := MarshalDefinition(def, asYAML)
			if err != nil {
				return err
			}

			out.Raw(data)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asYAML, "yaml", false, "Export as YAML instead of JSON")

	return cmd
}
