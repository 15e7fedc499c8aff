package cli

import (
	"strconv"

	"github.com/spf13/cobra"
)

// NewRobotCmd создаёт группу команд для наблюдения за роботами.
func NewRobotCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "robot",
		Short: "Inspect registered robots",
	}

	cmd.AddCommand(newRobotListCmd(clientFn, outputFn))

	return cmd
}

func newRobotListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered robots",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			robots, err := client.ListRobots()
			if err != nil {
				return err
			}

			headers := []string{"ID", "ENV", "SLOTS", "ONLINE", "VERSION", "LAST_SEEN"}
			rows := make([][]string, len(robots))
			for i, r := range robots {
				rows[i] = []string{
					r.ID, r.Environment, strconv.Itoa(r.Slots),
					strconv.FormatBool(r.Online), r.Version, r.LastSeenAt,
				}
			}

			out.Print(headers, rows, robots)
			return nil
		},
	}
}
