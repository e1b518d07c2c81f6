package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haggle-net/haggle/internal/ipc"
)

// statusCmd reports whether a haggled process is alive by probing its
// PID file (spec.md §6), the same liveness check style as the teacher's
// CLI status subcommands.
func statusCmd() *cobra.Command {
	var pidFile string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check whether haggled is running",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			alive, err := ipc.ProbeDaemon(pidFile)
			if err != nil {
				return err
			}
			if alive {
				fmt.Println("haggled is running")
				return nil
			}
			fmt.Println("haggled is not running")
			return nil
		},
	}
	cmd.Flags().StringVar(&pidFile, "pidfile", "/run/haggle/haggled.pid", "path to haggled's PID file")
	return cmd
}
