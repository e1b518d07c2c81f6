package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	// ipcTransport selects "udp" or "unix" (spec.md §4.6).
	ipcTransport string

	// ipcAddr is the UDP loopback address, used when ipcTransport == "udp".
	ipcAddr string

	// ipcSocketPath is the local-domain socket path, used when
	// ipcTransport == "unix".
	ipcSocketPath string

	// clientTimeout bounds how long a request waits for a reply.
	clientTimeout time.Duration

	// clientName is the application name haggle-ctl registers as.
	clientName string

	// outputFormat controls the output format for all commands (table or json).
	outputFormat string
)

// rootCmd is the haggle-ctl entry point.
var rootCmd = &cobra.Command{
	Use:   "haggle-ctl",
	Short: "Command-line client for the haggled content-sharing daemon",
	Long:  "haggle-ctl talks to a running haggled over its application control endpoint (spec.md §4.6): it registers as a client, manages interests and inspects the data store.",
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&ipcTransport, "transport", "udp", "control endpoint transport: udp or unix")
	rootCmd.PersistentFlags().StringVar(&ipcAddr, "addr", "127.0.0.1:8787", "control endpoint UDP address")
	rootCmd.PersistentFlags().StringVar(&ipcSocketPath, "socket", "/run/haggle/haggled.sock", "control endpoint unix-domain socket path")
	rootCmd.PersistentFlags().DurationVar(&clientTimeout, "timeout", 3*time.Second, "reply timeout")
	rootCmd.PersistentFlags().StringVar(&clientName, "name", "haggle-ctl", "application name to register as")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", formatTable, "output format: table or json")

	rootCmd.AddCommand(interestCmd())
	rootCmd.AddCommand(dataObjectsCmd())
	rootCmd.AddCommand(monitorCmd())
	rootCmd.AddCommand(shellCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(versionCmd())
}

// dialAndRegister opens the control connection and registers a session,
// the handshake every subcommand needs before it can add interests,
// query the store or subscribe to events (spec.md §4.6).
func dialAndRegister() (*Client, *Session, error) {
	addr := ipcAddr
	if ipcTransport == "unix" {
		addr = ipcSocketPath
	}
	c, err := Dial(ipcTransport, addr, clientTimeout)
	if err != nil {
		return nil, nil, err
	}
	sess, err := c.Register(clientName)
	if err != nil {
		_ = c.Close()
		return nil, nil, fmt.Errorf("register with daemon: %w", err)
	}
	return c, sess, nil
}
