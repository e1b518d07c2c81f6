package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// monitorCmd subscribes to a kernel event type and prints every
// event_notice datagram the daemon forwards (spec.md §4.6) until
// interrupted or the connection times out.
func monitorCmd() *cobra.Command {
	var eventID uint32
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Stream event notices from the daemon",
		Long:  "Registers event interest in one event type and prints every notice received until the connection is interrupted or times out.",
		RunE: func(_ *cobra.Command, _ []string) error {
			c, sess, err := dialAndRegister()
			if err != nil {
				return err
			}
			defer c.Close()
			if err := c.RegisterEventInterest(eventID); err != nil {
				return fmt.Errorf("register event interest: %w", err)
			}
			fmt.Printf("monitoring event type %d as session %d, ctrl-c to stop\n", eventID, sess.ID)
			for {
				ev, err := c.NextEvent()
				if err != nil {
					if errors.Is(err, errNoReply) {
						return nil
					}
					return err
				}
				fmt.Printf("event %d dataobject=%s\n", ev.EventType, ev.DataObjectID)
			}
		},
	}
	cmd.Flags().Uint32Var(&eventID, "event", 0, "kernel event type id to subscribe to")
	_ = cmd.MarkFlagRequired("event")
	return cmd
}
