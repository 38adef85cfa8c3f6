package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/coachline/backend/pkg/liveclient"
)

func newTypingCmd(opts *options) *cobra.Command {
	var (
		hold    time.Duration
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "typing <conversation-id> <target-user-id>",
		Short: "Send typing_start, wait, then typing_stop",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := opts.identity()
			if err != nil {
				return err
			}
			rt := opts.runtime()
			defer rt.Close()

			ready := make(chan liveclient.State, 1)
			detach := rt.Attach(func(ev liveclient.Event) {
				if s, ok := ev.(liveclient.StatusChanged); ok && (s.State == liveclient.StateConnected || s.State == liveclient.StateClosed) {
					select {
					case ready <- s.State:
					default:
					}
				}
			})
			defer detach()
			rt.SignIn(id)

			select {
			case s := <-ready:
				if s != liveclient.StateConnected {
					return errors.New("authentication rejected")
				}
			case <-time.After(timeout):
				return fmt.Errorf("not connected after %s", timeout)
			}

			m := rt.Manager()
			if err := m.SendTypingStart(args[0], args[1]); err != nil {
				return err
			}
			time.Sleep(hold)
			if err := m.SendTypingStop(args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "sent")
			return nil
		},
	}
	cmd.Flags().DurationVar(&hold, "hold", 3*time.Second, "how long to stay typing")
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "how long to wait for the connection")
	return cmd
}
