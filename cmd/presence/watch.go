package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/coachline/backend/pkg/liveclient"
)

func newWatchCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print presence, notification and video events until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := opts.identity()
			if err != nil {
				return err
			}
			rt := opts.runtime()
			defer rt.Close()

			out := cmd.OutOrStdout()
			closed := make(chan struct{}, 1)
			detach := rt.Attach(func(ev liveclient.Event) {
				printEvent(out, ev)
				if s, ok := ev.(liveclient.StatusChanged); ok && s.State == liveclient.StateClosed {
					select {
					case closed <- struct{}{}:
					default:
					}
				}
			})
			defer detach()
			rt.SignIn(id)

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(quit)
			select {
			case <-quit:
			case <-closed:
				return fmt.Errorf("connection closed by server")
			}

			snap := rt.Store().Snapshot()
			fmt.Fprintf(out, "%d online, %d notifications\n", snap.OnlineCount(), snap.UnreadCount())
			return nil
		},
	}
}

func printEvent(w io.Writer, ev liveclient.Event) {
	if line := describe(ev); line != "" {
		fmt.Fprintf(w, "%s %s\n", time.Now().Format("15:04:05"), line)
	}
}

func describe(ev liveclient.Event) string {
	switch e := ev.(type) {
	case liveclient.StatusChanged:
		return "status " + e.State.String()
	case liveclient.Reset:
		return "reset"
	case liveclient.PresenceList:
		return fmt.Sprintf("online %d users", len(e.Users))
	case liveclient.UserOnline:
		return fmt.Sprintf("+ %s (%s)", e.User.UserName, e.User.UserID)
	case liveclient.UserOffline:
		return "- " + e.UserID
	case liveclient.NotificationReceived:
		return fmt.Sprintf("notification [%s] %s: %s", e.Notification.Type, e.Notification.Title, e.Notification.Message)
	case liveclient.TypingChanged:
		verb := "stopped typing"
		if e.Indicator.IsTyping {
			verb = "typing"
		}
		return fmt.Sprintf("%s %s in %s", e.Indicator.UserID, verb, e.Indicator.ConversationID)
	case liveclient.RoomReady:
		return fmt.Sprintf("session %d video ready: %s", e.Room.SessionID, e.Room.URL)
	case liveclient.RoomEnded:
		return fmt.Sprintf("session %d video ended", e.SessionID)
	}
	return ""
}
