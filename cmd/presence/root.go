package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/coachline/backend/pkg/liveclient"
)

type options struct {
	endpoint string
	token    string
	userID   string
	userName string
	verbose  bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "presence",
		Short:         "Realtime presence client",
		Long:          `Connects to the coaching platform WebSocket endpoint as one user and prints what it receives.`,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&opts.endpoint, "endpoint", envOr("PRESENCE_ENDPOINT", "ws://localhost:8080/ws"), "WebSocket endpoint")
	root.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("PRESENCE_TOKEN"), "JWT access token")
	root.PersistentFlags().StringVar(&opts.userID, "user", os.Getenv("PRESENCE_USER_ID"), "user id the token was issued for")
	root.PersistentFlags().StringVar(&opts.userName, "name", os.Getenv("PRESENCE_USER_NAME"), "display name")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log connection internals")

	root.AddCommand(newWatchCmd(opts), newTypingCmd(opts))
	return root
}

func (o *options) identity() (liveclient.Identity, error) {
	if o.token == "" || o.userID == "" {
		return liveclient.Identity{}, fmt.Errorf("--token and --user are required")
	}
	return liveclient.Identity{UserID: o.userID, UserName: o.userName, Token: o.token}, nil
}

func (o *options) runtime() *liveclient.Runtime {
	return liveclient.NewRuntime(liveclient.Config{
		Endpoint: o.endpoint,
		Logger:   o.logger(),
	})
}

func (o *options) logger() *zap.Logger {
	if !o.verbose {
		return zap.NewNop()
	}
	config := zap.NewDevelopmentConfig()
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := config.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
