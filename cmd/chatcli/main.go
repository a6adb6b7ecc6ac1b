// Command chatcli is a terminal client for chat-service.
//
//	chatcli token --private-key ./config/keys/jwt_private.pem --user-id 1
//	CHAT_TOKEN=... chatcli listen --group general --interactive
//	chatcli send "hello"
//	chatcli react 42 👍 --group general
//	chatcli history --limit 20
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type globalFlags struct {
	wsURL   string
	apiURL  string
	token   string
	verbose bool
}

func buildRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "chatcli",
		Short:         "Terminal client for chat-service",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.wsURL, "url", envOr("CHAT_WS_URL", "ws://localhost:8080/ws"), "WebSocket endpoint")
	root.PersistentFlags().StringVar(&g.apiURL, "api", envOr("CHAT_API_URL", "http://localhost:8080"), "REST base URL")
	root.PersistentFlags().StringVar(&g.token, "token", os.Getenv("CHAT_TOKEN"), "Access token (default $CHAT_TOKEN)")
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "Debug logging")

	root.AddCommand(
		buildListenCmd(g),
		buildSendCmd(g),
		buildReactCmd(g),
		buildHistoryCmd(g),
		buildTokenCmd(),
	)
	return root
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
