package main

import (
	"errors"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwrk-planet/chat-service/internal/client"
)

func requireToken(g *globalFlags) error {
	if g.token == "" {
		return errors.New("access token is required (--token or $CHAT_TOKEN)")
	}
	return nil
}

func buildListenCmd(g *globalFlags) *cobra.Command {
	var (
		groups      []string
		interactive bool
		policy      = client.DefaultPolicy()
	)
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Stay connected, print events and reconnect on loss",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireToken(g); err != nil {
				return err
			}
			return runListen(cmd, g, groups, interactive, policy)
		},
	}
	cmd.Flags().StringSliceVarP(&groups, "group", "g", nil, "Groups to join (repeatable)")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "Send every stdin line as a message")
	cmd.Flags().DurationVar(&policy.Base, "backoff-base", policy.Base, "First reconnect delay")
	cmd.Flags().DurationVar(&policy.Cap, "backoff-cap", policy.Cap, "Maximum reconnect delay")
	cmd.Flags().IntVar(&policy.MaxAttempts, "max-attempts", policy.MaxAttempts, "Give up after this many failed reconnects (0 = never)")
	cmd.Flags().Float64Var(&policy.Jitter, "jitter", policy.Jitter, "Fraction of the delay that may be randomly cut")
	return cmd
}

func buildSendCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "send <text>",
		Short: "Send one message and wait for the ack",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireToken(g); err != nil {
				return err
			}
			return runSend(cmd, g, args[0])
		},
	}
}

func buildReactCmd(g *globalFlags) *cobra.Command {
	var group string
	cmd := &cobra.Command{
		Use:   "react <message-id> <emoji>",
		Short: "Toggle a reaction on a message",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireToken(g); err != nil {
				return err
			}
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return errors.New("message id must be an integer")
			}
			return runReact(cmd, g, group, id, args[1])
		},
	}
	cmd.Flags().StringVarP(&group, "group", "g", "", "Group to scope the broadcast to")
	return cmd
}

func buildHistoryCmd(g *globalFlags) *cobra.Command {
	var (
		limit  int
		cursor string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print recent messages, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireToken(g); err != nil {
				return err
			}
			return runHistory(cmd, g, cursor, limit)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Page size")
	cmd.Flags().StringVar(&cursor, "cursor", "", "Continue from a next_cursor value")
	return cmd
}

func buildTokenCmd() *cobra.Command {
	var (
		keyPath  string
		userID   int64
		issuer   string
		audience string
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(cmd, keyPath, userID, issuer, audience, ttl)
		},
	}
	cmd.Flags().StringVar(&keyPath, "private-key", "./config/keys/jwt_private.pem", "RSA private key (PEM)")
	cmd.Flags().Int64Var(&userID, "user-id", 0, "Subject user id")
	cmd.Flags().StringVar(&issuer, "issuer", "cwrk-planet-auth", "Token issuer")
	cmd.Flags().StringVar(&audience, "audience", "cwrk-planet", "Token audience")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("user-id")
	return cmd
}
