package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwrk-planet/chat-service/internal/client"
	"github.com/cwrk-planet/chat-service/internal/domain"
	"github.com/cwrk-planet/chat-service/internal/hub"
	"github.com/cwrk-planet/chat-service/internal/security"
	"github.com/cwrk-planet/chat-service/internal/transport/ws"
	"github.com/cwrk-planet/chat-service/pkg/logger"
)

const requestTimeout = 10 * time.Second

func newLogger(verbose bool, out io.Writer) *slog.Logger {
	lvl := slog.LevelWarn
	if verbose {
		lvl = slog.LevelDebug
	}
	return logger.Init(logger.Config{
		Service: "chatcli",
		Version: version,
		Env:     logger.EnvDev,
		Backend: logger.BackendStd,
		Level:   lvl,
		Output:  out,
	})
}

func runListen(cmd *cobra.Command, g *globalFlags, groups []string, interactive bool, policy client.Policy) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
	log := newLogger(g.verbose, errOut)
	api := client.API{BaseURL: g.apiURL, Token: g.token, HTTP: &http.Client{Timeout: requestTimeout}}

	var (
		c         *client.Client
		joinOnce  sync.Once
		printMu   sync.Mutex
		printLine = func(format string, args ...any) {
			printMu.Lock()
			defer printMu.Unlock()
			fmt.Fprintf(out, format+"\n", args...)
		}
	)
	c = client.New(client.Options{
		Dialer:            client.WSDialer{URL: g.wsURL, Token: g.token},
		Policy:            policy,
		AdoptServerPolicy: !backoffFlagsSet(cmd), // флаги backoff важнее совета сервера
		Logger:            log,
		OnFrame: func(f client.Frame) {
			if line := formatFrame(f, g.verbose); line != "" {
				printLine("%s", line)
			}
		},
		OnState: func(s client.State) {
			fmt.Fprintf(errOut, "* %s\n", s)
			if s != client.Connected {
				return
			}
			// первое подключение; после reconnect группы восстановит сам клиент
			joinOnce.Do(func() {
				for _, grp := range groups {
					if err := c.Join(ctx, grp); err != nil {
						log.Warn("join failed", "group", grp, "err", err)
					}
				}
			})
		},
		Resync: func(ctx context.Context) error {
			page, err := api.History(ctx, "", 20)
			if err != nil {
				return err
			}
			printLine("* resync: %d recent messages", len(page.Items))
			for i := len(page.Items) - 1; i >= 0; i-- {
				m := page.Items[i]
				printLine("[%s] %s: %s (#%d)", m.CreatedAt.Local().Format("15:04"), m.SenderName, m.Content, m.ID)
			}
			return nil
		},
	})

	if interactive {
		go func() {
			sc := bufio.NewScanner(cmd.InOrStdin())
			for sc.Scan() {
				line := strings.TrimSpace(sc.Text())
				if line == "" {
					continue
				}
				if err := c.SendMessage(ctx, line); err != nil {
					fmt.Fprintf(errOut, "* not sent: %v\n", err)
				}
			}
		}()
	}

	err := c.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runSend(cmd *cobra.Command, g *globalFlags, text string) error {
	data, err := oneShot(cmd.Context(), g, ws.TypeSendMessage, ws.SendMessagePayload{Content: text})
	if err != nil {
		return err
	}
	var ack ws.MessageAck
	if err := json.Unmarshal(data, &ack); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "sent #%d\n", ack.MessageID)
	return nil
}

func runReact(cmd *cobra.Command, g *globalFlags, group string, messageID int64, emoji string) error {
	data, err := oneShot(cmd.Context(), g, ws.TypeToggleReaction, ws.ToggleReactionPayload{Group: group, MessageID: messageID, Emoji: emoji})
	if err != nil {
		return err
	}
	var ack ws.ToggleAck
	if err := json.Unmarshal(data, &ack); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s on #%d\n", ack.Outcome, ack.Emoji, ack.MessageID)
	return nil
}

func runHistory(cmd *cobra.Command, g *globalFlags, cursor string, limit int) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	defer cancel()

	api := client.API{BaseURL: g.apiURL, Token: g.token}
	page, err := api.History(ctx, cursor, limit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, m := range page.Items {
		fmt.Fprintf(out, "#%d [%s] %s: %s", m.ID, m.CreatedAt.Local().Format(time.DateTime), m.SenderName, m.Content)
		for _, r := range m.Reactions {
			fmt.Fprintf(out, " %s", r.Emoji)
		}
		fmt.Fprintln(out)
	}
	if page.NextCursor != "" {
		fmt.Fprintf(out, "next: --cursor %s\n", page.NextCursor)
	}
	return nil
}

func runToken(cmd *cobra.Command, keyPath string, userID int64, issuer, audience string, ttl time.Duration) error {
	key, err := security.LoadRSAPrivateKey(keyPath)
	if err != nil {
		return err
	}
	token, err := security.NewSigner(key, issuer, audience, ttl).SignAccessToken(domain.UserID(userID), time.Now())
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}

// oneShot открывает соединение, шлёт один запрос и ждёт ack/error на него.
func oneShot(ctx context.Context, g *globalFlags, typ string, payload any) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	sess, err := client.WSDialer{URL: g.wsURL, Token: g.token}.Dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	defer sess.Close()
	stop := context.AfterFunc(ctx, func() { _ = sess.Close() })
	defer stop()

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	const reqID = "cli-1"
	if err := sess.Send(ctx, ws.Request{Type: typ, RequestID: reqID, Payload: raw}); err != nil {
		return nil, err
	}

	for {
		data, err := sess.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		var f client.Frame
		if json.Unmarshal(data, &f) != nil {
			continue
		}
		switch f.Type {
		case hub.TypeAck:
			var ack struct {
				RequestID string          `json:"request_id"`
				Data      json.RawMessage `json:"data"`
			}
			if json.Unmarshal(f.Payload, &ack) == nil && ack.RequestID == reqID {
				return ack.Data, nil
			}
		case hub.TypeError:
			var e hub.ErrorEvent
			if json.Unmarshal(f.Payload, &e) == nil && (e.RequestID == reqID || e.RequestID == "") {
				return nil, fmt.Errorf("%s: %s", e.Code, e.Message)
			}
		}
	}
}

func formatFrame(f client.Frame, verbose bool) string {
	switch f.Type {
	case hub.TypeMessageReceived:
		var m hub.MessageReceived
		if json.Unmarshal(f.Payload, &m) == nil {
			line := fmt.Sprintf("[%s] %s: %s (#%d)", m.Timestamp.Local().Format("15:04"), m.SenderName, m.Content, m.MessageID)
			for _, a := range m.Attachments {
				line += fmt.Sprintf("\n    📎 %s (%d bytes) %s", a.Name, a.Size, a.URL)
			}
			return line
		}
	case hub.TypeReactionAdded, hub.TypeReactionRemoved:
		var r hub.ReactionChange
		if json.Unmarshal(f.Payload, &r) == nil {
			verb := "reacted"
			if f.Type == hub.TypeReactionRemoved {
				verb = "unreacted"
			}
			return fmt.Sprintf("* %s %s %s on #%d", r.Username, verb, r.Emoji, r.MessageID)
		}
	case hub.TypeUserConnected:
		var u hub.UserConnected
		if json.Unmarshal(f.Payload, &u) == nil {
			return fmt.Sprintf("* %s is online", u.DisplayName)
		}
	case hub.TypeUserDisconnected:
		var u hub.UserDisconnected
		if json.Unmarshal(f.Payload, &u) == nil {
			return fmt.Sprintf("* user %d went offline", u.UserID)
		}
	case hub.TypeUserJoined, hub.TypeUserLeft:
		var u hub.UserJoined
		if json.Unmarshal(f.Payload, &u) == nil {
			verb := "joined"
			if f.Type == hub.TypeUserLeft {
				verb = "left"
			}
			return fmt.Sprintf("* %s %s %s", u.Username, verb, u.Group)
		}
	case hub.TypeError:
		var e hub.ErrorEvent
		if json.Unmarshal(f.Payload, &e) == nil {
			return fmt.Sprintf("! %s: %s", e.Code, e.Message)
		}
	case hub.TypeAck, hub.TypeWelcome:
		if !verbose {
			return ""
		}
	}
	return fmt.Sprintf("%s %s", f.Type, f.Payload)
}

func backoffFlagsSet(cmd *cobra.Command) bool {
	for _, name := range []string{"backoff-base", "backoff-cap", "max-attempts", "jitter"} {
		if cmd.Flags().Changed(name) {
			return true
		}
	}
	return false
}
