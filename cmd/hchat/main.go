package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/novolei/HChat-sub000/internal/api"
	"github.com/novolei/HChat-sub000/internal/command"
	"github.com/novolei/HChat-sub000/internal/config"
	"github.com/novolei/HChat-sub000/internal/crypto"
	"github.com/novolei/HChat-sub000/internal/models"
	"github.com/novolei/HChat-sub000/internal/queue"
	"github.com/novolei/HChat-sub000/internal/session"
	"github.com/novolei/HChat-sub000/internal/store"
	"github.com/novolei/HChat-sub000/internal/transport"
)

const helpText = `Commands:
  /join <room>        switch rooms
  /nick <name>        change nickname ("name#passphrase" sets the group secret)
  /me <action>        send an action line
  /dm <nick> <text>   direct message
  /attach <path>      encrypt and send a file
  /retry              resend messages that failed delivery
  /clear              clear the screen
  /help               this text`

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stderr).
			With().
			Timestamp().
			Logger()
	}

	ctx := context.Background()

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		logger.Fatal().Err(err).Msg("creating data directory")
	}

	// Device identity signs attachment presign requests
	identity, err := crypto.LoadOrCreateIdentity(cfg.DataDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("loading device identity")
	}
	logger.Info().Str("device", identity.DeviceID).Msg("device identity ready")

	// Outbox persistence
	st, err := store.NewSQLiteStore(ctx, filepath.Join(cfg.DataDir, "pending.db"))
	if err != nil {
		logger.Fatal().Err(err).Msg("opening pending store")
	}
	defer st.Close()

	// Passphrase can ride in on the nickname
	nick := cfg.Nick
	passphrase := command.ExtractPassphrase(nick)

	sess := session.New(session.Params{
		Nick:              nick,
		Room:              cfg.Room,
		ReconnectDelay:    cfg.ReconnectDelay,
		KeepaliveInterval: cfg.KeepaliveInterval,
		Handlers:          terminalHandlers(),
		Logger:            logger,
	})

	q := queue.New(st, sess, logger, cfg.MaxAttempts)
	q.OnStatus(func(id string, status models.DeliveryStatus) {
		if status == models.StatusFailed {
			fmt.Printf("!! message %s failed after %d attempts, type /retry to resend\n", id, cfg.MaxAttempts)
		}
	})
	sess.SetAckSink(q)
	sess.SetOnConnected(func() { q.RetryAll(ctx) })

	apiClient := transport.NewClient(cfg.APIURL, identity, logger)
	attachments := transport.NewAttachments(apiClient, cfg.ChunkSize)

	// Local diagnostics, loopback only
	if cfg.DiagPort != "" {
		router := api.NewRouter(logger, func() api.Status {
			pending, _ := q.PendingCount(ctx)
			return api.Status{
				State:   strings.ToLower(sess.State().String()),
				Pending: pending,
				Nick:    nick,
				Room:    cfg.Room,
			}
		})
		addr := "127.0.0.1:" + cfg.DiagPort
		go func() {
			logger.Info().Str("addr", addr).Msg("diagnostics listening")
			if err := http.ListenAndServe(addr, router); err != nil {
				logger.Error().Err(err).Msg("diagnostics server stopped")
			}
		}()
	}

	if err := sess.Connect(ctx, cfg.WSURL); err != nil {
		// The session keeps retrying on its own schedule; messages queue
		// locally meanwhile.
		logger.Warn().Err(err).Msg("initial connect failed, will retry")
	}

	// Shut down cleanly on SIGINT/SIGTERM
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info().Msg("shutting down")
		sess.Disconnect()
		st.Close()
		os.Exit(0)
	}()

	runInputLoop(ctx, logger, sess, q, attachments, &nick, &passphrase, cfg)
}

// runInputLoop reads lines from stdin and routes them: slash commands to the
// session, everything else through the reliable queue.
func runInputLoop(ctx context.Context, logger zerolog.Logger, sess *session.Session, q *queue.Queue,
	attachments *transport.Attachments, nick, passphrase *string, cfg *config.Config) {

	room := cfg.Room
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		cmd := command.Parse(line)
		if cmd == nil {
			send(ctx, q, room, *nick, line)
			continue
		}

		switch cmd.Kind {
		case command.Join:
			room = cmd.Arg
			if err := sess.Join(room); err != nil {
				logger.Warn().Err(err).Msg("join failed")
			}
		case command.Nick:
			*nick = cmd.Arg
			if pw := command.ExtractPassphrase(cmd.Arg); pw != "" {
				*passphrase = pw
			}
			if err := sess.SetNick(cmd.Arg); err != nil {
				logger.Warn().Err(err).Msg("nick change failed")
			}
		case command.Me:
			send(ctx, q, room, *nick, "* "+*nick+" "+cmd.Arg)
		case command.DM:
			if err := sess.SendDirectMessage(cmd.Target, cmd.Text); err != nil {
				logger.Warn().Err(err).Msg("dm failed")
			}
		case command.Clear:
			fmt.Print("\033[2J\033[H")
		case command.Help:
			fmt.Println(helpText)
		default:
			if path, ok := strings.CutPrefix(cmd.Raw, "/attach "); ok {
				attach(ctx, logger, q, attachments, room, *nick, strings.TrimSpace(path), *passphrase)
				continue
			}
			if cmd.Raw == "/retry" {
				if n := q.RetryFailed(ctx); n == 0 {
					fmt.Println("no failed messages to retry")
				} else {
					fmt.Printf("re-queued %d failed message(s)\n", n)
				}
				continue
			}
			fmt.Println("unrecognized command, /help for usage")
		}
	}
}

func send(ctx context.Context, q *queue.Queue, room, nick, text string) {
	msg := &models.ChatMessage{
		Channel:   room,
		Sender:    nick,
		Text:      text,
		Timestamp: time.Now().UnixMilli(),
	}
	if err := q.Send(ctx, msg); err != nil {
		fmt.Printf("!! could not queue message: %v\n", err)
	}
}

func attach(ctx context.Context, logger zerolog.Logger, q *queue.Queue, attachments *transport.Attachments,
	room, nick, path, passphrase string) {

	if passphrase == "" {
		fmt.Println("no passphrase set, use /nick name#passphrase first")
		return
	}
	att, err := attachments.UploadFile(ctx, path, passphrase)
	if err != nil {
		logger.Error().Err(err).Str("path", path).Msg("attachment upload failed")
		return
	}
	msg := &models.ChatMessage{
		Channel:     room,
		Sender:      nick,
		Text:        att.Filename,
		Timestamp:   time.Now().UnixMilli(),
		Attachments: []models.Attachment{*att},
	}
	if err := q.Send(ctx, msg); err != nil {
		fmt.Printf("!! could not queue attachment message: %v\n", err)
	}
}

// terminalHandlers prints relay events to stdout.
func terminalHandlers() session.EventHandlers {
	return session.EventHandlers{
		OnMessage: func(m *models.ChatMessage) {
			if len(m.Attachments) > 0 {
				fmt.Printf("<%s> [%s] %s\n", m.Sender, m.Attachments[0].Kind, m.Text)
				return
			}
			fmt.Printf("<%s> %s\n", m.Sender, m.Text)
		},
		OnPresence: func(p *session.PresenceUpdate) {
			fmt.Printf("-- %s: %s\n", p.Room, strings.Join(p.Users, ", "))
		},
		OnNickChange: func(n *session.NickChange) {
			fmt.Printf("-- %s is now %s\n", n.Old, n.New)
		},
		OnDirectMessage: func(dm *session.DirectMessage) {
			fmt.Printf("[dm] <%s> %s\n", dm.From, dm.Text)
		},
		OnUserJoined: func(e *session.UserEvent) {
			fmt.Printf("-- %s joined %s\n", e.Nick, e.Room)
		},
		OnUserLeft: func(e *session.UserEvent) {
			fmt.Printf("-- %s left %s\n", e.Nick, e.Room)
		},
		OnInfo: func(i *session.Info) {
			fmt.Printf("-- %s\n", i.Text)
		},
	}
}
