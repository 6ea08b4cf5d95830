package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"streamrelay/internal/core/domain"
	"streamrelay/internal/core/ports"
	"streamrelay/internal/session"
	"streamrelay/pkg/retry"

	"github.com/spf13/cobra"
)

func newPublishCmd(opts *rootOptions) *cobra.Command {
	var streamID string

	cmd := &cobra.Command{
		Use:   "publish <stable-id>",
		Short: "Register under a stable identity and accept viewers",
		Example: `  streamctl publish 0xA11CE --stream lobby
  streamctl publish alice --relay ws://relay.example.com/ws`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			node, err := opts.newNode()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			sess := session.New(node, session.Options{OnStatus: statusPrinter(out)}, opts.logger)
			defer sess.Close()

			ctx := cmd.Context()
			go chatLoop(ctx, sess, cmd.InOrStdin(), out)

			return sess.Publish(ctx, domain.StableID(args[0]), domain.StreamID(streamOrDefault(streamID, args[0])), func(link ports.PeerLink) {
				go func() {
					<-link.Failed()
					fmt.Fprintf(out, "viewer %s disconnected\n", link.Remote())
				}()
			})
		},
	}

	cmd.Flags().StringVarP(&streamID, "stream", "s", "", "stream room to join (defaults to the stable id)")
	return cmd
}

func newWatchCmd(opts *rootOptions) *cobra.Command {
	var (
		streamID string
		retries  int
	)

	cmd := &cobra.Command{
		Use:   "watch <stable-id>",
		Short: "Connect to the publisher registered under a stable identity",
		Example: `  streamctl watch 0xA11CE --stream lobby
  streamctl watch alice --retries 3`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			node, err := opts.newNode()
			if err != nil {
				return err
			}

			retryCfg := retry.DefaultConfig()
			retryCfg.Enabled = retries > 0
			retryCfg.MaxAttempts = retries

			out := cmd.OutOrStdout()
			sess := session.New(node, session.Options{
				Retry:    retryCfg,
				OnStatus: statusPrinter(out),
			}, opts.logger)
			defer sess.Close()

			ctx := cmd.Context()
			link, err := sess.Watch(ctx, domain.StableID(args[0]), domain.StreamID(streamOrDefault(streamID, args[0])))
			if err != nil {
				return err
			}

			go chatLoop(ctx, sess, cmd.InOrStdin(), out)

			select {
			case <-link.Failed():
				fmt.Fprintln(out, "peer connection closed")
			case <-ctx.Done():
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&streamID, "stream", "s", "", "stream room to join (defaults to the stable id)")
	cmd.Flags().IntVar(&retries, "retries", 0, "retry failed dials this many times")
	return cmd
}

func streamOrDefault(streamID, stableID string) string {
	if streamID != "" {
		return streamID
	}
	return stableID
}

// chatLoop sends stdin lines as chat and prints room events.
func chatLoop(ctx context.Context, sess *session.Session, in io.Reader, out io.Writer) {
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			if text := strings.TrimSpace(scanner.Text()); text != "" {
				_ = sess.SendChat(text)
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-sess.Events():
			if !ok {
				fmt.Fprintln(out, "relay connection closed")
				return
			}
			printEvent(out, env)
		}
	}
}

func printEvent(out io.Writer, env domain.Envelope) {
	ts := time.Now().Format("15:04:05")
	switch env.Type {
	case domain.EventChatMessage:
		var chat domain.ChatPayload
		if env.Decode(&chat) == nil {
			fmt.Fprintf(out, "[%s] chat: %s\n", ts, chat.Message)
		}
	case domain.EventPeerJoined:
		var id domain.ConnectionID
		if env.Decode(&id) == nil {
			fmt.Fprintf(out, "[%s] %s joined the stream\n", ts, id)
		}
	case domain.EventDeliveryFailed:
		var failed domain.DeliveryFailedPayload
		if env.Decode(&failed) == nil {
			fmt.Fprintf(out, "[%s] could not reach %s\n", ts, failed.ToID)
		}
	}
}
