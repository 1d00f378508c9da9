package main

import (
	"errors"
	"strings"
	"time"

	"github.com/phyntra/backend/internal/conversation"
	"github.com/spf13/cobra"
)

func newChatCmd(opts *globalOptions) *cobra.Command {
	var replyDelay time.Duration

	cmd := &cobra.Command{
		Use:   "chat <text>...",
		Short: "Send a text message and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			log, err := opts.logger(cmd, cfg)
			if err != nil {
				return err
			}

			delay := cfg.ReplyDelay()
			if cmd.Flags().Changed("reply-delay") {
				delay = replyDelay
			}

			// Text messages never reach the extraction service.
			conv := conversation.New(nil,
				conversation.WithLogger(log),
				conversation.WithReplyDelay(delay),
			)
			defer conv.Close()

			printer := startTimelinePrinter(cmd.OutOrStdout(), conv)
			sent := conv.SendTextMessage(strings.Join(args, " "))
			conv.WaitReplies()
			printer.stop()

			if !sent {
				return errors.New("message is empty")
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&replyDelay, "reply-delay", conversation.DefaultReplyDelay, "delay before the assistant answers")
	return cmd
}
