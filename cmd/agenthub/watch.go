package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/agenthub/pkg/client"
	"github.com/cuemby/agenthub/pkg/protocol"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream hub activity to the terminal",
	Long: `Connect to a running hub as a dashboard and print every message it sends.

By default the global instance and session stream is shown. Use --session to
also follow individual transcripts.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		url, _ := cmd.Flags().GetString("url")
		token, _ := cmd.Flags().GetString("token")
		sessions, _ := cmd.Flags().GetStringSlice("session")
		global, _ := cmd.Flags().GetBool("global")
		raw, _ := cmd.Flags().GetBool("json")

		if token == "" {
			token = os.Getenv("AGENTHUB_TOKEN")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		c, err := client.DialConsumer(ctx, url, token)
		if err != nil {
			return err
		}
		go func() {
			<-ctx.Done()
			c.Close()
		}()

		if global {
			if err := c.Subscribe(); err != nil {
				return err
			}
		}
		for _, id := range sessions {
			if err := c.SubscribeSession(id); err != nil {
				return err
			}
		}

		for {
			msg, err := c.Next(context.Background())
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("connection closed: %w", err)
			}
			printMessage(msg, raw)
			if msg.Type == protocol.TypeError {
				var e protocol.ErrorPayload
				if msg.ParsePayload(&e) == nil && e.Code == protocol.CodeUnauthorized {
					return fmt.Errorf("unauthorized: %s", e.Message)
				}
			}
		}
	},
}

func init() {
	watchCmd.Flags().String("url", "ws://127.0.0.1:7420/ws", "Hub consumer endpoint")
	watchCmd.Flags().String("token", "", "Access token (default $AGENTHUB_TOKEN)")
	watchCmd.Flags().StringSlice("session", nil, "Session ID to follow (repeatable)")
	watchCmd.Flags().Bool("global", true, "Subscribe to the instance and session stream")
	watchCmd.Flags().Bool("json", false, "Print raw JSON messages")
}

func printMessage(msg *protocol.Message, raw bool) {
	if raw {
		data, _ := json.Marshal(msg)
		fmt.Println(string(data))
		return
	}
	fmt.Printf("%s  %-20s %s\n", time.Now().Format("15:04:05"), msg.Type, string(msg.Payload))
}
