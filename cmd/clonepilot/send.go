// ABOUTME: send subcommand relaying one message through a running relay
// ABOUTME: Prints the agent's messages, or the raw reply with --json

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/clonepilot/internal/client"
)

func newSendCmd(opts *rootOptions) *cobra.Command {
	var (
		url       string
		token     string
		contactID string
		text      string
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a message as a contact and print the agent's reply",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if contactID == "" || text == "" {
				return errors.New("--contact and --text are required")
			}
			if url == "" {
				cfg, _, err := opts.loadConfig()
				if err != nil {
					return err
				}
				url = relayURL(cfg)
			}
			if token == "" {
				token = os.Getenv("CLONEPILOT_TOKEN")
			}

			var clientOpts []client.Option
			if token != "" {
				clientOpts = append(clientOpts, client.WithToken(token))
			}

			reply, err := client.New(url, clientOpts...).SendMessage(cmd.Context(), contactID, text)
			if err != nil {
				var apiErr *client.APIError
				if errors.As(err, &apiErr) && apiErr.Reply != nil {
					_ = printReply(cmd, apiErr.Reply, asJSON)
				}
				return err
			}
			return printReply(cmd, reply, asJSON)
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "relay base URL (default from config)")
	cmd.Flags().StringVar(&token, "token", "", "API token (default $CLONEPILOT_TOKEN)")
	cmd.Flags().StringVar(&contactID, "contact", "", "contact id")
	cmd.Flags().StringVar(&text, "text", "", "message text")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw reply")
	return cmd
}

func printReply(cmd *cobra.Command, reply *client.Reply, asJSON bool) error {
	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(reply)
	}

	gray := color.New(color.FgHiBlack)
	if reply.Started {
		gray.Fprintf(out, "(new conversation %s)\n", reply.ConversationID)
	}
	for _, m := range reply.Messages {
		fmt.Fprintln(out, m)
	}
	if !reply.Complete {
		gray.Fprintf(out, "(partial reply: %s)\n", reply.StopReason)
	}
	return nil
}
