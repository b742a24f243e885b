package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/propnest/marketsync/client"
)

func newLoginCmd(st *cli) *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store a credential for later commands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return st.withClient(cmd, true, func(ctx context.Context, c *client.Client, out io.Writer) error {
				if err := c.Login(token); err != nil {
					return err
				}
				if id, ok := c.Identity(ctx); ok {
					fmt.Fprintf(out, "Signed in as %s (%s)\n", id.Subject, id.Role)
					return nil
				}
				fmt.Fprintln(out, "Credential stored")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "Bearer credential (required)")
	_ = cmd.MarkFlagRequired("token")
	return cmd
}

func newLogoutCmd(st *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget every stored credential",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return st.withClient(cmd, true, func(ctx context.Context, c *client.Client, out io.Writer) error {
				if err := c.Logout(ctx); err != nil {
					return err
				}
				fmt.Fprintln(out, "Signed out")
				return nil
			})
		},
	}
}

func newWhoamiCmd(st *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return st.withClient(cmd, true, func(ctx context.Context, c *client.Client, out io.Writer) error {
				id, ok := c.Identity(ctx)
				if !ok {
					return client.ErrNoIdentity
				}
				fmt.Fprintf(out, "%s (%s)\n", id.Subject, id.Role)
				return nil
			})
		},
	}
}

func newConversationsCmd(st *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "conversations",
		Short: "List your conversations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return st.withClient(cmd, true, func(ctx context.Context, c *client.Client, out io.Writer) error {
				convs, err := c.Conversations(ctx)
				if err != nil {
					return err
				}
				for _, cv := range convs {
					fmt.Fprintf(out, "%s\t%s\tbuyer=%s seller=%s\n", cv.ID, cv.PropertyTitle, cv.BuyerID, cv.SellerID)
				}
				return nil
			})
		},
	}
}

func printMessage(out io.Writer, m client.Message) {
	body := m.Body
	if m.AttachmentURL != "" {
		body = strings.TrimSpace(body + " [image] " + m.AttachmentURL)
	}
	fmt.Fprintf(out, "%s  %-12s %s\n", m.CreatedAt.Local().Format("2006-01-02 15:04"), m.SenderID, body)
}

func newHistoryCmd(st *cli) *cobra.Command {
	var limit int
	var before string
	cmd := &cobra.Command{
		Use:   "history <conversation-id>",
		Short: "Print a page of a conversation's messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return st.withClient(cmd, true, func(ctx context.Context, c *client.Client, out io.Writer) error {
				msgs, err := c.History(ctx, args[0], client.HistoryQuery{Limit: limit, Before: before})
				if err != nil {
					return err
				}
				for _, m := range msgs {
					printMessage(out, m)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of messages")
	cmd.Flags().StringVar(&before, "before", "", "Only messages before this cursor")
	return cmd
}

func newSendCmd(st *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "send <conversation-id> <text>",
		Short: "Send one message",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.TrimSpace(strings.Join(args[1:], " "))
			if text == "" {
				return client.ErrEmptyMessage
			}
			return st.withClient(cmd, true, func(ctx context.Context, c *client.Client, out io.Writer) error {
				msg, echoed, err := c.SendMessage(ctx, args[0], text)
				if err != nil {
					return err
				}
				if !echoed {
					fmt.Fprintln(out, "Sent")
					return nil
				}
				printMessage(out, msg)
				return nil
			})
		},
	}
}

func newChatCmd(st *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "chat <conversation-id>",
		Short: "Follow a conversation and send lines typed on stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return st.withClient(cmd, false, func(ctx context.Context, c *client.Client, out io.Writer) error {
				ch, err := c.OpenChat(ctx, args[0])
				if err != nil {
					return err
				}
				defer func() { _ = ch.Close() }()

				var mu sync.Mutex
				printed := make(map[client.ID]bool)
				flush := func() {
					mu.Lock()
					defer mu.Unlock()
					for _, m := range ch.Confirmed() {
						if !printed[m.ID] {
							printed[m.ID] = true
							printMessage(out, m)
						}
					}
				}
				ch.OnChange(flush)
				flush()

				lines := make(chan string)
				go func() {
					defer close(lines)
					sc := bufio.NewScanner(cmd.InOrStdin())
					for sc.Scan() {
						lines <- sc.Text()
					}
				}()
				for {
					select {
					case <-ctx.Done():
						return nil
					case line, ok := <-lines:
						if !ok {
							return nil
						}
						if strings.TrimSpace(line) == "" {
							continue
						}
						if _, err := ch.Send(ctx, line); err != nil {
							fmt.Fprintf(cmd.ErrOrStderr(), "not sent: %s\n", client.UserMessage(err))
						}
					}
				}
			})
		},
	}
}

func printFeed(out io.Writer, snap client.Snapshot) {
	for _, it := range snap.Items {
		mark := " "
		if !it.IsRead {
			mark = "*"
		}
		fmt.Fprintf(out, "%s %-12s %-10s %s  %s\n", mark, it.ID, it.Source, it.CreatedAt.Local().Format("2006-01-02 15:04"), it.Title)
	}
	for src, err := range snap.Failed {
		fmt.Fprintf(out, "! %s unavailable: %s\n", src, client.UserMessage(err))
	}
}

func newNotificationsCmd(st *cli) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "List notifications from every channel, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return st.withClient(cmd, !watch, func(ctx context.Context, c *client.Client, out io.Writer) error {
				feed, err := c.Notifications(ctx, watch)
				if err != nil {
					return err
				}
				defer func() { _ = feed.Close() }()
				printFeed(out, feed.Snapshot())
				if !watch {
					return nil
				}
				var mu sync.Mutex
				feed.OnChange(func() {
					mu.Lock()
					defer mu.Unlock()
					s := feed.Stats()
					fmt.Fprintf(out, "-- %d unread notifications, %d unread messages\n", s.UnreadNotifications, s.UnreadMessages)
				})
				<-ctx.Done()
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Keep following account events")
	return cmd
}

func newStatsCmd(st *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show the dashboard counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return st.withClient(cmd, true, func(ctx context.Context, c *client.Client, out io.Writer) error {
				s, err := c.Stats(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "properties:      %d (pending %d, approved %d, rejected %d)\n",
					s.TotalProperties, s.PendingProperties, s.ApprovedProperties, s.RejectedProperties)
				fmt.Fprintf(out, "conversations:   %d\n", s.TotalConversations)
				fmt.Fprintf(out, "unread messages: %d\n", s.UnreadMessages)
				fmt.Fprintf(out, "notifications:   %d unread\n", s.UnreadNotifications)
				return nil
			})
		},
	}
}

func parseSource(s string) (client.SourceChannel, error) {
	src, ok := client.ParseSourceChannel(s)
	if !ok {
		return "", fmt.Errorf("unknown source %q (admin, user, conversation, direct)", s)
	}
	return src, nil
}

// feedMutation opens the feed once and applies fn to one item.
func (st *cli) feedMutation(cmd *cobra.Command, args []string, verb string, fn func(context.Context, *client.Feed, client.SourceChannel, client.ID) error) error {
	src, err := parseSource(args[0])
	if err != nil {
		return err
	}
	return st.withClient(cmd, true, func(ctx context.Context, c *client.Client, out io.Writer) error {
		feed, err := c.Notifications(ctx, false)
		if err != nil {
			return err
		}
		defer func() { _ = feed.Close() }()
		if err := fn(ctx, feed, src, client.NewID(args[1])); err != nil {
			return err
		}
		fmt.Fprintf(out, "%s %s/%s\n", verb, src, args[1])
		return nil
	})
}

func newReadNotificationCmd(st *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "read-notification <source> <id>",
		Short: "Mark one notification read",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return st.feedMutation(cmd, args, "Marked read", func(ctx context.Context, f *client.Feed, src client.SourceChannel, id client.ID) error {
				return f.MarkOneRead(ctx, src, id)
			})
		},
	}
}

func newDeleteNotificationCmd(st *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "delete-notification <source> <id>",
		Short: "Delete one notification",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return st.feedMutation(cmd, args, "Deleted", func(ctx context.Context, f *client.Feed, src client.SourceChannel, id client.ID) error {
				return f.DeleteOne(ctx, src, id)
			})
		},
	}
}

func newGetCmd(st *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "get <endpoint>",
		Short: "GET an API endpoint and print the raw body",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return st.withClient(cmd, true, func(ctx context.Context, c *client.Client, out io.Writer) error {
				res := c.Get(ctx, args[0], nil)
				if err := res.Error(); err != nil {
					return err
				}
				_, err := fmt.Fprintln(out, string(res.Raw()))
				return err
			})
		},
	}
}

func newSearchHistoryCmd(st *cli) *cobra.Command {
	var clearAll bool
	cmd := &cobra.Command{
		Use:   "search-history [term]",
		Short: "Record a search term and list recent searches",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return st.withClient(cmd, true, func(ctx context.Context, c *client.Client, out io.Writer) error {
				if clearAll {
					return c.ClearRecentSearches()
				}
				if len(args) == 1 {
					if err := c.AddRecentSearch(args[0]); err != nil {
						return err
					}
				}
				for _, term := range c.RecentSearches() {
					fmt.Fprintln(out, term)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&clearAll, "clear", false, "Forget every recent search")
	return cmd
}
