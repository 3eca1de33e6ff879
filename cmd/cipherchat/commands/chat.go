package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"cipherchat/internal/domain"
)

func chatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Create, list and open conversations",
	}
	cmd.AddCommand(chatNewCmd(), chatListCmd(), chatOpenCmd())
	return cmd
}

func chatNewCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "new <username>...",
		Short: "Start an encrypted conversation with one or more users",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			me, err := wire.CurrentUser()
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()

			with := make([]domain.User, 0, len(args))
			for _, username := range args {
				u, err := findUser(ctx, username)
				if err != nil {
					return err
				}
				with = append(with, u)
			}

			conv, err := wire.Chats.CreateConversation(ctx, me, with, name)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %q (%s) with %d participants.\n",
				conv.Name, conv.ID, len(conv.Participants))
			return nil
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "conversation name")
	return cmd
}

// findUser resolves an exact username through the relay search.
func findUser(ctx context.Context, username string) (domain.User, error) {
	users, err := wire.Chats.SearchUsers(ctx, username)
	if err != nil {
		return domain.User{}, err
	}
	for _, u := range users {
		if strings.EqualFold(u.Username, username) {
			return u, nil
		}
	}
	return domain.User{}, errors.Errorf("no user named %q", username)
}

func chatListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List your conversations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := wire.CurrentUser(); err != nil {
				return err
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()

			convs, err := wire.Chats.ListConversations(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(convs) == 0 {
				fmt.Fprintln(out, "No conversations.")
				return nil
			}
			for _, c := range convs {
				last := "-"
				if !c.LastMessageAt.IsZero() {
					last = c.LastMessageAt.Local().Format(time.DateTime)
				}
				fmt.Fprintf(out, "%s  %-24s %d members  last %s\n", c.ID, c.Name, len(c.Participants), last)
			}
			return nil
		},
	}
}

func chatOpenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "open <conversation-id>",
		Short: "Read and write a conversation; one line per message, EOF to leave",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			me, err := wire.CurrentUser()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			printer := &transcript{out: cmd.OutOrStdout()}
			ctl, stream, err := wire.OpenStream(ctx, me, printer)
			if err != nil {
				return err
			}
			defer stream.Close()

			if err := ctl.Select(ctx, domain.ConversationID(args[0])); err != nil {
				return err
			}
			defer func() {
				leave, cancel := context.WithTimeout(context.Background(), requestTimeout)
				defer cancel()
				_ = ctl.Deselect(leave)
			}()

			done := make(chan struct{})
			defer close(done)
			lines := readLines(cmd.InOrStdin(), done)
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-stream.Done():
					return errors.WithMessage(stream.Err(), "stream closed")
				case line, ok := <-lines:
					if !ok {
						return nil
					}
					if err := ctl.Send(ctx, line); err != nil {
						wire.Log.Error().Err(err).Msg("send failed")
					}
				}
			}
		},
	}
}

// readLines streams lines from r until EOF or until done is closed. A read
// already blocked on r stays blocked until r yields, but the goroutine never
// blocks on delivery once done is closed.
func readLines(r io.Reader, done <-chan struct{}) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case ch <- sc.Text():
			case <-done:
				return
			}
		}
	}()
	return ch
}

// transcript prints conversation events as they arrive.
type transcript struct {
	mu  sync.Mutex
	out io.Writer
}

func (t *transcript) ConversationSelected(state domain.ConversationState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if state.Phase != domain.PhaseReady {
		return
	}
	mode := "encrypted"
	if !state.SecretPresent {
		mode = "NOT encrypted: no session secret on this device"
	}
	fmt.Fprintf(t.out, "-- %s (%s) --\n", state.ConversationID, mode)
}

func (t *transcript) HistoryLoaded(_ domain.ConversationID, msgs []domain.DisplayMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range msgs {
		t.line(m)
	}
}

func (t *transcript) MessageAppended(_ domain.ConversationID, m domain.DisplayMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.line(m)
}

func (t *transcript) line(m domain.DisplayMessage) {
	mark := ""
	switch m.Status {
	case domain.StatusPending:
		mark = " (sending)"
	case domain.StatusFailed, domain.StatusLocked:
		mark = " (!)"
	}
	sender := m.SenderName
	if sender == "" {
		sender = m.SenderID.String()
	}
	fmt.Fprintf(t.out, "[%s] %s: %s%s\n", m.Timestamp.Local().Format(time.Kitchen), sender, m.Text, mark)
}
