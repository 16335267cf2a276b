package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/voicechat/internal/core"
	"github.com/vovakirdan/voicechat/internal/proto"
	"github.com/vovakirdan/voicechat/internal/push"
	"github.com/vovakirdan/voicechat/internal/search"
)

const helpText = `commands:
  <text>                      send a text message
  /voice <path>               send a voice recording
  /attach <kind> <path>       send an image, video or document
  /delete <n> [me|everyone]   delete row n (default everyone)
  /older                      load older messages
  /search <query>             search all conversations
  /goto <n>                   open search result n
  /rooms                      list conversations
  /open <room-id>             switch conversation
  /quit                       leave`

func newOpenCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "open [room-id]",
		Short: "Open a conversation and chat interactively",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(flags, true)
			if err != nil {
				return err
			}
			roomID := ""
			if len(args) == 1 {
				roomID = args[0]
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runChat(ctx, e, roomID, os.Stdin, cmd.OutOrStdout())
		},
	}
}

// stateSubscriber opens conversation channels through the manager and forwards
// their lifecycle states so the prompt can show connectivity.
type stateSubscriber struct {
	mgr    *push.Manager
	token  func() string
	states chan push.State
}

func (s *stateSubscriber) Subscribe(ctx context.Context, roomID string) (push.Subscription, error) {
	ch, err := s.mgr.Connect(ctx, roomID, s.token())
	if err != nil {
		return nil, err
	}
	go func() {
		for st := range ch.States() {
			select {
			case s.states <- st:
			default:
			}
		}
	}()
	return ch, nil
}

type chat struct {
	engine *core.Engine
	search *search.Aggregator
	rooms  *core.RoomList
	view   *renderer
	out    io.Writer

	// shown is the query whose results were printed last.
	shown string
}

func runChat(ctx context.Context, e *env, roomID string, in io.Reader, out io.Writer) error {
	backoff := push.Backoff{
		Base:        e.cfg.ReconnectBaseDelay,
		Max:         e.cfg.ReconnectMaxDelay,
		MaxAttempts: e.cfg.ReconnectMaxAttempts,
	}
	mgr := push.NewManager(e.cfg.BaseURL, backoff, e.sess, e.logger)
	defer mgr.Close()

	subs := &stateSubscriber{mgr: mgr, token: e.sess.Token, states: make(chan push.State, 16)}
	engine := core.NewEngine(e.client, subs, e.sess.UserID(), core.Options{PageSize: e.cfg.PageSize, Logger: e.logger})
	agg, err := search.New(e.client, search.Config{
		Debounce:  e.cfg.SearchDebounce,
		MinLength: e.cfg.SearchMinLength,
		CacheSize: e.cfg.SearchCacheSize,
		CacheTTL:  e.cfg.SearchCacheTTL,
		Logger:    e.logger,
	})
	if err != nil {
		return err
	}
	c := &chat{
		engine: engine,
		search: agg,
		rooms:  core.NewRoomList(),
		view:   newRenderer(out, engine.Viewer()),
		out:    out,
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	if e.cfg.Inbox {
		inbox, err := mgr.ConnectInbox(ctx, e.sess.Token())
		if err != nil {
			return err
		}
		engine.AttachInbox(inbox)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return engine.Run(gctx) })

	g.Go(func() error {
		if err := engine.LoadRooms(); err != nil {
			return err
		}
		if roomID != "" {
			if err := engine.Open(roomID); err != nil {
				return err
			}
		}
		fmt.Fprintln(out, "type /help for commands")
		return c.loop(gctx, lines, subs.states)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, errQuit) {
		return nil
	}
	return err
}

var errQuit = errors.New("quit")

func (c *chat) loop(ctx context.Context, lines <-chan string, states <-chan push.State) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.engine.Updates():
			v, err := c.engine.View()
			if err != nil {
				return err
			}
			c.view.render(v)
		case n := <-c.engine.Notifications():
			fmt.Fprintf(c.out, "! %s: %s\n", n.Code, n.Message)
		case st := <-states:
			if st != push.StateConnected {
				fmt.Fprintf(c.out, "~ %s\n", st)
			}
		case <-c.search.Updates():
			st := c.search.State()
			if !st.Settled || st.Query == c.shown {
				continue
			}
			c.shown = st.Query
			if st.Err != nil {
				fmt.Fprintf(c.out, "! search: %v\n", st.Err)
				continue
			}
			printResults(c.out, st.Results)
		case line, ok := <-lines:
			if !ok {
				return errQuit
			}
			if err := c.handle(strings.TrimSpace(line)); err != nil {
				if errors.Is(err, errQuit) {
					return err
				}
				fmt.Fprintf(c.out, "! %v\n", err)
			}
		}
	}
}

func (c *chat) handle(line string) error {
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		return c.engine.SendText(line)
	}
	name, rest, _ := strings.Cut(line[1:], " ")
	rest = strings.TrimSpace(rest)
	switch name {
	case "quit", "q":
		return errQuit
	case "help":
		fmt.Fprintln(c.out, helpText)
		return nil
	case "older":
		return c.engine.LoadOlder()
	case "open":
		return c.engine.Open(rest)
	case "rooms":
		rooms, err := c.engine.Rooms()
		if err != nil {
			return err
		}
		c.rooms.Replace(rooms)
		printRooms(c.out, c.rooms.All())
		return nil
	case "voice":
		data, err := os.ReadFile(rest)
		if err != nil {
			return err
		}
		return c.engine.SendVoice(filepath.Base(rest), data)
	case "attach":
		kind, path, ok := strings.Cut(rest, " ")
		if !ok {
			return errors.New("usage: /attach <image|video|document> <path>")
		}
		data, err := os.ReadFile(strings.TrimSpace(path))
		if err != nil {
			return err
		}
		return c.engine.SendAttachment(proto.MessageKind(kind), filepath.Base(path), data)
	case "delete":
		return c.delete(rest)
	case "search":
		c.shown = ""
		c.search.Type(rest, "")
		return nil
	case "goto":
		n, err := strconv.Atoi(rest)
		if err != nil {
			return fmt.Errorf("usage: /goto <n>")
		}
		roomID, _, err := c.search.Select(n - 1)
		if err != nil {
			return err
		}
		return c.engine.Open(roomID)
	default:
		return fmt.Errorf("unknown command /%s", name)
	}
}

func (c *chat) delete(args string) error {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return errors.New("usage: /delete <n> [me|everyone]")
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil {
		return errors.New("usage: /delete <n> [me|everyone]")
	}
	id, ok := c.view.messageAt(n)
	if !ok {
		return fmt.Errorf("no row %d", n)
	}
	scope := proto.ScopeEveryone
	if len(fields) > 1 {
		scope = fields[1]
	}
	if err := c.engine.Delete(id, scope); err != nil {
		return err
	}
	c.search.Invalidate()
	return nil
}
