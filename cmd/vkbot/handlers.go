package main

import (
	"context"
	"fmt"
	"net/url"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jdelaire/vkbot/adapters/vk_api"
	"github.com/jdelaire/vkbot/core"
	"github.com/jdelaire/vkbot/internal/ratelimit"
)

// actions are the typed vk_api.Client helpers handlers use besides
// Context.API.
type actions interface {
	GetConversationMembers(ctx context.Context, peerID int64, opts vk_api.MembersOptions) (*vk_api.ConversationMembers, error)
	SendMessageEventAnswer(ctx context.Context, eventID string, userID, peerID int64, eventData any) error
}

// botState is shared by every handler. Handlers run concurrently, so the
// counters are guarded by mu; the rest is set before polling starts.
type botState struct {
	mu       sync.Mutex
	started  time.Time
	handled  int
	unknown  int
	perPeer  map[int64]int
	commands map[string]string
	router   *core.Router
	api      actions
	// unknownCmds mutes peers that keep sending unknown commands.
	unknownCmds *ratelimit.Limiter
}

func newBotState(api actions) *botState {
	return &botState{
		api:      api,
		started:  time.Now(),
		perPeer:  make(map[int64]int),
		commands: make(map[string]string),

		unknownCmds: ratelimit.New(5, time.Minute, 10*time.Minute),
	}
}

func (s *botState) seen(peerID int64, matched bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handled++
	s.perPeer[peerID]++
	if !matched {
		s.unknown++
	}
}

type command struct {
	trigger     string
	description string
	filter      core.Filter
	handler     core.HandlerFunc
}

// registerHandlers builds the route table. Order matters: the first matching
// route wins.
func registerHandlers(r *core.Router, state *botState) error {
	commands := []command{
		{"/help", "List available commands", core.Flexible, helpHandler},
		{"/status", "Show bot status", core.Flexible, statusHandler},
		{"/members", "List chat members", core.Flexible, membersHandler},
		{"hello", "Greet the sender", core.Sensitive, greetHandler},
		{"привет", "Поздороваться", core.Sensitive, greetHandler},
	}
	for _, c := range commands {
		if err := r.Command(c.trigger, c.handler, c.filter); err != nil {
			return err
		}
		state.commands[c.trigger] = c.description
	}
	state.router = r
	return r.Fallback(core.HandlerFunc(fallbackHandler))
}

func appState(c *core.Context) (*botState, error) {
	s, ok := core.StateAs[*botState](c)
	if !ok {
		return nil, fmt.Errorf("unexpected state type %T", c.State)
	}
	return s, nil
}

func peerOf(c *core.Context) int64 {
	msg, err := c.Event.Message()
	if err != nil {
		return 0
	}
	return msg.PeerID
}

func helpHandler(ctx context.Context, c *core.Context) error {
	s, err := appState(c)
	if err != nil {
		return err
	}
	peer := peerOf(c)
	s.seen(peer, true)
	s.unknownCmds.Reset(peer)

	routes := s.router.Routes()
	sort.Slice(routes, func(i, j int) bool { return routes[i].Trigger < routes[j].Trigger })

	var b strings.Builder
	b.WriteString("Available commands:\n")
	s.mu.Lock()
	for _, rt := range routes {
		fmt.Fprintf(&b, "  %s: %s\n", rt.Trigger, s.commands[rt.Trigger])
	}
	s.mu.Unlock()

	return c.Reply(ctx, b.String())
}

func statusHandler(ctx context.Context, c *core.Context) error {
	s, err := appState(c)
	if err != nil {
		return err
	}
	s.seen(peerOf(c), true)

	s.mu.Lock()
	uptime := time.Since(s.started).Truncate(time.Second)
	handled, unknown, peers := s.handled, s.unknown, len(s.perPeer)
	s.mu.Unlock()

	return c.Reply(ctx, fmt.Sprintf("Status: OK\nUptime: %s\nGo: %s\nGoroutines: %d\nMessages: %d (%d unmatched)\nPeers: %d",
		uptime, runtime.Version(), runtime.NumGoroutine(), handled, unknown, peers))
}

func membersHandler(ctx context.Context, c *core.Context) error {
	s, err := appState(c)
	if err != nil {
		return err
	}
	peer := peerOf(c)
	s.seen(peer, true)

	members, err := s.api.GetConversationMembers(ctx, peer, vk_api.MembersOptions{Count: 200, Extended: true})
	if vk_api.IsAPIError(err, vk_api.ErrCodeChatAccessDenied) {
		return c.Reply(ctx, "I need admin rights in this chat to list members.")
	}
	if err != nil {
		return err
	}

	names := make(map[int64]string, len(members.Profiles)+len(members.Groups))
	for _, p := range members.Profiles {
		names[p.ID] = strings.TrimSpace(p.FirstName + " " + p.LastName)
	}
	// Communities appear as negative member ids.
	for _, g := range members.Groups {
		names[-g.ID] = g.Name
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Members: %d\n", members.Count)
	for _, m := range members.Items {
		name := names[m.MemberID]
		if name == "" {
			name = "id" + strconv.FormatInt(m.MemberID, 10)
		}
		switch {
		case m.IsOwner:
			name += " (owner)"
		case m.IsAdmin:
			name += " (admin)"
		}
		fmt.Fprintf(&b, "  %s\n", name)
	}
	return c.Reply(ctx, b.String())
}

func greetHandler(ctx context.Context, c *core.Context) error {
	s, err := appState(c)
	if err != nil {
		return err
	}
	msg, err := c.Event.Message()
	if err != nil {
		return err
	}
	s.seen(msg.PeerID, true)

	name := "there"
	if msg.FromID > 0 {
		var users []struct {
			FirstName string `json:"first_name"`
		}
		params := url.Values{"user_ids": {strconv.FormatInt(msg.FromID, 10)}}
		if err := c.API.Call(ctx, "users.get", params, &users); err != nil {
			c.Logger.Warn("users.get failed, greeting anonymously", "error", err)
		} else if len(users) > 0 && users[0].FirstName != "" {
			name = users[0].FirstName
		}
	}
	return c.Reply(ctx, fmt.Sprintf("Hello, %s!", name))
}

func fallbackHandler(ctx context.Context, c *core.Context) error {
	s, err := appState(c)
	if err != nil {
		return err
	}
	if c.Event.Type == core.KindMessageEvent {
		return answerCallback(ctx, c, s)
	}
	text, ok := c.Event.Text()
	if !ok {
		c.Logger.Debug("ignoring event", "type", c.Event.Type)
		return nil
	}
	peer := peerOf(c)
	s.seen(peer, false)

	if !strings.HasPrefix(strings.TrimSpace(text), "/") {
		return nil
	}
	if left, muted := s.unknownCmds.Muted(peer); muted {
		c.Logger.Debug("peer muted, not replying", "peer_id", peer, "remaining", left)
		return nil
	}
	if s.unknownCmds.Strike(peer) {
		return c.Reply(ctx, "Too many unknown commands. Send /help for the list.")
	}
	return c.Reply(ctx, "Unknown command. Send /help for the list.")
}

// answerCallback acknowledges a callback button so the client stops showing
// a spinner.
func answerCallback(ctx context.Context, c *core.Context, s *botState) error {
	cb, err := c.Event.Callback()
	if err != nil {
		return err
	}
	c.Logger.Debug("callback button pressed", "peer_id", cb.PeerID, "payload", string(cb.Payload))
	return s.api.SendMessageEventAnswer(ctx, cb.EventID, cb.UserID, cb.PeerID, map[string]string{
		"type": "show_snackbar",
		"text": "Got it",
	})
}
