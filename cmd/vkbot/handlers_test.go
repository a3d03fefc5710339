package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/jdelaire/vkbot/adapters/vk_api"
	"github.com/jdelaire/vkbot/core"
)

type fakeAPI struct {
	mu         sync.Mutex
	sent       []string
	usersErr   error
	members    *vk_api.ConversationMembers
	membersErr error
	answers    []string
}

func (f *fakeAPI) GetConversationMembers(_ context.Context, _ int64, opts vk_api.MembersOptions) (*vk_api.ConversationMembers, error) {
	if !opts.Extended {
		return nil, errors.New("members requested without profiles")
	}
	return f.members, f.membersErr
}

func (f *fakeAPI) SendMessageEventAnswer(_ context.Context, eventID string, userID, peerID int64, eventData any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := json.Marshal(eventData)
	if err != nil {
		return err
	}
	f.answers = append(f.answers, fmt.Sprintf("%s/%d/%d %s", eventID, userID, peerID, data))
	return nil
}

func (f *fakeAPI) Call(_ context.Context, method string, params url.Values, out any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch method {
	case "messages.send":
		f.sent = append(f.sent, params.Get("message"))
		return nil
	case "users.get":
		if f.usersErr != nil {
			return f.usersErr
		}
		return json.Unmarshal([]byte(`[{"id":1,"first_name":"Pavel"}]`), out)
	}
	return fmt.Errorf("unexpected method %s", method)
}

func (f *fakeAPI) replies() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func message(text string) core.Event {
	obj, _ := json.Marshal(map[string]any{
		"message": map[string]any{"peer_id": 10, "from_id": 1, "text": text},
	})
	return core.Event{Type: core.KindMessageNew, EventID: "e", Object: obj}
}

func newTestBot(t *testing.T) (*core.Dispatcher, *fakeAPI, *botState) {
	t.Helper()
	api := &fakeAPI{}
	state := newBotState(api)
	router := core.NewRouter()
	if err := registerHandlers(router, state); err != nil {
		t.Fatalf("registerHandlers: %v", err)
	}
	d := core.NewDispatcher(core.DispatcherConfig{
		Router: router,
		API:    api,
		State:  state,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	d.Seal()
	return d, api, state
}

func send(t *testing.T, d *core.Dispatcher, texts ...string) {
	t.Helper()
	events := make([]core.Event, len(texts))
	for i, text := range texts {
		events[i] = message(text)
	}
	if err := d.Dispatch(context.Background(), events); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	d.Wait()
}

func TestHelpListsCommands(t *testing.T) {
	d, api, _ := newTestBot(t)
	send(t, d, " /HELP ")

	replies := api.replies()
	if len(replies) != 1 {
		t.Fatalf("replies = %d, want 1", len(replies))
	}
	for _, want := range []string{"Available commands:", "/help", "/members", "/status", "hello"} {
		if !strings.Contains(replies[0], want) {
			t.Errorf("help output missing %q: %q", want, replies[0])
		}
	}
	if strings.Index(replies[0], "/help") > strings.Index(replies[0], "/status") {
		t.Errorf("commands not sorted: %q", replies[0])
	}
}

func TestStatusReportsCounts(t *testing.T) {
	d, api, _ := newTestBot(t)
	send(t, d, "just chatting")
	send(t, d, "/status")

	replies := api.replies()
	if len(replies) != 1 {
		t.Fatalf("replies = %v", replies)
	}
	for _, want := range []string{"Status: OK", "Uptime:", "Go:", "Goroutines:", "Messages: 2 (1 unmatched)", "Peers: 1"} {
		if !strings.Contains(replies[0], want) {
			t.Errorf("status output missing %q: %q", want, replies[0])
		}
	}
}

func TestGreetUsesProfileName(t *testing.T) {
	d, api, _ := newTestBot(t)
	send(t, d, "well, hello!")

	replies := api.replies()
	if len(replies) != 1 || replies[0] != "Hello, Pavel!" {
		t.Errorf("replies = %v", replies)
	}
}

func TestGreetWithoutProfile(t *testing.T) {
	d, api, _ := newTestBot(t)
	api.usersErr = errors.New("rate limited")
	send(t, d, "Привет")

	replies := api.replies()
	if len(replies) != 1 || replies[0] != "Hello, there!" {
		t.Errorf("replies = %v", replies)
	}
}

func TestFallback(t *testing.T) {
	d, api, state := newTestBot(t)
	send(t, d, "/unknown", "no command here")

	replies := api.replies()
	if len(replies) != 1 || !strings.Contains(replies[0], "Unknown command") {
		t.Errorf("replies = %v", replies)
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	if state.unknown != 2 {
		t.Errorf("unknown = %d, want 2", state.unknown)
	}
}

func TestRegisterHandlersTwiceFails(t *testing.T) {
	state := newBotState(&fakeAPI{})
	router := core.NewRouter()
	if err := registerHandlers(router, state); err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := registerHandlers(router, state); !errors.Is(err, core.ErrDuplicateRoute) {
		t.Errorf("err = %v, want ErrDuplicateRoute", err)
	}
}

func TestFallbackMutesRepeatOffenders(t *testing.T) {
	d, api, _ := newTestBot(t)
	for i := 0; i < 6; i++ {
		send(t, d, "/nope")
	}

	replies := api.replies()
	if len(replies) != 5 {
		t.Fatalf("replies = %d, want 5: %v", len(replies), replies)
	}
	if !strings.HasPrefix(replies[4], "Too many unknown commands") {
		t.Errorf("last reply = %q", replies[4])
	}

	// Asking for help lifts the mute.
	send(t, d, "/help")
	send(t, d, "/nope")
	replies = api.replies()
	if got := replies[len(replies)-1]; !strings.HasPrefix(got, "Unknown command") {
		t.Errorf("reply after /help = %q", got)
	}
}

func TestMembersListsNamesAndRoles(t *testing.T) {
	d, api, _ := newTestBot(t)
	api.members = &vk_api.ConversationMembers{
		Count: 3,
		Items: []vk_api.ConversationMember{
			{MemberID: 1, IsOwner: true},
			{MemberID: -55, IsAdmin: true},
			{MemberID: 9},
		},
		Profiles: []vk_api.User{{ID: 1, FirstName: "Pavel", LastName: "D"}},
		Groups:   []vk_api.Group{{ID: 55, Name: "Club"}},
	}
	send(t, d, "/members")

	replies := api.replies()
	if len(replies) != 1 {
		t.Fatalf("replies = %v", replies)
	}
	for _, want := range []string{"Members: 3", "Pavel D (owner)", "Club (admin)", "id9"} {
		if !strings.Contains(replies[0], want) {
			t.Errorf("members output missing %q: %q", want, replies[0])
		}
	}
}

func TestMembersWithoutAdminRights(t *testing.T) {
	d, api, _ := newTestBot(t)
	api.membersErr = &vk_api.APIError{Code: vk_api.ErrCodeChatAccessDenied, Method: "messages.getConversationMembers"}
	send(t, d, "/members")

	replies := api.replies()
	if len(replies) != 1 || !strings.Contains(replies[0], "admin rights") {
		t.Errorf("replies = %v", replies)
	}
}

func TestCallbackButtonAnswered(t *testing.T) {
	d, api, state := newTestBot(t)
	ev := core.Event{
		Type:    core.KindMessageEvent,
		EventID: "e",
		Object:  []byte(`{"user_id":7,"peer_id":10,"event_id":"cb1","payload":{"cmd":"ok"}}`),
	}
	if err := d.Dispatch(context.Background(), []core.Event{ev}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	d.Wait()

	api.mu.Lock()
	answers := append([]string(nil), api.answers...)
	api.mu.Unlock()
	if len(answers) != 1 || !strings.HasPrefix(answers[0], "cb1/7/10 ") || !strings.Contains(answers[0], "show_snackbar") {
		t.Errorf("answers = %v", answers)
	}
	if len(api.replies()) != 0 {
		t.Errorf("callback produced a message: %v", api.replies())
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	if state.handled != 0 {
		t.Errorf("callback counted as a message")
	}
}
