package vk_api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/jdelaire/vkbot/core"
)

// GetLongPollServer negotiates a Bots Long Poll session for the community.
func (c *Client) GetLongPollServer(ctx context.Context, groupID int64) (*LongPollServer, error) {
	var lp LongPollServer
	params := url.Values{"group_id": {strconv.FormatInt(groupID, 10)}}
	if err := c.Call(ctx, "groups.getLongPollServer", params, &lp); err != nil {
		return nil, err
	}
	if lp.Server == "" || lp.Key == "" {
		return nil, fmt.Errorf("groups.getLongPollServer: incomplete session (server=%q)", lp.Server)
	}
	return &lp, nil
}

// Group is a community as returned by groups.getById.
type Group struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	ScreenName string `json:"screen_name"`
}

// GroupByID returns the community the access token belongs to.
func (c *Client) GroupByID(ctx context.Context) (*Group, error) {
	var raw json.RawMessage
	if err := c.Call(ctx, "groups.getById", nil, &raw); err != nil {
		return nil, err
	}

	// 5.199 wraps the list in {"groups": [...]}; older versions return the list.
	var groups []Group
	var wrapped struct {
		Groups []Group `json:"groups"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && len(wrapped.Groups) > 0 {
		groups = wrapped.Groups
	} else if err := json.Unmarshal(raw, &groups); err != nil {
		return nil, fmt.Errorf("groups.getById: decode result: %w", err)
	}
	if len(groups) == 0 {
		return nil, fmt.Errorf("groups.getById: no group for this token")
	}
	return &groups[0], nil
}

// OutgoingMessage holds messages.send parameters.
type OutgoingMessage struct {
	PeerID     int64
	Text       string
	ReplyTo    int64
	Attachment []string
	// Keyboard is a JSON-encoded keyboard object.
	Keyboard       string
	DontParseLinks bool
	// RandomID deduplicates sends. Zero picks a random one.
	RandomID int64
}

// SendMessage sends a message and returns its ID.
func (c *Client) SendMessage(ctx context.Context, m OutgoingMessage) (int64, error) {
	if m.Text == "" && len(m.Attachment) == 0 {
		return 0, fmt.Errorf("messages.send: text or attachment is required")
	}
	randomID := m.RandomID
	if randomID == 0 {
		randomID = core.RandomID()
	}
	params := url.Values{
		"peer_id":   {strconv.FormatInt(m.PeerID, 10)},
		"random_id": {strconv.FormatInt(randomID, 10)},
	}
	if m.Text != "" {
		params.Set("message", m.Text)
	}
	if m.ReplyTo != 0 {
		params.Set("reply_to", strconv.FormatInt(m.ReplyTo, 10))
	}
	if len(m.Attachment) > 0 {
		params.Set("attachment", strings.Join(m.Attachment, ","))
	}
	if m.Keyboard != "" {
		params.Set("keyboard", m.Keyboard)
	}
	if m.DontParseLinks {
		params.Set("dont_parse_links", "1")
	}

	var id int64
	if err := c.Call(ctx, "messages.send", params, &id); err != nil {
		return 0, err
	}
	return id, nil
}

// EditMessage replaces the text of a message the community sent.
func (c *Client) EditMessage(ctx context.Context, peerID, conversationMessageID int64, text string) error {
	params := url.Values{
		"peer_id":                 {strconv.FormatInt(peerID, 10)},
		"conversation_message_id": {strconv.FormatInt(conversationMessageID, 10)},
		"message":                 {text},
	}
	var ok int
	if err := c.Call(ctx, "messages.edit", params, &ok); err != nil {
		return err
	}
	if ok != 1 {
		return fmt.Errorf("messages.edit: unexpected result %d", ok)
	}
	return nil
}

// User is a profile as returned by users.get.
type User struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// GetUsers looks up user profiles.
func (c *Client) GetUsers(ctx context.Context, ids []int64, fields ...string) ([]User, error) {
	strIDs := make([]string, len(ids))
	for i, id := range ids {
		strIDs[i] = strconv.FormatInt(id, 10)
	}
	params := url.Values{"user_ids": {strings.Join(strIDs, ",")}}
	if len(fields) > 0 {
		params.Set("fields", strings.Join(fields, ","))
	}
	var users []User
	if err := c.Call(ctx, "users.get", params, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// ConversationMember is one item of messages.getConversationMembers.
type ConversationMember struct {
	MemberID  int64 `json:"member_id"`
	InvitedBy int64 `json:"invited_by"`
	JoinDate  int64 `json:"join_date"`
	IsAdmin   bool  `json:"is_admin"`
	IsOwner   bool  `json:"is_owner"`
	CanKick   bool  `json:"can_kick"`
}

// ConversationMembers is the messages.getConversationMembers result.
// Profiles and Groups are filled only for extended requests.
type ConversationMembers struct {
	Count    int                  `json:"count"`
	Items    []ConversationMember `json:"items"`
	Profiles []User               `json:"profiles"`
	Groups   []Group              `json:"groups"`
}

// MembersOptions holds optional messages.getConversationMembers parameters.
type MembersOptions struct {
	Offset   int
	Count    int
	Extended bool
	Fields   []string
}

// GetConversationMembers lists the members of a conversation. The community
// needs admin rights in group chats.
func (c *Client) GetConversationMembers(ctx context.Context, peerID int64, opts MembersOptions) (*ConversationMembers, error) {
	params := url.Values{"peer_id": {strconv.FormatInt(peerID, 10)}}
	if opts.Offset > 0 {
		params.Set("offset", strconv.Itoa(opts.Offset))
	}
	if opts.Count > 0 {
		params.Set("count", strconv.Itoa(opts.Count))
	}
	if opts.Extended {
		params.Set("extended", "1")
	}
	if len(opts.Fields) > 0 {
		params.Set("fields", strings.Join(opts.Fields, ","))
	}

	var members ConversationMembers
	if err := c.Call(ctx, "messages.getConversationMembers", params, &members); err != nil {
		return nil, err
	}
	return &members, nil
}

// SendMessageEventAnswer answers a callback button press (a message_event).
// eventData, when non-nil, is JSON-encoded as the action to show, for example
// {"type": "show_snackbar", "text": "..."}.
func (c *Client) SendMessageEventAnswer(ctx context.Context, eventID string, userID, peerID int64, eventData any) error {
	if eventID == "" {
		return fmt.Errorf("messages.sendMessageEventAnswer: event_id is required")
	}
	params := url.Values{
		"event_id": {eventID},
		"user_id":  {strconv.FormatInt(userID, 10)},
		"peer_id":  {strconv.FormatInt(peerID, 10)},
	}
	if eventData != nil {
		data, err := json.Marshal(eventData)
		if err != nil {
			return fmt.Errorf("messages.sendMessageEventAnswer: encode event_data: %w", err)
		}
		params.Set("event_data", string(data))
	}

	var ok int
	if err := c.Call(ctx, "messages.sendMessageEventAnswer", params, &ok); err != nil {
		return err
	}
	if ok != 1 {
		return fmt.Errorf("messages.sendMessageEventAnswer: unexpected result %d", ok)
	}
	return nil
}
