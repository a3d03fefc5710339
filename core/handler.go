package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/google/uuid"
)

// Client performs VK API method calls. vk_api.Client satisfies it.
type Client interface {
	Call(ctx context.Context, method string, params url.Values, out any) error
}

// Context is what a handler receives for one event.
type Context struct {
	Event  Event
	API    Client
	State  any
	Logger *slog.Logger
	// UnitID identifies the dispatch unit in logs.
	UnitID string
}

// Handler processes a routed event.
type Handler interface {
	Handle(ctx context.Context, c *Context) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, c *Context) error

func (f HandlerFunc) Handle(ctx context.Context, c *Context) error { return f(ctx, c) }

// StateAs returns the application state as T.
func StateAs[T any](c *Context) (T, bool) {
	v, ok := c.State.(T)
	return v, ok
}

// Reply sends text back to the peer the event came from.
func (c *Context) Reply(ctx context.Context, text string) error {
	if c.API == nil {
		return errors.New("reply: no API client")
	}
	msg, err := c.Event.Message()
	if err != nil {
		return fmt.Errorf("reply: %w", err)
	}
	params := url.Values{
		"peer_id":   {strconv.FormatInt(msg.PeerID, 10)},
		"message":   {text},
		"random_id": {strconv.FormatInt(RandomID(), 10)},
	}
	if err := c.API.Call(ctx, "messages.send", params, nil); err != nil {
		return fmt.Errorf("reply to peer %d: %w", msg.PeerID, err)
	}
	return nil
}

// RandomID returns a positive int32 suitable for messages.send random_id,
// which VK uses to drop duplicate sends.
func RandomID() int64 {
	return int64(uuid.New().ID() & 0x7fffffff)
}
