package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var ErrClientClosed = errors.New("channel: client closed")

// URL returns the WebSocket endpoint of the channel on a server whose base
// URL is base (http, https, ws or wss).
func URL(base string) string {
	base = strings.TrimRight(base, "/")
	switch {
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case !strings.Contains(base, "://"):
		base = "ws://" + base
	}
	return base + "/channels/" + Name
}

// Client invokes channel methods over one connection. It is safe for
// concurrent use; replies are matched to calls by id.
type Client struct {
	ws *websocket.Conn

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan Reply
	err     error
	done    chan struct{}
}

func Dial(ctx context.Context, url string) (*Client, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := &Client{
		ws:      ws,
		pending: make(map[string]chan Reply),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) Close() error {
	err := c.ws.Close()
	<-c.done
	return err
}

// Invoke sends one call and waits for its reply. Failures are *CallError;
// unknown methods are ErrNotImplemented.
func (c *Client) Invoke(ctx context.Context, method string, args map[string]any) (json.RawMessage, error) {
	id := uuid.NewString()
	replies := make(chan Reply, 1)

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	c.pending[id] = replies
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.write(ctx, Call{ID: id, Channel: Name, Method: method, Args: args}); err != nil {
		return nil, err
	}

	select {
	case reply := <-replies:
		switch {
		case reply.Error != nil:
			return nil, &CallError{Method: method, Code: reply.Error.Code, Message: reply.Error.Message, Details: reply.Error.Details}
		case reply.NotImplemented:
			return nil, fmt.Errorf("%s: %w", method, ErrNotImplemented)
		default:
			return reply.Result, nil
		}
	case <-c.done:
		return nil, c.closedErr()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) InitWhisper(ctx context.Context, modelPath string) (bool, error) {
	raw, err := c.Invoke(ctx, MethodInitWhisper, map[string]any{"modelPath": modelPath})
	if err != nil {
		return false, err
	}
	var loaded bool
	if err := json.Unmarshal(raw, &loaded); err != nil {
		return false, fmt.Errorf("decode %s result: %w", MethodInitWhisper, err)
	}
	return loaded, nil
}

// Transcribe leaves the language to the server default when it is empty.
func (c *Client) Transcribe(ctx context.Context, audioPath, language string) (string, error) {
	args := map[string]any{"audioPath": audioPath}
	if language != "" {
		args["language"] = language
	}
	raw, err := c.Invoke(ctx, MethodTranscribe, args)
	if err != nil {
		return "", err
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return "", fmt.Errorf("decode %s result: %w", MethodTranscribe, err)
	}
	return text, nil
}

func (c *Client) FreeWhisper(ctx context.Context) error {
	_, err := c.Invoke(ctx, MethodFreeWhisper, nil)
	return err
}

func (c *Client) write(ctx context.Context, call Call) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.ws.SetWriteDeadline(deadline)
	if err := c.ws.WriteJSON(call); err != nil {
		return fmt.Errorf("send %s: %w", call.Method, err)
	}
	return nil
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		var reply Reply
		if err := c.ws.ReadJSON(&reply); err != nil {
			c.mu.Lock()
			c.err = fmt.Errorf("%w: %v", ErrClientClosed, err)
			c.mu.Unlock()
			return
		}

		c.mu.Lock()
		replies, ok := c.pending[reply.ID]
		c.mu.Unlock()
		if ok {
			select {
			case replies <- reply:
			default:
			}
		}
	}
}

func (c *Client) closedErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	return ErrClientClosed
}
