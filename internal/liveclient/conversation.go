package liveclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"fund-connect/internal/model"
	"fund-connect/internal/thread"
)

type ConversationOptions struct {
	Options
	// UserID is the signed-in user the token belongs to.
	UserID     string
	HTTPClient *http.Client
	// OnChange, when set, is called after every change to the message list.
	OnChange func([]thread.Entry)
}

// APIError is a non-2xx response from the API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("liveclient: %d %s", e.Status, e.Message)
}

// SendError reports a failed send. Content is the text of the dropped
// pending message, for restoring the input.
type SendError struct {
	Content string
	Err     error
}

func (e *SendError) Error() string { return "liveclient: send: " + e.Err.Error() }
func (e *SendError) Unwrap() error { return e.Err }

// Conversation is one user's open view of a conversation. It keeps the
// message list in sync with the live channel and marks the conversation read
// when it opens and whenever the other participant's message arrives.
type Conversation struct {
	opts   ConversationOptions
	client *http.Client
	thread *thread.Thread

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	stop func()
}

// Open subscribes to the live channel, loads the history and marks the
// conversation read. Subscribing first means nothing inserted while the
// history loads is missed.
func Open(ctx context.Context, opts ConversationOptions) (*Conversation, error) {
	if opts.UserID == "" {
		return nil, errors.New("liveclient: user id is required")
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}

	sctx, cancel := context.WithCancel(context.Background())
	c := &Conversation{
		opts:   opts,
		client: client,
		thread: thread.New(opts.ConversationID, opts.UserID),
		ctx:    sctx,
		cancel: cancel,
	}

	stop, err := Subscribe(sctx, opts.Options, c.onInsert)
	if err != nil {
		cancel()
		return nil, err
	}
	c.mu.Lock()
	c.stop = stop
	c.mu.Unlock()

	history, err := c.fetchMessages(ctx)
	if err != nil {
		c.Close()
		return nil, err
	}
	for _, m := range history {
		c.thread.Apply(m)
	}
	c.changed()

	if err := c.MarkRead(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Conversation) onInsert(msg model.Message) {
	// An own echo reports nothing added but still settles a pending entry.
	_, needsRead := c.thread.Apply(msg)
	c.changed()
	if needsRead {
		if err := c.MarkRead(c.ctx); err != nil && c.opts.OnError != nil && c.ctx.Err() == nil {
			c.opts.OnError(err)
		}
	}
}

// Send shows content immediately as a pending message, posts it and swaps
// in the stored message. On failure the pending message is dropped and a
// *SendError carrying the content is returned.
func (c *Conversation) Send(ctx context.Context, content string) (model.Message, error) {
	tempID := c.thread.SendOptimistic(content)
	c.changed()

	var resp struct {
		Message model.Message `json:"message"`
	}
	err := c.call(ctx, http.MethodPost, "/messages", map[string]string{"content": content}, &resp)
	if err != nil {
		restored, _ := c.thread.Fail(tempID)
		c.changed()
		return model.Message{}, &SendError{Content: restored, Err: err}
	}
	c.thread.Confirm(tempID, resp.Message)
	c.changed()
	return resp.Message, nil
}

// MarkRead records that the user has seen the conversation.
func (c *Conversation) MarkRead(ctx context.Context) error {
	return c.call(ctx, http.MethodPost, "/read", nil, nil)
}

// Messages returns the current list in display order.
func (c *Conversation) Messages() []thread.Entry {
	return c.thread.Messages()
}

// Close ends the live subscription. It is safe to call more than once.
func (c *Conversation) Close() {
	c.cancel()
	c.mu.Lock()
	stop := c.stop
	c.stop = nil
	c.mu.Unlock()
	if stop != nil {
		stop()
	}
}

func (c *Conversation) changed() {
	if c.opts.OnChange != nil {
		c.opts.OnChange(c.thread.Messages())
	}
}

func (c *Conversation) fetchMessages(ctx context.Context) ([]model.Message, error) {
	var resp struct {
		Messages []model.Message `json:"messages"`
	}
	if err := c.call(ctx, http.MethodGet, "/messages", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func (c *Conversation) call(ctx context.Context, method, suffix string, body, out any) error {
	endpoint := strings.TrimRight(c.opts.BaseURL, "/") + "/v1/conversations/" + url.PathEscape(c.opts.ConversationID) + suffix

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("liveclient: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.opts.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("liveclient: %s %s: %w", method, suffix, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("liveclient: decode %s: %w", suffix, err)
	}
	return nil
}
