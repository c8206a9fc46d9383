// Package liveclient subscribes to a conversation's live websocket and
// reports inserted messages.
package liveclient

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"fund-connect/internal/hub"
	"fund-connect/internal/model"
)

type Options struct {
	// BaseURL is the http(s) root of the API, e.g. https://api.example.com.
	BaseURL        string
	Token          string
	ConversationID string
	Dialer         *websocket.Dialer
	// OnError, when set, receives the error that ended the subscription.
	OnError func(error)
}

const writeWait = 10 * time.Second

// Subscribe opens the live channel of opts.ConversationID and calls onInsert
// for every pushed message, from a single goroutine. The returned function
// closes the channel and waits for that goroutine to exit. There is no
// automatic reconnect.
func Subscribe(ctx context.Context, opts Options, onInsert func(model.Message)) (func(), error) {
	if opts.ConversationID == "" {
		return nil, errors.New("liveclient: conversation id is required")
	}
	endpoint, err := liveURL(opts.BaseURL, opts.ConversationID, opts.Token)
	if err != nil {
		return nil, err
	}

	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("liveclient: dial: %w", err)
	}

	done := make(chan struct{})
	var closeOnce sync.Once
	closeConn := func() {
		closeOnce.Do(func() {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			_ = conn.Close()
		})
	}

	go func() {
		defer close(done)
		for {
			var frame hub.Frame
			if err := conn.ReadJSON(&frame); err != nil {
				if opts.OnError != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure) && ctx.Err() == nil {
					opts.OnError(err)
				}
				return
			}
			if frame.Type == hub.FrameInsert && frame.Message != nil {
				onInsert(*frame.Message)
			}
		}
	}()

	go func() {
		select {
		case <-ctx.Done():
			closeConn()
		case <-done:
		}
	}()

	return func() {
		closeConn()
		<-done
	}, nil
}

func liveURL(base, conversationID, token string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", fmt.Errorf("liveclient: base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("liveclient: unsupported scheme %q", u.Scheme)
	}
	u.Path += "/v1/conversations/" + conversationID + "/live"
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
