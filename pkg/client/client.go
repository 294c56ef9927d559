package client

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cuemby/agenthub/pkg/protocol"
	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// Conn is a WebSocket link to the hub speaking the agenthub envelope
type Conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func dial(ctx context.Context, url string, header http.Header) (*Conn, error) {
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	return &Conn{ws: ws}, nil
}

// Send writes one message
func (c *Conn) Send(msgType string, payload any) error {
	data, err := protocol.Encode(msgType, payload)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send %s: %w", msgType, err)
	}
	return nil
}

// SendRaw writes a frame as is
func (c *Conn) SendRaw(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Next reads the next message. The context deadline, if any, bounds the
// read; a read that times out leaves the connection unusable.
func (c *Conn) Next(ctx context.Context) (*protocol.Message, error) {
	deadline, _ := ctx.Deadline()
	_ = c.ws.SetReadDeadline(deadline)

	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	return protocol.Decode(data)
}

// Close sends a normal close frame and closes the socket
func (c *Conn) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	c.writeMu.Unlock()
	return c.ws.Close()
}

// Consumer is a dashboard-side connection
type Consumer struct {
	*Conn
}

// DialConsumer connects to the consumer endpoint, e.g. ws://127.0.0.1:7420/ws
func DialConsumer(ctx context.Context, url, token string) (*Consumer, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	c, err := dial(ctx, url, header)
	if err != nil {
		return nil, err
	}
	return &Consumer{Conn: c}, nil
}

func (c *Consumer) Subscribe() error   { return c.Send(protocol.TypeSubscribe, nil) }
func (c *Consumer) Unsubscribe() error { return c.Send(protocol.TypeUnsubscribe, nil) }
func (c *Consumer) Ping() error        { return c.Send(protocol.TypePing, nil) }

func (c *Consumer) SubscribeSession(sessionID string) error {
	return c.Send(protocol.TypeSubscribeSession, protocol.SessionRef{SessionID: sessionID})
}

func (c *Consumer) UnsubscribeSession(sessionID string) error {
	return c.Send(protocol.TypeUnsubscribeSession, protocol.SessionRef{SessionID: sessionID})
}

// Request issues a remote-control request. The result arrives later as a
// message of type action.ResultType().
func (c *Consumer) Request(action protocol.Action, instanceID, requestID string, params []byte) error {
	return c.Send(string(action), protocol.ControlRequest{
		RequestID:  requestID,
		InstanceID: instanceID,
		Params:     params,
	})
}
