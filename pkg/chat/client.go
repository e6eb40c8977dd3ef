package chat

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"
)

// Client is one chat participant. It sends frames under a fixed username
// and receives the frames the relay forwards to it.
type Client struct {
	conn     net.Conn
	username string
}

// Dial connects a UDP socket to the relay at addr. No datagram is sent, so
// the relay learns of the client with its first Send.
func Dial(addr, username string) (*Client, error) {
	if _, err := Encode(Message{Username: username}); err != nil {
		return nil, err
	}
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &Client{conn: conn, username: username}, nil
}

// LocalAddr returns the client's own address as the relay sees it.
func (c *Client) LocalAddr() string {
	return c.conn.LocalAddr().String()
}

// Send writes one frame carrying text.
func (c *Client) Send(text string) error {
	frame, err := Encode(Message{Username: c.username, Text: text})
	if err != nil {
		return err
	}
	if _, err := c.conn.Write(frame); err != nil {
		return fmt.Errorf("send frame: %w", err)
	}
	return nil
}

// Receive waits for the next frame until ctx is done. Closing the client
// also unblocks it.
func (c *Client) Receive(ctx context.Context) (Message, error) {
	deadline, hasDeadline := ctx.Deadline()
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return Message{}, err
	}

	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	buf := make([]byte, FrameSize)
	n, err := c.conn.Read(buf)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Message{}, ctxErr
		}
		// The socket deadline can fire just ahead of the context timer.
		if hasDeadline && errors.Is(err, os.ErrDeadlineExceeded) {
			return Message{}, context.DeadlineExceeded
		}
		return Message{}, fmt.Errorf("receive frame: %w", err)
	}
	return Decode(buf[:n])
}

// Close releases the socket.
func (c *Client) Close() error {
	return c.conn.Close()
}
