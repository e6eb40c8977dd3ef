package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/polisai/polis-rpc/pkg/domain"
)

// DefaultWriteTimeout bounds each send to a peer.
const DefaultWriteTimeout = time.Second

// Config holds relay listener settings.
type Config struct {
	Addr         string
	WriteTimeout time.Duration
}

// Option configures a Relay.
type Option func(*Relay)

// WithLogger sets the relay logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		r.logger = logger
	}
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(r *Relay) {
		r.metrics = m
	}
}

// Relay forwards every frame it receives to all other known peers. A peer
// is known once it has sent a frame and is forgotten when it sends a
// malformed frame or a send to it fails. Frames are handled one at a time
// in arrival order.
type Relay struct {
	cfg     Config
	logger  *slog.Logger
	metrics *Metrics

	mu    sync.Mutex
	conn  net.PacketConn
	peers []net.Addr

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New constructs a Relay. A zero write timeout falls back to DefaultWriteTimeout.
func New(cfg Config, opts ...Option) *Relay {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	r := &Relay{
		cfg:    cfg,
		logger: slog.Default(),
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Listen binds the UDP address.
func (r *Relay) Listen() error {
	if strings.TrimSpace(r.cfg.Addr) == "" {
		return fmt.Errorf("%w: chat addr is required", domain.ErrConfigInvalid)
	}
	conn, err := net.ListenPacket("udp", r.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", r.cfg.Addr, err)
	}
	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()

	r.logger.Info("Chat relay listening", "addr", conn.LocalAddr().String())
	return nil
}

// Addr returns the bound address, or an empty string before Listen.
func (r *Relay) Addr() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return ""
	}
	return r.conn.LocalAddr().String()
}

// Peers returns the known peer addresses in the order they joined.
func (r *Relay) Peers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.peers))
	for i, p := range r.peers {
		out[i] = p.String()
	}
	return out
}

// Start listens if needed and relays until ctx is cancelled or the socket
// fails. Cancellation returns nil.
func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		if err := r.Listen(); err != nil {
			return err
		}
		r.mu.Lock()
		conn = r.conn
		r.mu.Unlock()
	}
	return r.Serve(ctx, conn)
}

// Serve relays frames arriving on conn. The relay takes ownership of conn
// and closes it on return.
func (r *Relay) Serve(ctx context.Context, conn net.PacketConn) error {
	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			_ = r.Stop()
		case <-r.stopCh:
		}
	}()

	buf := make([]byte, FrameSize)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-r.stopCh:
				return nil
			default:
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return errors.Join(fmt.Errorf("read datagram: %w", err), r.Stop())
		}
		r.handle(conn, buf[:n], addr)
	}
}

// Stop closes the socket and forgets every peer. It is safe to call more than once.
func (r *Relay) Stop() error {
	var err error
	r.stopOnce.Do(func() {
		close(r.stopCh)

		r.mu.Lock()
		conn := r.conn
		r.peers = nil
		r.mu.Unlock()
		r.metrics.peers(0)

		if conn != nil {
			r.logger.Info("Stopping chat relay", "addr", conn.LocalAddr().String())
			if closeErr := conn.Close(); closeErr != nil && !errors.Is(closeErr, net.ErrClosed) {
				err = closeErr
			}
		}
	})
	return err
}

func (r *Relay) handle(conn net.PacketConn, data []byte, from net.Addr) {
	r.metrics.received()
	r.join(from)

	msg, err := Decode(data)
	if err != nil {
		r.logger.Warn("Dropping malformed frame", "peer", from.String(), "error", err)
		r.evict(from, ReasonMalformed)
		r.metrics.dropped(ReasonMalformed)
		return
	}
	r.logger.Debug("Frame received", "peer", from.String(), "username", msg.Username, "bytes", len(msg.Text))

	for _, peer := range r.others(from) {
		if err := conn.SetWriteDeadline(time.Now().Add(r.cfg.WriteTimeout)); err != nil {
			r.logger.Debug("Failed to set write deadline", "error", err)
		}
		if _, err := conn.WriteTo(data, peer); err != nil {
			r.logger.Warn("Send failed, dropping peer", "peer", peer.String(), "error", err)
			r.evict(peer, ReasonSendFailed)
			continue
		}
		r.metrics.relayed()
	}
}

func (r *Relay) join(addr net.Addr) {
	r.mu.Lock()
	for _, p := range r.peers {
		if sameAddr(p, addr) {
			r.mu.Unlock()
			return
		}
	}
	r.peers = append(r.peers, addr)
	n := len(r.peers)
	r.mu.Unlock()

	r.metrics.peers(n)
	r.logger.Info("Peer joined", "peer", addr.String(), "peers", n)
}

func (r *Relay) evict(addr net.Addr, reason string) {
	r.mu.Lock()
	removed := false
	for i, p := range r.peers {
		if sameAddr(p, addr) {
			r.peers = append(r.peers[:i], r.peers[i+1:]...)
			removed = true
			break
		}
	}
	n := len(r.peers)
	r.mu.Unlock()

	if removed {
		r.metrics.peers(n)
		r.metrics.evicted(reason)
		r.logger.Info("Peer dropped", "peer", addr.String(), "reason", reason, "peers", n)
	}
}

// others snapshots the peers other than from.
func (r *Relay) others(from net.Addr) []net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]net.Addr, 0, len(r.peers))
	for _, p := range r.peers {
		if !sameAddr(p, from) {
			out = append(out, p)
		}
	}
	return out
}

func sameAddr(a, b net.Addr) bool {
	return a.Network() == b.Network() && a.String() == b.String()
}
