package ipc

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/matbeedotcom/remotemedia-sdk-sub004/pkg/errdefs"
)

// OutputCallback receives worker output payloads in production order.
type OutputCallback func(payload []byte)

// StatusCallback receives worker status reports in production order.
type StatusCallback func(update StatusUpdate)

type bridgeConfig struct {
	capacity     int
	backpressure bool
	inlineMax    int
	logger       *slog.Logger
}

// Bridge is the data-plane channel for one (session, node) pair. The worker
// dials the bridge's Unix socket; a single send pump and a single output
// drain preserve FIFO order in each direction.
type Bridge struct {
	sessionID  string
	nodeID     string
	socketPath string
	listener   net.Listener

	backpressure bool
	inlineMax    int
	logger       *slog.Logger
	spill        *SpillStore

	sendCh chan Frame
	done   chan struct{}
	wg     sync.WaitGroup

	mu       sync.Mutex
	conn     net.Conn
	outputCb OutputCallback
	statusCb StatusCallback
	closed   bool
}

func newBridge(sessionID, nodeID, socketPath string, cfg bridgeConfig) (*Bridge, error) {
	if err := os.MkdirAll(filepath.Dir(socketPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating channel dir: %w", err)
	}
	// Clear a stale socket from a previous unclean shutdown.
	os.Remove(socketPath)

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", socketPath, err)
	}

	spill, err := NewSpillStore(strings.TrimSuffix(socketPath, ".sock") + ".artifacts")
	if err != nil {
		listener.Close()
		return nil, err
	}

	b := &Bridge{
		sessionID:    sessionID,
		nodeID:       nodeID,
		socketPath:   socketPath,
		listener:     listener,
		backpressure: cfg.backpressure,
		inlineMax:    cfg.inlineMax,
		logger: cfg.logger.With(
			"component", "ipc-bridge",
			"session_id", sessionID,
			"node_id", nodeID),
		spill:  spill,
		sendCh: make(chan Frame, cfg.capacity),
		done:   make(chan struct{}),
	}

	b.wg.Add(1)
	go b.acceptLoop()

	return b, nil
}

// SocketPath returns the Unix socket the worker must dial.
func (b *Bridge) SocketPath() string { return b.socketPath }

// ArtifactDir returns the directory spilled payloads are exchanged through.
func (b *Bridge) ArtifactDir() string { return b.spill.Dir() }

// Connected reports whether the worker has dialed in.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil
}

// RegisterOutputCallback sets the sink for worker output payloads. Outputs
// arriving before registration are dropped with a log line.
func (b *Bridge) RegisterOutputCallback(cb OutputCallback) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.outputCb = cb
}

// RegisterStatusCallback sets the sink for worker status reports.
func (b *Bridge) RegisterStatusCallback(cb StatusCallback) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.statusCb = cb
}

// Send enqueues a payload for delivery to the worker and returns without
// waiting for any response. Payloads above the inline limit are spilled to
// the artifact dir and sent by reference. With backpressure enabled a full
// queue blocks the caller; otherwise the send fails fast.
func (b *Bridge) Send(payload []byte) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return fmt.Errorf("channel %s/%s: %w", b.sessionID, b.nodeID, errdefs.ErrChannelNotFound)
	}

	f := Frame{Kind: FrameData, Payload: payload}
	if len(payload) > b.inlineMax {
		name, err := b.spill.Put(payload)
		if err != nil {
			return err
		}
		f = Frame{Kind: FrameArtifact, Payload: []byte(name)}
	}

	if b.backpressure {
		select {
		case b.sendCh <- f:
			return nil
		case <-b.done:
			return fmt.Errorf("channel %s/%s: %w", b.sessionID, b.nodeID, errdefs.ErrChannelNotFound)
		}
	}

	select {
	case b.sendCh <- f:
		return nil
	case <-b.done:
		return fmt.Errorf("channel %s/%s: %w", b.sessionID, b.nodeID, errdefs.ErrChannelNotFound)
	default:
		return errdefs.ChannelFull(b.sessionID, b.nodeID, cap(b.sendCh))
	}
}

// SendStatus enqueues a status frame toward the worker. Used for runtime-
// initiated control notices such as an impending stop.
func (b *Bridge) SendStatus(u StatusUpdate) error {
	payload, err := EncodeStatus(u)
	if err != nil {
		return err
	}

	select {
	case b.sendCh <- Frame{Kind: FrameStatus, Payload: payload}:
		return nil
	case <-b.done:
		return fmt.Errorf("channel %s/%s: %w", b.sessionID, b.nodeID, errdefs.ErrChannelNotFound)
	default:
		return errdefs.ChannelFull(b.sessionID, b.nodeID, cap(b.sendCh))
	}
}

// acceptLoop takes the single worker connection and starts the two pump
// tasks over it.
func (b *Bridge) acceptLoop() {
	defer b.wg.Done()

	conn, err := b.listener.Accept()
	if err != nil {
		select {
		case <-b.done:
		default:
			b.logger.Error("accept failed", "error", err)
		}
		return
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		conn.Close()
		return
	}
	b.conn = conn
	b.mu.Unlock()

	b.logger.Debug("worker connected")

	b.wg.Add(2)
	go b.sendPump(conn)
	go b.drainOutputs(conn)
}

// sendPump is the only writer on the socket, preserving send order.
func (b *Bridge) sendPump(conn net.Conn) {
	defer b.wg.Done()

	for {
		select {
		case <-b.done:
			return
		case f := <-b.sendCh:
			if err := WriteFrame(conn, f); err != nil {
				select {
				case <-b.done:
				default:
					b.logger.Error("write to worker failed", "error", err)
				}
				return
			}
		}
	}
}

// drainOutputs is the only reader on the socket, delivering worker frames
// to the registered callbacks in production order.
func (b *Bridge) drainOutputs(conn net.Conn) {
	defer b.wg.Done()

	for {
		f, err := ReadFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				select {
				case <-b.done:
				default:
					b.logger.Warn("read from worker failed", "error", err)
				}
			}
			return
		}

		switch f.Kind {
		case FrameData:
			b.deliverOutput(f.Payload)
		case FrameArtifact:
			payload, err := b.spill.Take(string(f.Payload))
			if err != nil {
				b.logger.Error("failed to collect output artifact", "error", err)
				continue
			}
			b.deliverOutput(payload)
		case FrameStatus:
			update, err := DecodeStatus(f.Payload)
			if err != nil {
				b.logger.Warn("malformed status frame", "error", err)
				continue
			}
			b.deliverStatus(update)
		default:
			b.logger.Warn("unknown frame kind", "kind", int(f.Kind))
		}
	}
}

func (b *Bridge) deliverOutput(payload []byte) {
	b.mu.Lock()
	cb := b.outputCb
	b.mu.Unlock()

	if cb == nil {
		b.logger.Debug("dropping output, no callback registered", "bytes", len(payload))
		return
	}
	cb(payload)
}

func (b *Bridge) deliverStatus(update StatusUpdate) {
	b.mu.Lock()
	cb := b.statusCb
	b.mu.Unlock()

	if cb == nil {
		b.logger.Debug("dropping status, no callback registered", "status", update.Status)
		return
	}
	cb(update)
}

// Shutdown stops the pump tasks, closes the socket, and removes the socket
// file and artifact directory. Safe to call more than once.
func (b *Bridge) Shutdown() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	conn := b.conn
	b.mu.Unlock()

	close(b.done)
	b.listener.Close()
	if conn != nil {
		conn.Close()
	}
	b.wg.Wait()

	os.Remove(b.socketPath)
	if err := b.spill.Cleanup(); err != nil {
		b.logger.Warn("artifact cleanup failed", "error", err)
	}

	b.logger.Debug("channel shut down")
	return nil
}
