package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Raywonder/voicelink-control/internal/models"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// DefaultResponseTimeout caps the wait for a correlated relay response.
const DefaultResponseTimeout = 10 * time.Second

// WSConn wraps a websocket connection for mocking.
type WSConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v interface{}) error
	Close() error
}

// Dialer establishes websocket connections for mocking.
type Dialer interface {
	Dial(ctx context.Context, url string) (WSConn, error)
}

// DefaultDialer dials with gorilla/websocket.
type DefaultDialer struct{}

// Dial opens a websocket connection to the relay.
func (d *DefaultDialer) Dial(ctx context.Context, url string) (WSConn, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Relay is a persistent tunneled channel to one peer through a relay
// service. Commands carry a fresh correlation id; a single reader pump
// demultiplexes inbound frames by matching it. At most one pending waiter
// exists per in-flight command, and a waiter whose response never arrives is
// removed when its timeout elapses.
type Relay struct {
	dialer          Dialer
	logger          zerolog.Logger
	relayURL        string
	channelID       string
	responseTimeout time.Duration

	mu      sync.Mutex
	conn    WSConn
	pending map[string]chan models.CommandResult
}

// NewRelay creates a relay channel to the peer identified by channelID.
func NewRelay(logger zerolog.Logger, relayURL, channelID string) *Relay {
	return &Relay{
		dialer:          &DefaultDialer{},
		logger:          logger,
		relayURL:        relayURL,
		channelID:       channelID,
		responseTimeout: DefaultResponseTimeout,
		pending:         make(map[string]chan models.CommandResult),
	}
}

// NewRelayWithDialer creates a relay channel with a custom dialer and
// response timeout (for testing).
func NewRelayWithDialer(logger zerolog.Logger, dialer Dialer, relayURL, channelID string, responseTimeout time.Duration) *Relay {
	return &Relay{
		dialer:          dialer,
		logger:          logger,
		relayURL:        relayURL,
		channelID:       channelID,
		responseTimeout: responseTimeout,
		pending:         make(map[string]chan models.CommandResult),
	}
}

// Send wraps the command in a correlated frame, writes it over the (lazily
// established, reused) channel and waits for the matching response.
func (r *Relay) Send(ctx context.Context, req models.CommandRequest) (*models.CommandResult, error) {
	if err := r.ensure(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrChannelUnavailable, err)
	}

	commandID := uuid.NewString()
	waiter := make(chan models.CommandResult, 1)

	frame := models.RelayFrame{
		Type:             "remote_command",
		Command:          req.Command,
		SourceDeviceID:   req.SourceDeviceID,
		SourceDeviceName: req.SourceDeviceName,
		Timestamp:        req.Timestamp,
		CommandID:        commandID,
		Params:           req.Params,
	}

	// The reader pump clears conn on a read error at any point after ensure
	// returns, so the waiter registration and the write share one critical
	// section with the conn check.
	r.mu.Lock()
	conn := r.conn
	if conn == nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: channel closed", models.ErrChannelUnavailable)
	}
	r.pending[commandID] = waiter
	err := conn.WriteJSON(frame)
	r.mu.Unlock()
	if err != nil {
		r.deregister(commandID)
		r.teardown()
		return nil, fmt.Errorf("%w: write failed: %v", models.ErrChannelUnavailable, err)
	}

	r.logger.Debug().
		Str("command", string(req.Command)).
		Str("command_id", commandID).
		Msg("sent command over relay")

	select {
	case result := <-waiter:
		return &result, nil
	case <-time.After(r.responseTimeout):
		r.deregister(commandID)
		return nil, fmt.Errorf("relay response timeout for command %s", req.Command)
	case <-ctx.Done():
		r.deregister(commandID)
		return nil, ctx.Err()
	}
}

// Close tears down the relay channel if open.
func (r *Relay) Close() {
	r.teardown()
}

// ensure dials the relay if no channel is currently open and starts the
// shared reader pump.
func (r *Relay) ensure(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn != nil {
		return nil
	}

	url := fmt.Sprintf("%s/openlink/%s/control", r.relayURL, r.channelID)
	conn, err := r.dialer.Dial(ctx, url)
	if err != nil {
		return err
	}

	r.conn = conn
	go r.readLoop(conn)

	r.logger.Info().Str("channel", r.channelID).Msg("relay channel established")
	return nil
}

// readLoop is the single long-lived subscription on an open channel. It
// resolves matching waiters and drops unmatched or late frames silently.
func (r *Relay) readLoop(conn WSConn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			r.mu.Lock()
			if r.conn == conn {
				r.conn = nil
			}
			r.mu.Unlock()
			r.logger.Debug().Err(err).Msg("relay channel closed")
			return
		}

		var frame models.RelayFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		if frame.CommandID == "" || frame.Success == nil {
			continue
		}

		r.mu.Lock()
		waiter, ok := r.pending[frame.CommandID]
		if ok {
			delete(r.pending, frame.CommandID)
		}
		r.mu.Unlock()

		if !ok {
			continue // late or unmatched response
		}
		waiter <- models.CommandResult{Success: *frame.Success, Result: frame.Result}
	}
}

func (r *Relay) deregister(commandID string) {
	r.mu.Lock()
	delete(r.pending, commandID)
	r.mu.Unlock()
}

func (r *Relay) teardown() {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}
