package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Raywonder/voicelink-control/internal/models"
	"github.com/rs/zerolog"
)

const (
	reconnectBaseDelay = 1 * time.Second
	reconnectMaxDelay  = 60 * time.Second
)

// CommandHandler applies one inbound command and returns its result.
type CommandHandler func(ctx context.Context, req models.CommandRequest) *models.CommandResult

// RelayListener keeps the node's own control channel open through the relay
// and answers inbound command frames. This is the receiving half of the
// tunneled transport: responses are written back with the request's
// correlation id.
type RelayListener struct {
	dialer    Dialer
	logger    zerolog.Logger
	relayURL  string
	channelID string
	handler   CommandHandler
}

// NewRelayListener creates a listener for the local node's channel.
func NewRelayListener(logger zerolog.Logger, relayURL, channelID string, handler CommandHandler) *RelayListener {
	return &RelayListener{
		dialer:    &DefaultDialer{},
		logger:    logger,
		relayURL:  relayURL,
		channelID: channelID,
		handler:   handler,
	}
}

// NewRelayListenerWithDialer creates a listener with a custom dialer (for testing).
func NewRelayListenerWithDialer(logger zerolog.Logger, dialer Dialer, relayURL, channelID string, handler CommandHandler) *RelayListener {
	return &RelayListener{
		dialer:    dialer,
		logger:    logger,
		relayURL:  relayURL,
		channelID: channelID,
		handler:   handler,
	}
}

// Run connects to the relay and serves command frames until the context is
// cancelled, reconnecting with exponential backoff when the channel drops.
func (l *RelayListener) Run(ctx context.Context) {
	delay := reconnectBaseDelay
	for {
		if err := l.serveOnce(ctx); err != nil {
			l.logger.Warn().Err(err).Dur("retry_in", delay).Msg("relay listener disconnected")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		delay *= 2
		if delay > reconnectMaxDelay {
			delay = reconnectMaxDelay
		}
	}
}

func (l *RelayListener) serveOnce(ctx context.Context) error {
	url := fmt.Sprintf("%s/openlink/%s/control", l.relayURL, l.channelID)
	conn, err := l.dialer.Dial(ctx, url)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	l.logger.Info().Str("channel", l.channelID).Msg("relay listener connected")

	var writeMu sync.Mutex
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		var frame models.RelayFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		if frame.Type != "remote_command" || frame.CommandID == "" {
			continue
		}

		req := models.CommandRequest{
			Command:          frame.Command,
			SourceDeviceID:   frame.SourceDeviceID,
			SourceDeviceName: frame.SourceDeviceName,
			Timestamp:        frame.Timestamp,
			ConnectionMethod: "tunnel",
			CommandID:        frame.CommandID,
			Params:           frame.Params,
		}

		go func() {
			result := l.handler(ctx, req)
			response := models.RelayFrame{
				CommandID: req.CommandID,
				Success:   &result.Success,
				Result:    result.Result,
			}

			writeMu.Lock()
			err := conn.WriteJSON(response)
			writeMu.Unlock()
			if err != nil {
				l.logger.Warn().Err(err).Str("command_id", req.CommandID).Msg("failed to write relay response")
			}
		}()
	}
}
