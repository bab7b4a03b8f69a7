package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/Raywonder/voicelink-control/internal/api"
	"github.com/Raywonder/voicelink-control/internal/config"
	"github.com/Raywonder/voicelink-control/internal/models"
	"github.com/Raywonder/voicelink-control/internal/services/devices"
	"github.com/Raywonder/voicelink-control/internal/services/executor"
	"github.com/Raywonder/voicelink-control/internal/services/exit"
	"github.com/Raywonder/voicelink-control/internal/services/federation"
	"github.com/Raywonder/voicelink-control/internal/services/reboot"
	"github.com/Raywonder/voicelink-control/internal/services/rooms"
	"github.com/Raywonder/voicelink-control/internal/services/transport"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control-plane listener",
	Long: `Run the node's control plane:
1. Serve the peer HTTP API (commands, transfers, discovery probes)
2. Keep a relay control channel open for tunneled commands (if enabled)
3. Apply incoming remote commands via the command executor`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log.Info().
		Str("node", cfg.Node.ID).
		Str("listen", cfg.Node.ListenAddr).
		Str("mode", cfg.Connection.Mode.String()).
		Msg("configuration loaded")

	// Set up context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("received signal, shutting down")
		cancel()
	}()

	roomsSvc := rooms.New(log.Logger, cfg.Node.RoomAPI, cfg.Node.AccessToken)
	devicesSvc := devices.New(log.Logger, cfg.Devices)
	federationSvc := federation.New(log.Logger, cfg.Federation.DiscoveryURL)
	rebootSvc := reboot.New(log.Logger)

	var server *api.Server

	exitSvc := exit.New(log.Logger, *cfg, exit.Options{
		Rooms:      roomsSvc,
		Devices:    devicesSvc,
		Federation: federationSvc,
		Reboot:     rebootSvc,
		StopServer: func() {
			if server != nil {
				_ = server.Shutdown(context.Background())
			}
		},
	})

	execSvc := executor.New(log.Logger, *cfg, executor.Options{
		Exit:  exitSvc,
		Rooms: roomsSvc,
	})

	server = api.New(log.Logger, *cfg, execSvc, roomsSvc, nil)

	if cfg.Relay.Enabled {
		listener := transport.NewRelayListener(log.Logger, cfg.Relay.URL, cfg.Node.ID,
			func(ctx context.Context, req models.CommandRequest) *models.CommandResult {
				return execSvc.Handle(ctx, req)
			})
		go listener.Run(ctx)
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Start()
	}()

	select {
	case <-ctx.Done():
		if err := server.Shutdown(context.Background()); err != nil {
			log.Error().Err(err).Msg("shutdown failed")
		}
		return nil
	case err := <-errChan:
		if err != nil {
			log.Error().Err(err).Msg("server failed")
		}
		return err
	}
}

// loadConfig loads and validates the configuration file.
func loadConfig() (*models.NodeConfig, error) {
	if configFile == "" {
		log.Error().Msg("config file is required")
		return nil, os.ErrNotExist
	}

	parser := config.NewParser()
	cfg, err := parser.LoadFile(configFile)
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to load config")
		return nil, err
	}

	if err := config.Validate(cfg); err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return nil, err
	}
	return cfg, nil
}

// probePort extracts the subnet-probe port from the listen address.
func probePort(cfg *models.NodeConfig) int {
	_, port, err := net.SplitHostPort(cfg.Node.ListenAddr)
	if err != nil {
		return 8470
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return 8470
	}
	return p
}
