// Package config provides configuration file parsing.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Raywonder/voicelink-control/internal/models"
	"github.com/spf13/viper"
)

// Parser handles configuration file parsing.
type Parser struct {
	v *viper.Viper
}

// NewParser creates a new configuration parser.
func NewParser() *Parser {
	v := viper.New()
	v.SetConfigType("yaml")
	return &Parser{v: v}
}

// LoadFile loads configuration from a file path.
func (p *Parser) LoadFile(path string) (*models.NodeConfig, error) {
	p.v.SetConfigFile(path)

	if err := p.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return p.parse()
}

// LoadReader loads configuration from a string (useful for testing).
func (p *Parser) LoadReader(content string) (*models.NodeConfig, error) {
	if err := p.v.ReadConfig(strings.NewReader(content)); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	return p.parse()
}

//nolint:gocognit,gocyclo // parsing config requires checking many fields
func (p *Parser) parse() (*models.NodeConfig, error) {
	cfg := &models.NodeConfig{}

	// Parse node settings (required).
	cfg.Node = models.NodeSettings{
		ID:                   p.expandEnv(p.v.GetString("node.id")),
		Name:                 p.v.GetString("node.name"),
		ListenAddr:           p.v.GetString("node.listen_addr"),
		RoomAPI:              p.v.GetString("node.room_api"),
		AccessToken:          p.expandEnv(p.v.GetString("node.access_token")),
		RemoteControlEnabled: p.v.GetBool("node.remote_control"),
	}

	if cfg.Node.ID == "" {
		return nil, fmt.Errorf("node.id is required")
	}
	if cfg.Node.Name == "" {
		hostname, err := os.Hostname()
		if err != nil {
			cfg.Node.Name = cfg.Node.ID
		} else {
			cfg.Node.Name = hostname
		}
	}
	if cfg.Node.ListenAddr == "" {
		cfg.Node.ListenAddr = ":8470"
	}
	if cfg.Node.RoomAPI == "" {
		cfg.Node.RoomAPI = "http://127.0.0.1:8080"
	}

	// Parse linked devices.
	var rawDevices []struct {
		ID          string `mapstructure:"id"`
		Name        string `mapstructure:"name"`
		URL         string `mapstructure:"url"`
		MACAddress  string `mapstructure:"mac_address"`
		AccessToken string `mapstructure:"access_token"`
	}
	if err := p.v.UnmarshalKey("devices", &rawDevices); err != nil {
		return nil, fmt.Errorf("parsing devices: %w", err)
	}
	for _, d := range rawDevices {
		if d.ID == "" {
			return nil, fmt.Errorf("devices[].id is required")
		}
		if d.URL == "" {
			return nil, fmt.Errorf("devices[].url is required for device %s", d.ID)
		}
		cfg.Devices = append(cfg.Devices, models.Device{
			ID:          d.ID,
			Name:        d.Name,
			URL:         d.URL,
			MACAddress:  d.MACAddress,
			AccessToken: p.expandEnv(d.AccessToken),
			Linked:      true,
		})
	}

	// Parse federation settings.
	cfg.Federation = models.FederationConfig{
		DiscoveryURL: p.v.GetString("federation.discovery_url"),
	}

	// Parse relay settings.
	cfg.Relay = models.RelayConfig{
		URL:     p.v.GetString("relay.url"),
		Enabled: p.v.GetBool("relay.enabled"),
	}
	if cfg.Relay.Enabled && cfg.Relay.URL == "" {
		return nil, fmt.Errorf("relay.url is required when relay is enabled")
	}

	// Parse connection mode.
	mode, err := parseMode(p.v.GetString("connection.mode"))
	if err != nil {
		return nil, err
	}
	cfg.Connection = models.ConnectionConfig{Mode: mode}

	// Parse exit timings.
	cfg.Exit = models.ExitConfig{
		WaitingRoomTimeout: p.v.GetDuration("exit.waiting_room_timeout"),
		AutoMoveTimeout:    p.v.GetDuration("exit.auto_move_timeout"),
		ShutdownGrace:      p.v.GetDuration("exit.shutdown_grace"),
		ProcessExitDelay:   p.v.GetDuration("exit.process_exit_delay"),
		AmbienceEnabled:    p.v.GetBool("exit.ambience"),
	}

	// Set defaults.
	if cfg.Exit.WaitingRoomTimeout == 0 {
		cfg.Exit.WaitingRoomTimeout = 300 * time.Second
	}
	if cfg.Exit.AutoMoveTimeout == 0 {
		cfg.Exit.AutoMoveTimeout = 180 * time.Second
	}
	if cfg.Exit.ShutdownGrace == 0 {
		cfg.Exit.ShutdownGrace = 3 * time.Second
	}
	if cfg.Exit.ProcessExitDelay == 0 {
		cfg.Exit.ProcessExitDelay = 2 * time.Second
	}

	// Parse optional reboot fallback config.
	if p.v.IsSet("reboot") {
		cfg.Reboot = &models.RebootConfig{
			SSHHost: p.v.GetString("reboot.ssh_host"),
			SSHPort: p.v.GetInt("reboot.ssh_port"),
			SSHUser: p.v.GetString("reboot.ssh_user"),
			KeyPath: p.expandEnv(p.v.GetString("reboot.key_path")),
		}

		if cfg.Reboot.SSHHost == "" {
			return nil, fmt.Errorf("reboot.ssh_host is required when reboot is configured")
		}
		if cfg.Reboot.SSHPort == 0 {
			cfg.Reboot.SSHPort = 22
		}
		if cfg.Reboot.SSHUser == "" {
			cfg.Reboot.SSHUser = "root"
		}
		if cfg.Reboot.KeyPath == "" {
			return nil, fmt.Errorf("reboot.key_path is required when reboot is configured")
		}
	}

	return cfg, nil
}

func parseMode(s string) (models.ConnectionMode, error) {
	switch s {
	case "", "auto":
		return models.ModeAuto, nil
	case "tunnel":
		return models.ModeTunnelOnly, nil
	case "direct":
		return models.ModeDirectOnly, nil
	case "hybrid":
		return models.ModeHybrid, nil
	default:
		return models.ModeAuto, fmt.Errorf("connection.mode must be one of: auto, tunnel, direct, hybrid")
	}
}

// expandEnv expands environment variables in the format ${VAR} or $VAR.
func (p *Parser) expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate performs validation on the loaded configuration.
func Validate(cfg *models.NodeConfig) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	if cfg.Node.ID == "" {
		return fmt.Errorf("node.id is required")
	}

	if cfg.Node.ListenAddr == "" {
		return fmt.Errorf("node.listen_addr is required")
	}

	if cfg.Relay.Enabled && cfg.Relay.URL == "" {
		return fmt.Errorf("relay.url is required when relay is enabled")
	}

	return nil
}
