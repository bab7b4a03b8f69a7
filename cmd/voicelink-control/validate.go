package main

import (
	"fmt"
	"os"

	"github.com/Raywonder/voicelink-control/internal/config"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the configuration file without starting the node or sending any commands.`,
	RunE:  validateConfig,
}

func validateConfig(cmd *cobra.Command, args []string) error {
	if configFile == "" {
		log.Error().Msg("config file is required")
		return cmd.Help()
	}

	// Check if file exists
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		log.Error().Str("file", configFile).Msg("config file not found")
		return fmt.Errorf("config file not found: %s", configFile)
	}

	parser := config.NewParser()
	cfg, err := parser.LoadFile(configFile)
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to parse config")
		return err
	}

	if err := config.Validate(cfg); err != nil {
		log.Error().Err(err).Msg("configuration validation failed")
		return err
	}

	// Print configuration summary
	fmt.Println("Configuration is valid!")
	fmt.Println()
	fmt.Println("Summary:")
	fmt.Printf("  Node ID: %s\n", cfg.Node.ID)
	fmt.Printf("  Node name: %s\n", cfg.Node.Name)
	fmt.Printf("  Listen address: %s\n", cfg.Node.ListenAddr)
	fmt.Printf("  Room API: %s\n", cfg.Node.RoomAPI)
	fmt.Printf("  Remote control: %v\n", cfg.Node.RemoteControlEnabled)
	fmt.Printf("  Connection mode: %s\n", cfg.Connection.Mode)
	fmt.Println()
	fmt.Println("Exit Timings:")
	fmt.Printf("  Waiting room timeout: %s\n", cfg.Exit.WaitingRoomTimeout)
	fmt.Printf("  Auto-move interval: %s\n", cfg.Exit.AutoMoveTimeout)
	fmt.Printf("  Shutdown grace: %s\n", cfg.Exit.ShutdownGrace)
	fmt.Printf("  Ambience: %v\n", cfg.Exit.AmbienceEnabled)
	fmt.Println()
	fmt.Println("Optional Features:")
	fmt.Printf("  Linked devices: %d\n", len(cfg.Devices))
	fmt.Printf("  Federation: %v\n", cfg.Federation.DiscoveryURL != "")
	fmt.Printf("  Relay: %v\n", cfg.Relay.Enabled)
	fmt.Printf("  Reboot SSH fallback: %v\n", cfg.Reboot != nil)

	if len(cfg.Devices) > 0 {
		fmt.Println()
		fmt.Println("Linked Devices:")
		for _, d := range cfg.Devices {
			wol := ""
			if d.MACAddress != "" {
				wol = " (wake-on-lan)"
			}
			fmt.Printf("  %s: %s%s\n", d.ID, d.URL, wol)
		}
	}

	if cfg.Relay.Enabled {
		fmt.Println()
		fmt.Println("Relay Configuration:")
		fmt.Printf("  URL: %s\n", cfg.Relay.URL)
	}

	if cfg.Reboot != nil {
		fmt.Println()
		fmt.Println("Reboot Fallback:")
		fmt.Printf("  Host: %s:%d\n", cfg.Reboot.SSHHost, cfg.Reboot.SSHPort)
		fmt.Printf("  User: %s\n", cfg.Reboot.SSHUser)
	}

	return nil
}
