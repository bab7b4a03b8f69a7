package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/Raywonder/voicelink-control/internal/models"
	"github.com/Raywonder/voicelink-control/internal/services/discovery"
	"github.com/Raywonder/voicelink-control/internal/services/router"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	sendParams  []string
	sendConfirm bool
)

var sendCmd = &cobra.Command{
	Use:   "send <device-id> <command>",
	Short: "Send a remote command to a peer node",
	Long: `Send an administrative command to a linked device over whichever
transport the configured connection mode selects (auto, tunnel, direct
or hybrid). Commands that require confirmation must be sent with --yes.`,
	Args: cobra.ExactArgs(2),
	RunE: runSend,
}

func init() {
	sendCmd.Flags().StringArrayVar(&sendParams, "param", nil, "command parameter as key=value (repeatable)")
	sendCmd.Flags().BoolVar(&sendConfirm, "yes", false, "confirm a dangerous command")
}

func runSend(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	peerID := args[0]
	command := models.RemoteCommand(args[1])

	if !command.Valid() {
		return fmt.Errorf("unknown command %q", command)
	}
	if command.RequiresConfirmation() && !sendConfirm {
		return fmt.Errorf("command %q requires confirmation, re-run with --yes", command)
	}

	var peer *models.Device
	for _, d := range cfg.Devices {
		if d.ID == peerID {
			dev := d
			peer = &dev
			break
		}
	}
	if peer == nil {
		return fmt.Errorf("device %q is not linked", peerID)
	}

	params := make(map[string]string)
	for _, p := range sendParams {
		key, value, found := strings.Cut(p, "=")
		if !found {
			return fmt.Errorf("invalid --param %q, expected key=value", p)
		}
		params[key] = value
	}

	discoverySvc := discovery.New(log.Logger, probePort(cfg))
	routerSvc := router.New(log.Logger, *cfg, discoverySvc)
	defer routerSvc.Close()

	result, err := routerSvc.SendCommand(context.Background(), *peer, command, params)
	if err != nil {
		log.Error().Err(err).Str("peer", peerID).Msg("command failed")
		return err
	}

	if result.Success {
		fmt.Println("Command succeeded.")
	} else {
		fmt.Println("Command rejected.")
	}
	if result.Result != "" {
		fmt.Println(result.Result)
	}

	if !result.Success {
		return fmt.Errorf("peer rejected command: %s", result.Result)
	}
	return nil
}
