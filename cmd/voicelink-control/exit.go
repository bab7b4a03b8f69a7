package main

import (
	"context"
	"fmt"

	"github.com/Raywonder/voicelink-control/internal/models"
	"github.com/Raywonder/voicelink-control/internal/services/devices"
	"github.com/Raywonder/voicelink-control/internal/services/exit"
	"github.com/Raywonder/voicelink-control/internal/services/federation"
	"github.com/Raywonder/voicelink-control/internal/services/reboot"
	"github.com/Raywonder/voicelink-control/internal/services/rooms"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	exitOption  string
	exitConfirm bool
)

var exitOptions = map[string]models.ExitOption{
	"transfer_to_device":    models.OptionTransferToDevice,
	"transfer_to_federated": models.OptionTransferToFederated,
	"waiting_room":          models.OptionWaitingRoom,
	"auto_move":             models.OptionAutoMove,
	"just_exit":             models.OptionJustExit,
	"system_reboot":         models.OptionSystemReboot,
}

var exitCmd = &cobra.Command{
	Use:   "exit",
	Short: "Retire the local node gracefully",
	Long: `Retire the local node. With no active rooms the node shuts down
immediately. With active rooms an exit option must be selected:
  transfer_to_device     move rooms to the first online sibling device
  transfer_to_federated  move rooms to a random federation node
  waiting_room           pause rooms and park users until restart
  auto_move              device, then federation, then waiting room
  just_exit              shut down without relocating anyone
  system_reboot          restart the host machine`,
	RunE: runExit,
}

func init() {
	exitCmd.Flags().StringVar(&exitOption, "option", "", "exit option for nodes with active rooms")
	exitCmd.Flags().BoolVar(&exitConfirm, "yes", false, "confirm a dangerous option")
}

func runExit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()

	roomsSvc := rooms.New(log.Logger, cfg.Node.RoomAPI, cfg.Node.AccessToken)
	exitSvc := exit.New(log.Logger, *cfg, exit.Options{
		Rooms:      roomsSvc,
		Devices:    devices.New(log.Logger, cfg.Devices),
		Federation: federation.New(log.Logger, cfg.Federation.DiscoveryURL),
		Reboot:     reboot.New(log.Logger),
		OnStateChange: func(p models.ExitProgress) {
			log.Info().Str("stage", p.Stage.String()).Str("message", p.Message).Msg("exit progress")
		},
	})

	if err := exitSvc.InitiateExit(ctx); err != nil {
		return err
	}

	progress := exitSvc.Progress()
	if progress.Stage != models.ExitShowingOptions {
		return nil // no active rooms, shutdown already under way
	}

	if exitOption == "" {
		active, err := roomsSvc.ActiveRooms(ctx)
		if err == nil {
			fmt.Printf("%d room(s) with members are hosted here:\n", len(active))
			for _, r := range active {
				fmt.Printf("  %s (%d members)\n", r.Name, r.MemberCount)
			}
		}
		return fmt.Errorf("active rooms present, select an exit option with --option")
	}

	option, ok := exitOptions[exitOption]
	if !ok {
		return fmt.Errorf("unknown exit option %q", exitOption)
	}
	if option.IsDangerous() && !exitConfirm {
		return fmt.Errorf("option %q requires confirmation, re-run with --yes", exitOption)
	}

	if err := exitSvc.HandleOption(ctx, option); err != nil {
		return err
	}

	if status := exitSvc.TransferStatus(); status != nil {
		fmt.Printf("Transferred %d/%d rooms (%d users).\n",
			status.TransferredRooms, status.TotalRooms, status.TransferredUsers)
	}
	return nil
}
