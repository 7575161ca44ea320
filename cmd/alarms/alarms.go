// Package alarms implements CLI commands for inspecting and operating
// on the alarm inventory.
package alarms

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/martinsuchenak/switchwatch/internal/alarm"
	"github.com/martinsuchenak/switchwatch/internal/config"
	"github.com/martinsuchenak/switchwatch/internal/model"
	"github.com/martinsuchenak/switchwatch/internal/storage"
	"github.com/paularlott/cli"
)

func openStorage(cmd *cli.Command) (storage.Storage, error) {
	cfg, err := config.FromCommand(cmd)
	if err != nil {
		return nil, err
	}
	return storage.NewSQLiteStorage(cfg.Database.Path)
}

func Commands() []*cli.Command {
	return []*cli.Command{
		listCommand(),
		ackCommand(),
		resolveCommand(),
	}
}

func listCommand() *cli.Command {
	flags := append(config.Flags(),
		&cli.StringFlag{
			Name:         "status",
			Usage:        "Filter by status (ACTIVE, ACKNOWLEDGED, RESOLVED)",
			DefaultValue: string(model.AlarmActive),
		},
		&cli.StringFlag{
			Name:  "device",
			Usage: "Filter by device name",
		},
	)

	return &cli.Command{
		Name:        "list",
		Usage:       "List alarms",
		Description: "List alarms, newest first, optionally filtered by status and device",
		Flags:       flags,
		Run: func(ctx context.Context, cmd *cli.Command) error {
			store, err := openStorage(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			status := model.AlarmStatus(strings.ToUpper(cmd.GetString("status")))
			alarms, err := store.ListAlarms(status, cmd.GetString("device"))
			if err != nil {
				return err
			}
			if len(alarms) == 0 {
				fmt.Println("No alarms.")
				return nil
			}

			fmt.Printf("%-36s %-20s %-20s %-8s %-5s %s\n", "ID", "DEVICE", "TYPE", "SEV", "COUNT", "LAST SEEN")
			for _, a := range alarms {
				fmt.Printf("%-36s %-20s %-20s %-8s %-5d %s\n",
					a.ID, a.DeviceName, a.Type, a.Severity, a.OccurrenceCount,
					a.LastOccurrence.Format(time.DateTime))
			}
			return nil
		},
	}
}

func ackCommand() *cli.Command {
	return &cli.Command{
		Name:        "ack",
		Usage:       "Acknowledge an alarm",
		Description: "Mark an active alarm as acknowledged",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "id", Required: true},
		},
		Flags: config.Flags(),
		Run: func(ctx context.Context, cmd *cli.Command) error {
			store, err := openStorage(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			target, err := store.GetAlarm(cmd.GetStringArg("id"))
			if err != nil {
				return err
			}
			if target.Status != model.AlarmActive {
				return fmt.Errorf("alarm %s is %s, only active alarms can be acknowledged", target.ID, target.Status)
			}

			oldStatus := target.Status
			target.Status = model.AlarmAcknowledged
			if err := store.UpdateAlarm(target); err != nil {
				return err
			}
			if err := store.AddAlarmHistory(&model.AlarmHistory{
				AlarmID:   target.ID,
				OldStatus: oldStatus,
				NewStatus: model.AlarmAcknowledged,
				Reason:    "acknowledged via CLI",
				Timestamp: time.Now(),
			}); err != nil {
				return err
			}
			fmt.Printf("Alarm %s acknowledged.\n", target.ID)
			return nil
		},
	}
}

func resolveCommand() *cli.Command {
	return &cli.Command{
		Name:        "resolve",
		Usage:       "Resolve an alarm",
		Description: "Mark an alarm as resolved",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "id", Required: true},
		},
		Flags: config.Flags(),
		Run: func(ctx context.Context, cmd *cli.Command) error {
			store, err := openStorage(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			target, err := store.GetAlarm(cmd.GetStringArg("id"))
			if err != nil {
				return err
			}
			if target.Status == model.AlarmResolved {
				fmt.Printf("Alarm %s is already resolved.\n", target.ID)
				return nil
			}

			manager := alarm.NewManager(store, nil, alarm.Options{})
			if err := manager.ResolveAlarm(target, "resolved via CLI"); err != nil {
				return err
			}
			fmt.Printf("Alarm %s resolved.\n", target.ID)
			return nil
		},
	}
}
