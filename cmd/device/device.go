// Package device implements read-only CLI commands over the device
// inventory and its port snapshots.
package device

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/martinsuchenak/switchwatch/internal/config"
	"github.com/martinsuchenak/switchwatch/internal/storage"
	"github.com/paularlott/cli"
)

// openStorage loads the config and opens the database for offline
// inspection
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
		showCommand(),
	}
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:        "list",
		Usage:       "List monitored devices",
		Description: "List all devices with their reachability state and last poll time",
		Flags:       config.Flags(),
		Run: func(ctx context.Context, cmd *cli.Command) error {
			store, err := openStorage(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			devices, err := store.ListDevices()
			if err != nil {
				return err
			}
			if len(devices) == 0 {
				fmt.Println("No devices found. Run the server or a poll cycle first.")
				return nil
			}

			fmt.Printf("%-20s %-15s %-12s %-8s %s\n", "NAME", "IP", "STATUS", "PORTS", "LAST POLL")
			for _, dev := range devices {
				lastPoll := "never"
				if dev.LastPollTime != nil {
					lastPoll = dev.LastPollTime.Format("2006-01-02 15:04:05")
				}
				fmt.Printf("%-20s %-15s %-12s %-8d %s\n",
					dev.Name, dev.IPAddress, dev.Status, dev.TotalPorts, lastPoll)
			}
			return nil
		},
	}
}

func showCommand() *cli.Command {
	return &cli.Command{
		Name:        "show",
		Usage:       "Show one device with its ports",
		Description: "Show device details, the latest port snapshots and recent changes",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "name", Required: true},
		},
		Flags: config.Flags(),
		Run: func(ctx context.Context, cmd *cli.Command) error {
			store, err := openStorage(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			name := cmd.GetStringArg("name")
			dev, err := store.GetDevice(name)
			if err != nil {
				return err
			}

			fmt.Printf("Name:    %s\n", dev.Name)
			fmt.Printf("IP:      %s\n", dev.IPAddress)
			fmt.Printf("Model:   %s %s\n", dev.Vendor, dev.Model)
			fmt.Printf("Status:  %s\n", dev.Status)
			if dev.SystemDescription != "" {
				fmt.Printf("System:  %s\n", dev.SystemDescription)
			}
			if dev.PollFailures > 0 {
				fmt.Printf("Poll failures: %d\n", dev.PollFailures)
			}

			snapshots, err := store.GetPortSnapshots(name)
			if err != nil {
				return err
			}
			ports := make([]int, 0, len(snapshots))
			for port := range snapshots {
				ports = append(ports, port)
			}
			sort.Ints(ports)

			if len(ports) > 0 {
				fmt.Printf("\n%-6s %-24s %-6s %-6s %-6s %s\n", "PORT", "NAME", "ADMIN", "OPER", "VLAN", "MACS")
				for _, port := range ports {
					snap := snapshots[port]
					macs := snap.MACAddress
					if len(snap.AllMACs) > 1 {
						macs = strings.Join(snap.AllMACs, ",")
					}
					fmt.Printf("%-6d %-24s %-6s %-6s %-6d %s\n",
						snap.PortNumber, snap.PortName, snap.AdminStatus, snap.OperStatus, snap.VLANID, macs)
				}
			}

			changes, err := store.ListChanges(name, 10)
			if err != nil {
				return err
			}
			if len(changes) > 0 {
				fmt.Println("\nRecent changes:")
				for _, change := range changes {
					fmt.Printf("  %s  port %-3d %-20s %s\n",
						change.Timestamp.Format("2006-01-02 15:04:05"),
						change.PortNumber, change.Type, change.Details)
				}
			}
			return nil
		},
	}
}
