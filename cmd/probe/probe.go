// Package probe implements an SNMP connectivity test against a single
// host, independent of the configured device inventory.
package probe

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/martinsuchenak/switchwatch/internal/snmp"
	vnd "github.com/martinsuchenak/switchwatch/internal/vendor"
	"github.com/paularlott/cli"
	"golang.org/x/term"
)

func Command() *cli.Command {
	return &cli.Command{
		Name:        "probe",
		Usage:       "Test SNMP connectivity to a host",
		Description: "Connect to a switch and print its system information without touching the database",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "host", Required: true},
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:         "community",
				Usage:        "SNMP community string (v2c)",
				DefaultValue: "public",
				EnvVars:      []string{"SW_SNMP_COMMUNITY"},
			},
			&cli.StringFlag{
				Name:         "version",
				Usage:        "SNMP version (2c or 3)",
				DefaultValue: "2c",
			},
			&cli.IntFlag{
				Name:         "port",
				Usage:        "SNMP port",
				DefaultValue: 161,
			},
			&cli.IntFlag{
				Name:         "timeout",
				Usage:        "Request timeout in seconds",
				DefaultValue: 2,
			},
			&cli.StringFlag{
				Name:  "username",
				Usage: "SNMPv3 username",
			},
			&cli.StringFlag{
				Name:         "auth-protocol",
				Usage:        "SNMPv3 authentication protocol (MD5, SHA, SHA256, SHA512)",
				DefaultValue: "SHA",
			},
			&cli.StringFlag{
				Name:         "priv-protocol",
				Usage:        "SNMPv3 privacy protocol (DES, AES, AES256)",
				DefaultValue: "AES",
			},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			host := cmd.GetStringArg("host")
			cfg := snmp.Config{
				Host:      host,
				Port:      uint16(cmd.GetInt("port")),
				Version:   cmd.GetString("version"),
				Community: cmd.GetString("community"),
				Timeout:   time.Duration(cmd.GetInt("timeout")) * time.Second,
				Retries:   1,
			}

			if cfg.Version == "3" {
				cfg.Username = cmd.GetString("username")
				if cfg.Username == "" {
					return fmt.Errorf("snmpv3 requires --username")
				}
				cfg.AuthProtocol = cmd.GetString("auth-protocol")
				cfg.PrivProtocol = cmd.GetString("priv-protocol")

				auth, err := readSecret("Auth passphrase: ")
				if err != nil {
					return err
				}
				priv, err := readSecret("Privacy passphrase: ")
				if err != nil {
					return err
				}
				cfg.AuthPassphrase = auth
				cfg.PrivPassphrase = priv
			}

			client, err := snmp.NewClient(cfg)
			if err != nil {
				return err
			}
			defer client.Close()

			start := time.Now()
			if !client.TestConnection() {
				return fmt.Errorf("%s did not respond to SNMP", host)
			}
			rtt := time.Since(start)

			values, err := client.GetMultiple([]string{
				vnd.OIDSysDescr,
				vnd.OIDSysName,
				vnd.OIDSysLocation,
				vnd.OIDSysUptime,
			})
			if err != nil {
				return fmt.Errorf("reading system information: %w", err)
			}

			fmt.Printf("Host:      %s (reachable, rtt %s)\n", host, rtt.Round(time.Millisecond))
			fmt.Printf("Name:      %s\n", asString(values[vnd.OIDSysName]))
			fmt.Printf("Location:  %s\n", asString(values[vnd.OIDSysLocation]))
			fmt.Printf("System:    %s\n", asString(values[vnd.OIDSysDescr]))
			if ticks, ok := values[vnd.OIDSysUptime].(int64); ok {
				// sysUpTime counts hundredths of a second
				fmt.Printf("Uptime:    %s\n", (time.Duration(ticks) * 10 * time.Millisecond).Round(time.Second))
			}
			return nil
		},
	}
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", s)
	}
}

// readSecret prompts on stderr and reads without echo when stdin is a
// terminal, falling back to plain reads for piped input
func readSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	if term.IsTerminal(int(os.Stdin.Fd())) {
		secret, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading passphrase: %w", err)
		}
		return string(secret), nil
	}

	var secret string
	if _, err := fmt.Fscanln(os.Stdin, &secret); err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return secret, nil
}
