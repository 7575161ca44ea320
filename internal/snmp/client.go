// Package snmp wraps gosnmp behind the small query surface the pollers
// need. Timeouts and retries are handled here; callers never see a
// request hang beyond the configured bounds.
package snmp

import (
	"fmt"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"
)

// Value is one OID/value pair returned by a walk
type Value struct {
	OID   string
	Value any
}

// Client is the transport contract consumed by the device pollers
type Client interface {
	Get(oid string) (Value, error)
	GetMultiple(oids []string) (map[string]any, error)
	GetBulk(oidPrefix string, maxRepetitions int) ([]Value, error)
	TestConnection() bool
	Close() error
}

// Config holds per-device transport settings. Version selects between
// community-string ("2c") and USM user/auth/privacy ("3") credentials.
type Config struct {
	Host      string
	Port      uint16
	Version   string
	Community string
	Timeout   time.Duration
	Retries   int

	// SNMPv3 USM parameters
	Username       string
	AuthProtocol   string
	AuthPassphrase string
	PrivProtocol   string
	PrivPassphrase string
}

type client struct {
	conn *gosnmp.GoSNMP
}

// NewClient creates and connects an SNMP client for one device
func NewClient(cfg Config) (Client, error) {
	if cfg.Port == 0 {
		cfg.Port = 161
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Second
	}

	conn := &gosnmp.GoSNMP{
		Target:  cfg.Host,
		Port:    cfg.Port,
		Timeout: cfg.Timeout,
		Retries: cfg.Retries,
	}

	switch cfg.Version {
	case "", "2c":
		conn.Version = gosnmp.Version2c
		conn.Community = cfg.Community
	case "3":
		conn.Version = gosnmp.Version3
		conn.SecurityModel = gosnmp.UserSecurityModel
		conn.MsgFlags = gosnmp.AuthPriv
		conn.SecurityParameters = &gosnmp.UsmSecurityParameters{
			UserName:                 cfg.Username,
			AuthenticationProtocol:   authProtocol(cfg.AuthProtocol),
			AuthenticationPassphrase: cfg.AuthPassphrase,
			PrivacyProtocol:          privProtocol(cfg.PrivProtocol),
			PrivacyPassphrase:        cfg.PrivPassphrase,
		}
	default:
		return nil, fmt.Errorf("unsupported SNMP version %q", cfg.Version)
	}

	if err := conn.Connect(); err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", cfg.Host, err)
	}

	return &client{conn: conn}, nil
}

func authProtocol(name string) gosnmp.SnmpV3AuthProtocol {
	switch strings.ToUpper(name) {
	case "MD5":
		return gosnmp.MD5
	case "SHA224":
		return gosnmp.SHA224
	case "SHA256":
		return gosnmp.SHA256
	case "SHA384":
		return gosnmp.SHA384
	case "SHA512":
		return gosnmp.SHA512
	default:
		return gosnmp.SHA
	}
}

func privProtocol(name string) gosnmp.SnmpV3PrivProtocol {
	switch strings.ToUpper(name) {
	case "DES":
		return gosnmp.DES
	case "AES192", "AES-192":
		return gosnmp.AES192
	case "AES256", "AES-256":
		return gosnmp.AES256
	default:
		return gosnmp.AES
	}
}

func (c *client) Get(oid string) (Value, error) {
	packet, err := c.conn.Get([]string{oid})
	if err != nil {
		return Value{}, fmt.Errorf("snmp get %s: %w", oid, err)
	}
	if len(packet.Variables) == 0 {
		return Value{}, fmt.Errorf("snmp get %s: empty response", oid)
	}
	pdu := packet.Variables[0]
	if pdu.Type == gosnmp.NoSuchObject || pdu.Type == gosnmp.NoSuchInstance {
		return Value{}, fmt.Errorf("snmp get %s: no such object", oid)
	}
	return Value{OID: strings.TrimPrefix(pdu.Name, "."), Value: pduValue(pdu)}, nil
}

func (c *client) GetMultiple(oids []string) (map[string]any, error) {
	results := make(map[string]any, len(oids))
	if len(oids) == 0 {
		return results, nil
	}

	packet, err := c.conn.Get(oids)
	if err != nil {
		return nil, fmt.Errorf("snmp get multiple: %w", err)
	}
	for _, pdu := range packet.Variables {
		if pdu.Type == gosnmp.NoSuchObject || pdu.Type == gosnmp.NoSuchInstance {
			continue
		}
		results[strings.TrimPrefix(pdu.Name, ".")] = pduValue(pdu)
	}
	return results, nil
}

func (c *client) GetBulk(oidPrefix string, maxRepetitions int) ([]Value, error) {
	if maxRepetitions > 0 {
		c.conn.MaxRepetitions = uint32(maxRepetitions)
	}

	var results []Value
	err := c.conn.BulkWalk(oidPrefix, func(pdu gosnmp.SnmpPDU) error {
		results = append(results, Value{
			OID:   strings.TrimPrefix(pdu.Name, "."),
			Value: pduValue(pdu),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("snmp bulk walk %s: %w", oidPrefix, err)
	}
	return results, nil
}

// TestConnection performs a single lightweight sysDescr query
func (c *client) TestConnection() bool {
	_, err := c.Get("1.3.6.1.2.1.1.1.0")
	return err == nil
}

func (c *client) Close() error {
	if c.conn.Conn != nil {
		return c.conn.Conn.Close()
	}
	return nil
}

// pduValue normalizes PDU payloads: octet strings stay []byte for the
// bitmap decoders, counters and gauges become int64.
func pduValue(pdu gosnmp.SnmpPDU) any {
	switch pdu.Type {
	case gosnmp.OctetString:
		if b, ok := pdu.Value.([]byte); ok {
			return b
		}
		return pdu.Value
	case gosnmp.Counter32, gosnmp.Counter64, gosnmp.Gauge32, gosnmp.TimeTicks, gosnmp.Uinteger32:
		return gosnmp.ToBigInt(pdu.Value).Int64()
	case gosnmp.Integer:
		if n, ok := pdu.Value.(int); ok {
			return n
		}
		return gosnmp.ToBigInt(pdu.Value).Int64()
	default:
		return pdu.Value
	}
}
