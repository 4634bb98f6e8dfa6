package modbus

import (
	"errors"
	"testing"
	"time"
)

func TestNewClient_Defaults(t *testing.T) {
	client, err := NewClient(Config{
		Mode:    "rtu",
		Device:  "/dev/ttyUSB0",
		SlaveID: 1,
	})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	if client.cfg.Baud != defaultBaudRate {
		t.Errorf("Baud = %d, want %d", client.cfg.Baud, defaultBaudRate)
	}
	if client.cfg.Timeout != defaultTimeout {
		t.Errorf("Timeout = %v, want %v", client.cfg.Timeout, defaultTimeout)
	}
}

func TestNewClient_ModeNormalised(t *testing.T) {
	client, err := NewClient(Config{
		Mode:    "TCP",
		Host:    "127.0.0.1",
		Port:    5020,
		Baud:    19200,
		SlaveID: 1,
		Timeout: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if client.cfg.Mode != ModeTCP {
		t.Errorf("Mode = %q, want %q", client.cfg.Mode, ModeTCP)
	}
}

func TestNewClient_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"unknown mode", Config{Mode: "ascii"}},
		{"rtu without device", Config{Mode: "rtu"}},
		{"tcp without host", Config{Mode: "tcp", Port: 502}},
		{"tcp without port", Config{Mode: "tcp", Host: "localhost"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewClient(tt.cfg); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("NewClient() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestRelayClient_NotConnected(t *testing.T) {
	client, err := NewClient(Config{Mode: "rtu", Device: "/dev/null", SlaveID: 1})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	if err := client.WriteAll([CoilCount]bool{}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("WriteAll() error = %v, want ErrNotConnected", err)
	}
	if _, err := client.ReadAll(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("ReadAll() error = %v, want ErrNotConnected", err)
	}
	if _, err := client.ReadDeviceAddress(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("ReadDeviceAddress() error = %v, want ErrNotConnected", err)
	}

	// Close before Connect is a no-op.
	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v, want nil", err)
	}
}

func TestPackCoils(t *testing.T) {
	var states [CoilCount]bool
	states[0] = true  // byte 0, bit 0
	states[7] = true  // byte 0, bit 7
	states[8] = true  // byte 1, bit 0
	states[31] = true // byte 3, bit 7

	packed := packCoils(states)
	want := []byte{0x81, 0x01, 0x00, 0x80}
	if len(packed) != len(want) {
		t.Fatalf("packCoils() length = %d, want %d", len(packed), len(want))
	}
	for i := range want {
		if packed[i] != want[i] {
			t.Errorf("packCoils()[%d] = %#02x, want %#02x", i, packed[i], want[i])
		}
	}
}

func TestPackCoils_RoundTrip(t *testing.T) {
	var states [CoilCount]bool
	for i := 0; i < CoilCount; i += 3 {
		states[i] = true
	}

	if got := unpackCoils(packCoils(states)); got != states {
		t.Errorf("unpackCoils(packCoils()) = %v, want %v", got, states)
	}
}
