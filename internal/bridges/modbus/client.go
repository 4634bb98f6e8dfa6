package modbus

import (
	"encoding/binary"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	gomodbus "github.com/goburrow/modbus"
)

// Connection constants.
const (
	// defaultTimeout is the per-request timeout when none is configured.
	defaultTimeout = 5 * time.Second

	// defaultBaudRate matches the R32CH factory serial settings (9600 8N1).
	defaultBaudRate = 9600

	// serialDataBits, serialParity and serialStopBits are fixed by the board.
	serialDataBits = 8
	serialParity   = "N"
	serialStopBits = 1

	// deviceAddressRegister is the holding register exposing the board's
	// slave ID on RTU. The TCP simulator exposes it at register 0.
	deviceAddressRegister = 0x4000

	// coilBytes is the packed payload size for a full 32-coil write.
	coilBytes = CoilCount / 8
)

// Transport modes.
const (
	// ModeRTU selects Modbus RTU over a serial line.
	ModeRTU = "rtu"

	// ModeTCP selects Modbus TCP (bench simulator or serial gateway).
	ModeTCP = "tcp"
)

// Config holds relay board connection configuration.
type Config struct {
	// Mode is the transport mode: "rtu" or "tcp".
	Mode string

	// Device is the serial device path for RTU (e.g. "/dev/ttyUSB0").
	Device string

	// Baud is the serial baud rate for RTU. Default: 9600.
	Baud int

	// Host and Port address the Modbus TCP endpoint for TCP mode.
	Host string
	Port int

	// SlaveID is the board's Modbus unit identifier.
	SlaveID byte

	// Timeout is the per-request timeout. Default: 5 seconds.
	Timeout time.Duration
}

// Stats holds operational statistics for monitoring.
type Stats struct {
	WritesTotal  uint64
	ReadsTotal   uint64
	ErrorsTotal  uint64
	LastActivity time.Time
	Connected    bool
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// connector is the subset of the goburrow handler types used for lifecycle
// management. Both RTU and TCP handlers satisfy it.
type connector interface {
	Connect() error
	Close() error
}

// RelayClient drives a 32-channel Modbus relay board.
//
// It owns a single exclusive connection; one client instance drives one
// physical board at a time. Coil states passed to WriteAll and returned by
// ReadAll are indexed by physical coil position — callers translate logical
// relay numbers with CoilForRelay.
//
// Thread Safety:
//   - All methods are safe for concurrent use, but requests are serialised
//     on the single underlying connection.
type RelayClient struct {
	cfg Config

	// Connection state
	mu        sync.Mutex
	handler   connector
	client    gomodbus.Client
	connected bool

	// Logger (optional)
	logger   Logger
	loggerMu sync.RWMutex

	// Statistics (atomic for cheap reads)
	writesTotal  atomic.Uint64
	readsTotal   atomic.Uint64
	errorsTotal  atomic.Uint64
	lastActivity atomic.Int64 // Unix timestamp
}

// NewClient creates a relay client for the given configuration.
// Call Connect before issuing any bus operations.
//
// Returns:
//   - *RelayClient: Client ready to connect
//   - error: If the configuration is invalid
func NewClient(cfg Config) (*RelayClient, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Baud == 0 {
		cfg.Baud = defaultBaudRate
	}

	switch strings.ToLower(cfg.Mode) {
	case ModeRTU:
		if cfg.Device == "" {
			return nil, fmt.Errorf("%w: device is required for rtu mode", ErrInvalidConfig)
		}
	case ModeTCP:
		if cfg.Host == "" || cfg.Port == 0 {
			return nil, fmt.Errorf("%w: host and port are required for tcp mode", ErrInvalidConfig)
		}
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, cfg.Mode)
	}
	cfg.Mode = strings.ToLower(cfg.Mode)

	return &RelayClient{cfg: cfg}, nil
}

// Connect opens the connection to the relay board.
//
// For RTU this opens the serial device with the board's fixed framing
// (8 data bits, no parity, 1 stop bit). For TCP it dials the configured
// endpoint.
//
// Returns:
//   - error: If the transport cannot be opened
func (c *RelayClient) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	switch c.cfg.Mode {
	case ModeTCP:
		handler := gomodbus.NewTCPClientHandler(fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port))
		handler.SlaveId = c.cfg.SlaveID
		handler.Timeout = c.cfg.Timeout
		c.handler = handler
		c.client = gomodbus.NewClient(handler)
	default:
		handler := gomodbus.NewRTUClientHandler(c.cfg.Device)
		handler.BaudRate = c.cfg.Baud
		handler.DataBits = serialDataBits
		handler.Parity = serialParity
		handler.StopBits = serialStopBits
		handler.SlaveId = c.cfg.SlaveID
		handler.Timeout = c.cfg.Timeout
		c.handler = handler
		c.client = gomodbus.NewClient(handler)
	}

	if err := c.handler.Connect(); err != nil {
		c.errorsTotal.Add(1)
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c.connected = true
	c.touch()
	c.logInfo("relay board connected",
		"mode", c.cfg.Mode,
		"slave_id", c.cfg.SlaveID)
	return nil
}

// Close resets all relays and closes the connection.
//
// The reset is defence in depth — callers already issue safety resets on
// their own exit paths. Close on a never-connected client is a no-op.
func (c *RelayClient) Close() error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.ResetAll(); err != nil {
		c.logWarn("reset on close failed", "error", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	if err := c.handler.Close(); err != nil {
		return fmt.Errorf("closing connection: %w", err)
	}
	return nil
}

// IsConnected reports whether the client has an open connection.
func (c *RelayClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// WriteAll writes the state of all 32 outputs in one atomic request.
//
// Parameters:
//   - states: Desired output states indexed by physical coil position
//
// Returns:
//   - error: ErrNotConnected, or a wrapped ErrWriteFailed on bus failure
func (c *RelayClient) WriteAll(states [CoilCount]bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return ErrNotConnected
	}

	if _, err := c.client.WriteMultipleCoils(0, CoilCount, packCoils(states)); err != nil {
		c.errorsTotal.Add(1)
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}

	c.writesTotal.Add(1)
	c.touch()
	return nil
}

// ReadAll reads the state of all 32 outputs.
//
// Returns:
//   - [CoilCount]bool: Output states indexed by physical coil position
//   - error: ErrNotConnected, or a wrapped ErrReadFailed on bus failure
func (c *RelayClient) ReadAll() ([CoilCount]bool, error) {
	var states [CoilCount]bool

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return states, ErrNotConnected
	}

	results, err := c.client.ReadCoils(0, CoilCount)
	if err != nil {
		c.errorsTotal.Add(1)
		return states, fmt.Errorf("%w: %w", ErrReadFailed, err)
	}
	if len(results) < coilBytes {
		c.errorsTotal.Add(1)
		return states, fmt.Errorf("%w: short response (%d bytes)", ErrReadFailed, len(results))
	}

	c.readsTotal.Add(1)
	c.touch()
	return unpackCoils(results), nil
}

// ResetAll switches every output off. Equivalent to WriteAll with all
// states false.
func (c *RelayClient) ResetAll() error {
	return c.WriteAll([CoilCount]bool{})
}

// ReadDeviceAddress reads the board's slave ID register.
//
// Used once at startup to confirm the right device answers on the bus.
// The register address differs between the physical board (0x4000) and
// the TCP bench simulator (0).
//
// Returns:
//   - uint16: Configured slave ID as reported by the board
//   - error: ErrNotConnected, or a wrapped ErrReadFailed on bus failure
func (c *RelayClient) ReadDeviceAddress() (uint16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return 0, ErrNotConnected
	}

	register := uint16(deviceAddressRegister)
	if c.cfg.Mode == ModeTCP {
		register = 0
	}

	results, err := c.client.ReadHoldingRegisters(register, 1)
	if err != nil {
		c.errorsTotal.Add(1)
		return 0, fmt.Errorf("%w: device address register: %w", ErrReadFailed, err)
	}
	if len(results) < 2 {
		c.errorsTotal.Add(1)
		return 0, fmt.Errorf("%w: short register response", ErrReadFailed)
	}

	c.readsTotal.Add(1)
	c.touch()
	return binary.BigEndian.Uint16(results), nil
}

// Stats returns a snapshot of operational statistics.
func (c *RelayClient) Stats() Stats {
	c.mu.Lock()
	connected := c.connected
	c.mu.Unlock()

	return Stats{
		WritesTotal:  c.writesTotal.Load(),
		ReadsTotal:   c.readsTotal.Load(),
		ErrorsTotal:  c.errorsTotal.Load(),
		LastActivity: time.Unix(c.lastActivity.Load(), 0),
		Connected:    connected,
	}
}

// SetLogger sets the logger for the client.
func (c *RelayClient) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// touch records the time of the last successful bus operation.
func (c *RelayClient) touch() {
	c.lastActivity.Store(time.Now().Unix())
}

// logInfo logs an info message if a logger is set.
func (c *RelayClient) logInfo(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logWarn logs a warning if a logger is set.
func (c *RelayClient) logWarn(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

// packCoils packs coil states into the Modbus wire format: byte i carries
// coils 8i..8i+7, least significant bit first.
func packCoils(states [CoilCount]bool) []byte {
	packed := make([]byte, coilBytes)
	for i, on := range states {
		if on {
			packed[i/8] |= 1 << (i % 8)
		}
	}
	return packed
}

// unpackCoils is the inverse of packCoils.
func unpackCoils(data []byte) [CoilCount]bool {
	var states [CoilCount]bool
	for i := range states {
		states[i] = data[i/8]&(1<<(i%8)) != 0
	}
	return states
}
