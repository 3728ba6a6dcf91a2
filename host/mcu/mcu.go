// Package mcu is the host side of the bridge: it talks to a firmware over a
// serial link, downloads its data dictionary and sends commands by name.
package mcu

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"twowire/host/serial"
	"twowire/protocol"
)

const (
	// Message IDs every firmware assigns before the dictionary is known.
	identifyResponseID = 0
	identifyID         = 1

	identifyChunk = 40
)

// DefaultResponseTimeout bounds how long Query waits for an answer.
const DefaultResponseTimeout = time.Second

var (
	ErrNotConnected = errors.New("not connected to MCU")
	ErrNoDictionary = errors.New("dictionary not loaded")
	ErrUnknown      = errors.New("unknown message")
)

// MCU represents a connection to a bridge firmware.
type MCU struct {
	transport *protocol.HostTransport

	dictionary     *Dictionary
	dictionaryData []byte
	commandIDs     map[string]uint16 // bare name -> ID
	responseIDs    map[string]uint16

	queryMu sync.Mutex
	oidMu   sync.Mutex
	nextOID uint8

	timeout time.Duration
	log     *zap.Logger

	connected bool
}

// Dictionary is the parsed data dictionary.
type Dictionary struct {
	Version       string                    `json:"version"`
	BuildVersions string                    `json:"build_versions"`
	Config        map[string]string         `json:"config"`
	Commands      map[string]int            `json:"commands"`
	Responses     map[string]int            `json:"responses"`
	Enumerations  map[string]map[string]int `json:"enumerations,omitempty"`
}

// Option configures an MCU.
type Option func(*MCU)

func WithLogger(log *zap.Logger) Option {
	return func(m *MCU) {
		if log != nil {
			m.log = log
		}
	}
}

// WithResponseTimeout overrides DefaultResponseTimeout.
func WithResponseTimeout(d time.Duration) Option {
	return func(m *MCU) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// NewMCU creates a new MCU instance (not yet connected).
func NewMCU(opts ...Option) *MCU {
	m := &MCU{
		timeout: DefaultResponseTimeout,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect opens device with the default serial settings.
func (m *MCU) Connect(device string) error {
	return m.ConnectWithConfig(serial.DefaultConfig(device))
}

func (m *MCU) ConnectWithConfig(cfg *serial.Config) error {
	port, err := serial.Open(cfg)
	if err != nil {
		return err
	}
	if err := port.Flush(); err != nil {
		m.log.Debug("flush failed", zap.Error(err))
	}
	if err := m.ConnectPort(port); err != nil {
		return err
	}

	// Give a freshly enumerated USB device time to start.
	time.Sleep(100 * time.Millisecond)
	m.log.Info("connected", zap.String("device", cfg.Device), zap.Int("baud", cfg.Baud))
	return nil
}

// ConnectPort uses an already open link.
func (m *MCU) ConnectPort(port io.ReadWriteCloser) error {
	if m.connected {
		return errors.New("already connected")
	}
	m.transport = protocol.NewHostTransport(port)
	m.transport.SetErrorHandler(func(err error) {
		m.log.Warn("serial read failed", zap.Error(err))
	})
	m.connected = true
	return nil
}

func (m *MCU) Close() error {
	if !m.connected {
		return nil
	}
	m.connected = false
	return m.transport.Close()
}

func (m *MCU) IsConnected() bool { return m.connected }

// RetrieveDictionary downloads the dictionary with identify. zlib
// compressed dictionaries are inflated.
func (m *MCU) RetrieveDictionary() error {
	if !m.connected {
		return ErrNotConnected
	}

	var buf bytes.Buffer
	for offset := uint32(0); ; {
		chunk, err := m.identify(offset, identifyChunk)
		if err != nil {
			return fmt.Errorf("failed to retrieve dictionary chunk at offset %d: %w", offset, err)
		}
		buf.Write(chunk)
		offset += uint32(len(chunk))
		if len(chunk) < identifyChunk {
			break
		}
	}
	m.log.Debug("dictionary retrieved", zap.Int("bytes", buf.Len()))

	return m.LoadDictionary(buf.Bytes())
}

func (m *MCU) identify(offset uint32, count uint8) ([]byte, error) {
	m.queryMu.Lock()
	defer m.queryMu.Unlock()

	m.transport.DrainResponses()
	err := m.transport.SendCommand(identifyID, func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, offset)
		protocol.EncodeVLQUint(out, uint32(count))
	})
	if err != nil {
		return nil, err
	}

	payload, err := m.awaitResponse(identifyResponseID)
	if err != nil {
		return nil, err
	}
	respOffset, err := protocol.DecodeVLQUint(&payload)
	if err != nil {
		return nil, err
	}
	if respOffset != offset {
		return nil, fmt.Errorf("offset mismatch: expected %d, got %d", offset, respOffset)
	}
	return protocol.DecodeVLQBytes(&payload)
}

// LoadDictionary installs a raw dictionary, e.g. one read from a cache.
func (m *MCU) LoadDictionary(raw []byte) error {
	data := raw
	if inflated, err := inflate(raw); err == nil {
		m.log.Debug("dictionary decompressed", zap.Int("from", len(raw)), zap.Int("to", len(inflated)))
		data = inflated
	}

	dict := &Dictionary{}
	if err := json.Unmarshal(data, dict); err != nil {
		return fmt.Errorf("failed to parse dictionary: %w", err)
	}

	m.dictionary = dict
	m.dictionaryData = append([]byte(nil), raw...)
	m.commandIDs = indexByName(dict.Commands)
	m.responseIDs = indexByName(dict.Responses)
	return nil
}

// inflate decodes zlib data. Anything without a zlib header is rejected.
func inflate(data []byte) ([]byte, error) {
	if len(data) < 2 || data[0] != 0x78 {
		return nil, errors.New("not zlib compressed")
	}
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// indexByName keys signatures ("i2c_write oid=%c data=%*s") by their first
// word.
func indexByName(sigs map[string]int) map[string]uint16 {
	ids := make(map[string]uint16, len(sigs))
	for sig, id := range sigs {
		name, _, _ := strings.Cut(sig, " ")
		ids[name] = uint16(id)
	}
	return ids
}

func (m *MCU) Dictionary() *Dictionary { return m.dictionary }

// DictionaryRaw returns the dictionary as received, before decompression.
func (m *MCU) DictionaryRaw() []byte { return m.dictionaryData }

// Constant returns a firmware constant from the dictionary.
func (m *MCU) Constant(name string) (string, bool) {
	if m.dictionary == nil {
		return "", false
	}
	v, ok := m.dictionary.Config[name]
	return v, ok
}

// SendCommand sends the named command and waits for its acknowledgement.
func (m *MCU) SendCommand(name string, args func(output protocol.OutputBuffer)) error {
	id, err := m.lookup(m.commandIDs, name)
	if err != nil {
		return err
	}
	return m.transport.SendCommand(id, args)
}

// Query sends the named command and returns the arguments of the first
// response called response.
func (m *MCU) Query(name string, args func(output protocol.OutputBuffer), response string) ([]byte, error) {
	id, err := m.lookup(m.commandIDs, name)
	if err != nil {
		return nil, err
	}
	respID, err := m.lookup(m.responseIDs, response)
	if err != nil {
		return nil, err
	}

	m.queryMu.Lock()
	defer m.queryMu.Unlock()

	m.transport.DrainResponses()
	if err := m.transport.SendCommand(id, args); err != nil {
		return nil, err
	}
	return m.awaitResponse(respID)
}

// awaitResponse skips unrelated responses until id arrives.
func (m *MCU) awaitResponse(id uint16) ([]byte, error) {
	deadline := time.Now().Add(m.timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("response %d: %w", id, protocol.ErrTimeout)
		}
		msg, err := m.transport.ReceiveResponse(remaining)
		if err != nil {
			return nil, err
		}
		payload := msg.Payload
		got, err := protocol.DecodeVLQUint(&payload)
		if err != nil {
			continue
		}
		if uint16(got) == id {
			return payload, nil
		}
		m.log.Debug("skipping response", zap.Uint32("id", got))
	}
}

func (m *MCU) lookup(ids map[string]uint16, name string) (uint16, error) {
	if !m.connected {
		return 0, ErrNotConnected
	}
	if m.dictionary == nil {
		return 0, ErrNoDictionary
	}
	id, ok := ids[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknown, name)
	}
	return id, nil
}

// allocOID hands out firmware object IDs.
func (m *MCU) allocOID() (uint8, error) {
	m.oidMu.Lock()
	defer m.oidMu.Unlock()
	if m.nextOID == 255 {
		return 0, errors.New("out of object IDs")
	}
	oid := m.nextOID
	m.nextOID++
	return oid, nil
}

// Summary writes a short description of the dictionary to w.
func (m *MCU) Summary(w io.Writer) {
	d := m.dictionary
	if d == nil {
		fmt.Fprintln(w, "No dictionary loaded")
		return
	}
	fmt.Fprintf(w, "Version: %s\n", d.Version)
	fmt.Fprintf(w, "Build: %s\n", d.BuildVersions)
	for k, v := range d.Config {
		fmt.Fprintf(w, "  %s = %s\n", k, v)
	}
	fmt.Fprintf(w, "Commands: %d, responses: %d\n", len(d.Commands), len(d.Responses))
}
