package mcu

import (
	"bytes"
	"compress/zlib"
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"periph.io/x/conn/v3/physic"

	"twowire/core"
	"twowire/core/simbus"
)

// startBridge connects an MCU to an in-process firmware driving a simulated
// bus with a memory at 0x50.
func startBridge(t *testing.T, opts ...core.FirmwareOption) (*MCU, *simbus.Bus) {
	t.Helper()

	bus := simbus.New(64)
	bus.Attach(0x50, &simbus.Memory{})
	fw := core.NewFirmware(simbus.Buses{0: bus}, opts...)

	hostConn, fwConn := net.Pipe()
	done := make(chan error, 1)
	go func() { done <- fw.Serve(fwConn) }()

	m := NewMCU(WithResponseTimeout(2 * time.Second))
	if err := m.ConnectPort(hostConn); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		m.Close()
		fwConn.Close()
		<-done
	})

	if err := m.RetrieveDictionary(); err != nil {
		t.Fatalf("RetrieveDictionary: %v", err)
	}
	return m, bus
}

func TestRetrieveDictionary(t *testing.T) {
	m, _ := startBridge(t)

	if m.Dictionary().Version == "" {
		t.Error("Dictionary has no version")
	}
	if v, ok := m.Constant("I2C_MAX_TRANSFER"); !ok || v != "48" {
		t.Errorf("Unexpected I2C_MAX_TRANSFER %q", v)
	}
	if _, ok := m.commandIDs["i2c_write"]; !ok {
		t.Error("Commands must be indexed by bare name")
	}
	if err := m.SendCommand("no_such_command", nil); !errors.Is(err, ErrUnknown) {
		t.Errorf("Expected ErrUnknown, got %v", err)
	}
}

func TestHardwareDeviceOverBridge(t *testing.T) {
	m, _ := startBridge(t)
	bus := m.I2CBus(0, 100000)

	dev, err := core.NewHardwareDevice(0x50, bus, core.MaxBridgeTransfer)
	if err != nil {
		t.Fatal(err)
	}
	if !dev.Detected() {
		t.Fatal("Expected 0x50 to answer")
	}
	if err := dev.Write([]byte{0xAB, 0xCD}, true, []byte{0x10}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	r := make([]byte, 2)
	if err := dev.WriteThenRead([]byte{0x10}, r, false); err != nil {
		t.Fatalf("WriteThenRead failed: %v", err)
	}
	if !bytes.Equal(r, []byte{0xAB, 0xCD}) {
		t.Errorf("Expected ab cd, got % x", r)
	}

	absent, _ := core.NewHardwareDevice(0x51, bus, 0)
	if absent.Detected() {
		t.Error("Expected 0x51 to be absent")
	}
	err = absent.Write([]byte{0}, true, nil)
	if core.StatusOf(err) != core.StatusAddressNACK {
		t.Errorf("Expected address NACK, got %v", err)
	}
}

func TestSoftwareDeviceOverBridge(t *testing.T) {
	m, sim := startBridge(t)
	bus := m.I2CBus(0, 100000)

	dev, err := core.NewSoftwareDevice(0x50, core.NewTxWire(bus, 32), core.LookupProfile(core.PlatformGeneric))
	if err != nil {
		t.Fatal(err)
	}
	if err := dev.Write([]byte{0x30, 1, 2, 3}, true, nil); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	r := make([]byte, 3)
	if err := dev.WriteThenRead([]byte{0x30}, r, false); err != nil {
		t.Fatalf("WriteThenRead failed: %v", err)
	}
	if !bytes.Equal(r, []byte{1, 2, 3}) {
		t.Errorf("Expected 01 02 03, got % x", r)
	}

	if err := dev.SetSpeed(400000); err != nil {
		t.Fatalf("SetSpeed failed: %v", err)
	}
	if sim.Clock() != 400000 {
		t.Errorf("Expected simulated clock 400000, got %d", sim.Clock())
	}
}

func TestBridgeSpeedUnsupported(t *testing.T) {
	m, _ := startBridge(t, core.WithSoftwareTiming(core.LookupProfile(core.PlatformSTM32Feather)))
	bus := m.I2CBus(0, 100000)

	if err := bus.Tx(0x50, nil, nil); err != nil {
		t.Fatal(err)
	}
	if err := bus.SetSpeed(400 * physic.KiloHertz); !errors.Is(err, core.ErrSpeedUnsupported) {
		t.Errorf("Expected ErrSpeedUnsupported, got %v", err)
	}
}

func TestBridgeTransferLimit(t *testing.T) {
	m, _ := startBridge(t)
	bus := m.I2CBus(0, 100000)

	err := bus.Tx(0x50, nil, make([]byte, core.MaxBridgeTransfer+1))
	if core.StatusOf(err) != core.StatusDataTooLong {
		t.Errorf("Expected data too long, got %v", err)
	}
}

func TestDictionaryCache(t *testing.T) {
	m, _ := startBridge(t)
	path := filepath.Join(t.TempDir(), "dict.cbor")

	if err := m.SaveDictionaryCache(path); err != nil {
		t.Fatal(err)
	}

	other := NewMCU()
	if err := other.LoadDictionaryCache(path); err != nil {
		t.Fatalf("LoadDictionaryCache: %v", err)
	}
	if other.Dictionary().Version != m.Dictionary().Version {
		t.Error("Cached dictionary differs")
	}
	if err := m.EnsureDictionary(path); err != nil {
		t.Errorf("EnsureDictionary with a fresh cache: %v", err)
	}
}

func TestLoadCompressedDictionary(t *testing.T) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	w.Write([]byte(`{"version":"z","commands":{"identify offset=%u count=%c":1},"responses":{}}`))
	w.Close()

	m := NewMCU()
	if err := m.LoadDictionary(buf.Bytes()); err != nil {
		t.Fatal(err)
	}
	if m.Dictionary().Version != "z" || m.commandIDs["identify"] != 1 {
		t.Errorf("Unexpected dictionary %+v", m.Dictionary())
	}
}

func TestRetrieveCompressedDictionary(t *testing.T) {
	m, _ := startBridge(t, core.WithCompressedDictionary())

	if raw := m.DictionaryRaw(); len(raw) == 0 || raw[0] != 0x78 {
		t.Fatalf("Expected a zlib dictionary, got % x", raw[:min(len(raw), 2)])
	}
	if v, ok := m.Constant("I2C_MAX_TRANSFER"); !ok || v != "48" {
		t.Errorf("Unexpected I2C_MAX_TRANSFER %q", v)
	}
}

func TestNotConnected(t *testing.T) {
	m := NewMCU()
	if err := m.RetrieveDictionary(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}
}
