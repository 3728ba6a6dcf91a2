package core_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"twowire/core"
	"twowire/core/simbus"
	"twowire/protocol"
)

// bridgeHost drives a Firmware frame by frame.
type bridgeHost struct {
	t   *testing.T
	fw  *core.Firmware
	seq uint8
}

type reply struct {
	name string
	args []byte
}

func newBridgeHost(t *testing.T, fw *core.Firmware) *bridgeHost {
	return &bridgeHost{t: t, fw: fw, seq: protocol.MessageDest}
}

// send encodes one command; args are uint32 or []byte.
func (h *bridgeHost) send(name string, args ...any) []reply {
	h.t.Helper()
	cmd, ok := h.fw.Registry().GetCommandByName(name)
	if !ok {
		h.t.Fatalf("Unknown command %s", name)
	}

	out := protocol.NewScratchOutput()
	protocol.EncodeFrame(out, h.seq, func(o protocol.OutputBuffer) {
		protocol.EncodeVLQUint(o, uint32(cmd.ID))
		for _, a := range args {
			switch v := a.(type) {
			case uint32:
				protocol.EncodeVLQUint(o, v)
			case int:
				protocol.EncodeVLQUint(o, uint32(v))
			case []byte:
				protocol.EncodeVLQBytes(o, v)
			default:
				h.t.Fatalf("Unsupported argument %T", a)
			}
		}
	})
	h.seq = protocol.NextSequence(h.seq)

	data := h.fw.Receive(out.Result())

	var replies []reply
	var deframer protocol.Deframer
	for len(data) > 0 {
		msg, n, ok := deframer.Next(data)
		data = data[n:]
		if !ok {
			break
		}
		if msg.IsAck() {
			if msg.Sequence != h.seq {
				h.t.Errorf("ACK carries sequence 0x%02x, expected 0x%02x", msg.Sequence, h.seq)
			}
			continue
		}
		payload := msg.Payload
		id, err := protocol.DecodeVLQUint(&payload)
		if err != nil {
			h.t.Fatalf("Bad response: %v", err)
		}
		resp, ok := h.fw.Registry().GetCommand(uint16(id))
		if !ok {
			h.t.Fatalf("Unknown response ID %d", id)
		}
		replies = append(replies, reply{name: resp.Name, args: payload})
	}
	return replies
}

func (h *bridgeHost) expect(name string, replies []reply) *[]byte {
	h.t.Helper()
	if len(replies) != 1 || replies[0].name != name {
		h.t.Fatalf("Expected a single %s, got %v", name, replies)
	}
	return &replies[0].args
}

func decodeUints(t *testing.T, data *[]byte, n int) []uint32 {
	t.Helper()
	vals := make([]uint32, n)
	for i := range vals {
		v, err := protocol.DecodeVLQUint(data)
		if err != nil {
			t.Fatalf("Decoding argument %d: %v", i, err)
		}
		vals[i] = v
	}
	return vals
}

func newSimFirmware(opts ...core.FirmwareOption) (*core.Firmware, *simbus.Bus) {
	bus := simbus.New(64)
	bus.Attach(0x50, &simbus.Memory{})
	return core.NewFirmware(simbus.Buses{0: bus}, opts...), bus
}

func TestFirmwareIdentify(t *testing.T) {
	fw, _ := newSimFirmware()
	host := newBridgeHost(t, fw)

	var dict []byte
	for {
		args := host.expect("identify_response", host.send("identify", len(dict), 40))
		offset := decodeUints(t, args, 1)[0]
		if int(offset) != len(dict) {
			t.Fatalf("Expected offset %d, got %d", len(dict), offset)
		}
		chunk, err := protocol.DecodeVLQBytes(args)
		if err != nil {
			t.Fatal(err)
		}
		if len(chunk) == 0 {
			break
		}
		dict = append(dict, chunk...)
	}

	var parsed struct {
		Commands  map[string]int `json:"commands"`
		Responses map[string]int `json:"responses"`
	}
	if err := json.Unmarshal(dict, &parsed); err != nil {
		t.Fatalf("Dictionary is not JSON: %v", err)
	}
	if parsed.Commands["identify offset=%u count=%c"] != 1 || parsed.Responses["identify_response offset=%u data=%*s"] != 0 {
		t.Error("Bootstrap commands must keep IDs 0 and 1")
	}
	if _, ok := parsed.Commands["i2c_read oid=%c reg=%*s read_len=%u"]; !ok {
		t.Error("Dictionary missing i2c_read")
	}
}

func TestFirmwareI2CRoundTrip(t *testing.T) {
	fw, bus := newSimFirmware()
	host := newBridgeHost(t, fw)

	host.send("config_i2c", 1)
	host.send("i2c_set_bus", 1, 0, 400000, 0x50)
	if bus.Clock() != 400000 {
		t.Errorf("Bus not configured: clock %d", bus.Clock())
	}

	args := host.expect("i2c_write_response", host.send("i2c_write", 1, []byte{0x10, 0xAB, 0xCD}))
	if v := decodeUints(t, args, 2); v[0] != 1 || v[1] != uint32(core.StatusOK) {
		t.Errorf("Unexpected write response %v", v)
	}

	args = host.expect("i2c_read_response", host.send("i2c_read", 1, []byte{0x10}, 2))
	if v := decodeUints(t, args, 2); v[1] != uint32(core.StatusOK) {
		t.Fatalf("Read failed with status %d", v[1])
	}
	data, _ := protocol.DecodeVLQBytes(args)
	if !bytes.Equal(data, []byte{0xAB, 0xCD}) {
		t.Errorf("Expected ab cd, got % x", data)
	}

	args = host.expect("i2c_detect_response", host.send("i2c_detect", 1))
	if v := decodeUints(t, args, 2); v[1] != 1 {
		t.Error("Expected peripheral to be present")
	}

	args = host.expect("i2c_read_response", host.send("i2c_read", 1, []byte{}, core.MaxBridgeTransfer+1))
	if v := decodeUints(t, args, 2); v[1] != uint32(core.StatusDataTooLong) {
		t.Errorf("Expected data too long, got %d", v[1])
	}
}

func TestFirmwareAbsentPeripheral(t *testing.T) {
	fw, _ := newSimFirmware()
	host := newBridgeHost(t, fw)

	host.send("config_i2c", 2)
	host.send("i2c_set_bus", 2, 0, 0, 0x51)

	args := host.expect("i2c_detect_response", host.send("i2c_detect", 2))
	if v := decodeUints(t, args, 2); v[1] != 0 {
		t.Error("Expected peripheral to be absent")
	}

	args = host.expect("i2c_write_response", host.send("i2c_write", 2, []byte{0x00}))
	if v := decodeUints(t, args, 2); v[1] != uint32(core.StatusAddressNACK) {
		t.Errorf("Expected address NACK, got %d", v[1])
	}

	// Unconfigured oids answer with a failure instead of staying silent.
	args = host.expect("i2c_write_response", host.send("i2c_write", 9, []byte{0x00}))
	if v := decodeUints(t, args, 2); v[1] != uint32(core.StatusOther) {
		t.Errorf("Expected other error, got %d", v[1])
	}
}

func TestFirmwareSoftwareTiming(t *testing.T) {
	fw, bus := newSimFirmware(core.WithSoftwareTiming(core.LookupProfile(core.PlatformGeneric)))
	host := newBridgeHost(t, fw)

	host.send("config_i2c", 1)
	host.send("i2c_set_bus", 1, 0, 100000, 0x50)
	host.send("i2c_write", 1, []byte{0x20, 0x42})

	args := host.expect("i2c_read_response", host.send("i2c_read", 1, []byte{0x20}, 1))
	if v := decodeUints(t, args, 2); v[1] != uint32(core.StatusOK) {
		t.Fatalf("Read failed with status %d", v[1])
	}
	if data, _ := protocol.DecodeVLQBytes(args); !bytes.Equal(data, []byte{0x42}) {
		t.Errorf("Expected 42, got % x", data)
	}

	args = host.expect("i2c_speed_response", host.send("i2c_set_speed", 1, 400000))
	if v := decodeUints(t, args, 2); v[1] != core.SpeedStatusOK {
		t.Errorf("Expected speed change to succeed, got %d", v[1])
	}
	if bus.Clock() != 400000 {
		t.Errorf("Expected clock 400000, got %d", bus.Clock())
	}
}

func TestFirmwareSpeedUnsupported(t *testing.T) {
	fw, _ := newSimFirmware(core.WithSoftwareTiming(core.LookupProfile(core.PlatformSTM32Feather)))
	host := newBridgeHost(t, fw)

	host.send("config_i2c", 1)
	host.send("i2c_set_bus", 1, 0, 100000, 0x50)

	args := host.expect("i2c_speed_response", host.send("i2c_set_speed", 1, 400000))
	if v := decodeUints(t, args, 2); v[1] != core.SpeedStatusUnsupported {
		t.Errorf("Expected unsupported, got %d", v[1])
	}
}

func TestFirmwareEmergencyStop(t *testing.T) {
	fw, _ := newSimFirmware()
	host := newBridgeHost(t, fw)

	host.send("config_i2c", 1)
	host.send("i2c_set_bus", 1, 0, 0, 0x50)
	host.send("emergency_stop")
	if !fw.IsShutdown() {
		t.Fatal("Expected shutdown")
	}

	args := host.expect("i2c_write_response", host.send("i2c_write", 1, []byte{0x00}))
	if v := decodeUints(t, args, 2); v[1] != uint32(core.StatusOther) {
		t.Errorf("Expected writes to fail after shutdown, got %d", v[1])
	}

	args = host.expect("config", host.send("get_config"))
	if v := decodeUints(t, args, 3); v[2] != 1 {
		t.Errorf("Expected is_shutdown=1, got %v", v)
	}
}
