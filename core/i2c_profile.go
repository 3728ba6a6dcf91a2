package core

import (
	"fmt"
	"strings"
)

// PlatformClass selects the bus driver family a device runs on. It fixes the
// transmit buffer size and which optional driver features exist.
type PlatformClass uint8

const (
	PlatformGeneric PlatformClass = iota
	PlatformATmega328
	PlatformAVR
	PlatformMegaAVR
	PlatformSAMD
	PlatformESP32
	PlatformESP8266
	PlatformSTM32Feather
	PlatformTinyWireM
)

// ClockMode says how SetSpeed reaches the bus clock.
type ClockMode uint8

const (
	// ClockDirectSet hands the rate to WireClocker.SetClock.
	ClockDirectSet ClockMode = iota
	// ClockHardwareDivider computes a prescaler/divider pair from
	// Profile.ReferenceClock and programs DividerRegisters.
	ClockHardwareDivider
	// ClockUnsupported rejects every SetSpeed call.
	ClockUnsupported
)

func (m ClockMode) String() string {
	switch m {
	case ClockDirectSet:
		return "direct-set"
	case ClockHardwareDivider:
		return "hardware-divider"
	case ClockUnsupported:
		return "unsupported"
	}
	return fmt.Sprintf("ClockMode(%d)", uint8(m))
}

// ParseClockMode is the inverse of ClockMode.String.
func ParseClockMode(s string) (ClockMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "direct-set", "direct":
		return ClockDirectSet, nil
	case "hardware-divider", "divider":
		return ClockHardwareDivider, nil
	case "unsupported", "none":
		return ClockUnsupported, nil
	}
	return 0, fmt.Errorf("unknown clock mode %q", s)
}

// DefaultBufferSize is the transmit buffer of the classic Wire library and
// the limit used wherever a platform documents nothing larger.
const DefaultBufferSize = 32

// Profile is the set of platform facts a device is configured with. It is
// resolved once when the device is built.
type Profile struct {
	Name  string
	Class PlatformClass

	// MaxBufferSize is the largest single write the driver can buffer.
	MaxBufferSize int

	// SupportsTermination is false on driver families without end().
	SupportsTermination bool

	ClockMode ClockMode

	// ReferenceClock is the CPU clock feeding the divider, in Hz. Only
	// used with ClockHardwareDivider.
	ReferenceClock uint32

	// StoplessRequest marks drivers whose read request cannot leave the
	// bus claimed; the stop flag is ignored for reads.
	StoplessRequest bool
}

var profiles = []Profile{
	{Name: "generic", Class: PlatformGeneric, MaxBufferSize: DefaultBufferSize, SupportsTermination: true, ClockMode: ClockDirectSet},
	{Name: "atmega328", Class: PlatformATmega328, MaxBufferSize: DefaultBufferSize, ClockMode: ClockHardwareDivider, ReferenceClock: 16000000},
	{Name: "avr", Class: PlatformAVR, MaxBufferSize: DefaultBufferSize, ClockMode: ClockDirectSet},
	{Name: "megaavr", Class: PlatformMegaAVR, MaxBufferSize: DefaultBufferSize, SupportsTermination: true, ClockMode: ClockDirectSet},
	// Wire on SAMD cores buffers into a 250 byte RingBuffer.
	{Name: "samd", Class: PlatformSAMD, MaxBufferSize: 250, SupportsTermination: true, ClockMode: ClockDirectSet},
	// I2C_BUFFER_LENGTH on the ESP32 core.
	{Name: "esp32", Class: PlatformESP32, MaxBufferSize: 128, ClockMode: ClockDirectSet},
	{Name: "esp8266", Class: PlatformESP8266, MaxBufferSize: DefaultBufferSize, ClockMode: ClockDirectSet},
	{Name: "stm32-feather", Class: PlatformSTM32Feather, MaxBufferSize: DefaultBufferSize, SupportsTermination: true, ClockMode: ClockUnsupported},
	{Name: "tinywirem", Class: PlatformTinyWireM, MaxBufferSize: DefaultBufferSize, SupportsTermination: true, ClockMode: ClockUnsupported, StoplessRequest: true},
}

// LookupProfile returns the built-in profile for class.
func LookupProfile(class PlatformClass) Profile {
	for _, p := range profiles {
		if p.Class == class {
			return p
		}
	}
	return profiles[0]
}

// ProfileByName finds a built-in profile by its Name.
func ProfileByName(name string) (Profile, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, p := range profiles {
		if p.Name == name {
			return p, nil
		}
	}
	return Profile{}, fmt.Errorf("%w: unknown platform %q", ErrProfile, name)
}

// Profiles lists the built-in profiles.
func Profiles() []Profile {
	return append([]Profile(nil), profiles...)
}

func (p Profile) bufferSize() int {
	if p.MaxBufferSize <= 0 {
		return DefaultBufferSize
	}
	return p.MaxBufferSize
}
