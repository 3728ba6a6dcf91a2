package core

import "fmt"

// Divider is a prescaler/bit-rate pair for a TWI style clock generator,
// where SCL = reference / (16 + 2 * BitRate * 4^Prescaler).
type Divider struct {
	Prescaler uint8 // selector 0..3 for x1, x4, x16, x64
	BitRate   uint8
}

// Multiplier returns the prescaler factor the selector stands for.
func (d Divider) Multiplier() uint32 {
	return 1 << (2 * uint32(d.Prescaler))
}

const maxRawDivider = 255 * 64

// ComputeDivider picks the smallest prescaler that lets the bit-rate
// register hold the divider needed for desired Hz from a reference clock.
// Larger dividers never select a smaller prescaler.
func ComputeDivider(reference, desired uint32) (Divider, error) {
	if desired == 0 || desired > reference/18 {
		return Divider{}, fmt.Errorf("%w: %d Hz from a %d Hz reference", ErrSpeedOutOfRange, desired, reference)
	}

	raw := (reference/desired - 16) / 2
	if raw > maxRawDivider {
		return Divider{}, fmt.Errorf("%w: %d Hz needs divider %d", ErrSpeedOutOfRange, desired, raw)
	}

	var d Divider
	for raw > 255*d.Multiplier() {
		d.Prescaler++
	}
	d.BitRate = uint8(raw / d.Multiplier())
	return d, nil
}

// Frequency returns the SCL rate d produces from reference.
func (d Divider) Frequency(reference uint32) uint32 {
	return reference / (16 + 2*uint32(d.BitRate)*d.Multiplier())
}
