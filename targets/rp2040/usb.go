//go:build rp2040 || rp2350

package main

import (
	"machine"
	"time"
)

// usbPort makes the CDC serial block on Read instead of returning empty
// reads, so Firmware.Serve does not spin.
type usbPort struct {
	serial machine.Serialer
}

func (p *usbPort) Read(buf []byte) (int, error) {
	for p.serial.Buffered() == 0 {
		time.Sleep(100 * time.Microsecond)
	}
	n := 0
	for n < len(buf) && p.serial.Buffered() > 0 {
		c, err := p.serial.ReadByte()
		if err != nil {
			return n, err
		}
		buf[n] = c
		n++
	}
	return n, nil
}

func (p *usbPort) Write(data []byte) (int, error) {
	written := 0
	for written < len(data) {
		n, err := p.serial.Write(data[written:])
		if err != nil {
			return written, err
		}
		if n == 0 {
			time.Sleep(100 * time.Microsecond)
		}
		written += n
	}
	return written, nil
}
