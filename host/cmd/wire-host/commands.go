package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"go.uber.org/zap"

	"twowire/core"
	"twowire/host/config"
)

var errUsage = errors.New("invalid arguments, see -help")

// run executes one command against the configured backend and prints its
// result to out.
func run(cfg *config.Config, args []string, out io.Writer, log *zap.Logger) error {
	if len(args) == 0 {
		return errUsage
	}
	if args[0] == "profiles" {
		printProfiles(out)
		return nil
	}

	b, err := openBackend(cfg, log)
	if err != nil {
		return err
	}
	defer b.close()

	switch cmd, args := args[0], args[1:]; cmd {
	case "scan":
		return runScan(cfg, b, out)
	case "detect":
		return runDetect(cfg, b, args, out, log)
	case "read":
		return runRead(cfg, b, args, out, log)
	case "write":
		return runWrite(cfg, b, args, out, log)
	case "speed":
		return runSpeed(cfg, b, args, out, log)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func runScan(cfg *config.Config, b *backend, out io.Writer) error {
	profile, err := core.ProfileByName(cfg.Platform)
	if err != nil {
		return err
	}
	found, err := core.Scan(b.wireDriver(profile.MaxBufferSize), core.FirstScanAddress, core.LastScanAddress)
	if err != nil {
		return err
	}
	for _, addr := range found {
		fmt.Fprintf(out, "0x%02x\n", uint8(addr))
	}
	return nil
}

func runDetect(cfg *config.Config, b *backend, args []string, out io.Writer, log *zap.Logger) error {
	if len(args) != 1 {
		return errUsage
	}
	dev, err := openDevice(cfg, b, args[0], log)
	if err != nil {
		return err
	}
	if dev.Detected() {
		fmt.Fprintf(out, "0x%02x present\n", uint8(dev.Address()))
	} else {
		fmt.Fprintf(out, "0x%02x absent\n", uint8(dev.Address()))
	}
	return nil
}

func runRead(cfg *config.Config, b *backend, args []string, out io.Writer, log *zap.Logger) error {
	if len(args) != 3 {
		return errUsage
	}
	dev, err := openDevice(cfg, b, args[0], log)
	if err != nil {
		return err
	}
	reg, err := parseByte(args[1])
	if err != nil {
		return err
	}
	n, err := strconv.ParseUint(args[2], 0, 16)
	if err != nil {
		return fmt.Errorf("length %q: %w", args[2], err)
	}

	buf := make([]byte, n)
	if err := dev.WriteThenRead([]byte{reg}, buf, false); err != nil {
		return err
	}
	fmt.Fprintf(out, "% x\n", buf)
	return nil
}

func runWrite(cfg *config.Config, b *backend, args []string, out io.Writer, log *zap.Logger) error {
	if len(args) < 2 {
		return errUsage
	}
	dev, err := openDevice(cfg, b, args[0], log)
	if err != nil {
		return err
	}
	reg, err := parseByte(args[1])
	if err != nil {
		return err
	}
	data := make([]byte, 0, len(args)-2)
	for _, a := range args[2:] {
		v, err := parseByte(a)
		if err != nil {
			return err
		}
		data = append(data, v)
	}

	if err := dev.Write(data, true, []byte{reg}); err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote %d bytes\n", len(data))
	return nil
}

func runSpeed(cfg *config.Config, b *backend, args []string, out io.Writer, log *zap.Logger) error {
	if len(args) != 2 {
		return errUsage
	}
	dev, err := openDevice(cfg, b, args[0], log)
	if err != nil {
		return err
	}
	hz, err := strconv.ParseUint(args[1], 0, 32)
	if err != nil {
		return fmt.Errorf("rate %q: %w", args[1], err)
	}
	if err := dev.Begin(false); err != nil {
		return err
	}
	if err := dev.SetSpeed(uint32(hz)); err != nil {
		return err
	}
	fmt.Fprintf(out, "bus clock set to %d Hz\n", hz)
	return nil
}

func openDevice(cfg *config.Config, b *backend, arg string, log *zap.Logger) (core.I2CDevice, error) {
	addr, err := strconv.ParseUint(arg, 0, 7)
	if err != nil {
		return nil, fmt.Errorf("address %q: %w", arg, err)
	}
	return b.device(cfg, core.I2CAddress(addr), log)
}

func parseByte(s string) (byte, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("byte %q: %w", s, err)
	}
	return byte(v), nil
}

func printProfiles(out io.Writer) {
	fmt.Fprintf(out, "%-14s %6s %4s %-16s\n", "PLATFORM", "BUFFER", "END", "CLOCK")
	for _, p := range core.Profiles() {
		end := "no"
		if p.SupportsTermination {
			end = "yes"
		}
		fmt.Fprintf(out, "%-14s %6d %4s %-16s\n", p.Name, p.MaxBufferSize, end, p.ClockMode)
	}
}
