// Command wire-host runs I2C transactions through a bridge firmware, a
// Linux I2C adapter or a simulated bus.
//
// Usage:
//
//	wire-host [flags] scan
//	wire-host [flags] detect ADDR
//	wire-host [flags] read ADDR REG N
//	wire-host [flags] write ADDR REG BYTE...
//	wire-host [flags] speed ADDR HZ
//	wire-host [flags] profiles
package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"twowire/host/config"
	"twowire/host/logging"
)

var (
	configPath = flag.String("config", "", "Path to YAML config file")
	backendArg = flag.String("backend", "", "Bus backend: mcu, linux or sim")
	variantArg = flag.String("variant", "", "Device variant: hardware or software")
	platform   = flag.String("platform", "", "Platform profile for the software variant")
	device     = flag.String("device", "", "Serial device of the bridge firmware")
	busName    = flag.String("bus", "", "periph.io bus name for the linux backend")
	rate       = flag.Uint("rate", 0, "Initial bus clock in Hz")
	verbose    = flag.Bool("verbose", false, "Enable debug logging")
)

func main() {
	flag.Usage = usage
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, flag.Args(), os.Stdout, log); err != nil {
		log.Debug("command failed", zap.Error(err))
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// applyFlags lets explicitly set flags override the loaded configuration.
func applyFlags(cfg *config.Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "backend":
			cfg.Backend = *backendArg
		case "variant":
			cfg.Variant = *variantArg
		case "platform":
			cfg.Platform = *platform
		case "device":
			cfg.Serial.Device = *device
		case "bus":
			cfg.Bus.Name = *busName
		case "rate":
			cfg.Bus.Rate = uint32(*rate)
		case "verbose":
			if *verbose {
				cfg.Log.Level = "debug"
			}
		}
	})
}

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintln(out, "Usage: wire-host [flags] COMMAND [ARGS]")
	fmt.Fprintln(out, "\nCommands:")
	fmt.Fprintln(out, "  scan                    - List responding addresses")
	fmt.Fprintln(out, "  detect ADDR             - Probe one address")
	fmt.Fprintln(out, "  read ADDR REG N         - Read N bytes starting at register REG")
	fmt.Fprintln(out, "  write ADDR REG BYTE...  - Write bytes starting at register REG")
	fmt.Fprintln(out, "  speed ADDR HZ           - Retime the bus through the device at ADDR")
	fmt.Fprintln(out, "  profiles                - List platform profiles")
	fmt.Fprintln(out, "\nFlags:")
	flag.PrintDefaults()
}
