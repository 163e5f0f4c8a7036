// Package config loads the bridge's static startup configuration from
// a YAML file via gopkg.in/yaml.v3. YAML config is for process
// bring-up only and is never written back. Of these values, the
// `key=value;...` wire format the host speaks at runtime
// (internal/orchestrator.ApplyParameters) can change only the USB codec
// card (`card=N`, from which the Bluetooth card is derived); the rest
// have no runtime override.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the complete set of values the bridge needs before it can
// open anything: the serial link to the DMHD-1000, the ALSA card
// indices for the HFP bridge, and the optional bench-test surfaces.
type Config struct {
	Serial   Serial   `yaml:"serial"`
	Audio    Audio    `yaml:"audio"`
	Rigctl   Rigctl   `yaml:"rigctl"`
	Announce Announce `yaml:"announce"`
}

// Serial describes the DMHD-1000's character device.
type Serial struct {
	Device       string `yaml:"device"`
	Baud         int    `yaml:"baud"`
	HangupOnExit bool   `yaml:"hangup_on_exit"`
	GPIODTRChip  string `yaml:"gpio_dtr_chip"`
	GPIODTRLine  int    `yaml:"gpio_dtr_line"`
}

// Audio describes the ALSA card indices the HFP bridge opens.
type Audio struct {
	USBCard int `yaml:"usb_card"`
	// BTCard is loaded but not used by the bridge: the orchestrator
	// derives the Bluetooth SCO card from the USB card as (card+1) mod 2.
	BTCard int `yaml:"bt_card"`
}

// Rigctl configures the optional bench-test TCP shim.
type Rigctl struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// Announce configures the optional mDNS presence announcer.
type Announce struct {
	Enabled bool   `yaml:"enabled"`
	Name    string `yaml:"name"`
}

// Default returns the configuration used when no file is supplied:
// the serial device and card indices are left unset (the caller must
// either load a file or set them via flags), and the bench-test
// surfaces are off.
func Default() Config {
	return Config{
		Serial: Serial{Baud: 115200},
		Rigctl: Rigctl{Listen: ":4532"},
	}
}

// Load reads and parses a YAML config file, starting from Default()
// so a partial file only overrides the fields it mentions.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
