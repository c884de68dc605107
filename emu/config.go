package emu

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"dotmat/emu/log"
	"dotmat/hw"
	"dotmat/hw/apu"
)

type Config struct {
	Audio     AudioConfig     `toml:"audio"`
	Video     VideoConfig     `toml:"video"`
	Emulation EmulationConfig `toml:"emulation"`
}

type AudioConfig struct {
	DisableAudio bool `toml:"disable_audio"`
	// Samples is the consumer buffer size; the worker blocks once the
	// resampler holds this many frames (when sync is on).
	Samples      int     `toml:"samples"`
	Sync         bool    `toml:"sync"`
	MasterVolume int     `toml:"master_volume"`
	Mute         [4]bool `toml:"mute"`
}

type VideoConfig struct {
	Sync bool `toml:"sync"`
}

type EmulationConfig struct {
	Style     string  `toml:"style"` // dmg or gba
	FPSTarget float64 `toml:"fps_target"`
}

func DefaultConfig() Config {
	return Config{
		Audio: AudioConfig{
			Samples:      1024,
			Sync:         true,
			MasterVolume: apu.VolumeMax,
		},
		Emulation: EmulationConfig{
			Style:     "dmg",
			FPSTarget: 60,
		},
	}
}

func (cfg *EmulationConfig) HardwareStyle() hw.Style {
	if cfg.Style == "gba" {
		return hw.StyleGBA
	}
	return hw.StyleDMG
}

func configDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return filepath.Join(dir, "dotmat")
}

const cfgFilename = "config.toml"

// LoadConfigOrDefault loads the configuration from the dotmat config
// directory, or provides a default one.
func LoadConfigOrDefault() Config {
	cfg := DefaultConfig()
	path := filepath.Join(configDir(), cfgFilename)
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if !os.IsNotExist(err) {
			log.ModEmu.Warnf("failed to load config %s: %v", path, err)
		}
		return cfg
	}
	return cfg
}

// SaveConfig into the dotmat config directory.
func SaveConfig(cfg Config) error {
	dir := configDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.Create(filepath.Join(dir, cfgFilename))
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}
