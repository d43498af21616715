package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// config mirrors the command-line flags. Flags given explicitly override
// values loaded from -config.
type config struct {
	SampleRate  int      `yaml:"sampleRate"`
	Output      string   `yaml:"output"`
	BPM         float64  `yaml:"bpm"`
	Volume      float64  `yaml:"volume"`
	LookaheadMs int      `yaml:"lookaheadMs"`
	TickMs      int      `yaml:"tickMs"`
	Project     string   `yaml:"project"`
	Save        string   `yaml:"save"`
	Duration    string   `yaml:"duration"`
	Verbose     bool     `yaml:"verbose"`
	MaxVoices   int      `yaml:"maxVoices"`
	Effects     []string `yaml:"effects"`
}

func defaultConfig() config {
	return config{
		SampleRate:  48000,
		Output:      "ebiten",
		Volume:      0.8,
		LookaheadMs: 100,
		TickMs:      25,
		MaxVoices:   64,
	}
}

func loadConfig(path string, cfg *config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func (c config) duration() (time.Duration, error) {
	if c.Duration == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Duration)
	if err != nil {
		return 0, fmt.Errorf("invalid -duration %q: %w", c.Duration, err)
	}
	return d, nil
}
