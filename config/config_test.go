package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadKeepsDefaultsForMissingKeys(t *testing.T) {
	path := writeConfig(t, `
train:
  epochs: 5
  lr: 0.01
data:
  train_lengths: [10, 20]
  val_lengths: [4, 4]
`)
	config, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if config.Train.Epochs != 5 || config.Train.LR != 0.01 {
		t.Fatalf("file values not applied: %+v", config.Train)
	}
	if config.Train.BatchSize != 64 || config.Train.Momentum != 0.9 || config.Model.NumClasses != 51 || !config.Model.WithExpression {
		t.Fatalf("defaults lost: %+v %+v", config.Train, config.Model)
	}
	if len(config.Data.TrainLengths) != 2 {
		t.Fatalf("expected 2 classes, got %v", config.Data.TrainLengths)
	}
	if err := config.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"epochs", func(c *Config) { c.Train.Epochs = 0 }},
		{"batch size", func(c *Config) { c.Train.BatchSize = 0 }},
		{"lr", func(c *Config) { c.Train.LR = 0 }},
		{"start epoch", func(c *Config) { c.Train.StartEpoch = -1 }},
		{"class mismatch", func(c *Config) { c.Data.ValLengths = []int{1} }},
		{"factor", func(c *Config) { c.Plateau.Factor = 1 }},
	}
	for _, tc := range cases {
		config := Default()
		tc.mutate(config)
		if err := config.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
	if err := Default().Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestFlagsOverrideFile(t *testing.T) {
	path := writeConfig(t, `
train:
  epochs: 5
  batch_size: 16
  resume: true
`)
	flags := NewFlags("train")
	config, err := flags.Parse([]string{"-config", path, "-epochs", "7", "-evaluate", "-start_epoch", "2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if flags.Path() != path {
		t.Fatalf("expected config path %s, got %s", path, flags.Path())
	}
	if config.Train.Epochs != 7 || !config.Train.Evaluate || config.Train.StartEpoch != 2 {
		t.Fatalf("flags not applied: %+v", config.Train)
	}
	if config.Train.BatchSize != 16 || !config.Train.Resume {
		t.Fatalf("unset flags overrode the file: %+v", config.Train)
	}
}

func TestFlagsMissingFileUsesDefaults(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.yaml")
	config, err := NewFlags("train").Parse([]string{"-config", missing})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if config.Train.Epochs != 20 {
		t.Fatalf("expected default epochs, got %d", config.Train.Epochs)
	}

	if _, err := NewFlags("train").Parse([]string{"-config", missing, "-lr", "-1"}); err == nil {
		t.Fatal("expected validation error for negative lr")
	}
}
