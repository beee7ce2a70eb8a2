// Package config loads the YAML run configuration and overlays command-line flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Train struct {
		Epochs         int     `yaml:"epochs"`
		BatchSize      int     `yaml:"batch_size"`
		LR             float64 `yaml:"lr"`
		Momentum       float64 `yaml:"momentum"`
		Evaluate       bool    `yaml:"evaluate"`
		Resume         bool    `yaml:"resume"`
		StartEpoch     int     `yaml:"start_epoch"`
		Seed           int64   `yaml:"seed"`
		HoistIterators bool    `yaml:"hoist_iterators"`
	} `yaml:"train"`
	Model struct {
		Type           string `yaml:"type"`
		FrameDim       int    `yaml:"frame_dim"`
		ExpressionDim  int    `yaml:"expression_dim"`
		HiddenDim      int    `yaml:"hidden_dim"`
		NumClasses     int    `yaml:"num_classes"`
		WithExpression bool   `yaml:"with_expression"`
	} `yaml:"model"`
	Data struct {
		TrainLengths []int   `yaml:"train_lengths"`
		ValLengths   []int   `yaml:"val_lengths"`
		Noise        float64 `yaml:"noise"`
	} `yaml:"data"`
	Paths struct {
		ModelDir       string `yaml:"model_dir"`
		CheckpointName string `yaml:"checkpoint_name"`
		SlotCacheSize  int    `yaml:"slot_cache_size"`
	} `yaml:"paths"`
	Plateau struct {
		Factor    float64 `yaml:"factor"`
		Patience  int     `yaml:"patience"`
		Threshold float64 `yaml:"threshold"`
		MinLR     float64 `yaml:"min_lr"`
	} `yaml:"plateau"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Http struct {
		Port int `yaml:"port"`
	} `yaml:"http"`
	Log struct {
		Level      string `yaml:"level"`
		Path       string `yaml:"path"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
	} `yaml:"log"`
}

// Default returns the configuration used when no file overrides a value.
func Default() *Config {
	var c Config
	c.Train.Epochs = 20
	c.Train.BatchSize = 64
	c.Train.LR = 1e-4
	c.Train.Momentum = 0.9
	c.Train.Seed = 1

	c.Model.Type = "linear"
	c.Model.FrameDim = 32
	c.Model.ExpressionDim = 8
	c.Model.HiddenDim = 64
	c.Model.NumClasses = 51
	c.Model.WithExpression = true

	c.Data.TrainLengths = []int{256, 256, 256}
	c.Data.ValLengths = []int{64, 64, 64}
	c.Data.Noise = 0.5

	c.Paths.ModelDir = "models"
	c.Paths.CheckpointName = "checkpoint.json"
	c.Paths.SlotCacheSize = 8

	c.Plateau.Factor = 0.1
	c.Plateau.Patience = 0
	c.Plateau.Threshold = 1e-4

	c.Database.Path = "data/records.db"
	c.Http.Port = 0

	c.Log.Level = "info"
	c.Log.MaxSizeMB = 100
	c.Log.MaxBackups = 3
	c.Log.MaxAgeDays = 28
	return &c
}

// Load decodes the YAML file at path over the defaults. Keys absent from the
// file keep their default value.
func Load(path string) (*Config, error) {
	config := Default()
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	if err := yaml.NewDecoder(file).Decode(config); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return config, nil
}

func (c *Config) CheckpointPath() string {
	return filepath.Join(c.Paths.ModelDir, c.Paths.CheckpointName)
}

func (c *Config) Validate() error {
	switch {
	case c.Train.Epochs < 1:
		return errors.New("train.epochs must be at least 1")
	case c.Train.BatchSize < 1:
		return errors.New("train.batch_size must be at least 1")
	case c.Train.LR <= 0:
		return errors.New("train.lr must be positive")
	case c.Train.StartEpoch < 0:
		return errors.New("train.start_epoch must not be negative")
	case c.Train.Momentum < 0:
		return errors.New("train.momentum must not be negative")
	case len(c.Data.TrainLengths) == 0:
		return errors.New("data.train_lengths must name at least one class")
	case len(c.Data.ValLengths) != len(c.Data.TrainLengths):
		return fmt.Errorf("data.val_lengths has %d classes, data.train_lengths has %d", len(c.Data.ValLengths), len(c.Data.TrainLengths))
	case c.Model.NumClasses < 1:
		return errors.New("model.num_classes must be at least 1")
	case c.Model.FrameDim < 1 || c.Model.HiddenDim < 1:
		return errors.New("model.frame_dim and model.hidden_dim must be positive")
	case c.Plateau.Factor <= 0 || c.Plateau.Factor >= 1:
		return errors.New("plateau.factor must be in (0, 1)")
	case c.Paths.ModelDir == "" || c.Paths.CheckpointName == "":
		return errors.New("paths.model_dir and paths.checkpoint_name are required")
	case c.Http.Port < 0:
		return errors.New("http.port must not be negative")
	}
	return nil
}

// Flags binds the training command line. Flags that are set explicitly win
// over the file; the rest leave the loaded value untouched.
type Flags struct {
	fs   *flag.FlagSet
	path string

	epochs     int
	batchSize  int
	lr         float64
	evaluate   bool
	resume     bool
	startEpoch int
	hoist      bool
	port       int
	modelDir   string
}

func NewFlags(name string) *Flags {
	f := &Flags{fs: flag.NewFlagSet(name, flag.ContinueOnError)}
	f.fs.StringVar(&f.path, "config", "config.yaml", "path to the YAML config; missing file means defaults")
	f.fs.IntVar(&f.epochs, "epochs", 0, "number of total epochs to run")
	f.fs.IntVar(&f.batchSize, "batch_size", 0, "mini-batch size")
	f.fs.Float64Var(&f.lr, "lr", 0, "initial learning rate")
	f.fs.BoolVar(&f.evaluate, "evaluate", false, "evaluate the model on the validation set and exit")
	f.fs.BoolVar(&f.resume, "resume", false, "resume from the latest checkpoint")
	f.fs.IntVar(&f.startEpoch, "start_epoch", 0, "manual epoch number (useful on restarts)")
	f.fs.BoolVar(&f.hoist, "hoist_iterators", false, "create loader iterators once per epoch instead of every step")
	f.fs.IntVar(&f.port, "port", 0, "monitoring HTTP port, 0 disables")
	f.fs.StringVar(&f.modelDir, "model_dir", "", "directory for the checkpoint and classifier slots")
	return f
}

// Parse reads args, loads the config file and applies explicitly set flags.
// The result is validated.
func (f *Flags) Parse(args []string) (*Config, error) {
	if err := f.fs.Parse(args); err != nil {
		return nil, err
	}

	config, err := Load(f.path)
	if errors.Is(err, os.ErrNotExist) {
		config = Default()
	} else if err != nil {
		return nil, err
	}

	f.fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "epochs":
			config.Train.Epochs = f.epochs
		case "batch_size":
			config.Train.BatchSize = f.batchSize
		case "lr":
			config.Train.LR = f.lr
		case "evaluate":
			config.Train.Evaluate = f.evaluate
		case "resume":
			config.Train.Resume = f.resume
		case "start_epoch":
			config.Train.StartEpoch = f.startEpoch
		case "hoist_iterators":
			config.Train.HoistIterators = f.hoist
		case "port":
			config.Http.Port = f.port
		case "model_dir":
			config.Paths.ModelDir = f.modelDir
		}
	})

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Path is the config file that Parse read.
func (f *Flags) Path() string {
	return f.path
}
