package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// WorkerEnvPrefix marks environment overrides of the worker file:
// ROUTEX_GRPC_PORT sets grpc_port.
const WorkerEnvPrefix = "ROUTEX_"

// Worker is the process-level configuration of a routex engine.
type Worker struct {
	GRPCPort    int    `koanf:"grpc_port" validate:"min=0,max=65535"`
	MetricsPort int    `koanf:"metrics_port" validate:"min=0,max=65535"`
	Pipeline    string `koanf:"pipeline"` // optional, started at boot
	LogLevel    string `koanf:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
	LogJSON     bool   `koanf:"log_json"`
}

func DefaultWorker() Worker {
	return Worker{GRPCPort: 7070, MetricsPort: 9100, LogLevel: "info"}
}

// LoadWorker merges defaults, the YAML file at path (a missing file is not an
// error) and ROUTEX_ environment variables.
func LoadWorker(path string) (Worker, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil &&
			!errors.Is(err, fs.ErrNotExist) {
			return Worker{}, fmt.Errorf("worker config %s: %w", path, err)
		}
	}
	_ = k.Load(env.Provider(WorkerEnvPrefix, ".", envKey(WorkerEnvPrefix)), nil)

	cfg := DefaultWorker()
	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, fmt.Errorf("worker config: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return cfg, fmt.Errorf("worker config: %w", err)
	}
	return cfg, nil
}
