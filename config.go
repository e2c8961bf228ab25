package trajclust

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/spf13/afero"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Backend selects where the distance matrix lives.
type Backend string

const (
	BackendAuto   Backend = "auto"
	BackendMemory Backend = "memory"
	BackendDisk   Backend = "disk"
)

// Config controls matrix storage, population and node statistics.
// Start with [DefaultConfig] and override the fields you need.
type Config struct {
	// Backend chooses the matrix storage. "memory" keeps the triangle in RAM,
	// "disk" writes it to Path. "auto" uses memory unless the element count
	// exceeds MaxMemoryElements. Default: "auto".
	Backend Backend `yaml:"backend"`

	// Path is the disk matrix file. Required for "disk"; used by "auto" when it
	// falls back to disk. Default: "cmatrix.tcmx".
	Path string `yaml:"path"`

	// MaxMemoryElements is the largest element count the in-memory backend
	// accepts. Default: 1<<28 (1 GiB of float32).
	MaxMemoryElements int `yaml:"max_memory_elements"`

	// Workers is the number of goroutines computing distances during
	// population, and nodes processed concurrently by ClusterList.ComputeStats.
	// 0 means runtime.NumCPU(). Default: 0 (auto).
	Workers int `yaml:"workers"`

	// Sieve clusters only every Sieve-th member. Matrix index i is member
	// i*Sieve. Must be >= 1. Default: 1.
	Sieve int `yaml:"sieve"`

	// Fit superposes frames before measuring RMSD. Default: true.
	Fit bool `yaml:"fit"`

	// CacheBlocks copies each node's distance sub-block into memory before
	// computing its statistics. Always done for disk matrices. Default: false.
	CacheBlocks bool `yaml:"cache_blocks"`

	// Logger receives progress messages. Default: zap.NewNop().
	Logger *zap.Logger `yaml:"-"`
}

// DefaultConfig returns a Config with reasonable defaults.
func DefaultConfig() Config {
	return Config{
		Backend:           BackendAuto,
		Path:              "cmatrix.tcmx",
		MaxMemoryElements: 1 << 28,
		Sieve:             1,
		Fit:               true,
	}
}

// applyDefaults fills in zero-valued config fields with their defaults.
func applyDefaults(cfg *Config) {
	if cfg.Backend == "" {
		cfg.Backend = BackendAuto
	}
	if cfg.Sieve == 0 {
		cfg.Sieve = 1
	}
	if cfg.Workers == 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
}

// validateConfig checks that cfg fields are valid.
func validateConfig(cfg *Config) error {
	switch cfg.Backend {
	case BackendAuto, BackendMemory, BackendDisk:
	default:
		return fmt.Errorf("%w: Backend must be \"auto\", \"memory\" or \"disk\", got %q", ErrInvalidConfig, cfg.Backend)
	}
	if cfg.Backend != BackendMemory && cfg.Path == "" {
		return fmt.Errorf("%w: Path is required for backend %q", ErrInvalidConfig, cfg.Backend)
	}
	if cfg.MaxMemoryElements < 0 {
		return fmt.Errorf("%w: MaxMemoryElements must be >= 0, got %d", ErrInvalidConfig, cfg.MaxMemoryElements)
	}
	if cfg.Workers < 0 {
		return fmt.Errorf("%w: Workers must be >= 0, got %d", ErrInvalidConfig, cfg.Workers)
	}
	if cfg.Sieve < 1 {
		return fmt.Errorf("%w: Sieve must be >= 1, got %d", ErrInvalidConfig, cfg.Sieve)
	}
	return nil
}

// ParseConfig decodes YAML on top of DefaultConfig and validates the result.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	applyDefaults(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads and parses a YAML config file from fs.
func LoadConfig(fs afero.Fs, path string) (Config, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return Config{}, fmt.Errorf("trajclust: read config %s: %w", path, err)
	}
	return ParseConfig(data)
}

// NewMatrix creates and allocates a matrix for n members using the backend
// cfg selects. fs is only used by the disk backend; nil means the OS
// filesystem.
func NewMatrix(cfg Config, fs afero.Fs, n int) (DistanceMatrix, error) {
	applyDefaults(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}
	log := cfg.Logger

	if cfg.Backend != BackendDisk {
		m := NewMemoryMatrix(cfg.MaxMemoryElements)
		err := m.Allocate(n)
		if err == nil {
			log.Info("allocated memory matrix", zap.Int("members", n), zap.Int("elements", m.Size()))
			return m, nil
		}
		if cfg.Backend == BackendMemory || !errors.Is(err, ErrAllocation) {
			return nil, err
		}
		if _, sizeErr := NumElements(n); sizeErr != nil {
			return nil, sizeErr
		}
		log.Warn("matrix exceeds memory limit, using disk",
			zap.Int("members", n),
			zap.Int("max_memory_elements", cfg.MaxMemoryElements),
			zap.String("path", cfg.Path),
		)
	}

	d := NewDiskMatrix(fs, cfg.Path, cfg.Sieve, log)
	if err := d.Allocate(n); err != nil {
		return nil, err
	}
	return d, nil
}
