package extmerge

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Run store kinds accepted by Config.Store.
const (
	StoreMemory = "memory" // runs kept in memory, no I/O
	StoreFile   = "file"   // one file per run under TempFilesDir
	StorePebble = "pebble" // runs as key ranges in a Pebble database under TempFilesDir
)

// Config holds configuration settings for extmerge
type Config struct {
	BufferSize          int          // records each buffer holds, at least 1
	NumBuffers          int          // buffers in the pool, at least 3: NumBuffers-1 inputs and one output
	Workers             int          // maximum number of group merges running at once within a pass
	HeapThreshold       int          // merges with more inputs than this select through a heap instead of a scan
	MaxGroupRetries     int          // times a pass re-attempts only its failed groups before giving up
	SnapshotEvery       int          // send buffer snapshots to the Observer every n output flushes, 0 disables
	Store               string       // run store kind: StoreMemory, StoreFile or StorePebble
	TempFilesDir        string       // empty for use OS default ex: /var/tmp
	MergeFilenamePrefix string       // prefix for the run directory put in TempFilesDir
	Compress            bool         // zstd compress run files (StoreFile only)
	Mmap                bool         // memory-map uncompressed run files for reading (StoreFile only)
	Logger              *slog.Logger // nil discards logs
	Observer            Observer     // nil for no progress reporting
}

// DefaultConfig returns the default configuration options used if none provided
func DefaultConfig() *Config {
	return &Config{
		BufferSize:          4096,
		NumBuffers:          16,
		Workers:             4,
		HeapThreshold:       8,
		MaxGroupRetries:     1,
		SnapshotEvery:       0,
		Store:               StoreFile,
		MergeFilenamePrefix: fmt.Sprintf("extmerge_%d_", os.Getpid()),
		TempFilesDir:        "",
	}
}

// mergeConfig returns a copy of c with unset values replaced by the defaults.
// BufferSize and NumBuffers are never defaulted: they define the memory
// ceiling, so a zero there is reported by Validate instead of guessed.
func mergeConfig(c *Config) *Config {
	d := DefaultConfig()
	if c == nil {
		c = d
	} else {
		cp := *c
		c = &cp
	}
	if c.Workers == 0 {
		c.Workers = d.Workers
	}
	if c.HeapThreshold == 0 {
		c.HeapThreshold = d.HeapThreshold
	}
	if c.Store == "" {
		c.Store = d.Store
	}
	if c.MergeFilenamePrefix == "" {
		c.MergeFilenamePrefix = d.MergeFilenamePrefix
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if c.Observer == nil {
		c.Observer = NopObserver{}
	}
	// skipping TempFilesDir as it is the empty string
	return c
}

// Validate reports the first invalid setting as a *ConfigError.
func (c *Config) Validate() error {
	switch {
	case c.NumBuffers < 3:
		return &ConfigError{Field: "NumBuffers", Value: c.NumBuffers, Reason: "need at least 2 input buffers and 1 output buffer"}
	case c.BufferSize < 1:
		return &ConfigError{Field: "BufferSize", Value: c.BufferSize, Reason: "buffers must hold at least one record"}
	case c.Workers < 1:
		return &ConfigError{Field: "Workers", Value: c.Workers, Reason: "must be positive"}
	case c.HeapThreshold < 1:
		return &ConfigError{Field: "HeapThreshold", Value: c.HeapThreshold, Reason: "must be positive"}
	case c.MaxGroupRetries < 0:
		return &ConfigError{Field: "MaxGroupRetries", Value: c.MaxGroupRetries, Reason: "must not be negative"}
	case c.SnapshotEvery < 0:
		return &ConfigError{Field: "SnapshotEvery", Value: c.SnapshotEvery, Reason: "must not be negative"}
	}
	switch c.Store {
	case StoreMemory, StoreFile, StorePebble:
	default:
		return &ConfigError{Field: "Store", Value: c.Store, Reason: "unknown run store"}
	}
	return nil
}
