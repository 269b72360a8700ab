// Package config collects the settings of a nachosvm run from defaults, .env
// files, and NACHOS_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/sarchlab/nachosvm/addrspace"
	"github.com/sarchlab/nachosvm/datarecording"
	"github.com/sarchlab/nachosvm/machine"
)

// The environment variables read by FromEnv.
const (
	EnvPagingMode    = "NACHOS_PAGING_MODE"
	EnvPageSize      = "NACHOS_PAGE_SIZE"
	EnvNumPhysPages  = "NACHOS_PHYS_PAGES"
	EnvTLBSize       = "NACHOS_TLB_SIZE"
	EnvUserStackSize = "NACHOS_STACK_SIZE"
	EnvTraceFile     = "NACHOS_TRACE_FILE"
	EnvRecordDriver  = "NACHOS_RECORD_DRIVER"
	EnvRecordDSN     = "NACHOS_RECORD_DSN"
	EnvMonitorPort   = "NACHOS_MONITOR_PORT"
)

// DefaultEnvFile is loaded by Load when it exists and no file is named.
const DefaultEnvFile = ".env"

// Config holds the knobs of a run.
type Config struct {
	PagingMode    addrspace.PagingMode
	PageSize      int
	NumPhysPages  int
	TLBSize       int
	UserStackSize int

	// TraceFile receives one CSV line per paging event. Empty disables it.
	TraceFile string

	// RecordDriver and RecordDSN select the database that stores paging
	// events. An empty driver disables recording.
	RecordDriver string
	RecordDSN    string

	// MonitorPort is the port of the monitoring server. Negative disables
	// the server and zero picks a free port.
	MonitorPort int
}

// Default returns the configuration of the classic machine: 32 frames of 128
// bytes, no TLB, and direct paging.
func Default() Config {
	return Config{
		PagingMode:    addrspace.DirectMode,
		PageSize:      128,
		NumPhysPages:  32,
		TLBSize:       0,
		UserStackSize: 1024,
		MonitorPort:   -1,
	}
}

// Load reads the named .env files, or .env in the working directory if none
// is named, and then applies the environment on top of the defaults. Values
// already in the environment win over the files.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		_, err := os.Stat(DefaultEnvFile)
		if err == nil {
			envFiles = []string{DefaultEnvFile}
		}
	}

	if len(envFiles) > 0 {
		err := godotenv.Load(envFiles...)
		if err != nil {
			return Config{}, fmt.Errorf("loading env files: %w", err)
		}
	}

	return FromEnv(Default())
}

// FromEnv overrides base with the NACHOS_* variables that are set.
func FromEnv(base Config) (Config, error) {
	c := base

	if v, ok := os.LookupEnv(EnvPagingMode); ok {
		mode, err := addrspace.ParsePagingMode(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", EnvPagingMode, err)
		}

		c.PagingMode = mode
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{EnvPageSize, &c.PageSize},
		{EnvNumPhysPages, &c.NumPhysPages},
		{EnvTLBSize, &c.TLBSize},
		{EnvUserStackSize, &c.UserStackSize},
		{EnvMonitorPort, &c.MonitorPort},
	}

	for _, i := range ints {
		v, ok := os.LookupEnv(i.name)
		if !ok {
			continue
		}

		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", i.name, err)
		}

		*i.dst = n
	}

	if v, ok := os.LookupEnv(EnvTraceFile); ok {
		c.TraceFile = v
	}

	if v, ok := os.LookupEnv(EnvRecordDriver); ok {
		c.RecordDriver = v
	}

	if v, ok := os.LookupEnv(EnvRecordDSN); ok {
		c.RecordDSN = v
	}

	return c, c.Validate()
}

// Validate reports the first setting that cannot build a machine.
func (c Config) Validate() error {
	var errs []error

	if c.PageSize <= 0 || c.PageSize%machine.WordSize != 0 {
		errs = append(errs, fmt.Errorf(
			"page size must be a positive multiple of %d, got %d",
			machine.WordSize, c.PageSize))
	}

	if c.NumPhysPages <= 0 {
		errs = append(errs, fmt.Errorf(
			"number of physical pages must be positive, got %d",
			c.NumPhysPages))
	}

	if c.TLBSize < 0 {
		errs = append(errs, fmt.Errorf(
			"TLB size cannot be negative, got %d", c.TLBSize))
	}

	if c.PagingMode == addrspace.LazyMode && c.TLBSize == 0 {
		errs = append(errs, errors.New("lazy paging requires a TLB"))
	}

	if c.UserStackSize < 0 {
		errs = append(errs, fmt.Errorf(
			"user stack size cannot be negative, got %d", c.UserStackSize))
	}

	if c.RecordDriver != "" &&
		!slices.Contains(datarecording.Drivers(), c.RecordDriver) {
		errs = append(errs, fmt.Errorf(
			"unsupported record driver %q", c.RecordDriver))
	}

	return errors.Join(errs...)
}

// MachineBuilder returns a machine builder with the configured geometry.
func (c Config) MachineBuilder() machine.Builder {
	return machine.MakeBuilder().
		WithPageSize(c.PageSize).
		WithNumPhysPages(c.NumPhysPages).
		WithTLBSize(c.TLBSize)
}
