package telemetry

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/grafana/pyroscope-go"
	"go.uber.org/zap"
)

// ProfilerConfig selects continuous profiling to a Pyroscope server
type ProfilerConfig struct {
	Enabled           bool
	ServerAddress     string
	ApplicationName   string
	BasicAuthUser     string
	BasicAuthPassword string
	// ProfileTypes defaults to DefaultProfileTypes
	ProfileTypes []pyroscope.ProfileType
}

// DefaultProfileTypes need no extra runtime sampling
var DefaultProfileTypes = []pyroscope.ProfileType{
	pyroscope.ProfileCPU,
	pyroscope.ProfileAllocObjects,
	pyroscope.ProfileAllocSpace,
	pyroscope.ProfileInuseObjects,
	pyroscope.ProfileInuseSpace,
	pyroscope.ProfileGoroutines,
}

var (
	ErrProfilerAddressRequired = errors.New("profiler server address is required when profiling is enabled")
	ErrProfilerNameRequired    = errors.New("profiler application name is required when profiling is enabled")
)

// hostTagEnv maps profile tags to the environment variables that fill them
var hostTagEnv = map[string]string{
	"hostname": "HOSTNAME",
	"pod":      "POD_NAME",
}

// Profiler streams profiles until Stop
type Profiler struct {
	session *pyroscope.Profiler
	logger  *zap.Logger

	stopOnce sync.Once
	stopErr  error
}

// NewProfiler starts profiling when enabled. A disabled profiler is a
// no-op whose Stop always succeeds.
func NewProfiler(cfg ProfilerConfig, logger *zap.Logger) (*Profiler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Profiler{logger: logger.Named("pyroscope")}
	if !cfg.Enabled {
		logger.Info("Continuous profiling disabled")
		return p, nil
	}
	switch {
	case cfg.ServerAddress == "":
		return nil, ErrProfilerAddressRequired
	case cfg.ApplicationName == "":
		return nil, ErrProfilerNameRequired
	}

	types := cfg.ProfileTypes
	if len(types) == 0 {
		types = DefaultProfileTypes
	}
	tags := make(map[string]string, len(hostTagEnv))
	for tag, env := range hostTagEnv {
		if v := os.Getenv(env); v != "" {
			tags[tag] = v
		}
	}

	session, err := pyroscope.Start(pyroscope.Config{
		ApplicationName:   cfg.ApplicationName,
		ServerAddress:     cfg.ServerAddress,
		BasicAuthUser:     cfg.BasicAuthUser,
		BasicAuthPassword: cfg.BasicAuthPassword,
		Logger:            p.logger.Sugar(),
		Tags:              tags,
		ProfileTypes:      types,
	})
	if err != nil {
		return nil, fmt.Errorf("start profiler: %w", err)
	}
	p.session = session

	p.logger.Info("Continuous profiling started",
		zap.String("server_address", cfg.ServerAddress),
		zap.String("application_name", cfg.ApplicationName),
		zap.Int("profile_types", len(types)),
	)
	return p, nil
}

// IsEnabled reports whether profiles are being sent
func (p *Profiler) IsEnabled() bool {
	return p.session != nil
}

// Stop flushes the last profiles. Later calls return the first result.
func (p *Profiler) Stop() error {
	p.stopOnce.Do(func() {
		if p.session == nil {
			return
		}
		if err := p.session.Stop(); err != nil {
			p.stopErr = fmt.Errorf("stop profiler: %w", err)
			p.logger.Error("Profiler stop failed", zap.Error(err))
			return
		}
		p.logger.Info("Continuous profiling stopped")
	})
	return p.stopErr
}
