package httpconfig

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AlexLonberg/js-api-router/internal/headers"
)

// headerSpec is one entry of a YAML-declared header list.
type headerSpec struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
}

// classSpec is the YAML shape of one registered config class or preset
// (spec §3 "kind" / "Preset configuration"). RetryDelay is expressed only
// as a constant-per-attempt duration here; a file cannot describe an
// arbitrary function of attempt index, so a non-zero value becomes a
// RetryDelayFunc that ignores its argument.
type classSpec struct {
	Executor       string       `yaml:"executor"`
	QueueKey       string       `yaml:"queueKey"`
	QueueLimit     int          `yaml:"queueLimit"`
	QueuePriority  int          `yaml:"queuePriority"`
	QueueUnordered *bool        `yaml:"queueUnordered"`
	Timeout        string       `yaml:"timeout"`
	Retries        int          `yaml:"retries"`
	RetryDelay     string       `yaml:"retryDelay"`
	Headers        []headerSpec `yaml:"headers"`
}

// FileConfig is the bulk preset/config-class bundle loaded from a YAML
// file (spec §3 registries, populated in bulk rather than one call per
// entry).
type FileConfig struct {
	ConfigClasses map[string]classSpec `yaml:"configClasses"`
	Presets       map[string]classSpec `yaml:"presets"`
}

// LoadFile reads and parses a YAML preset/config-class bundle.
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading httpconfig file: %w", err)
	}
	cfg := &FileConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing httpconfig file: %w", err)
	}
	return cfg, nil
}

// toOptions converts one YAML spec into the composer's EndpointOptions
// layer shape; executor names are resolved lazily through the middleware
// registry by Producer.Resolve, same as any other reference.
func (s classSpec) toOptions() (EndpointOptions, error) {
	out := EndpointOptions{}
	if s.Executor != "" {
		out.Executor = Set(ByName(s.Executor))
	}
	if s.QueueKey != "" {
		out.QueueKey = Set(s.QueueKey)
	}
	if s.QueueLimit != 0 {
		out.QueueLimit = Set(s.QueueLimit)
	}
	if s.QueuePriority != 0 {
		out.QueuePriority = Set(s.QueuePriority)
	}
	if s.QueueUnordered != nil {
		out.QueueUnordered = Set(*s.QueueUnordered)
	}
	if s.Timeout != "" {
		d, err := time.ParseDuration(s.Timeout)
		if err != nil {
			return out, fmt.Errorf("invalid timeout %q: %w", s.Timeout, err)
		}
		out.Timeout = Set(d)
	}
	if s.Retries != 0 {
		out.Retries = Set(s.Retries)
	}
	if s.RetryDelay != "" {
		d, err := time.ParseDuration(s.RetryDelay)
		if err != nil {
			return out, fmt.Errorf("invalid retryDelay %q: %w", s.RetryDelay, err)
		}
		out.RetryDelay = Set(RetryDelayFunc(func(int) time.Duration { return d }))
	}
	if len(s.Headers) > 0 {
		entries := make([]headers.Entry, len(s.Headers))
		for i, h := range s.Headers {
			entries[i] = headers.Entry{Name: h.Name, Value: h.Value}
		}
		out.Headers = Set(headers.New(entries...))
	}
	return out, nil
}

func (s classSpec) toPreset() (Preset, error) {
	opts, err := s.toOptions()
	if err != nil {
		return Preset{}, err
	}
	return Preset{
		Executor:       opts.Executor,
		Preprocessor:   opts.Preprocessor,
		Postprocessor:  opts.Postprocessor,
		Errorprocessor: opts.Errorprocessor,
		QueueKey:       opts.QueueKey,
		QueueLimit:     opts.QueueLimit,
		QueuePriority:  opts.QueuePriority,
		QueueUnordered: opts.QueueUnordered,
		Timeout:        opts.Timeout,
		Retries:        opts.Retries,
		RetryDelay:     opts.RetryDelay,
		RequestInit:    opts.RequestInit,
		Headers:        opts.Headers,
	}, nil
}

// ApplyTo registers every config class and preset this file declares into
// regs. Registers fail fast (and leave regs partially populated) on the
// first duplicate name or malformed duration, matching Registry.Register's
// own fail-fast contract.
func (f *FileConfig) ApplyTo(regs *Registries) error {
	for name, spec := range f.ConfigClasses {
		opts, err := spec.toOptions()
		if err != nil {
			return fmt.Errorf("config class %q: %w", name, err)
		}
		if err := regs.ConfigClass.Register(name, opts); err != nil {
			return fmt.Errorf("config class %q: %w", name, err)
		}
	}
	for name, spec := range f.Presets {
		preset, err := spec.toPreset()
		if err != nil {
			return fmt.Errorf("preset %q: %w", name, err)
		}
		if err := regs.Preset.Register(name, preset); err != nil {
			return fmt.Errorf("preset %q: %w", name, err)
		}
	}
	return nil
}
