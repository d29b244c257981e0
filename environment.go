package flowstone

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/flowstone-io/flowstone/message"
	"github.com/flowstone-io/flowstone/timers"
)

// Settings tune kernel behavior for one environment.
type Settings struct {
	// Step requires an explicit Next() call between run-state transitions.
	Step bool `yaml:"step" json:"step,omitempty"`
}

// Service is an externally supplied function a behaviour can call. The
// result becomes the execution output.
type Service func(msg *Message) (any, error)

// Environment carries per-instance execution state: settings, variables,
// registered services, output, the timer service, and the logger. Every
// element created from one Context shares a single Environment.
type Environment struct {
	Settings  Settings
	Variables map[string]any
	Output    map[string]any

	services map[string]Service
	timers   *timers.Timers
	logger   *slog.Logger
}

// EnvironmentOption configures a new environment.
type EnvironmentOption func(*Environment)

// WithSettings sets the environment settings.
func WithSettings(settings Settings) EnvironmentOption {
	return func(e *Environment) { e.Settings = settings }
}

// WithVariables seeds the environment variables.
func WithVariables(variables map[string]any) EnvironmentOption {
	return func(e *Environment) {
		for k, v := range variables {
			e.Variables[k] = v
		}
	}
}

// WithLogger sets the logger used by kernel components.
func WithLogger(logger *slog.Logger) EnvironmentOption {
	return func(e *Environment) { e.logger = logger }
}

// WithTimers replaces the default timer service.
func WithTimers(t *timers.Timers) EnvironmentOption {
	return func(e *Environment) { e.timers = t }
}

// NewEnvironment creates an environment with initialized maps, the default
// timer service, and slog.Default when no logger is given.
func NewEnvironment(opts ...EnvironmentOption) *Environment {
	e := &Environment{
		Variables: make(map[string]any),
		Output:    make(map[string]any),
		services:  make(map[string]Service),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.timers == nil {
		e.timers = timers.New()
	}
	return e
}

// Logger returns the environment logger.
func (e *Environment) Logger() *slog.Logger { return e.logger }

// Timers returns the timer service.
func (e *Environment) Timers() *timers.Timers { return e.timers }

// RegisterService makes a named service available to behaviours.
func (e *Environment) RegisterService(name string, service Service) {
	e.services[name] = service
}

// GetService returns a registered service.
func (e *Environment) GetService(name string) (Service, bool) {
	s, ok := e.services[name]
	return s, ok
}

// Clone returns an environment sharing services, timers, and logger but
// with copied settings, variables, and output. Used when a nested scope
// needs isolated variables.
func (e *Environment) Clone(opts ...EnvironmentOption) *Environment {
	out := &Environment{
		Settings:  e.Settings,
		Variables: make(map[string]any, len(e.Variables)),
		Output:    make(map[string]any, len(e.Output)),
		services:  e.services,
		timers:    e.timers,
		logger:    e.logger,
	}
	for k, v := range e.Variables {
		out.Variables[k] = message.CloneValue(v)
	}
	for k, v := range e.Output {
		out.Output[k] = message.CloneValue(v)
	}
	for _, opt := range opts {
		opt(out)
	}
	return out
}

// EnvironmentState is the serializable part of an environment.
type EnvironmentState struct {
	Settings  Settings       `json:"settings"`
	Variables map[string]any `json:"variables,omitempty"`
	Output    map[string]any `json:"output,omitempty"`
}

// GetState exports settings, variables, and output. Services, timers, and
// the logger are wiring, not state.
func (e *Environment) GetState() *EnvironmentState {
	state := &EnvironmentState{
		Settings:  e.Settings,
		Variables: make(map[string]any, len(e.Variables)),
		Output:    make(map[string]any, len(e.Output)),
	}
	for k, v := range e.Variables {
		state.Variables[k] = message.CloneValue(v)
	}
	for k, v := range e.Output {
		state.Output[k] = message.CloneValue(v)
	}
	return state
}

// Recover restores settings, variables, and output from an export.
func (e *Environment) Recover(state *EnvironmentState) {
	if state == nil {
		return
	}
	e.Settings = state.Settings
	for k, v := range state.Variables {
		e.Variables[k] = message.CloneValue(v)
	}
	for k, v := range state.Output {
		e.Output[k] = message.CloneValue(v)
	}
}

// environmentFile is the YAML shape for LoadEnvironmentFile.
type environmentFile struct {
	Settings  Settings       `yaml:"settings"`
	Variables map[string]any `yaml:"variables"`
}

// LoadEnvironmentFile reads settings and variables from a YAML file and
// returns an environment built from them.
func LoadEnvironmentFile(path string, opts ...EnvironmentOption) (*Environment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read environment file: %w", err)
	}
	return ParseEnvironment(data, opts...)
}

// ParseEnvironment builds an environment from YAML settings/variables.
func ParseEnvironment(data []byte, opts ...EnvironmentOption) (*Environment, error) {
	var file environmentFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	all := append([]EnvironmentOption{
		WithSettings(file.Settings),
		WithVariables(file.Variables),
	}, opts...)
	return NewEnvironment(all...), nil
}
