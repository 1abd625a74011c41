// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package plugin

import (
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
)

type Plugin interface {
	Start() error
	Stop() error
}

// Observable is implemented by plugins that accept a logger and metrics
// registry before they are started
type Observable interface {
	SetLogger(*slog.Logger)
	SetPromRegistry(prometheus.Registerer)
}

// ErrorPlugin is a plugin that always returns an error on Start()
type ErrorPlugin struct {
	Err error
}

func (e *ErrorPlugin) Start() error {
	return e.Err
}

func (e *ErrorPlugin) Stop() error {
	return nil
}

// NewErrorPlugin creates a new error plugin that returns the given error on Start()
func NewErrorPlugin(err error) Plugin {
	return &ErrorPlugin{Err: err}
}

// StartPlugin gets a plugin from the registry, passes it the logger and
// metrics registry if it accepts them, and starts it
func StartPlugin(
	pluginType PluginType,
	pluginName string,
	logger *slog.Logger,
	promRegistry prometheus.Registerer,
) (Plugin, error) {
	p := GetPlugin(pluginType, pluginName)
	if p == nil {
		return nil, fmt.Errorf(
			"%s plugin '%s' not found",
			PluginTypeName(pluginType),
			pluginName,
		)
	}
	if o, ok := p.(Observable); ok {
		if logger != nil {
			o.SetLogger(logger)
		}
		if promRegistry != nil {
			o.SetPromRegistry(promRegistry)
		}
	}
	if err := p.Start(); err != nil {
		return nil, fmt.Errorf(
			"failed to start %s plugin '%s': %w",
			PluginTypeName(pluginType),
			pluginName,
			err,
		)
	}
	return p, nil
}

// SetPluginOption sets the value of a named option for a plugin. Unknown
// option names are ignored so callers can set options (like data-dir) that
// only some plugins have. It must be called before the plugin is
// instantiated.
func SetPluginOption(
	pluginType PluginType,
	pluginName string,
	optionName string,
	value any,
) error {
	for _, p := range pluginEntries {
		if p.Type != pluginType || p.Name != pluginName {
			continue
		}
		for _, opt := range p.Options {
			if opt.Name == optionName {
				if err := assignOption(opt, value); err != nil {
					return fmt.Errorf("option %s: %w", optionName, err)
				}
				return nil
			}
		}
		return nil
	}
	return fmt.Errorf(
		"plugin %s of type %s not found",
		pluginName,
		PluginTypeName(pluginType),
	)
}

func assignOption(opt PluginOption, value any) error {
	if opt.Dest == nil {
		return fmt.Errorf("nil destination")
	}
	switch opt.Type {
	case PluginOptionTypeString:
		v, ok := value.(string)
		dest, destOk := opt.Dest.(*string)
		if !ok || !destOk {
			return fmt.Errorf("expected string, got %T", value)
		}
		*dest = v
	case PluginOptionTypeBool:
		v, ok := value.(bool)
		dest, destOk := opt.Dest.(*bool)
		if !ok || !destOk {
			return fmt.Errorf("expected bool, got %T", value)
		}
		*dest = v
	case PluginOptionTypeInt:
		v, ok := value.(int)
		dest, destOk := opt.Dest.(*int)
		if !ok || !destOk {
			return fmt.Errorf("expected int, got %T", value)
		}
		*dest = v
	case PluginOptionTypeUint:
		dest, destOk := opt.Dest.(*uint64)
		if !destOk {
			return fmt.Errorf("expected *uint64 destination, got %T", opt.Dest)
		}
		switch tv := value.(type) {
		case uint64:
			*dest = tv
		case int:
			if tv < 0 {
				return fmt.Errorf("negative value %d", tv)
			}
			*dest = uint64(tv)
		default:
			return fmt.Errorf("expected uint64 or int, got %T", value)
		}
	default:
		return fmt.Errorf("unknown plugin option type %d", opt.Type)
	}
	return nil
}
