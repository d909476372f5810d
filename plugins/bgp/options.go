// Copyright (c) 2018 Cisco and/or its affiliates.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at:
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package bgp

import (
	"github.com/ligato/cn-infra/config"
	"github.com/ligato/cn-infra/health/statuscheck"
	"github.com/ligato/cn-infra/logging"
	"github.com/ligato/cn-infra/rpc/prometheus"
	"github.com/ligato/cn-infra/rpc/rest"
)

const (
	// PluginName is the name of the BGP plugin.
	PluginName = "bgp"

	// ConfigFlag is the flag selecting the configuration file of the plugin.
	ConfigFlag = "bgp-config"
	// DefaultConfigFile is used when the flag is not set.
	DefaultConfigFile = "bgp.conf"
)

// DefaultPlugin is a default instance of the BGP plugin.
var DefaultPlugin = *NewPlugin()

// NewPlugin creates a new Plugin with the provided Options.
func NewPlugin(opts ...Option) *Plugin {
	p := &Plugin{}

	p.PluginName = PluginName
	p.HTTPHandlers = &rest.DefaultPlugin
	p.Prometheus = &prometheus.DefaultPlugin
	p.StatusCheck = &statuscheck.DefaultPlugin

	for _, o := range opts {
		o(p)
	}

	if p.Log == nil {
		p.Log = logging.ForPlugin(p.String())
	}
	if p.Cfg == nil {
		p.Cfg = config.ForPlugin(p.String(),
			config.WithCustomizedFlag(ConfigFlag, DefaultConfigFile, "Location of the BGP configuration file"))
	}

	return p
}

// Option is a function that can be used in NewPlugin to customize Plugin.
type Option func(*Plugin)

// UseDeps returns Option that can inject custom dependencies.
func UseDeps(f func(*Deps)) Option {
	return func(p *Plugin) {
		f(&p.Deps)
	}
}

// UseConfig returns Option that replaces the configuration file with <cfg>.
func UseConfig(cfg *Config) Option {
	return func(p *Plugin) {
		p.config = cfg
	}
}

// UseUpdateSender returns Option that sets the receiver of drained updates.
func UseUpdateSender(sender UpdateSender) Option {
	return func(p *Plugin) {
		p.sender = sender
	}
}
