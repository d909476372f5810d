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

package main

import (
	"github.com/ligato/cn-infra/agent"
	"github.com/ligato/cn-infra/health/probe"
	"github.com/ligato/cn-infra/logging"
	"github.com/ligato/cn-infra/logging/logrus"
	"github.com/ligato/cn-infra/rpc/prometheus"
	"github.com/ligato/cn-infra/rpc/rest"
	"github.com/namsral/flag"

	"github.com/contiv/bgpd/plugins/bgp"
)

var debug = flag.Bool("debug", false, "Log every event processed by the BGP event loop")

// BGPD is the BGP routing daemon.
type BGPD struct {
	HTTP        *rest.Plugin
	Prometheus  *prometheus.Plugin
	HealthProbe *probe.Plugin
	BGP         *bgp.Plugin
}

func (d *BGPD) String() string {
	return "BGPD"
}

// Init is called at startup phase. Method added in order to implement Plugin interface.
func (d *BGPD) Init() error {
	return nil
}

// Close is called at cleanup phase. Method added in order to implement Plugin interface.
func (d *BGPD) Close() error {
	return nil
}

func main() {
	bgpd := &BGPD{
		HTTP:        &rest.DefaultPlugin,
		Prometheus:  &prometheus.DefaultPlugin,
		HealthProbe: &probe.DefaultPlugin,
		BGP:         &bgp.DefaultPlugin,
	}

	// flags are parsed by the agent
	a := agent.NewAgent(agent.AllPlugins(bgpd))
	if *debug {
		bgp.DefaultPlugin.Log.SetLevel(logging.DebugLevel)
	}
	if err := a.Run(); err != nil {
		logrus.DefaultLogger().Fatal(err)
	}
}
