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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/contiv/bgpd/plugins/bgp/model"
)

const (
	prometheusStatsPath = "/stats"

	familyLabel = "family"
	globalLabel = "scope"

	destinationsMetric  = "bgpDestinations"
	routesMetric        = "bgpRoutes"
	attributesMetric    = "bgpAttributes"
	attributeRefsMetric = "bgpAttributeRefs"
	pendingMetric       = "bgpPendingAdvertisements"
	peersMetric         = "bgpPeers"
	establishedMetric   = "bgpEstablishedPeers"
	fibInstalledMetric  = "bgpFIBInstalled"
	fibFailuresMetric   = "bgpFIBFailures"

	globalScope = "global"
)

// initStats creates the gauges and registers them to Prometheus.
func (p *Plugin) initStats() error {
	p.gaugeVecs = map[string]*prometheus.GaugeVec{}
	if p.Prometheus == nil {
		return nil
	}

	err := p.Prometheus.NewRegistry(prometheusStatsPath,
		promhttp.HandlerOpts{ErrorHandling: promhttp.ContinueOnError, ErrorLog: p.Log})
	if err != nil {
		return err
	}

	for _, statItem := range [][2]string{
		{destinationsMetric, "Number of destinations in the RIB"},
		{routesMetric, "Number of paths in the RIB"},
	} {
		p.gaugeVecs[statItem[0]] = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: statItem[0],
			Help: statItem[1],
		}, []string{familyLabel})
	}
	for _, statItem := range [][2]string{
		{attributesMetric, "Number of interned path attribute sets"},
		{attributeRefsMetric, "Number of references to interned path attribute sets"},
		{pendingMetric, "Number of advertisements waiting in the peer queues"},
		{peersMetric, "Number of configured peers"},
		{establishedMetric, "Number of established peers"},
		{fibInstalledMetric, "Number of routes installed into the FIB"},
		{fibFailuresMetric, "Number of failed FIB operations"},
	} {
		p.gaugeVecs[statItem[0]] = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: statItem[0],
			Help: statItem[1],
		}, []string{globalLabel})
	}

	for name, metric := range p.gaugeVecs {
		if err = p.Prometheus.Register(prometheusStatsPath, metric); err != nil {
			p.Log.Errorf("failed to register %v metric %v", name, err)
			return err
		}
	}
	return nil
}

// updateStats publishes the counters of the routing core.
func (p *Plugin) updateStats() {
	if len(p.gaugeVecs) == 0 {
		return
	}
	stats := p.instance.Stats()
	for _, family := range model.Families {
		labels := prometheus.Labels{familyLabel: family.String()}
		p.gaugeVecs[destinationsMetric].With(labels).Set(float64(stats.Destinations[family]))
		p.gaugeVecs[routesMetric].With(labels).Set(float64(stats.Routes[family]))
	}

	global := prometheus.Labels{globalLabel: globalScope}
	p.gaugeVecs[attributesMetric].With(global).Set(float64(stats.Attributes))
	p.gaugeVecs[attributeRefsMetric].With(global).Set(float64(stats.AttributeRefs))
	p.gaugeVecs[pendingMetric].With(global).Set(float64(stats.Pending))
	p.gaugeVecs[peersMetric].With(global).Set(float64(stats.Peers))
	p.gaugeVecs[establishedMetric].With(global).Set(float64(stats.Established))
	if p.fib != nil {
		p.gaugeVecs[fibInstalledMetric].With(global).Set(float64(p.fib.Installed()))
		p.gaugeVecs[fibFailuresMetric].With(global).Set(float64(p.fib.Failures()))
	}
}
