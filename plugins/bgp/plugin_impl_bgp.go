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
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/ligato/cn-infra/health/statuscheck"
	"github.com/ligato/cn-infra/infra"
	"github.com/ligato/cn-infra/logging"
	prometheusplugin "github.com/ligato/cn-infra/rpc/prometheus"
	"github.com/ligato/cn-infra/rpc/rest"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/contiv/bgpd/plugins/bgp/adjrib"
	"github.com/contiv/bgpd/plugins/bgp/decision"
	"github.com/contiv/bgpd/plugins/bgp/export"
	"github.com/contiv/bgpd/plugins/bgp/fib"
	"github.com/contiv/bgpd/plugins/bgp/instance"
	"github.com/contiv/bgpd/plugins/bgp/model"
	"github.com/contiv/bgpd/plugins/bgp/peer"
	"github.com/contiv/bgpd/plugins/bgp/restapi"
	"github.com/contiv/bgpd/plugins/bgp/rib"
)

// Plugin hosts the BGP routing core and serializes all access to it
// through a single event loop.
type Plugin struct {
	Deps

	config   *Config
	instance *instance.Instance
	fib      *fib.Syncer

	senderLock sync.Mutex
	sender     UpdateSender

	pacer *pacer
	// flushes requested for peers with zero advertisement interval
	immediate map[timerKey]bool

	ctx                context.Context
	cancel             context.CancelFunc
	wg                 sync.WaitGroup
	eventQueue         chan *queuedEvent
	followUpEventQueue chan *queuedEvent
	evLoopGID          string
	evLoopStarted      chan struct{}
	evSeqNum           uint64

	historyLock  sync.Mutex
	eventHistory []*restapi.EventRecord

	gaugeVecs map[string]*prometheus.GaugeVec
}

// Deps groups the dependencies of the Plugin.
type Deps struct {
	infra.PluginDeps

	HTTPHandlers rest.HTTPHandlers
	Prometheus   prometheusplugin.API
	StatusCheck  statuscheck.PluginStatusWriter
}

// logSender is used until the session layer registers its encoder.
type logSender struct {
	log logging.Logger
}

// SendUpdate logs the batch.
func (s *logSender) SendUpdate(batch adjrib.UpdateBatch) {
	if batch.EndOfRIB {
		s.log.Debugf("UPDATE to %s (%s): End-of-RIB", batch.Peer, batch.Family)
		return
	}
	if batch.Queue.IsWithdraw() {
		s.log.Debugf("UPDATE to %s (%s): withdraw %v", batch.Peer, batch.Family, batch.Prefixes)
		return
	}
	s.log.Debugf("UPDATE to %s (%s): announce %v with %s", batch.Peer, batch.Family, batch.Prefixes, batch.Attrs)
}

// Init loads the configuration, builds the routing core and starts
// the event loop.
func (p *Plugin) Init() error {
	if p.config == nil {
		p.config = DefaultConfig()
		if err := p.loadConfig(p.config); err != nil {
			return err
		}
	}
	if err := p.config.Validate(); err != nil {
		return errors.Wrap(err, "invalid BGP configuration")
	}
	p.Log.Infof("BGP configuration: %+v", *p.config)

	var listeners []decision.Listener
	if p.config.FIB.Enabled {
		var installer fib.Installer
		if p.config.FIB.DryRun {
			installer = &fib.LogInstaller{Log: p.childLogger("-fibDryRun")}
		} else {
			installer = fib.NewNetlinkInstaller(p.childLogger("-netlink"), p.config.FIB.Protocol, p.config.FIB.Table)
		}
		p.fib = fib.NewSyncer(p.childLogger("-fib"), installer)
		listeners = append(listeners, p.fib)
	}
	cfg, err := p.config.InstanceConfig()
	if err != nil {
		return errors.Wrap(err, "invalid BGP instance configuration")
	}
	p.instance = instance.New(p.Log, cfg, listeners...)
	p.instance.SetImmediateHandler(p.requestImmediateFlush)

	if p.sender == nil {
		p.sender = &logSender{log: p.Log}
	}
	if err := p.applyConfig(); err != nil {
		return err
	}
	if err := p.initStats(); err != nil {
		return err
	}

	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.eventQueue = make(chan *queuedEvent, eventQueueSize)
	p.followUpEventQueue = make(chan *queuedEvent, eventQueueSize)
	p.evLoopStarted = make(chan struct{})
	p.immediate = make(map[timerKey]bool)
	p.pacer = newPacer(p.Log, p.PushEvent)

	p.wg.Add(1)
	go p.eventLoop()
	<-p.evLoopStarted

	if p.config.StatsInterval > 0 {
		p.wg.Add(1)
		go p.periodicStats()
	}

	p.registerHandlers()
	return nil
}

// AfterInit brings up the peers configured with startEstablished.
func (p *Plugin) AfterInit() error {
	if p.StatusCheck != nil {
		p.StatusCheck.Register(p.PluginName, nil)
		p.StatusCheck.ReportStateChange(p.PluginName, statuscheck.OK, nil)
	}
	for i := range p.config.Peers {
		pc := &p.config.Peers[i]
		if !pc.StartEstablished {
			continue
		}
		_, families, err := pc.build(p.config)
		if err != nil {
			return errors.Wrapf(err, "failed to bring up peer %s", pc.Address)
		}
		if err := p.PushEvent(NewPeerUpEvent(net.ParseIP(pc.Address), nil, families...)); err != nil {
			return errors.Wrapf(err, "failed to bring up peer %s", pc.Address)
		}
	}
	return nil
}

// Close stops the event loop and the timers.
func (p *Plugin) Close() error {
	if p.cancel != nil {
		p.cancel()
		p.pacer.stopAll()
		p.wg.Wait()
	}
	return nil
}

// SetUpdateSender registers the encoder of drained advertisements.
func (p *Plugin) SetUpdateSender(sender UpdateSender) {
	p.senderLock.Lock()
	defer p.senderLock.Unlock()
	p.sender = sender
}

// SetImportPolicy replaces the policy applied to received routes. The RIB
// is re-evaluated by an inbound soft reconfiguration.
func (p *Plugin) SetImportPolicy(policy export.Policy) error {
	return p.query("Import Policy Change", false, func(in *instance.Instance) error {
		in.SetImportPolicy(policy)
		return nil
	})
}

// SetExportPolicy replaces the policy applied to advertised routes.
func (p *Plugin) SetExportPolicy(policy export.Policy) error {
	return p.query("Export Policy Change", false, func(in *instance.Instance) error {
		in.SetExportPolicy(policy)
		return nil
	})
}

// query runs <fn> inside the event loop and waits for the result.
func (p *Plugin) query(name string, readOnly bool, fn func(in *instance.Instance) error) error {
	ev := newQueryEvent(name, readOnly, fn)
	if err := p.PushEvent(ev); err != nil {
		return err
	}
	return ev.Wait()
}

// loadConfig loads configuration file.
func (p *Plugin) loadConfig(config *Config) error {
	if p.Cfg == nil {
		return nil
	}
	found, err := p.Cfg.LoadValue(config)
	if err != nil {
		return errors.Wrap(err, "failed to load BGP configuration")
	} else if !found {
		p.Log.Debugf("%v config not found", p.PluginName)
	}
	return nil
}

// applyConfig creates the statically configured peers, aggregates and routes.
func (p *Plugin) applyConfig() error {
	for i := range p.config.Peers {
		pr, _, err := p.config.Peers[i].build(p.config)
		if err == nil {
			err = p.instance.AddPeer(pr)
		}
		if err != nil {
			return errors.Wrapf(err, "failed to configure peer %s", p.config.Peers[i].Address)
		}
	}
	for _, agg := range p.config.Aggregates {
		prefix, _ := model.ParsePrefix(agg.Prefix)
		if err := p.instance.AddAggregate(prefix, agg.SummaryOnly); err != nil {
			return err
		}
	}
	for i := range p.config.StaticRoutes {
		prefix, nexthop, _ := p.config.StaticRoutes[i].parse()
		var err error
		if nexthop == nil {
			err = p.instance.AddNetwork(familyOf(prefix), prefix)
		} else {
			err = p.instance.Redistribute(familyOf(prefix), prefix, nexthop, rib.TypeStatic,
				p.config.StaticRoutes[i].Metric)
		}
		if err != nil {
			return errors.Wrapf(err, "failed to originate static route %s", prefix)
		}
	}
	return nil
}

// handleEvent applies the event onto the routing core. Returns a short
// description of the change.
func (p *Plugin) handleEvent(event Event) (change string, err error) {
	in := p.instance
	switch ev := event.(type) {
	case *PeerAdd:
		pr, _, err := ev.Peer.build(p.config)
		if err != nil {
			return "", err
		}
		return "peer added", in.AddPeer(pr)

	case *PeerRemove:
		p.pacer.stopPeer(ev.Address.String())
		return "peer removed", in.RemovePeer(ev.Address)

	case *PeerUp:
		pr, known := in.Peers().Get(ev.Address)
		if !known {
			return "", errors.Wrapf(instance.ErrUnknownPeer, "peer %s", ev.Address)
		}
		if ev.RouterID != nil {
			pr.RouterID = ev.RouterID
		}
		families := ev.Families
		if len(families) == 0 {
			families = []model.Family{model.IPv4Unicast}
		}
		if err := in.PeerUp(ev.Address, families); err != nil {
			return "", err
		}
		for _, family := range pr.Families() {
			p.pacer.start(timerKey{peer: pr.Key(), family: family}, pr.AdvertisementInterval)
			p.pacer.start(timerKey{peer: pr.Key(), family: family, origin: true}, pr.ASOriginationInterval)
		}
		return fmt.Sprintf("%s established", pr), nil

	case *PeerDown:
		p.pacer.stopPeer(ev.Address.String())
		return "peer down", in.PeerDown(ev.Address)

	case *RouteUpdate:
		if ev.IsWithdraw() {
			return "route withdrawn", in.Withdraw(ev.Peer, ev.Family, ev.Prefix)
		}
		return "route updated", in.Update(ev.Peer, ev.Family, ev.Prefix, ev.Attrs)

	case *Redistribution:
		if ev.Withdraw {
			return "redistributed route withdrawn", in.WithdrawRedistributed(ev.Family, ev.Prefix, ev.Type)
		}
		return "route redistributed", in.Redistribute(ev.Family, ev.Prefix, ev.Nexthop, ev.Type, ev.Metric)

	case *NexthopChange:
		in.SetNexthop(ev.Nexthop, ev.Valid, ev.Metric)
		return "next-hop updated", nil

	case *SoftReconfig:
		if ev.Inbound {
			return "import re-evaluated", in.SoftReconfigIn(ev.Peer, ev.Family)
		}
		return "export re-evaluated", in.SoftReconfigOut(ev.Peer)

	case *MaxPathsChange:
		return "max-paths changed", in.SetMaxPaths(ev.EBGP, ev.IBGP)

	case *AggregateChange:
		if ev.Remove {
			if !in.RemoveAggregate(ev.Prefix) {
				return "", errors.Wrapf(instance.ErrInvalidPrefix, "aggregate %s is not configured", ev.Prefix)
			}
			return "aggregate removed", nil
		}
		return "aggregate configured", in.AddAggregate(ev.Prefix, ev.SummaryOnly)

	case *NetworkChange:
		if ev.Remove {
			return "network removed", in.RemoveNetwork(ev.Family, ev.Prefix)
		}
		return "network originated", in.AddNetwork(ev.Family, ev.Prefix)

	case *flushEvent:
		return "", p.flush(ev)

	case *statsEvent:
		p.updateStats()
		return "", nil

	case *queryEvent:
		return "", ev.fn(in)
	}
	return "", errors.Errorf("unhandled event: %s", event.GetName())
}

// requestImmediateFlush is called by the routing core when a relayed route
// is queued for a peer with zero advertisement interval.
func (p *Plugin) requestImmediateFlush(pr *peer.Peer, family model.Family) {
	key := timerKey{peer: pr.Key(), family: family}
	if p.immediate[key] {
		return
	}
	if err := p.PushEvent(&flushEvent{key: key}); err != nil {
		p.Log.Warnf("Failed to trigger immediate flush of %s: %v", key, err)
		return
	}
	p.immediate[key] = true
}

// flush drains the queues selected by the flush event.
func (p *Plugin) flush(ev *flushEvent) error {
	if !ev.timer {
		delete(p.immediate, ev.key)
	}
	address := net.ParseIP(ev.key.peer)
	pr, known := p.instance.Peers().Get(address)
	if !known || !pr.Negotiated(ev.key.family) {
		// the session went down in the meantime
		return nil
	}
	drained, err := p.instance.Flush(address, ev.key.family, ev.key.origin, p.sendUpdate)
	if err != nil {
		return err
	}
	if drained > 0 {
		p.Log.Debugf("Flushed %d advertisements (%s)", drained, ev.key)
	}
	if ev.timer {
		interval := pr.AdvertisementInterval
		if ev.key.origin {
			interval = pr.ASOriginationInterval
		}
		p.pacer.rearm(ev.key, interval)
	}
	return nil
}

// flushUnpaced drains the queues of peers with zero intervals, which are
// not served by the pacing timers.
func (p *Plugin) flushUnpaced() {
	for _, pr := range p.instance.Peers().All() {
		if !pr.Established() || pr.IsLocal() {
			continue
		}
		for _, family := range pr.Families() {
			if pr.AdvertisementInterval == 0 {
				p.instance.Flush(pr.Address, family, false, p.sendUpdate)
			}
			if pr.ASOriginationInterval == 0 {
				p.instance.Flush(pr.Address, family, true, p.sendUpdate)
			}
		}
	}
}

func (p *Plugin) sendUpdate(batch adjrib.UpdateBatch) {
	p.senderLock.Lock()
	sender := p.sender
	p.senderLock.Unlock()
	sender.SendUpdate(batch)
}

// periodicStats triggers publishing of the statistics.
func (p *Plugin) periodicStats() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-time.After(p.config.StatsInterval):
			if err := p.PushEvent(&statsEvent{}); err != nil {
				p.Log.Warnf("Failed to trigger statistics update: %v", err)
			}
		}
	}
}

// childLogger returns the child logger with the given suffix, reused if
// the plugin is initialized again under the same name.
func (p *Plugin) childLogger(suffix string) logging.Logger {
	return instance.ChildLogger(p.Log, suffix)
}
