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

package instance

import (
	"net"
	"time"

	"github.com/ligato/cn-infra/logging"
	"github.com/pkg/errors"

	"github.com/contiv/bgpd/plugins/bgp/adjrib"
	"github.com/contiv/bgpd/plugins/bgp/aggregate"
	"github.com/contiv/bgpd/plugins/bgp/decision"
	"github.com/contiv/bgpd/plugins/bgp/disseminate"
	"github.com/contiv/bgpd/plugins/bgp/export"
	"github.com/contiv/bgpd/plugins/bgp/model"
	"github.com/contiv/bgpd/plugins/bgp/peer"
	"github.com/contiv/bgpd/plugins/bgp/rib"
)

var (
	// ErrUnknownPeer is returned for operations referring to a peer which
	// was not added.
	ErrUnknownPeer = errors.New("unknown peer")
	// ErrFamilyNotNegotiated is returned for routes of a family the peer
	// did not negotiate.
	ErrFamilyNotNegotiated = errors.New("address family not negotiated")
	// ErrPeerNotEstablished is returned for routes received from a peer
	// without an established session.
	ErrPeerNotEstablished = errors.New("peer not established")
	// ErrInvalidPrefix is returned for prefixes not matching the family.
	ErrInvalidPrefix = errors.New("invalid prefix")
)

// Config is the speaker-wide configuration of the routing core.
type Config struct {
	LocalAS              uint32
	RouterID             net.IP
	ConfederationID      uint32
	ClusterID            net.IP
	Decision             decision.Config
	MaxPrefixesPerUpdate int
}

// Stats summarizes the state of the routing core.
type Stats struct {
	Destinations  map[model.Family]int
	Routes        map[model.Family]int
	Attributes    int
	AttributeRefs int
	Pending       int
	Peers         int
	Established   int
}

type nexthopState struct {
	valid  bool
	metric uint32
}

// Instance ties the RIB, the decision process, dissemination and the
// adjacency store of one BGP speaker together. It is not safe for
// concurrent use: all calls are expected to come from a single event loop.
type Instance struct {
	log          logging.Logger
	cfg          Config
	rib          *rib.RIB
	peers        *peer.Registry
	store        *adjrib.Store
	evaluator    *export.Evaluator
	dispatcher   *disseminate.Dispatcher
	decision     *decision.Decision
	aggregator   *aggregate.Aggregator
	importPolicy export.Policy
	nexthops     map[string]nexthopState
	onImmediate  adjrib.ImmediateFunc
	now          func() time.Time
}

// New creates a routing core. <listeners> are notified of forwarding
// changes (e.g. the FIB syncer).
func New(log logging.PluginLogger, cfg Config, listeners ...decision.Listener) *Instance {
	in := &Instance{
		log:          log,
		cfg:          cfg,
		rib:          rib.NewRIB(),
		peers:        peer.NewRegistry(cfg.LocalAS, cfg.RouterID),
		importPolicy: export.PermitAll{},
		nexthops:     make(map[string]nexthopState),
		now:          time.Now,
	}
	in.store = adjrib.NewStore(ChildLogger(log, "-adjrib"), in.rib.Attrs(), in.immediate)
	in.evaluator = export.NewEvaluator(ChildLogger(log, "-export"), export.Config{
		LocalAS:          cfg.LocalAS,
		ConfederationID:  cfg.ConfederationID,
		RouterID:         cfg.RouterID,
		ClusterID:        cfg.ClusterID,
		DefaultLocalPref: cfg.Decision.DefaultLocalPref,
	}, nil)
	in.dispatcher = disseminate.NewDispatcher(ChildLogger(log, "-disseminate"), in.store, in.evaluator)
	in.decision = decision.NewDecision(ChildLogger(log, "-decision"), cfg.Decision, in.peers, in.dispatcher, listeners...)
	in.aggregator = aggregate.NewAggregator(ChildLogger(log, "-aggregate"), in.rib, in.peers.Self(), in.decision.Process)
	in.decision.AddListener(in.aggregator)
	return in
}

// ChildLogger returns the child logger of <log> with the given suffix,
// reused when the owner is created again under the same name.
func ChildLogger(log logging.PluginLogger, suffix string) logging.Logger {
	if logging.DefaultRegistry != nil {
		// registered by the parent logger as "<parent>.<suffix>"
		if logger, found := logging.DefaultRegistry.Lookup(log.GetName() + "." + suffix); found {
			return logger
		}
	}
	return log.NewLogger(suffix)
}

// RIB returns the routing tables.
func (in *Instance) RIB() *rib.RIB {
	return in.rib
}

// Peers returns the peer registry.
func (in *Instance) Peers() *peer.Registry {
	return in.peers
}

// Store returns the adjacency store.
func (in *Instance) Store() *adjrib.Store {
	return in.store
}

// Config returns the current configuration.
func (in *Instance) Config() Config {
	return in.cfg
}

// SetImmediateHandler registers the callback invoked when a relayed route
// is queued for a peer with zero advertisement interval.
func (in *Instance) SetImmediateHandler(fn adjrib.ImmediateFunc) {
	in.onImmediate = fn
}

func (in *Instance) immediate(p *peer.Peer, family model.Family) {
	if in.onImmediate != nil {
		in.onImmediate(p, family)
	}
}

// SetImportPolicy sets the policy applied to received routes. Routes
// already in the RIB are re-evaluated only by SoftReconfigIn.
func (in *Instance) SetImportPolicy(policy export.Policy) {
	if policy == nil {
		policy = export.PermitAll{}
	}
	in.importPolicy = policy
}

// SetExportPolicy sets the policy applied to advertised routes. Peers see
// the effect after SoftReconfigOut.
func (in *Instance) SetExportPolicy(policy export.Policy) {
	in.evaluator.SetPolicy(policy)
}

// SetDecisionConfig changes the best path selection options. Like the
// max-paths limits, the change is applied lazily when destinations are
// processed next.
func (in *Instance) SetDecisionConfig(cfg decision.Config) {
	in.cfg.Decision = cfg
	in.decision.SetConfig(cfg)
}

// SetMaxPaths changes the multipath limits.
func (in *Instance) SetMaxPaths(ebgp, ibgp int) error {
	if ebgp < 1 || ibgp < 1 {
		return errors.Errorf("max-paths must be at least 1 (ebgp %d, ibgp %d)", ebgp, ibgp)
	}
	cfg := in.cfg.Decision
	cfg.Multipath.MaxPathsEBGP, cfg.Multipath.MaxPathsIBGP = ebgp, ibgp
	in.SetDecisionConfig(cfg)
	return nil
}

// AddPeer registers a new neighbor in the idle state.
func (in *Instance) AddPeer(p *peer.Peer) error {
	if p.Address == nil || p.IsLocal() {
		return errors.Errorf("invalid peer address %v", p.Address)
	}
	if _, exists := in.peers.Get(p.Address); exists {
		return errors.Errorf("peer %s already exists", p.Address)
	}
	if p.LocalAS == 0 {
		p.LocalAS = in.cfg.LocalAS
	}
	in.peers.Add(p)
	in.log.Infof("Added peer %s", p)
	return nil
}

// RemovePeer takes the session down (if established) and forgets the peer.
func (in *Instance) RemovePeer(address net.IP) error {
	p, err := in.lookupPeer(address)
	if err != nil {
		return err
	}
	if p.Established() {
		if err := in.PeerDown(address); err != nil {
			return err
		}
	}
	in.peers.Remove(address)
	in.log.Infof("Removed peer %s", p)
	return nil
}

// PeerUp marks the session as established with the negotiated families,
// queues the current table to the peer and ends each family with an
// End-of-RIB marker.
func (in *Instance) PeerUp(address net.IP, families []model.Family) error {
	p, err := in.lookupPeer(address)
	if err != nil {
		return err
	}
	if p.Established() {
		return errors.Errorf("peer %s is already established", p)
	}
	p.SetEstablished(families, in.now())
	for _, family := range p.Families() {
		table := in.rib.Table(family)
		if table == nil {
			continue
		}
		dumped := 0
		for _, dest := range table.Sorted() {
			if best := dest.Selected(); best != nil {
				in.dispatcher.Update(p, dest, best)
				dumped++
			}
		}
		in.dispatcher.SetEndOfRIB(p, family)
		in.log.Debugf("Queued %d destinations of %s to %s", dumped, family, p)
	}
	in.log.Infof("Peer %s established (%v)", p, p.Families())
	return nil
}

// PeerDown tears the session down: all pending advertisements of the
// peer are flushed and its routes are withdrawn from the RIB.
func (in *Instance) PeerDown(address net.IP) error {
	p, err := in.lookupPeer(address)
	if err != nil {
		return err
	}
	if !p.Established() {
		return errors.Wrapf(ErrPeerNotEstablished, "peer %s", p)
	}
	p.SetDown()
	in.dispatcher.PeerDown(p)

	var affected []*rib.Destination
	for _, table := range in.rib.Tables() {
		table.Walk(func(dest *rib.Destination) bool {
			removed := false
			for _, ri := range dest.Routes() {
				if ri.Peer == p {
					table.MarkRemoved(ri)
					removed = true
				}
			}
			if removed {
				affected = append(affected, dest)
			}
			return true
		})
	}
	in.processAll(affected)
	in.log.Infof("Peer %s down, %d destinations affected", p, len(affected))
	return nil
}

// Update imports a route received from a peer.
func (in *Instance) Update(address net.IP, family model.Family, prefix *net.IPNet, attrs *model.PathAttributes) error {
	p, table, prefix, err := in.validate(address, family, prefix)
	if err != nil {
		return err
	}
	dest := table.Get(prefix)
	if p.Flags.SoftReconfigInbound {
		in.store.Queue(p, family).SetAdjacencyIn(dest, attrs)
	}
	if in.importRoute(p, dest, attrs) {
		in.processAll([]*rib.Destination{dest})
	} else {
		table.Reap(dest)
	}
	return nil
}

// Withdraw removes a route previously received from a peer. Withdrawing
// an unknown route is not an error.
func (in *Instance) Withdraw(address net.IP, family model.Family, prefix *net.IPNet) error {
	p, table, prefix, err := in.validate(address, family, prefix)
	if err != nil {
		return err
	}
	dest, found := table.Lookup(prefix)
	if !found {
		return nil
	}
	if q, exists := in.store.Lookup(p, family); exists {
		q.UnsetAdjacencyIn(dest)
	}
	if ri := dest.RouteFrom(p, rib.TypeBGP, rib.SubNormal); ri != nil {
		table.MarkRemoved(ri)
		in.processAll([]*rib.Destination{dest})
	}
	return nil
}

// SoftReconfigIn re-runs the import policy over the stored Adj-RIB-In of the peer.
func (in *Instance) SoftReconfigIn(address net.IP, family model.Family) error {
	p, err := in.lookupPeer(address)
	if err != nil {
		return err
	}
	if !p.Flags.SoftReconfigInbound {
		return errors.Errorf("peer %s does not keep received routes", p)
	}
	q, exists := in.store.Lookup(p, family)
	if !exists {
		return nil
	}
	var affected []*rib.Destination
	dests, attrs := q.AdjacencyIn()
	for i, dest := range dests {
		if in.importRoute(p, dest, attrs[i]) {
			affected = append(affected, dest)
		}
	}
	in.processAll(affected)
	in.log.Infof("Soft reconfiguration of %s (%s): %d routes changed", p, family, len(affected))
	return nil
}

// SoftReconfigOut re-evaluates the export of every destination to the peer.
func (in *Instance) SoftReconfigOut(address net.IP) error {
	p, err := in.lookupPeer(address)
	if err != nil {
		return err
	}
	if !p.Established() {
		return errors.Wrapf(ErrPeerNotEstablished, "peer %s", p)
	}
	for _, family := range p.Families() {
		table := in.rib.Table(family)
		if table == nil {
			continue
		}
		for _, dest := range table.Sorted() {
			if best := dest.Selected(); best != nil {
				in.dispatcher.Update(p, dest, best)
			} else if _, advertised := in.store.AdjOut(p, dest); advertised {
				in.dispatcher.Update(p, dest, nil)
			}
		}
	}
	return nil
}

// importRoute applies the import policy and adds, replaces or removes the
// route of <p>. Returns true if the destination must be processed.
func (in *Instance) importRoute(p *peer.Peer, dest *rib.Destination, attrs *model.PathAttributes) bool {
	table := dest.Table()
	existing := dest.RouteFrom(p, rib.TypeBGP, rib.SubNormal)
	imported, permit := in.importPolicy.Apply(p, dest, attrs)
	if !permit {
		if existing == nil {
			return false
		}
		in.log.Debugf("Import of %s from %s denied", dest, p)
		table.MarkRemoved(existing)
		return true
	}
	handle := in.rib.Attrs().Intern(imported)
	if existing != nil {
		oldNexthop := existing.Attrs().NextHop
		if !table.ReplaceAttrs(existing, handle) {
			return false
		}
		if !existing.Attrs().NextHop.Equal(oldNexthop) {
			existing.Set(rib.FlagNexthopValid)
			existing.IGPMetric = 0
			in.trackNexthop(existing)
		}
		return true
	}
	ri := table.AddRoute(dest, p, rib.TypeBGP, rib.SubNormal, handle, in.now())
	in.trackNexthop(ri)
	return true
}

// AddNetwork originates <prefix> from the speaker (network statement).
func (in *Instance) AddNetwork(family model.Family, prefix *net.IPNet) error {
	attrs := &model.PathAttributes{
		Origin:  model.OriginIGP,
		NextHop: unspecified(family),
		Weight:  aggregate.LocalWeight,
	}
	return in.originate(family, prefix, rib.TypeBGP, rib.SubStatic, attrs, 0)
}

// RemoveNetwork stops originating <prefix>.
func (in *Instance) RemoveNetwork(family model.Family, prefix *net.IPNet) error {
	return in.unoriginate(family, prefix, rib.TypeBGP, rib.SubStatic)
}

// Redistribute imports a route of another routing source (static,
// connected or another protocol) into BGP.
func (in *Instance) Redistribute(family model.Family, prefix *net.IPNet, nexthop net.IP,
	routeType rib.RouteType, metric uint32) error {

	if routeType == rib.TypeBGP {
		return errors.Errorf("cannot redistribute BGP route %s", prefix)
	}
	if nexthop == nil {
		nexthop = unspecified(family)
	}
	attrs := &model.PathAttributes{
		Origin:  model.OriginIncomplete,
		NextHop: nexthop,
		MED:     metric,
		HasMED:  true,
		Weight:  aggregate.LocalWeight,
	}
	return in.originate(family, prefix, routeType, rib.SubRedistribute, attrs, metric)
}

// WithdrawRedistributed removes a route imported by Redistribute.
func (in *Instance) WithdrawRedistributed(family model.Family, prefix *net.IPNet, routeType rib.RouteType) error {
	return in.unoriginate(family, prefix, routeType, rib.SubRedistribute)
}

func (in *Instance) originate(family model.Family, prefix *net.IPNet, routeType rib.RouteType,
	subType rib.SubType, attrs *model.PathAttributes, metric uint32) error {

	table, prefix, err := in.validatePrefix(family, prefix)
	if err != nil {
		return err
	}
	self := in.peers.Self()
	dest := table.Get(prefix)
	handle := in.rib.Attrs().Intern(attrs)
	if ri := dest.RouteFrom(self, routeType, subType); ri != nil {
		ri.IGPMetric = metric
		if !table.ReplaceAttrs(ri, handle) {
			return nil
		}
	} else {
		ri := table.AddRoute(dest, self, routeType, subType, handle, in.now())
		ri.IGPMetric = metric
	}
	in.processAll([]*rib.Destination{dest})
	return nil
}

func (in *Instance) unoriginate(family model.Family, prefix *net.IPNet, routeType rib.RouteType, subType rib.SubType) error {
	table, prefix, err := in.validatePrefix(family, prefix)
	if err != nil {
		return err
	}
	dest, found := table.Lookup(prefix)
	if !found {
		return nil
	}
	if ri := dest.RouteFrom(in.peers.Self(), routeType, subType); ri != nil {
		table.MarkRemoved(ri)
		in.processAll([]*rib.Destination{dest})
	}
	return nil
}

// AddAggregate configures an aggregate-address.
func (in *Instance) AddAggregate(prefix *net.IPNet, summaryOnly bool) error {
	if _, err := in.aggregator.Add(prefix, summaryOnly); err != nil {
		return errors.Wrap(ErrInvalidPrefix, err.Error())
	}
	in.aggregator.Refresh()
	return nil
}

// RemoveAggregate removes an aggregate-address.
func (in *Instance) RemoveAggregate(prefix *net.IPNet) bool {
	removed := in.aggregator.Remove(prefix)
	in.aggregator.Refresh()
	return removed
}

// SetNexthop updates the reachability and IGP metric of a next-hop and
// re-processes every destination with routes using it.
func (in *Instance) SetNexthop(nexthop net.IP, valid bool, metric uint32) {
	in.nexthops[nexthop.String()] = nexthopState{valid: valid, metric: metric}

	var affected []*rib.Destination
	for _, table := range in.rib.Tables() {
		table.Walk(func(dest *rib.Destination) bool {
			changed := false
			for _, ri := range dest.Routes() {
				if ri.IsSelfOriginated() || !ri.Attrs().NextHop.Equal(nexthop) {
					continue
				}
				if ri.Has(rib.FlagNexthopValid) != valid {
					if valid {
						ri.Set(rib.FlagNexthopValid)
					} else {
						ri.Clear(rib.FlagNexthopValid)
					}
					changed = true
				}
				if ri.IGPMetric != metric {
					ri.IGPMetric = metric
					ri.Set(rib.FlagIGPChanged)
					changed = true
				}
			}
			if changed {
				affected = append(affected, dest)
			}
			return true
		})
	}
	in.processAll(affected)
	in.log.Debugf("Nexthop %s valid=%v metric=%d: %d destinations affected", nexthop, valid, metric, len(affected))
}

func (in *Instance) trackNexthop(ri *rib.RouteInfo) {
	state, tracked := in.nexthops[ri.Attrs().NextHop.String()]
	if !tracked {
		return
	}
	ri.IGPMetric = state.metric
	if !state.valid {
		ri.Clear(rib.FlagNexthopValid)
	}
}

// Flush drains the relayed (or the self-originated, if <origin> is set)
// queues of the peer, passing the batches to <fn>.
func (in *Instance) Flush(address net.IP, family model.Family, origin bool, fn func(batch adjrib.UpdateBatch)) (int, error) {
	p, err := in.lookupPeer(address)
	if err != nil {
		return 0, err
	}
	if !p.Established() {
		return 0, errors.Wrapf(ErrPeerNotEstablished, "peer %s", p)
	}
	if !p.Negotiated(family) {
		return 0, errors.Wrapf(ErrFamilyNotNegotiated, "peer %s, family %s", p, family)
	}
	kinds := adjrib.RelayQueues
	if origin {
		kinds = adjrib.OriginQueues
	}
	return in.dispatcher.Flush(p, family, kinds, in.cfg.MaxPrefixesPerUpdate, fn), nil
}

// Stats returns counters describing the routing core.
func (in *Instance) Stats() Stats {
	stats := Stats{
		Destinations:  make(map[model.Family]int),
		Routes:        make(map[model.Family]int),
		Attributes:    in.rib.Attrs().Len(),
		AttributeRefs: in.rib.Attrs().TotalRefs(),
		Pending:       in.store.Pending(),
	}
	for _, table := range in.rib.Tables() {
		stats.Destinations[table.Family()] = table.Len()
		stats.Routes[table.Family()] = table.RouteCount()
	}
	for _, p := range in.peers.All() {
		stats.Peers++
		if p.Established() {
			stats.Established++
		}
	}
	return stats
}

// Verify checks the consistency of the routing core.
func (in *Instance) Verify() error {
	for _, table := range in.rib.Tables() {
		var err error
		table.Walk(func(dest *rib.Destination) bool {
			if dest.SelectedCount() > 1 {
				err = errors.Errorf("destination %s has %d selected routes", dest, dest.SelectedCount())
				return false
			}
			return true
		})
		if err != nil {
			return err
		}
	}
	return in.store.Verify()
}

func (in *Instance) processAll(dests []*rib.Destination) {
	for _, dest := range dests {
		in.decision.Process(dest)
	}
	in.aggregator.Refresh()
}

func (in *Instance) lookupPeer(address net.IP) (*peer.Peer, error) {
	p, found := in.peers.Get(address)
	if !found {
		return nil, errors.Wrapf(ErrUnknownPeer, "peer %v", address)
	}
	return p, nil
}

func (in *Instance) validate(address net.IP, family model.Family, prefix *net.IPNet) (*peer.Peer, *rib.Table, *net.IPNet, error) {
	p, err := in.lookupPeer(address)
	if err != nil {
		return nil, nil, nil, err
	}
	if !p.Established() {
		return nil, nil, nil, errors.Wrapf(ErrPeerNotEstablished, "peer %s", p)
	}
	if !p.Negotiated(family) {
		return nil, nil, nil, errors.Wrapf(ErrFamilyNotNegotiated, "peer %s, family %s", p, family)
	}
	table, prefix, err := in.validatePrefix(family, prefix)
	return p, table, prefix, err
}

func (in *Instance) validatePrefix(family model.Family, prefix *net.IPNet) (*rib.Table, *net.IPNet, error) {
	table := in.rib.Table(family)
	if table == nil || !family.Accepts(prefix) {
		return nil, nil, errors.Wrapf(ErrInvalidPrefix, "%v (%s)", prefix, family)
	}
	ip, bits := prefix.IP.To4(), 32
	if family.AFI == model.AFIIPv6 {
		ip, bits = prefix.IP.To16(), 128
	}
	if _, maskBits := prefix.Mask.Size(); ip == nil || maskBits != bits {
		return nil, nil, errors.Wrapf(ErrInvalidPrefix, "%v (%s)", prefix, family)
	}
	return table, &net.IPNet{IP: ip.Mask(prefix.Mask), Mask: prefix.Mask}, nil
}

func unspecified(family model.Family) net.IP {
	if family.AFI == model.AFIIPv6 {
		return net.IPv6zero
	}
	return net.IPv4zero
}
