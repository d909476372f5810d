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

// Package bgp implements the cn-infra plugin hosting the BGP routing core.
//
// All routing state (RIB, adjacencies, advertisement queues) is owned by a
// single event loop. The session layer feeds the loop with events (peer up
// and down, received updates and withdrawals, redistributed routes, next-hop
// changes) through PushEvent, the pacing timers of the plugin push flush
// events which drain the advertisement queues into the registered
// UpdateSender. The state can be inspected over REST (see package restapi)
// and Prometheus gauges, and the history of processed events is kept
// in memory for troubleshooting.
package bgp
