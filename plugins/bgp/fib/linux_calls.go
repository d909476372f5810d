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

package fib

import (
	"github.com/vishvananda/netlink"
)

// hostCalls allow to mock linux calls in test.
type hostCalls interface {
	RouteReplace(route *netlink.Route) error
	RouteDel(route *netlink.Route) error
}

type linuxCalls struct {
}

func (l *linuxCalls) RouteReplace(route *netlink.Route) error {
	return netlink.RouteReplace(route)
}

func (l *linuxCalls) RouteDel(route *netlink.Route) error {
	return netlink.RouteDel(route)
}
