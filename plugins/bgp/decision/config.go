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

package decision

// Config holds the best-path selection knobs.
type Config struct {
	// DefaultLocalPref substitutes a missing LOCAL_PREF.
	DefaultLocalPref uint32

	IgnoreASPathLength  bool
	CompareConfedASPath bool

	AlwaysCompareMED  bool
	ConfedMED         bool
	MissingMEDAsWorst bool
	DeterministicMED  bool

	// RFC1771PathSelect skips the IGP-metric step (and with it ECMP and
	// the older-route tie-break).
	RFC1771PathSelect bool

	// CompareRouterID disables the "prefer older route" tie-break between
	// eBGP paths.
	CompareRouterID      bool
	RouterIDTieBreak     bool
	OriginatorIDTieBreak bool

	Multipath MultipathConfig
}

// MultipathConfig configures ECMP.
type MultipathConfig struct {
	Enabled bool
	// Maximum number of installed paths (including the best path) per
	// peer class.
	MaxPathsEBGP int
	MaxPathsIBGP int
	// DisableNexthopCheck allows several candidates with the same next-hop.
	DisableNexthopCheck bool
	// SortByNexthop orders candidates by next-hop address before capping.
	SortByNexthop bool
}

// DefaultConfig returns the default selection configuration.
func DefaultConfig() Config {
	return Config{
		DefaultLocalPref:     100,
		RouterIDTieBreak:     true,
		OriginatorIDTieBreak: true,
		Multipath: MultipathConfig{
			MaxPathsEBGP: 1,
			MaxPathsIBGP: 1,
		},
	}
}
