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

package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/contiv/bgpd/plugins/bgpctl/cmdimpl"
	"github.com/contiv/bgpd/plugins/bgpctl/remote"
)

var (
	server     string
	httpConfig string
	output     string
	family     string
	history    cmdimpl.HistoryArgs
)

var cmdRIB = &cobra.Command{
	Use:   "rib",
	Short: "Display the routes of an address family",
	Args:  cobra.ExactArgs(0),
	Run: func(cmd *cobra.Command, args []string) {
		run(func(c *cmdimpl.Client) error {
			return c.PrintRIB(os.Stdout, family)
		})
	},
}

var cmdPeers = &cobra.Command{
	Use:   "peers",
	Short: "Display the configured neighbors",
	Args:  cobra.ExactArgs(0),
	Run: func(cmd *cobra.Command, args []string) {
		run(func(c *cmdimpl.Client) error {
			return c.PrintPeers(os.Stdout)
		})
	},
}

var cmdAdjOut = &cobra.Command{
	Use:   "adj-out peer-address",
	Short: "Display the routes advertised and pending towards a neighbor",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		run(func(c *cmdimpl.Client) error {
			return c.PrintAdjOut(os.Stdout, args[0], family)
		})
	},
}

var cmdSummary = &cobra.Command{
	Use:   "summary",
	Short: "Display the counters of the routing core",
	Args:  cobra.ExactArgs(0),
	Run: func(cmd *cobra.Command, args []string) {
		run(func(c *cmdimpl.Client) error {
			return c.PrintSummary(os.Stdout)
		})
	},
}

var cmdHistory = &cobra.Command{
	Use:   "history",
	Short: "Display the events processed by the agent",
	Args:  cobra.ExactArgs(0),
	Run: func(cmd *cobra.Command, args []string) {
		run(func(c *cmdimpl.Client) error {
			return c.PrintEventHistory(os.Stdout, history)
		})
	},
}

func run(fn func(c *cmdimpl.Client) error) {
	httpClient, err := remote.CreateHTTPClient(httpConfig)
	if err != nil {
		logrus.Fatalf("Failed to create http client: %v", err)
	}
	client := &cmdimpl.Client{HTTP: httpClient, Server: server, Format: output}
	if err := fn(client); err != nil {
		logrus.Fatal(err)
	}
}

// Execute will execute the command bgpctl
func Execute() {
	logrus.SetLevel(logrus.ErrorLevel)

	var rootCmd = &cobra.Command{Use: "bgpctl"}
	rootCmd.PersistentFlags().StringVarP(&server, "server", "s", "localhost", "address of the bgpd agent")
	rootCmd.PersistentFlags().StringVar(&httpConfig, "http-config", "", "http client config file (HTTP_CLIENT_CONFIG)")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", cmdimpl.FormatTable, "output format: table, yaml or json")

	for _, cmd := range []*cobra.Command{cmdRIB, cmdAdjOut} {
		cmd.Flags().StringVarP(&family, "family", "f", "", "address family (ipv4-unicast by default)")
	}
	cmdHistory.Flags().IntVar(&history.SeqNum, "seq-num", 0, "show only the event with this sequence number")
	cmdHistory.Flags().IntVar(&history.First, "first", 0, "show the oldest N events")
	cmdHistory.Flags().IntVar(&history.Last, "last", 0, "show the latest N events")

	rootCmd.AddCommand(cmdRIB)
	rootCmd.AddCommand(cmdPeers)
	rootCmd.AddCommand(cmdAdjOut)
	rootCmd.AddCommand(cmdSummary)
	rootCmd.AddCommand(cmdHistory)
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
