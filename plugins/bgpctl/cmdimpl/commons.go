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

package cmdimpl

import (
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/ghodss/yaml"
	"github.com/pkg/errors"

	"github.com/contiv/bgpd/plugins/bgp/restapi"
	"github.com/contiv/bgpd/plugins/bgpctl/remote"
)

// Output formats.
const (
	FormatTable = "table"
	FormatYAML  = "yaml"
	FormatJSON  = "json"
)

const timeLayout = "2006-01-02 15:04:05"

// Client queries the REST API of one bgpd agent.
type Client struct {
	HTTP   *remote.HTTPClient
	Server string
	Format string
}

// getJSON fetches <path> with <args> and decodes the JSON body into <v>.
func (c *Client) getJSON(path string, args url.Values, v interface{}) error {
	cmd := path
	if len(args) > 0 {
		cmd += "?" + args.Encode()
	}
	resp, err := c.HTTP.Get(c.Server, cmd)
	if err != nil {
		return errors.Wrapf(err, "failed to reach %s", c.Server)
	}
	defer resp.Body.Close()

	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "failed to read response")
	}
	if resp.StatusCode != http.StatusOK {
		apiErr := restapi.Error{}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return errors.Errorf("%s: %s", http.StatusText(resp.StatusCode), apiErr.Error)
		}
		return errors.Errorf("%s: %s", http.StatusText(resp.StatusCode), strings.TrimSpace(string(body)))
	}
	return errors.Wrap(json.Unmarshal(body, v), "failed to decode response")
}

// print writes <v> in the selected format, using <table> for the tabular one.
func (c *Client) print(w io.Writer, v interface{}, table func(w *tabwriter.Writer)) error {
	switch c.Format {
	case FormatYAML:
		out, err := yaml.Marshal(v)
		if err != nil {
			return err
		}
		_, err = w.Write(out)
		return err
	case FormatJSON:
		out, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(out))
		return err
	case FormatTable, "":
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		table(tw)
		return tw.Flush()
	}
	return errors.Errorf("unknown output format '%s'", c.Format)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(timeLayout)
}

func formatUptime(t time.Time, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return now.Sub(t).Truncate(time.Second).String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
