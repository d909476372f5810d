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

package remote

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ligato/cn-infra/config"
)

// DefaultPort is the port of the cn-infra REST plugin.
const DefaultPort = "9191"

// HTTPClient wraps http.Client with configured authorization and url base
type HTTPClient struct {
	// Config for this client
	Config *HTTPClientConfig

	http *http.Client
}

// HTTPClientConfig is configuration for http client
type HTTPClientConfig struct {
	// Port on what targets are listening on
	Port string `json:"port"`
	// Basic authorization for client
	BasicAuth string `json:"basic-auth"`
	// If https or http should be used
	UseHTTPS bool `json:"use-https"`
}

// CreateHTTPClient uses environment variable HTTP_CLIENT_CONFIG or HTTP config
// file to establish connection
func CreateHTTPClient(configFile string) (*HTTPClient, error) {
	if configFile == "" {
		configFile = os.Getenv("HTTP_CLIENT_CONFIG")
	}

	cfg := &HTTPClientConfig{}
	if configFile != "" {
		if err := config.ParseConfigFromYamlFile(configFile, cfg); err != nil {
			return nil, err
		}
	}

	return NewHTTPClient(cfg), nil
}

// NewHTTPClient creates a client for the given configuration.
func NewHTTPClient(cfg *HTTPClientConfig) *HTTPClient {
	if cfg.Port == "" {
		cfg.Port = DefaultPort
	}
	return &HTTPClient{
		Config: cfg,
		http: &http.Client{
			Transport: &http.Transport{},
			Timeout:   10 * time.Second,
		},
	}
}

// createURL builds the url of <cmd> served by <base>.
func (client *HTTPClient) createURL(base string, cmd string) string {
	url := "http://"
	if client.Config.UseHTTPS {
		url = "https://"
	}
	return url + base + ":" + client.Config.Port + "/" + strings.TrimPrefix(cmd, "/")
}

// Get creates http get request prefixing cmd with base and using correct authentication
func (client *HTTPClient) Get(base string, cmd string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, client.createURL(base, cmd), nil)
	if err != nil {
		return nil, err
	}

	if len(client.Config.BasicAuth) > 0 {
		fields := strings.Split(client.Config.BasicAuth, ":")
		if len(fields) != 2 {
			return nil, fmt.Errorf("invalid format of basic auth entry '%v' expected 'user:pass'", client.Config.BasicAuth)
		}
		req.SetBasicAuth(fields[0], fields[1])
	}

	return client.http.Do(req)
}
