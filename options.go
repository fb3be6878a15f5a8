// Copyright 2025 Loom Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cachewire

import (
	"log/slog"
	"net"

	"github.com/loomlabs-io/gocachewire/protocol/cachefetch"
	"github.com/loomlabs-io/gocachewire/protocol/structured"
)

// ConnectionOptionFunc is a type that represents functions that modify the
// Connection config
type ConnectionOptionFunc func(*Connection)

// WithConnection specifies an existing connection to use. If none is
// provided, the Dial() function can be used to create one later
func WithConnection(conn net.Conn) ConnectionOptionFunc {
	return func(c *Connection) {
		c.conn = conn
	}
}

// WithLogger specifies the logger to use. Defaults to discarding log output
func WithLogger(logger *slog.Logger) ConnectionOptionFunc {
	return func(c *Connection) {
		c.logger = logger
	}
}

// WithErrorChan specifies the error channel to use. If none is provided, one
// will be created
func WithErrorChan(errorChan chan error) ConnectionOptionFunc {
	return func(c *Connection) {
		c.errorChan = errorChan
	}
}

// WithServer specifies whether to act as a server
func WithServer(server bool) ConnectionOptionFunc {
	return func(c *Connection) {
		c.server = server
	}
}

// WithStructured specifies whether to use the structured (zero-copy) path.
// The default is the raw segmented path.
func WithStructured(structured bool) ConnectionOptionFunc {
	return func(c *Connection) {
		c.useStructured = structured
	}
}

// WithCacheFetchConfig specifies the CacheFetch protocol config
func WithCacheFetchConfig(cfg cachefetch.Config) ConnectionOptionFunc {
	return func(c *Connection) {
		c.cacheFetchConfig = &cfg
	}
}

// WithStructuredConfig specifies the Structured protocol config
func WithStructuredConfig(cfg structured.Config) ConnectionOptionFunc {
	return func(c *Connection) {
		c.structuredConfig = &cfg
	}
}
