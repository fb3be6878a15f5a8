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

package cachefetch_test

import (
	"net"
	"testing"

	"github.com/loomlabs-io/gocachewire/channel"
	"github.com/loomlabs-io/gocachewire/internal/test"
	"github.com/loomlabs-io/gocachewire/message"
	"github.com/loomlabs-io/gocachewire/protocol"
	"github.com/loomlabs-io/gocachewire/protocol/cachefetch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// runClientTest wires a client and server to opposite ends of an in-memory
// connection, runs the provided test body against the client, and tears
// everything down afterward
func runClientTest(
	t *testing.T,
	requestFunc cachefetch.RequestFunc,
	testFunc func(t *testing.T, client *cachefetch.Client),
) {
	t.Helper()
	defer goleak.VerifyNone(t)
	clientConn, serverConn := net.Pipe()
	clientChannel := channel.New(clientConn)
	serverChannel := channel.New(serverConn)
	serverCfg := cachefetch.NewConfig(
		cachefetch.WithRequestFunc(requestFunc),
		cachefetch.WithFragmentSize(4096),
	)
	server := cachefetch.NewServer(
		protocol.ProtocolOptions{
			Channel: serverChannel,
			Role:    protocol.ProtocolRoleServer,
		},
		&serverCfg,
	)
	client := cachefetch.NewClient(
		protocol.ProtocolOptions{
			Channel: clientChannel,
			Role:    protocol.ProtocolRoleClient,
		},
		nil,
	)
	server.Start()
	testFunc(t, client)
	client.Stop()
	server.Stop()
	clientChannel.Close()
	serverChannel.Close()
}

func staticResponse(parts ...message.PartSpec) cachefetch.RequestFunc {
	return func(
		ctx cachefetch.CallbackContext,
		requestId uint64,
	) ([][]byte, error) {
		return message.EncodeGetCacheResponse(parts)
	}
}

func TestClientFetch(t *testing.T) {
	partData1 := test.PatternBytes(4096)
	partData2 := test.PatternBytes(131072)
	requestFunc := staticResponse(
		message.NewPartSpec(partData1),
		message.NewPartSpec(partData2),
	)
	runClientTest(
		t,
		requestFunc,
		func(t *testing.T, client *cachefetch.Client) {
			body, err := client.Fetch()
			require.NoError(t, err)
			assert.Equal(t, message.BodyTypeGetCacheResponse, body.Type())
			resp, err := body.GetCacheResponse()
			require.NoError(t, err)
			parts := resp.Parts()
			require.Len(t, parts, 2)
			assert.Equal(t, partData1, parts[0].Data())
			assert.Equal(t, partData2, parts[1].Data())
		},
	)
}

func TestClientFetchRepeated(t *testing.T) {
	partData := test.PatternBytes(1000)
	requestFunc := staticResponse(message.NewPartSpec(partData))
	runClientTest(
		t,
		requestFunc,
		func(t *testing.T, client *cachefetch.Client) {
			for i := 0; i < 3; i++ {
				body, err := client.Fetch()
				require.NoError(t, err)
				resp, err := body.GetCacheResponse()
				require.NoError(t, err)
				require.Len(t, resp.Parts(), 1)
				assert.Equal(t, partData, resp.Parts()[0].Data())
			}
		},
	)
}

func TestClientFetchEmptyResponse(t *testing.T) {
	runClientTest(
		t,
		staticResponse(),
		func(t *testing.T, client *cachefetch.Client) {
			_, err := client.Fetch()
			assert.ErrorIs(t, err, message.ErrEmptyResponse)
		},
	)
}

func TestClientFetchSizeMismatch(t *testing.T) {
	partData := test.PatternBytes(256)
	badPart := message.NewPartSpec(partData)
	badPart.Size++
	runClientTest(
		t,
		staticResponse(badPart),
		func(t *testing.T, client *cachefetch.Client) {
			_, err := client.Fetch()
			assert.ErrorIs(t, err, message.ErrSizeMismatch)
		},
	)
}

func TestClientFetchHashMismatch(t *testing.T) {
	partData := test.PatternBytes(256)
	badPart := message.NewPartSpec(partData)
	badPart.Hash = message.PartHash([]byte("other content"))
	runClientTest(
		t,
		staticResponse(badPart),
		func(t *testing.T, client *cachefetch.Client) {
			_, err := client.Fetch()
			assert.ErrorIs(t, err, message.ErrHashMismatch)
		},
	)
}

func TestClientFetchAfterStop(t *testing.T) {
	requestFunc := staticResponse(message.NewPartSpec([]byte{0x01}))
	runClientTest(
		t,
		requestFunc,
		func(t *testing.T, client *cachefetch.Client) {
			require.NoError(t, client.Stop())
			_, err := client.Fetch()
			assert.ErrorIs(t, err, protocol.ErrProtocolShuttingDown)
		},
	)
}
