// Copyright 2025 The packetd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package channel

import (
	"math"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packetd/h2engine/internal/zerocopy"
)

func TestChannelStartReadDeliversInOrder(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	ch := New(server)

	var mu sync.Mutex
	var received []byte
	var closed bool
	done := make(chan struct{}, 1)

	ch.StartRead(func(buf zerocopy.Buffer) {
		b, err := buf.Read(math.MaxInt32)
		mu.Lock()
		defer mu.Unlock()
		if err != nil || len(b) == 0 {
			closed = true
			select {
			case done <- struct{}{}:
			default:
			}
			return
		}
		received = append(received, b...)
	})

	_, err := client.Write([]byte("hello, "))
	require.NoError(t, err)
	_, err = client.Write([]byte("world"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return string(received) == "hello, world"
	}, time.Second, time.Millisecond)

	require.NoError(t, client.Close())
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for EOF delivery")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, closed)
}

func TestChannelWriteSerializesConcurrentCallers(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	ch := New(server)

	readDone := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 0, 40)
		tmp := make([]byte, 40)
		for len(buf) < 40 {
			n, err := client.Read(tmp)
			if err != nil {
				break
			}
			buf = append(buf, tmp[:n]...)
		}
		readDone <- buf
	}()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = ch.Write([]byte("0123456789"))
		}()
	}
	wg.Wait()

	select {
	case b := <-readDone:
		assert.Len(t, b, 40)
		for i := 0; i < 40; i += 10 {
			assert.Equal(t, "0123456789", string(b[i:i+10]), "each writer's 10 bytes must land unsplit")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out reading concatenated writes")
	}
}

func TestChannelCloseIsIdempotentAndFailsSubsequentWrites(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	ch := New(server)
	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())

	_, err := ch.Write([]byte("x"))
	assert.ErrorIs(t, err, net.ErrClosed)
}
