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

package pipeline

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packetd/h2engine/channel"
	"github.com/packetd/h2engine/internal/zerocopy"
)

func TestHandlerContextAccessors(t *testing.T) {
	p := New(nil)
	h := &recordingHandler{}
	p.AddLast("only", h)

	ctx, ok := p.Get("only")
	require.True(t, ok)

	assert.Equal(t, "only", ctx.Name())
	assert.Same(t, p, ctx.Pipeline())
	assert.Same(t, Handler(h), ctx.Handler())
}

func TestHandlerContextNextNoopAtTail(t *testing.T) {
	p := New(nil)
	h := &recordingHandler{}
	p.AddLast("only", h)

	ctx, ok := p.Get("only")
	require.True(t, ok)

	assert.NotPanics(t, func() {
		ctx.Next(zerocopy.NewBuffer([]byte("x")))
	})

	reads, _, _ := h.snapshot()
	assert.Empty(t, reads)
}

func TestHandlerContextNextForwardsToNextHandler(t *testing.T) {
	p := New(nil)
	first := &recordingHandler{}
	second := &recordingHandler{}
	p.AddLast("first", first).AddLast("second", second)

	ctx, ok := p.Get("first")
	require.True(t, ok)

	ctx.Next(zerocopy.NewBuffer([]byte("payload")))

	reads, _, _ := second.snapshot()
	require.Len(t, reads, 1)
	assert.Equal(t, "payload", string(reads[0]))

	firstReads, _, _ := first.snapshot()
	assert.Empty(t, firstReads, "Next must not also invoke the caller's own OnRead")
}

// orderRecordingHandler 只记录自己的名字被写入的先后顺序 用于断言出站链
// 严格按照 tail -> head 的顺序依次经过每个 Handler
type orderRecordingHandler struct {
	BaseHandler

	name  string
	mu    *sync.Mutex
	order *[]string
}

func (h *orderRecordingHandler) OnWrite(ctx *HandlerContext, p []byte) {
	h.mu.Lock()
	*h.order = append(*h.order, h.name)
	h.mu.Unlock()
	ctx.WriteNext(p)
}

func TestHandlerContextWriteDescendsTailToHeadThenChannel(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	ch := channel.New(server)
	p := New(ch)

	var mu sync.Mutex
	var order []string
	p.AddLast("first", &orderRecordingHandler{name: "first", mu: &mu, order: &order})
	p.AddLast("second", &orderRecordingHandler{name: "second", mu: &mu, order: &order})
	p.AddLast("third", &orderRecordingHandler{name: "third", mu: &mu, order: &order})

	tail, ok := p.Tail()
	require.True(t, ok)

	// net.Pipe 的 Write 是同步的: 必须有人并发地在 Read 才不会一直阻塞
	read := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 5)
		n, err := client.Read(buf)
		if err != nil {
			read <- nil
			return
		}
		read <- buf[:n]
	}()

	tail.Write([]byte("hello"))

	select {
	case b := <-read:
		require.NotNil(t, b)
		assert.Equal(t, "hello", string(b))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for write to reach the channel")
	}

	mu.Lock()
	assert.Equal(t, []string{"third", "second", "first"}, order)
	mu.Unlock()
}
