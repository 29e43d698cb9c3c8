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

package h2

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResponseBuilderDefaultsStatusTo500(t *testing.T) {
	resp := NewResponseBuilder().Build()
	assert.Equal(t, 500, resp.StatusCode)
}

func TestResponseBuilderFluentChain(t *testing.T) {
	resp := NewResponseBuilder().
		Status(200).
		Set("content-type", "text/plain").
		Body([]byte("hi")).
		Build()

	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "text/plain", resp.Header.Get("content-type"))
	assert.Equal(t, []byte("hi"), resp.Body)
}

func TestEchoDispatcherEchoesBody(t *testing.T) {
	req := &Request{Body: []byte("ping")}
	resp := EchoDispatcher(req)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, []byte("ping"), resp.Body)
	assert.Equal(t, "application/octet-stream", resp.Header.Get("content-type"))
}
