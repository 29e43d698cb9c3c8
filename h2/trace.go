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
	"github.com/packetd/h2engine/internal/tracekit"
)

// traceIDFromHeaders 从请求头中的 traceparent 提取 TraceID 取不到时返回一个
// 随机生成的 TraceID 这样每个请求无论客户端是否传入 traceparent 都带有一个
// TraceID (记录在 Request.TraceID 上交给 Dispatcher)
func traceIDFromHeaders(h *Headers) string {
	traceID, ok := tracekit.TraceIDFromGetter(h.Get)
	if !ok {
		traceID = tracekit.RandomTraceID()
	}
	return traceID.String()
}
