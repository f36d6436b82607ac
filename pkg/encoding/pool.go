// Package encoding pools the buffers used to serialise API responses and
// pipeline notifications.
package encoding

import (
	"bytes"
	"encoding/json"
	"sync"
)

// Buffers that grew past this are dropped instead of pooled so one large
// review payload does not pin memory
const maxPooledBuffer = 64 << 10

var bufferPool = sync.Pool{
	New: func() interface{} {
		return new(bytes.Buffer)
	},
}

func getBuffer() *bytes.Buffer {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

func putBuffer(buf *bytes.Buffer) {
	if buf.Cap() > maxPooledBuffer {
		return
	}
	buf.Reset()
	bufferPool.Put(buf)
}

// EncodeJSON encodes v through a pooled buffer. The result is a copy, ends in
// a newline like json.Encoder output, and does not escape HTML so payer names
// with '&' stay readable.
func EncodeJSON(v interface{}) ([]byte, error) {
	buf := getBuffer()
	defer putBuffer(buf)

	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}
