package sessionkit

import (
	"bytes"
	"sync"
)

var readerPool = sync.Pool{
	New: func() any {
		return bytes.NewReader(nil)
	},
}

var bufferPool = sync.Pool{
	New: func() any {
		return new(bytes.Buffer)
	},
}

var idBufferPool = sync.Pool{
	New: func() any {
		// 48 bytes: 16 bytes for raw entropy + 32 bytes for hex encoding.
		b := make([]byte, 48)
		return &b
	},
}

func getBuffer() *bytes.Buffer {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// PutBuffer wipes the buffer's content and returns it to the pool.
// Session payloads carry identities and roles, so pooled memory must not
// keep them around after use.
func PutBuffer(buf *bytes.Buffer) {
	b := buf.Bytes()
	clear(b)
	buf.Reset()
	bufferPool.Put(buf)
}
