package transport

import (
	"bytes"
	"sync"
)

var framePool = sync.Pool{
	New: func() any {
		return new(bytes.Buffer)
	},
}

func getBuffer() *bytes.Buffer {
	buf := framePool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

func putBuffer(buf *bytes.Buffer) {
	if buf == nil {
		return
	}
	buf.Reset()
	framePool.Put(buf)
}
