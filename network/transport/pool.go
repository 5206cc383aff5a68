package transport

import "github.com/linchenxuan/oncelink/utils/pool"

// _framePool holds outgoing frames between Send and the write loop.
var _framePool = pool.NewBytesPool("transport_frame", 512, 64<<10)

// packFrame copies body behind a pre head into a pooled buffer.
func packFrame(body []byte, flags uint32) *[]byte {
	buf := _framePool.Get(PreHeadSize + len(body))
	PreHead{BodySize: uint32(len(body)), Flags: flags}.Encode(*buf)
	copy((*buf)[PreHeadSize:], body)
	return buf
}
