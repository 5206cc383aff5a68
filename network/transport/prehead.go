package transport

import (
	"encoding/binary"
	"fmt"
)

// PreHeadSize is the size of the header written before every frame body.
const PreHeadSize = 8

// FlagHeartbeat marks an empty keepalive frame. It is never handed to the
// listener.
const FlagHeartbeat uint32 = 1 << 0

// PreHead frames a body on the stream: BodySize little-endian, then Flags.
type PreHead struct {
	BodySize uint32
	Flags    uint32
}

// Encode writes h into the first PreHeadSize bytes of buf.
func (h PreHead) Encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], h.BodySize)
	binary.LittleEndian.PutUint32(buf[4:8], h.Flags)
}

// DecodePreHead reads a header and checks the body against maxFrameSize.
func DecodePreHead(buf []byte, maxFrameSize int) (PreHead, error) {
	if len(buf) < PreHeadSize {
		return PreHead{}, fmt.Errorf("buffer of %d bytes too small for pre head", len(buf))
	}
	h := PreHead{
		BodySize: binary.LittleEndian.Uint32(buf[0:4]),
		Flags:    binary.LittleEndian.Uint32(buf[4:8]),
	}
	if maxFrameSize > 0 && int64(h.BodySize) > int64(maxFrameSize) {
		return h, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, h.BodySize, maxFrameSize)
	}
	return h, nil
}
