// Package wire implements the framing codec: length-prefixed
// control frames and sequence-tagged tty frames, both big-endian. Each
// channel owns one of the buffer types below, fed raw bytes as they arrive
// and yielding zero or more complete frames per Feed call.
package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/sandia-minimega/pod-init/internal/agenterr"
)

// ControlHeaderLen is the fixed header size of a control frame: type(4) +
// length(4).
const ControlHeaderLen = 8

// ControlMaxFrame is the maximum allowed length field for a control
// frame; exceeding it is fatal for that channel.
const ControlMaxFrame = 64 << 20

// ControlFrame is one decoded control-channel message.
type ControlFrame struct {
	Type    uint32
	Payload []byte
}

// EncodeControl renders a control frame. length counts the full frame
// including the 8-byte header, per §6.
func EncodeControl(typ uint32, payload []byte) []byte {
	buf := make([]byte, ControlHeaderLen+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], typ)
	binary.BigEndian.PutUint32(buf[4:8], uint32(ControlHeaderLen+len(payload)))
	copy(buf[8:], payload)
	return buf
}

// ControlDecoder incrementally decodes control frames out of a growable
// per-fd buffer.1's need_more/compact discipline.
type ControlDecoder struct {
	buf []byte
}

// Feed appends data to the internal buffer and returns every complete frame
// now available, compacting consumed bytes out of the buffer. An error is
// fatal for the channel: either a frame claims a length
// smaller than the header, or it claims a length above ControlMaxFrame.
func (d *ControlDecoder) Feed(data []byte) ([]ControlFrame, error) {
	d.buf = append(d.buf, data...)

	var frames []ControlFrame
	for {
		if len(d.buf) < ControlHeaderLen {
			if len(d.buf) > ControlMaxFrame {
				return frames, agenterr.New(agenterr.Protocol, "control frame", fmt.Errorf("buffer exceeds %d bytes before header complete", ControlMaxFrame))
			}
			return frames, nil
		}

		typ := binary.BigEndian.Uint32(d.buf[0:4])
		length := binary.BigEndian.Uint32(d.buf[4:8])

		if length < ControlHeaderLen {
			return frames, agenterr.New(agenterr.Protocol, "control frame", fmt.Errorf("length %d smaller than header", length))
		}
		if length > ControlMaxFrame {
			return frames, agenterr.New(agenterr.Protocol, "control frame", fmt.Errorf("length %d exceeds max %d", length, ControlMaxFrame))
		}

		if uint32(len(d.buf)) < length {
			// Not enough data yet for this frame.
			return frames, nil
		}

		frames = append(frames, ControlFrame{
			Type:    typ,
			Payload: append([]byte(nil), d.buf[ControlHeaderLen:length]...),
		})

		d.buf = d.buf[length:]
	}
}

// Pending reports whether bytes remain buffered, waiting on the rest of a
// frame.
func (d *ControlDecoder) Pending() int { return len(d.buf) }
