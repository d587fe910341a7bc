package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/sandia-minimega/pod-init/internal/agenterr"
)

// TtyHeaderLen is the fixed header size of a tty frame: seq(8) + length(4).
const TtyHeaderLen = 12

// TtyMaxFrame is the maximum rbuf a tty channel is allowed to grow to
// before decoding a frame is declared fatal. Note this
// is smaller than some single frames can legitimately be -- the host is expected to fragment.
const TtyMaxFrame = 4096

// TtyFrame is one decoded tty-channel message. A zero-length Payload means
// EOF for Seq (the "goodbye" frame).
type TtyFrame struct {
	Seq     uint64
	Payload []byte
}

// EOF reports whether this frame is the length-12 EOF/goodbye marker.
func (f TtyFrame) EOF() bool { return len(f.Payload) == 0 }

// EncodeTty renders a tty frame. An empty payload encodes EOF for seq.
func EncodeTty(seq uint64, payload []byte) []byte {
	buf := make([]byte, TtyHeaderLen+len(payload))
	binary.BigEndian.PutUint64(buf[0:8], seq)
	binary.BigEndian.PutUint32(buf[8:12], uint32(TtyHeaderLen+len(payload)))
	copy(buf[12:], payload)
	return buf
}

// EncodeTtyEOF renders the length-12 "goodbye" frame for seq.
func EncodeTtyEOF(seq uint64) []byte { return EncodeTty(seq, nil) }

// TtyDecoder incrementally decodes tty frames the same way ControlDecoder
// does for control frames, but against the much smaller per-channel cap.
type TtyDecoder struct {
	buf []byte
}

func (d *TtyDecoder) Feed(data []byte) ([]TtyFrame, error) {
	d.buf = append(d.buf, data...)

	var frames []TtyFrame
	for {
		if len(d.buf) < TtyHeaderLen {
			if len(d.buf) > TtyMaxFrame {
				return frames, agenterr.New(agenterr.Protocol, "tty frame", fmt.Errorf("buffer exceeds %d bytes before header complete", TtyMaxFrame))
			}
			return frames, nil
		}

		seq := binary.BigEndian.Uint64(d.buf[0:8])
		length := binary.BigEndian.Uint32(d.buf[8:12])

		if length < TtyHeaderLen {
			return frames, agenterr.New(agenterr.Protocol, "tty frame", fmt.Errorf("length %d smaller than header", length))
		}
		if length > TtyMaxFrame {
			return frames, agenterr.New(agenterr.Protocol, "tty frame", fmt.Errorf("length %d exceeds max %d", length, TtyMaxFrame))
		}

		if uint32(len(d.buf)) < length {
			return frames, nil
		}

		frames = append(frames, TtyFrame{
			Seq:     seq,
			Payload: append([]byte(nil), d.buf[TtyHeaderLen:length]...),
		})

		d.buf = d.buf[length:]
	}
}

func (d *TtyDecoder) Pending() int { return len(d.buf) }
