// Package protocol frames messages for byte-stream transports.
//
// Every frame is a fixed 20-byte header followed by a variable-length body.
// The receiver reads the header first to learn the body length, then reads
// exactly that many bytes.
//
// Frame format:
//
//	0      3  4  5  6  7  8                 16        20
//	┌──────┬──┬──┬──┬──┬──┬─────────────────┬─────────┬───────────────┐
//	│magic │v │ct│mt│fl│nh│       seq       │ bodyLen │    body ...   │
//	│ mxp  │01│  │  │  │  │     uint64      │ uint32  │ bodyLen bytes │
//	└──────┴──┴──┴──┴──┴──┴─────────────────┴─────────┴───────────────┘
//
// ct is the body codec, mt the message type, fl the flag bits and nh the
// number of file descriptors that travel out of band with the frame.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"mini-xpc/message"
)

// Magic number bytes: "mxp".
// Connections that do not start with it are rejected on the first frame.
const (
	MagicNumber byte = 0x6d // 'm'
	MagicByte2  byte = 0x78 // 'x'
	MagicByte3  byte = 0x70 // 'p'
	Version     byte = 0x01
	HeaderSize  int  = 20 // 3 (magic) + 1 (version) + 1 (codec) + 1 (msgType) + 1 (flags) + 1 (handles) + 8 (seq) + 4 (bodyLen)
)

// MaxBodyLen bounds the body a peer may announce.
const MaxBodyLen = 64 << 20

// MaxHandles bounds the descriptors carried by one frame.
const MaxHandles = 255

// Body codecs. CBOR is the only one; the byte leaves room for another.
const (
	CodecTypeCBOR byte = 0
)

// Flag bits.
const (
	FlagFailed byte = 1 << 0 // Reply body is a boxed error
)

var (
	ErrBadMagic     = errors.New("protocol: invalid magic number")
	ErrBodyTooLarge = errors.New("protocol: body too large")
)

// Header represents the fixed frame header.
type Header struct {
	CodecType byte
	MsgType   message.Type
	Flags     byte
	Handles   uint8  // Descriptors sent alongside this frame
	Seq       uint64 // Correlation token, echoed by replies
	BodyLen   uint32
}

// Encode writes a complete frame (header + body) to w.
// Concurrent writers must serialize calls, otherwise frames interleave.
func Encode(w io.Writer, h *Header, body []byte) error {
	_, err := w.Write(AppendFrame(nil, h, body))
	return err
}

// AppendFrame appends the encoded frame to buf. Transports that must emit a
// frame in a single write (to attach descriptors to it) use this directly.
func AppendFrame(buf []byte, h *Header, body []byte) []byte {
	var hdr [HeaderSize]byte
	hdr[0], hdr[1], hdr[2] = MagicNumber, MagicByte2, MagicByte3
	hdr[3] = Version
	hdr[4] = h.CodecType
	hdr[5] = byte(h.MsgType)
	hdr[6] = h.Flags
	hdr[7] = h.Handles
	binary.BigEndian.PutUint64(hdr[8:16], h.Seq)
	binary.BigEndian.PutUint32(hdr[16:20], uint32(len(body)))
	buf = append(buf, hdr[:]...)
	return append(buf, body...)
}

// Decode reads a complete frame (header + body) from r.
// It validates the magic number, version, codec type, message type and body
// length before reading the body.
func Decode(r io.Reader) (*Header, []byte, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, nil, err
	}

	if hdr[0] != MagicNumber || hdr[1] != MagicByte2 || hdr[2] != MagicByte3 {
		return nil, nil, fmt.Errorf("%w: %x", ErrBadMagic, hdr[0:3])
	}
	if hdr[3] != Version {
		return nil, nil, fmt.Errorf("protocol: unsupported version: %d", hdr[3])
	}
	if hdr[4] != CodecTypeCBOR {
		return nil, nil, fmt.Errorf("protocol: unsupported codec type: %d", hdr[4])
	}
	msgType := message.Type(hdr[5])
	if !msgType.Valid() {
		return nil, nil, fmt.Errorf("protocol: unsupported message type: %d", hdr[5])
	}

	h := &Header{
		CodecType: hdr[4],
		MsgType:   msgType,
		Flags:     hdr[6],
		Handles:   hdr[7],
		Seq:       binary.BigEndian.Uint64(hdr[8:16]),
		BodyLen:   binary.BigEndian.Uint32(hdr[16:20]),
	}
	if h.BodyLen > MaxBodyLen {
		return nil, nil, fmt.Errorf("%w: %d bytes", ErrBodyTooLarge, h.BodyLen)
	}

	body := make([]byte, h.BodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, err
	}
	return h, body, nil
}
