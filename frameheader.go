// frameheader.go

// A frame header is 24 bytes, all integers big-endian:
//
//	offset size field
//	     0    2 mark     debug tag, opaque
//	     2    1 version  protocol version
//	     3    1 crypt    payload encryption algorithm, 0 is none
//	     4    4 length   payload byte count
//	     8    1 mode     request, response or notify
//	     9    1 type     payload encoding
//	    10    2 service  target or originating service id
//	    12    2 agent    client platform id
//	    14    2 error    error code, 0 is success
//	    16    4 seq      sequence number used for correlation
//	    20    4 res      reserved
//
// The payload follows immediately and is exactly length bytes.

package carrier

import (
	"encoding/binary"
	"fmt"
)

const (
	offMark    = 0
	offVersion = 2
	offCrypt   = 3
	offLength  = 4
	offMode    = 8
	offType    = 9
	offService = 10
	offAgent   = 12
	offError   = 14
	offSeq     = 16
	offRes     = 20
)

// Mode enumerates the frame modes.
type Mode uint8

const (
	// ModeRequest is a client request expecting a response.
	ModeRequest = Mode(0)
	// ModeResponse answers a request with the same seq.
	ModeResponse = Mode(1)
	// ModeNotify is a one-way message.
	ModeNotify = Mode(2)
)

var modeTexts = map[Mode]string{
	ModeRequest:  "REQ",
	ModeResponse: "RSP",
	ModeNotify:   "NTF",
}

func (m Mode) String() string {
	if s, ok := modeTexts[m]; ok {
		return s
	}
	return fmt.Sprintf("M%02x", uint8(m))
}

// Agent enumerates the client platform ids. The gateway never interprets it.
type Agent uint16

const (
	AgentUnknown = Agent(0)
	AgentAndroid = Agent(1)
	AgentIOS     = Agent(2)
	AgentPC      = Agent(3)
	AgentWeb     = Agent(4)
)

// Header holds the decoded fields of a frame header.
type Header struct {
	Mark    [2]byte
	Version uint8
	Crypt   uint8
	Length  uint32
	Mode    Mode
	Type    PayloadType
	Service uint16
	Agent   Agent
	Error   uint16
	Seq     uint32
	Res     uint32
}

// DecodeHeader parses the fixed header from the first FrameHeaderSize bytes
// of b. The caller must then read exactly Header.Length payload bytes.
func DecodeHeader(b []byte) (h Header, err error) {
	if len(b) < FrameHeaderSize {
		return h, ErrMalformedHeader
	}
	return FrameHeader(b[:FrameHeaderSize]).Decode(), nil
}

// AppendTo appends the encoded header to b. Length is written as-is.
func (h Header) AppendTo(b []byte) []byte {
	b = append(b, h.Mark[0], h.Mark[1], h.Version, h.Crypt)
	b = binary.BigEndian.AppendUint32(b, h.Length)
	b = append(b, byte(h.Mode), byte(h.Type))
	b = binary.BigEndian.AppendUint16(b, h.Service)
	b = binary.BigEndian.AppendUint16(b, uint16(h.Agent))
	b = binary.BigEndian.AppendUint16(b, h.Error)
	b = binary.BigEndian.AppendUint32(b, h.Seq)
	b = binary.BigEndian.AppendUint32(b, h.Res)
	return b
}

func (h Header) String() string {
	return fmt.Sprintf("[Header %q v%d %s %s svc=%d agent=%d err=%d seq=%d len=%d]",
		h.Mark[:], h.Version, h.Mode, h.Type, h.Service, h.Agent, h.Error, h.Seq, h.Length)
}

// FrameHeader is an in-place view of the first FrameHeaderSize bytes of a frame.
// It lets the gateway rewrite single fields without re-encoding the payload.
type FrameHeader []byte

func (fh FrameHeader) String() string {
	if len(fh) < FrameHeaderSize {
		return fmt.Sprintf("[FrameHeader short (%d)]", len(fh))
	}
	return fmt.Sprintf("[FrameHeader %s svc=%d seq=%d len=%d]",
		fh.Mode(), fh.Service(), fh.Seq(), fh.Length())
}

// Decode copies all fields into a Header.
func (fh FrameHeader) Decode() Header {
	return Header{
		Mark:    [2]byte{fh[offMark], fh[offMark+1]},
		Version: fh.Version(),
		Crypt:   fh.Crypt(),
		Length:  fh.Length(),
		Mode:    fh.Mode(),
		Type:    fh.Type(),
		Service: fh.Service(),
		Agent:   fh.Agent(),
		Error:   fh.Error(),
		Seq:     fh.Seq(),
		Res:     fh.Res(),
	}
}

// Mark returns the two byte debug tag.
func (fh FrameHeader) Mark() [2]byte {
	return [2]byte{fh[offMark], fh[offMark+1]}
}

// Version returns the protocol version.
func (fh FrameHeader) Version() uint8 { return fh[offVersion] }

// Crypt returns the payload encryption algorithm id.
func (fh FrameHeader) Crypt() uint8 { return fh[offCrypt] }

// Length returns the payload length.
func (fh FrameHeader) Length() uint32 {
	return binary.BigEndian.Uint32(fh[offLength:])
}

// SetLength sets the payload length.
func (fh FrameHeader) SetLength(n uint32) {
	binary.BigEndian.PutUint32(fh[offLength:], n)
}

// Mode returns the frame mode.
func (fh FrameHeader) Mode() Mode { return Mode(fh[offMode]) }

// SetMode sets the frame mode.
func (fh FrameHeader) SetMode(m Mode) { fh[offMode] = byte(m) }

// Type returns the payload encoding.
func (fh FrameHeader) Type() PayloadType { return PayloadType(fh[offType]) }

// Service returns the service id.
func (fh FrameHeader) Service() uint16 {
	return binary.BigEndian.Uint16(fh[offService:])
}

// Agent returns the client platform id.
func (fh FrameHeader) Agent() Agent {
	return Agent(binary.BigEndian.Uint16(fh[offAgent:]))
}

// Error returns the error code.
func (fh FrameHeader) Error() uint16 {
	return binary.BigEndian.Uint16(fh[offError:])
}

// SetError sets the error code.
func (fh FrameHeader) SetError(code uint16) {
	binary.BigEndian.PutUint16(fh[offError:], code)
}

// Seq returns the sequence number.
func (fh FrameHeader) Seq() uint32 {
	return binary.BigEndian.Uint32(fh[offSeq:])
}

// SetSeq overwrites the sequence number.
func (fh FrameHeader) SetSeq(seq uint32) {
	binary.BigEndian.PutUint32(fh[offSeq:], seq)
}

// Res returns the reserved field.
func (fh FrameHeader) Res() uint32 {
	return binary.BigEndian.Uint32(fh[offRes:])
}
