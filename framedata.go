package carrier

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/pkg/errors"
)

// frameDataDefaultCap is the capacity of newly allocated FrameData.
// Most frames fit, larger ones grow on read.
const frameDataDefaultCap = 4096

// FrameData is a byte slice holding exactly one frame: header then payload.
type FrameData []byte

// NewFrameData allocates a new, empty FrameData.
func NewFrameData() FrameData {
	return FrameData(make([]byte, 0, frameDataDefaultCap))
}

// Encode serializes a header and payload into a new FrameData.
// Header.Length is recomputed from the payload size.
func Encode(h Header, payload []byte) FrameData {
	return AppendFrame(make([]byte, 0, FrameHeaderSize+len(payload)), h, payload)
}

// AppendFrame appends the encoded frame to b and returns the result.
// Header.Length is recomputed from the payload size.
func AppendFrame(b []byte, h Header, payload []byte) FrameData {
	h.Length = uint32(len(payload))
	b = h.AppendTo(b)
	return FrameData(append(b, payload...))
}

// Clear removes everything in a frame.
func (fd *FrameData) Clear() {
	*fd = (*fd)[:0]
}

func (fd FrameData) String() string {
	if fd == nil {
		return "[FrameData nil]"
	}
	if len(fd) < FrameHeaderSize {
		return fmt.Sprintf("[FrameData short %s]", hex.EncodeToString(fd))
	}
	var contents string
	if len(fd) > FrameHeaderSize+32 {
		contents = hex.EncodeToString(fd[FrameHeaderSize:FrameHeaderSize+32]) + "..."
	} else {
		contents = hex.EncodeToString(fd[FrameHeaderSize:])
	}
	return fmt.Sprintf("[FrameData %v %v]", fd.Header(), contents)
}

// Header returns the FrameHeader part of a FrameData.
func (fd FrameData) Header() FrameHeader {
	return FrameHeader(fd[:FrameHeaderSize])
}

// Payload returns the payload of a FrameData.
func (fd FrameData) Payload() []byte {
	return fd[FrameHeaderSize:]
}

// Complete returns true if fd holds a whole header and exactly the
// announced number of payload bytes.
func (fd FrameData) Complete() bool {
	return len(fd) >= FrameHeaderSize && uint64(len(fd)-FrameHeaderSize) == uint64(fd.Header().Length())
}

// ReadFrom reads one complete frame from r, replacing any previous contents.
// Implements io.ReaderFrom for FrameData.
func (fd *FrameData) ReadFrom(r io.Reader) (n int64, err error) {
	return fd.readFrame(r, DefaultMaxPayloadSize)
}

// readFrame reads the header, then exactly the announced payload. A clean
// io.EOF is only returned if the stream ended before the first header byte.
func (fd *FrameData) readFrame(r io.Reader, maxPayload int) (n int64, err error) {
	var num int
	if cap(*fd) < FrameHeaderSize {
		*fd = make([]byte, 0, frameDataDefaultCap)
	}
	*fd = (*fd)[:FrameHeaderSize]
	num, err = io.ReadFull(r, *fd)
	n = int64(num)
	if err != nil {
		*fd = (*fd)[:num]
		return
	}
	size := fd.Header().Length()
	if uint64(size) > uint64(maxPayload) {
		return n, errors.Wrapf(ErrFrameTooBig, "payload length %d exceeds %d", size, maxPayload)
	}
	total := FrameHeaderSize + int(size)
	if cap(*fd) < total {
		grown := make([]byte, total)
		copy(grown, *fd)
		*fd = grown
	} else {
		*fd = (*fd)[:total]
	}
	num, err = io.ReadFull(r, (*fd)[FrameHeaderSize:])
	n += int64(num)
	if err == io.EOF {
		// header without its payload is never a clean end of stream
		err = io.ErrUnexpectedEOF
	}
	if err != nil {
		*fd = (*fd)[:FrameHeaderSize+num]
	}
	return
}

// WriteTo implements io.WriterTo for FrameData. The header length field is
// recomputed from the payload before writing.
func (fd FrameData) WriteTo(w io.Writer) (int64, error) {
	if len(fd) < FrameHeaderSize {
		return 0, errors.WithStack(ErrMalformedHeader)
	}
	fd.Header().SetLength(uint32(len(fd) - FrameHeaderSize))
	n := 0
	for n < len(fd) {
		m, err := w.Write(fd[n:])
		n += m
		if err != nil {
			return int64(n), err
		}
	}
	return int64(n), nil
}
