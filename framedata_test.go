package carrier

import (
	"bytes"
	"io"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_FrameData_EncodeRecomputesLength(t *testing.T) {
	h := testHeader()
	h.Length = 1000
	fd := Encode(h, []byte("abc"))
	assert.Len(t, fd, FrameHeaderSize+3)
	assert.Equal(t, uint32(3), fd.Header().Length())
	assert.Equal(t, []byte("abc"), fd.Payload())
	assert.True(t, fd.Complete())
}

func Test_FrameData_EncodeEmptyPayload(t *testing.T) {
	fd := Encode(testHeader(), nil)
	assert.Len(t, fd, FrameHeaderSize)
	assert.Equal(t, uint32(0), fd.Header().Length())
	assert.True(t, fd.Complete())
}

func Test_FrameData_String(t *testing.T) {
	var fd FrameData
	assert.Equal(t, "[FrameData nil]", fd.String())
	assert.Equal(t, "[FrameData short 0102]", FrameData{1, 2}.String())
	fd = Encode(testHeader(), []byte{0xab})
	assert.Equal(t, "[FrameData [FrameHeader REQ svc=7 seq=3735928559 len=1] ab]", fd.String())
}

func Test_FrameData_ReadFromStream(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(Encode(testHeader(), []byte("first")))
	buf.Write(Encode(testHeader(), nil))
	buf.Write(Encode(testHeader(), []byte("third")))

	fd := NewFrameData()
	for _, want := range []string{"first", "", "third"} {
		_, err := fd.ReadFrom(&buf)
		require.NoError(t, err)
		assert.Equal(t, want, string(fd.Payload()))
		assert.True(t, fd.Complete())
	}
	_, err := fd.ReadFrom(&buf)
	assert.Equal(t, io.EOF, err)
}

func Test_FrameData_ReadFromTruncated(t *testing.T) {
	whole := Encode(testHeader(), []byte("hello"))

	// inside the header
	fd := NewFrameData()
	_, err := fd.ReadFrom(bytes.NewReader(whole[:10]))
	assert.Equal(t, io.ErrUnexpectedEOF, err)

	// header complete, payload missing
	_, err = fd.ReadFrom(bytes.NewReader(whole[:FrameHeaderSize]))
	assert.Equal(t, io.ErrUnexpectedEOF, err)

	// payload partially present
	_, err = fd.ReadFrom(bytes.NewReader(whole[:FrameHeaderSize+2]))
	assert.Equal(t, io.ErrUnexpectedEOF, err)
	assert.False(t, fd.Complete())
}

func Test_FrameData_ReadFromTooBig(t *testing.T) {
	hdr := testHeader()
	hdr.Length = 1 << 20
	b := hdr.AppendTo(nil)
	fd := NewFrameData()
	_, err := fd.readFrame(bytes.NewReader(b), 1024)
	assert.Equal(t, ErrFrameTooBig, errors.Cause(err))
}

func Test_FrameData_ReadFromGrows(t *testing.T) {
	payload := bytes.Repeat([]byte{0x5a}, frameDataDefaultCap*3)
	fd := NewFrameData()
	n, err := fd.ReadFrom(bytes.NewReader(Encode(testHeader(), payload)))
	require.NoError(t, err)
	assert.Equal(t, int64(FrameHeaderSize+len(payload)), n)
	assert.Equal(t, payload, fd.Payload())
}

func Test_FrameData_WriteTo(t *testing.T) {
	fd := Encode(testHeader(), []byte("abc"))
	fd = append(fd, 'd') // length is stale until written
	var buf bytes.Buffer
	n, err := fd.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(FrameHeaderSize+4), n)
	h, err := DecodeHeader(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, uint32(4), h.Length)

	_, err = FrameData{1, 2, 3}.WriteTo(&buf)
	assert.Equal(t, ErrMalformedHeader, errors.Cause(err))
}
