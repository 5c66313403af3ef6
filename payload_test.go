package carrier

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"google.golang.org/protobuf/encoding/protowire"
)

func Test_Payload_Binary(t *testing.T) {
	assert.NoError(t, DecodePayload(TypeBinary, []byte{0xff, 0x00, 0x01}))
	assert.NoError(t, DecodePayload(PayloadType(0x77), []byte("anything")))
}

func Test_Payload_Protobuf(t *testing.T) {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, 150)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendString(b, "testing")
	assert.NoError(t, DecodePayload(TypeProtobuf, b))
	assert.NoError(t, DecodePayload(TypeProtobuf, nil))

	err := DecodePayload(TypeProtobuf, b[:len(b)-2])
	assert.Equal(t, ErrMalformedPayload, errors.Cause(err))

	err = DecodePayload(TypeProtobuf, []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff})
	assert.Equal(t, ErrMalformedPayload, errors.Cause(err))
}

func Test_Payload_JSON(t *testing.T) {
	assert.NoError(t, DecodePayload(TypeJSON, []byte(`{"a":[1,2,3]}`)))
	assert.NoError(t, DecodePayload(TypeJSON, nil))
	err := DecodePayload(TypeJSON, []byte(`{"a":`))
	assert.Equal(t, ErrMalformedPayload, errors.Cause(err))
}

func Test_Payload_TLV(t *testing.T) {
	var b []byte
	b = AppendTLV(b, 1, []byte("hello"))
	b = AppendTLV(b, 2, nil)
	b = AppendTLV(b, 3, []byte{0})
	assert.Len(t, b, 3*tlvHeaderSize+6)
	assert.NoError(t, DecodePayload(TypeTLV, b))
	assert.NoError(t, DecodePayload(TypeTLV, nil))

	err := DecodePayload(TypeTLV, b[:len(b)-1])
	assert.Equal(t, ErrMalformedPayload, errors.Cause(err))
	err = DecodePayload(TypeTLV, b[:3])
	assert.Equal(t, ErrMalformedPayload, errors.Cause(err))
}

func Test_Payload_TypeString(t *testing.T) {
	assert.Equal(t, "PB", TypeProtobuf.String())
	assert.Equal(t, "TLV", TypeTLV.String())
	assert.Equal(t, "T10", PayloadType(0x10).String())
}
