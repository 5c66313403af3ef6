package carrier

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// PayloadType enumerates the payload encodings named by the header type field.
type PayloadType uint8

const (
	// TypeBinary is an opaque blob and is never validated.
	TypeBinary = PayloadType(0)
	// TypeProtobuf is a serialized protocol buffer message.
	TypeProtobuf = PayloadType(1)
	// TypeJSON is a JSON document.
	TypeJSON = PayloadType(2)
	// TypeTLV is a sequence of tag (1 byte), length (4 bytes) and value records.
	TypeTLV = PayloadType(3)
)

var payloadTypeTexts = map[PayloadType]string{
	TypeBinary:   "BIN",
	TypeProtobuf: "PB",
	TypeJSON:     "JSON",
	TypeTLV:      "TLV",
}

func (pt PayloadType) String() string {
	if s, ok := payloadTypeTexts[pt]; ok {
		return s
	}
	return fmt.Sprintf("T%02x", uint8(pt))
}

// tlvHeaderSize is the tag byte plus the big-endian length.
const tlvHeaderSize = 1 + 4

// DecodePayload checks that payload is well formed for the given type.
// The gateway does not interpret the contents beyond that; unknown types
// are treated as opaque.
func DecodePayload(pt PayloadType, payload []byte) (err error) {
	switch pt {
	case TypeProtobuf:
		err = checkProtobuf(payload)
	case TypeJSON:
		if len(payload) > 0 && !json.Valid(payload) {
			err = errors.Wrap(ErrMalformedPayload, "invalid JSON")
		}
	case TypeTLV:
		err = checkTLV(payload)
	}
	return
}

func checkProtobuf(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return errors.Wrap(ErrMalformedPayload, protowire.ParseError(n).Error())
		}
		b = b[n:]
		if n = protowire.ConsumeFieldValue(num, typ, b); n < 0 {
			return errors.Wrapf(ErrMalformedPayload, "field %d: %v", num, protowire.ParseError(n))
		}
		b = b[n:]
	}
	return nil
}

func checkTLV(b []byte) error {
	for len(b) > 0 {
		if len(b) < tlvHeaderSize {
			return errors.Wrapf(ErrMalformedPayload, "truncated TLV record header (%d bytes)", len(b))
		}
		size := binary.BigEndian.Uint32(b[1:tlvHeaderSize])
		b = b[tlvHeaderSize:]
		if uint64(size) > uint64(len(b)) {
			return errors.Wrapf(ErrMalformedPayload, "TLV value of %d bytes exceeds remaining %d", size, len(b))
		}
		b = b[size:]
	}
	return nil
}

// AppendTLV appends one TLV record to b.
func AppendTLV(b []byte, tag byte, value []byte) []byte {
	b = append(b, tag)
	b = binary.BigEndian.AppendUint32(b, uint32(len(value)))
	return append(b, value...)
}
