// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

//go:build race

package carrier

// sanity check the configuration
func init() {
	if FrameHeaderSize != 24 {
		panic("FrameHeaderSize != 24")
	}
	if offRes+4 != FrameHeaderSize {
		panic("offRes+4 != FrameHeaderSize")
	}
	if frameDataDefaultCap < FrameHeaderSize {
		panic("frameDataDefaultCap < FrameHeaderSize")
	}
	if DefaultMaxPayloadSize < 1 {
		panic("DefaultMaxPayloadSize < 1")
	}
	if uint64(DefaultMaxPayloadSize) > 0xffffffff {
		panic("DefaultMaxPayloadSize does not fit the length field")
	}
	if ErrorCodeTimeout == ErrorCodeBackendLost || ErrorCodeBackendLost == ErrorCodeUnroutable || ErrorCodeTimeout == ErrorCodeUnroutable {
		panic("error codes are not distinct")
	}
	for cs := stateAccepted; cs <= stateClosed; cs++ {
		if _, ok := connStateTexts[cs]; !ok {
			panic("connStateTexts incomplete")
		}
	}
}
