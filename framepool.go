package carrier

// Provides a buffer of allocated but unused FrameData.
var frameDataPool chan FrameData

func init() {
	frameDataPool = make(chan FrameData, 0x1000)
}

// FrameDataAlloc allocates an empty FrameData.
func FrameDataAlloc() FrameData {
	select {
	case fd := <-frameDataPool:
		fd.Clear()
		return fd
	default:
		return NewFrameData()
	}
}

// FrameDataFree releases a FrameData. Oversized buffers are left to the
// garbage collector so one large frame does not pin memory in the pool.
func FrameDataFree(fd FrameData) {
	if fd != nil && cap(fd) <= frameDataDefaultCap*4 {
		select {
		case frameDataPool <- fd:
		default:
		}
	}
}
