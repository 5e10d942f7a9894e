package ambe

import "log"

// ringBuffer is internal/codec/ringbuffer.go's circular-buffer algorithm,
// byte-for-byte, repurposed from staging YSF/DMR audio to re-synchronizing
// the DVSI USB byte stream to its 0x61 start byte in readPacket/extractPacket.
type ringBuffer struct {
	name   string
	buffer []byte
	length uint32
	iPtr   uint32
	oPtr   uint32
}

func newRingBuffer(length uint32, name string) *ringBuffer {
	if length == 0 {
		panic("ambe: ring buffer length must be > 0")
	}
	return &ringBuffer{name: name, buffer: make([]byte, length), length: length}
}

func (rb *ringBuffer) AddData(data []byte) bool {
	n := uint32(len(data))
	if n >= rb.FreeSpace() {
		log.Printf("[ambe] %s buffer overflow, clearing the buffer (%d >= %d)", rb.name, n, rb.FreeSpace())
		rb.Clear()
		return false
	}
	for _, b := range data {
		rb.buffer[rb.iPtr] = b
		rb.iPtr++
		if rb.iPtr == rb.length {
			rb.iPtr = 0
		}
	}
	return true
}

func (rb *ringBuffer) AddByte(b byte) bool {
	return rb.AddData([]byte{b})
}

func (rb *ringBuffer) GetData(n uint32) ([]byte, bool) {
	if rb.DataSize() < n {
		return nil, false
	}
	out := make([]byte, n)
	for i := uint32(0); i < n; i++ {
		out[i] = rb.buffer[rb.oPtr]
		rb.oPtr++
		if rb.oPtr == rb.length {
			rb.oPtr = 0
		}
	}
	return out, true
}

func (rb *ringBuffer) Peek(n uint32) ([]byte, bool) {
	if rb.DataSize() < n {
		return nil, false
	}
	out := make([]byte, n)
	ptr := rb.oPtr
	for i := uint32(0); i < n; i++ {
		out[i] = rb.buffer[ptr]
		ptr++
		if ptr == rb.length {
			ptr = 0
		}
	}
	return out, true
}

// DropOne discards the single byte at the head, used when resyncing past a
// stray non-0x61 byte.
func (rb *ringBuffer) DropOne() {
	if rb.IsEmpty() {
		return
	}
	rb.oPtr++
	if rb.oPtr == rb.length {
		rb.oPtr = 0
	}
}

func (rb *ringBuffer) Clear() {
	rb.iPtr = 0
	rb.oPtr = 0
	for i := range rb.buffer {
		rb.buffer[i] = 0
	}
}

func (rb *ringBuffer) FreeSpace() uint32 {
	length := rb.length
	if rb.oPtr > rb.iPtr {
		length = rb.oPtr - rb.iPtr
	} else if rb.iPtr > rb.oPtr {
		length = rb.length - (rb.iPtr - rb.oPtr)
	}
	if length > rb.length {
		length = 0
	}
	return length
}

func (rb *ringBuffer) DataSize() uint32 { return rb.length - rb.FreeSpace() }
func (rb *ringBuffer) IsEmpty() bool    { return rb.oPtr == rb.iPtr }
