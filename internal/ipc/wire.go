package ipc

import (
	"encoding/binary"

	"github.com/mkcore-project/mkcore/internal/constants"
	"github.com/mkcore-project/mkcore/internal/kerrors"
)

// wireCallSize is the byte length of a marshaled call: 8 (id) + 4
// (method) + 4 (flags) + IPCCallArgs*8 (scalar args).
const wireCallSize = 8 + 4 + 4 + constants.IPCCallArgs*8

// MarshalCall encodes c's method, flags, and argument vector into a
// fixed-layout wire record using encoding/binary over a preallocated
// buffer rather than a general-purpose codec — the record is a handful
// of fixed-width scalars, exactly the case encoding/binary is for.
func MarshalCall(c *Call) []byte {
	buf := make([]byte, wireCallSize)
	binary.LittleEndian.PutUint64(buf[0:8], c.id)
	binary.LittleEndian.PutUint32(buf[8:12], c.method)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(c.flags))
	off := 16
	for _, a := range c.args {
		binary.LittleEndian.PutUint64(buf[off:off+8], a)
		off += 8
	}
	return buf
}

// UnmarshalCall decodes a wire record produced by MarshalCall into a
// fresh, unqueued Call (sender/senderPhone are not part of the wire
// format and are left nil; a transport layer that needs them stamps
// them in separately).
func UnmarshalCall(data []byte) (*Call, error) {
	if len(data) < wireCallSize {
		return nil, kerrors.New("ipc_unmarshal_call", kerrors.ErrCodeInvalidArgument, "short call record")
	}
	c := &Call{
		id:     binary.LittleEndian.Uint64(data[0:8]),
		method: binary.LittleEndian.Uint32(data[8:12]),
		flags:  Flags(binary.LittleEndian.Uint32(data[12:16])),
		state:  StateQueued,
	}
	off := 16
	for i := range c.args {
		c.args[i] = binary.LittleEndian.Uint64(data[off : off+8])
		off += 8
	}
	return c, nil
}
