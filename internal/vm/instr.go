package vm

import "encoding/binary"

const instrSize = 20

// instruction is the decoded form of a 20-byte program word (§4.2
// "Instruction encoding").
type instruction struct {
	raw   [instrSize]byte
	op    Op
	arity Arity
	hashV int
	kind1 OperandKind
	kind2 OperandKind
	r1    uint8
	r2    uint8
	r3    uint8
	lit1  uint64
	lit2  uint64
}

func decodeInstruction(b []byte) instruction {
	var in instruction
	copy(in.raw[:], b[:instrSize])

	in.op, in.arity, in.hashV = classify(b[0])

	in.kind1 = classifyKind(b[1] & 0x0F)
	in.kind2 = classifyKind((b[1] >> 4) & 0x0F)

	packed := binary.LittleEndian.Uint16(b[2:4])
	in.r1 = uint8(packed & 0x1F)
	in.r2 = uint8((packed >> 5) & 0x1F)
	in.r3 = uint8((packed >> 10) & 0x1F)

	in.lit1 = binary.LittleEndian.Uint64(b[4:12])
	in.lit2 = binary.LittleEndian.Uint64(b[12:20])

	return in
}
