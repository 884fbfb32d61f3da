// Package vm implements the register-based Hash VM that consumes a
// preimage and a ROM to produce a 64-byte digest (§4.2).
package vm

import (
	"encoding"
	"encoding/binary"
	"fmt"
	"hash"
	"math/bits"

	"golang.org/x/crypto/blake2b"

	"scavenger/internal/rom"
)

const (
	numRegisters  = 32
	initMaterial  = numRegisters*8 + 3*64
	strideCount   = 32
	strideBytes   = numRegisters * 8
	expandedBytes = strideCount * strideBytes
)

// machine holds the per-call VM state (§4.2 "State").
type machine struct {
	rom *rom.Rom

	registers [numRegisters]uint64
	ip        uint32

	progDigest hash.Hash
	memDigest  hash.Hash

	memoryCounter uint32
	loopCounter   uint32

	progSeed [64]byte
	program  []byte
	instrs   int
}

// Hash runs the VM for `loops` iterations of `instrs` reshuffled
// instructions each, bound to the given ROM and salt (the preimage bytes),
// and returns the 64-byte digest (§4.2 contract).
func Hash(salt []byte, r *rom.Rom, loops, instrs int) ([64]byte, error) {
	var out [64]byte
	if loops < 2 {
		return out, fmt.Errorf("vm: loops must be >= 2")
	}
	if instrs < 256 {
		return out, fmt.Errorf("vm: instrs must be >= 256")
	}

	m := &machine{rom: r, instrs: instrs}
	if err := m.init(salt); err != nil {
		return out, err
	}

	for l := 0; l < loops; l++ {
		m.shuffleProgram()
		for step := 0; step < instrs; step++ {
			m.execStep()
		}
		m.mixRegisters()
	}

	return m.finalize(), nil
}

func (m *machine) init(salt []byte) error {
	seed := append(append([]byte{}, m.rom.Digest[:]...), salt...)
	material := hPrime(seed, initMaterial)

	for i := 0; i < numRegisters; i++ {
		m.registers[i] = binary.LittleEndian.Uint64(material[i*8 : i*8+8])
	}
	off := numRegisters * 8

	progInit := material[off : off+64]
	off += 64
	memInit := material[off : off+64]
	off += 64
	copy(m.progSeed[:], material[off:off+64])

	h, err := blake2b.New512(nil)
	if err != nil {
		return err
	}
	h.Write(progInit)
	m.progDigest = h

	h2, err := blake2b.New512(nil)
	if err != nil {
		return err
	}
	h2.Write(memInit)
	m.memDigest = h2

	return nil
}

// hPrime is shared with internal/rom but duplicated here at package scope
// because the VM's program-shuffle and init-material expansions are a
// distinct concern from ROM construction; see internal/rom/hprime.go for
// the canonical Argon2 H' implementation this mirrors.
func hPrime(seed []byte, outLen int) []byte {
	if outLen <= 64 {
		h, err := blake2b.New(outLen, nil)
		if err != nil {
			panic(err)
		}
		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(outLen))
		h.Write(lenBuf[:])
		h.Write(seed)
		return h.Sum(nil)
	}

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(outLen))
	first := make([]byte, 0, len(lenBuf)+len(seed))
	first = append(first, lenBuf[:]...)
	first = append(first, seed...)

	out := make([]byte, 0, outLen+64)
	v := blake2b.Sum512(first)
	out = append(out, v[:32]...)

	for len(out)+32 < outLen {
		v = blake2b.Sum512(v[:])
		out = append(out, v[:32]...)
	}

	v = blake2b.Sum512(v[:])
	out = append(out, v[:outLen-len(out)]...)
	return out
}

func (m *machine) shuffleProgram() {
	m.program = hPrime(m.progSeed[:], m.instrs*instrSize)
}

func (m *machine) execStep() {
	off := int(m.ip) * instrSize
	in := decodeInstruction(m.program[off : off+instrSize])

	src1 := m.operand(in.kind1, in.r1, in.lit1)

	var result uint64
	if in.arity == Arity3 {
		src2 := m.operand(in.kind2, in.r2, in.lit2)
		result = m.op3(in.op, src1, src2, in.hashV)
	} else {
		result = m.op2(in.op, src1, in.r1)
	}
	m.registers[in.r3%numRegisters] = result

	m.progDigest.Write(in.raw[:])
	m.ip = (m.ip + 1) % uint32(m.instrs)
}

func (m *machine) operand(kind OperandKind, reg uint8, lit uint64) uint64 {
	switch kind {
	case KindRegister:
		return m.registers[reg%numRegisters]
	case KindMemory:
		return m.memoryFetch(lit)
	case KindLiteral:
		return lit
	case KindSpecial1:
		snap := m.progDigest.Sum(nil)
		return binary.LittleEndian.Uint64(snap[:8])
	default: // KindSpecial2
		snap := m.memDigest.Sum(nil)
		return binary.LittleEndian.Uint64(snap[:8])
	}
}

func (m *machine) memoryFetch(addr uint64) uint64 {
	chunks := m.rom.Chunks()
	idx := int(addr % uint64(chunks))
	chunk := m.rom.Data[idx*64 : idx*64+64]
	m.memDigest.Write(chunk)
	m.memoryCounter++
	off := (int(m.memoryCounter) % 8) * 8
	return binary.LittleEndian.Uint64(chunk[off : off+8])
}

func (m *machine) op3(op Op, a, b uint64, hashV int) uint64 {
	switch op {
	case OpAdd:
		return a + b
	case OpMul:
		return a * b
	case OpMulHigh:
		hi, _ := bits.Mul64(a, b)
		return hi
	case OpDiv:
		if b == 0 {
			return m.special1()
		}
		return a / b
	case OpMod:
		if b == 0 {
			return m.special1()
		}
		return a / b // §4.2: on non-zero divisor, Mod emits the quotient (verbatim, intentional asymmetry)
	case OpXor:
		return a ^ b
	case OpAnd:
		return a & b
	case OpHash:
		var buf [16]byte
		binary.LittleEndian.PutUint64(buf[0:8], a)
		binary.LittleEndian.PutUint64(buf[8:16], b)
		digest := blake2b.Sum512(buf[:])
		return binary.LittleEndian.Uint64(digest[hashV*8 : hashV*8+8])
	default:
		return 0
	}
}

func (m *machine) op2(op Op, a uint64, r1 uint8) uint64 {
	switch op {
	case OpISqrt:
		return isqrt(a)
	case OpBitReverse:
		return bits.Reverse64(a)
	case OpRotateLeft:
		count := m.registers[r1%numRegisters] & 0x3F
		return bits.RotateLeft64(a, int(count))
	case OpRotateRight:
		count := m.registers[r1%numRegisters] & 0x3F
		return bits.RotateLeft64(a, -int(count))
	case OpBitwiseNot:
		return ^a
	default:
		return 0
	}
}

func (m *machine) special1() uint64 {
	snap := m.progDigest.Sum(nil)
	return binary.LittleEndian.Uint64(snap[:8])
}

func isqrt(n uint64) uint64 {
	if n == 0 {
		return 0
	}
	x := n
	y := x/2 + x%2
	for y < x {
		x = y
		y = (x + n/x) / 2
	}
	return x
}

// mixRegisters runs the post-instructions mixing step at the end of a loop
// (§4.2 "Per-loop protocol" step 3).
func (m *machine) mixRegisters() {
	var sum uint64
	for _, r := range m.registers {
		sum += r
	}
	var sumLE [8]byte
	binary.LittleEndian.PutUint64(sumLE[:], sum)

	progClone := cloneHash(m.progDigest)
	progClone.Write(sumLE[:])
	progValue := progClone.Sum(nil)

	memClone := cloneHash(m.memDigest)
	memClone.Write(sumLE[:])
	memValue := memClone.Sum(nil)

	var loopLE [4]byte
	binary.LittleEndian.PutUint32(loopLE[:], m.loopCounter)

	mixSeed := make([]byte, 0, len(progValue)+len(memValue)+len(loopLE))
	mixSeed = append(mixSeed, progValue...)
	mixSeed = append(mixSeed, memValue...)
	mixSeed = append(mixSeed, loopLE[:]...)
	mix := blake2b.Sum512(mixSeed)

	expanded := hPrime(mix[:], expandedBytes)
	var regBytes [strideBytes]byte
	for i := 0; i < numRegisters; i++ {
		binary.LittleEndian.PutUint64(regBytes[i*8:i*8+8], m.registers[i])
	}
	for s := 0; s < strideCount; s++ {
		stride := expanded[s*strideBytes : s*strideBytes+strideBytes]
		for j := 0; j < strideBytes; j++ {
			regBytes[j] ^= stride[j]
		}
	}
	for i := 0; i < numRegisters; i++ {
		m.registers[i] = binary.LittleEndian.Uint64(regBytes[i*8 : i*8+8])
	}

	copy(m.progSeed[:], progValue)
	m.loopCounter++
}

func (m *machine) finalize() [64]byte {
	progFinal := m.progDigest.Sum(nil)
	memFinal := m.memDigest.Sum(nil)

	var counterLE [4]byte
	binary.LittleEndian.PutUint32(counterLE[:], m.memoryCounter)

	buf := make([]byte, 0, len(progFinal)+len(memFinal)+len(counterLE)+numRegisters*8)
	buf = append(buf, progFinal...)
	buf = append(buf, memFinal...)
	buf = append(buf, counterLE[:]...)
	for _, r := range m.registers {
		var regLE [8]byte
		binary.LittleEndian.PutUint64(regLE[:], r)
		buf = append(buf, regLE[:]...)
	}

	return blake2b.Sum512(buf)
}

// cloneHash snapshots a running Blake2b hash into an independent instance
// so per-loop mixing can append the register sum and finalize without
// disturbing the real, still-accumulating digest. (Special1/Special2 peeks
// call Sum directly, which does not modify the running state.)
func cloneHash(h hash.Hash) hash.Hash {
	marshaler, ok := h.(encoding.BinaryMarshaler)
	if !ok {
		panic("vm: hash does not support state cloning")
	}
	state, err := marshaler.MarshalBinary()
	if err != nil {
		panic(err)
	}
	clone, err := blake2b.New512(nil)
	if err != nil {
		panic(err)
	}
	if err := clone.(encoding.BinaryUnmarshaler).UnmarshalBinary(state); err != nil {
		panic(err)
	}
	return clone
}
