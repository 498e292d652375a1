package analysis

import (
	"encoding/binary"
	"testing"

	"armrecover/internal/arm64"
	"armrecover/internal/memory"
)

// Layout of the synthetic image shared by the tests:
//
//	0x10000 r-x  code
//	0x11000 rw-  data (vtable)
//	0x12000 r--  rodata (type descriptor and name)
const (
	imgBase   = memory.Address(0x10000)
	codeEnd   = memory.Address(0x11000)
	dataEnd   = memory.Address(0x12000)
	rodataEnd = memory.Address(0x13000)

	fnFrame   = memory.Address(0x10000) // stp; mov x29, sp; bl fnAlloc; ldp; ret
	fnAlloc   = memory.Address(0x10100) // sub sp; add sp; ret
	fnLeaf    = memory.Address(0x1010c) // mov x0, x1; ret
	fnPure    = memory.Address(0x10200) // brk #1
	fnPAC     = memory.Address(0x10300) // paciasp; stp; mov x29, sp; ldp; ret
	vtableAt  = memory.Address(0x11010)
	typeDesc  = memory.Address(0x12000)
	typeName  = memory.Address(0x12100)
	className = "_ZTSN7cocos2d8LuaStackE"
)

type image struct {
	t    *testing.T
	data []byte
}

func (im *image) put32(addr memory.Address, w uint32) {
	binary.LittleEndian.PutUint32(im.data[addr-imgBase:], w)
}

func (im *image) put64(addr memory.Address, v uint64) {
	binary.LittleEndian.PutUint64(im.data[addr-imgBase:], v)
}

func (im *image) code(addr memory.Address, words ...uint32) {
	for i, w := range words {
		im.put32(addr.Add(uint64(4*i)), w)
	}
}

func (im *image) must(w uint32, err error) uint32 {
	im.t.Helper()
	if err != nil {
		im.t.Fatalf("encode: %v", err)
	}
	return w
}

func (im *image) source() *memory.Buffer {
	return memory.NewBuffer(imgBase, im.data,
		memory.Region{Start: imgBase, End: codeEnd, Prot: memory.ProtRead | memory.ProtExec, Name: ".text"},
		memory.Region{Start: codeEnd, End: dataEnd, Prot: memory.ProtRead | memory.ProtWrite, Name: ".data"},
		memory.Region{Start: dataEnd, End: rodataEnd, Prot: memory.ProtRead, Name: ".rodata"},
	)
}

const paciasp = 0xd503233f

func newImage(t *testing.T) *image {
	t.Helper()
	im := &image{t: t, data: make([]byte, rodataEnd-imgBase)}
	e := arm64.Encoder{}

	push := im.must(e.Pair(arm64.STP, arm64.FP, arm64.LR, arm64.PreIndexed(arm64.SP, -16)))
	pop := im.must(e.Pair(arm64.LDP, arm64.FP, arm64.LR, arm64.PostIndexed(arm64.SP, 16)))
	frame := im.must(e.Mov(arm64.FP, arm64.SP))
	ret := im.must(e.RET(arm64.LR))

	im.code(fnFrame, push, frame, im.must(e.BL(fnFrame+8, fnAlloc)), pop, ret)
	im.code(fnAlloc,
		im.must(e.SubImm(arm64.SP, arm64.SP, 32)),
		im.must(e.AddImm(arm64.SP, arm64.SP, 32)),
		ret,
		im.must(e.Mov(arm64.X(0), arm64.X(1))),
		ret,
	)
	im.code(fnPure, im.must(e.BRK(1)))
	im.code(fnPAC, paciasp, push, frame, pop, ret)

	im.put64(vtableAt-8, uint64(typeDesc))
	im.put64(vtableAt, uint64(fnFrame))
	im.put64(vtableAt+8, uint64(fnAlloc))
	im.put64(vtableAt+16, uint64(fnPure))
	im.put64(typeDesc+8, uint64(typeName))
	copy(im.data[typeName-imgBase:], className+"\x00")
	return im
}
