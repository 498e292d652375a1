package memory

// Buffer is an in-memory Source: a byte slice mapped at Base plus an
// explicit region table. Reads outside every region fail with ErrUnmapped.
type Buffer struct {
	Base    Address
	Data    []byte
	regions []Region
}

// NewBuffer maps data at base. With no regions given the whole buffer is a
// single r-x region named "buffer".
func NewBuffer(base Address, data []byte, regions ...Region) *Buffer {
	if len(regions) == 0 {
		regions = []Region{{
			Start: base,
			End:   base.Add(uint64(len(data))),
			Prot:  ProtRead | ProtExec,
			Name:  "buffer",
		}}
	}
	return &Buffer{Base: base, Data: data, regions: regions}
}

// ReadBytes implements Source. The returned slice aliases the buffer.
func (b *Buffer) ReadBytes(addr Address, n int) ([]byte, error) {
	if n < 0 {
		return nil, &ReadError{Addr: addr, Len: n, Err: ErrShortRead}
	}
	r, ok := FindRegion(b, addr)
	if !ok {
		return nil, &ReadError{Addr: addr, Len: n, Err: ErrUnmapped}
	}
	if uint64(n) > uint64(r.End-addr) {
		return nil, &ReadError{Addr: addr, Len: n, Err: ErrShortRead}
	}
	if addr < b.Base {
		return nil, &ReadError{Addr: addr, Len: n, Err: ErrUnmapped}
	}
	off := uint64(addr - b.Base)
	if off+uint64(n) > uint64(len(b.Data)) {
		return nil, &ReadError{Addr: addr, Len: n, Err: ErrShortRead}
	}
	return b.Data[off : off+uint64(n)], nil
}

// Regions implements Source.
func (b *Buffer) Regions() []Region { return b.regions }
