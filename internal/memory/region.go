package memory

// Protection is a set of page permissions.
type Protection uint8

const (
	ProtRead Protection = 1 << iota
	ProtWrite
	ProtExec
)

func (p Protection) String() string {
	b := []byte("---")
	if p&ProtRead != 0 {
		b[0] = 'r'
	}
	if p&ProtWrite != 0 {
		b[1] = 'w'
	}
	if p&ProtExec != 0 {
		b[2] = 'x'
	}
	return string(b)
}

// Region is a mapped address range [Start, End).
type Region struct {
	Start Address
	End   Address
	Prot  Protection
	Name  string
}

// Contains reports whether addr lies inside the region.
func (r Region) Contains(addr Address) bool { return addr.InRange(r.Start, r.End) }

// Size returns the region length in bytes.
func (r Region) Size() uint64 {
	if r.End < r.Start {
		return 0
	}
	return uint64(r.End - r.Start)
}

func (r Region) IsExecutable() bool { return r.Prot&ProtExec != 0 }

// IsCode reports an executable, non-writable region.
func (r Region) IsCode() bool { return r.IsExecutable() && r.Prot&ProtWrite == 0 }

// IsData reports a readable or writable region that is not executable.
func (r Region) IsData() bool {
	return !r.IsExecutable() && r.Prot&(ProtRead|ProtWrite) != 0
}
