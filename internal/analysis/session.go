package analysis

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"

	"armrecover/internal/arm64"
	"armrecover/internal/config"
	"armrecover/internal/logging"
	"armrecover/internal/memory"
)

// NameInfo is external metadata about a known name.
type NameInfo struct {
	Name        string
	Category    string
	Description string
}

// NameService looks up metadata for recovered names. It is supplied by the
// caller; a nil service is valid and means no metadata.
type NameService interface {
	Lookup(name string) (NameInfo, bool)
}

// StaticNames is a NameService backed by a map.
type StaticNames map[string]NameInfo

func (s StaticNames) Lookup(name string) (NameInfo, bool) {
	info, ok := s[name]
	return info, ok
}

// SessionOption configures a Session.
type SessionOption func(*Session)

func SessionLogger(lg *log.Logger) SessionOption { return func(s *Session) { s.log = lg } }

func SessionNames(ns NameService) SessionOption { return func(s *Session) { s.names = ns } }

// Session bundles what detectors share during one pass over an immutable
// source: configuration, a logger, the vtable analyzer and a decoded
// instruction cache. A new image needs a new Session.
type Session struct {
	src   memory.Source
	cfg   config.Config
	log   *log.Logger
	names NameService

	vtables *VTableAnalyzer

	mu    sync.RWMutex
	insts map[memory.Address]arm64.Instruction
}

// NewSession prepares a pass over src.
func NewSession(src memory.Source, cfg config.Config, opts ...SessionOption) *Session {
	s := &Session{
		src:   src,
		cfg:   cfg,
		log:   logging.Discard(),
		insts: make(map[memory.Address]arm64.Instruction),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.vtables = NewVTableAnalyzer(src,
		WithMinEntries(cfg.VTable.MinEntries),
		WithMaxEntries(cfg.VTable.MaxEntries),
		WithLogger(s.log),
	)
	return s
}

func (s *Session) Source() memory.Source     { return s.src }
func (s *Session) Config() config.Config     { return s.cfg }
func (s *Session) Logger() *log.Logger       { return s.log }
func (s *Session) VTables() *VTableAnalyzer  { return s.vtables }
func (s *Session) Names() NameService        { return s.names }
func (s *Session) Encoder() arm64.Encoder    { return arm64.Encoder{Truncate: s.cfg.Encoder.Truncate} }

// ScanOptions derives window scan options from the configuration.
func (s *Session) ScanOptions() ScanOptions {
	return ScanOptions{
		Window:        s.cfg.Scan.Window,
		Workers:       s.cfg.Scan.Workers,
		MaxCandidates: s.cfg.Scan.MaxCandidates,
		Logger:        s.log,
	}
}

// Instruction decodes the word at addr through the cache.
func (s *Session) Instruction(addr memory.Address) (arm64.Instruction, error) {
	s.mu.RLock()
	inst, ok := s.insts[addr]
	s.mu.RUnlock()
	if ok {
		return inst, nil
	}
	inst, err := arm64.DecodeAt(s.src, addr)
	if err != nil {
		return arm64.Instruction{}, err
	}
	s.mu.Lock()
	s.insts[addr] = inst
	s.mu.Unlock()
	return inst, nil
}

// Window returns up to n consecutive instructions from addr. It stops at
// the first unreadable word; an unreadable first word is an error.
func (s *Session) Window(addr memory.Address, n int) ([]arm64.Instruction, error) {
	out := make([]arm64.Instruction, 0, n)
	for i := range n {
		inst, err := s.Instruction(addr.Add(uint64(i * arm64.InstructionSize)))
		if err != nil {
			if i == 0 {
				return nil, err
			}
			break
		}
		out = append(out, inst)
	}
	return out, nil
}

// CacheLen returns the number of cached instructions.
func (s *Session) CacheLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.insts)
}

// ClearCache drops every cached instruction and vtable.
func (s *Session) ClearCache() {
	s.mu.Lock()
	s.insts = make(map[memory.Address]arm64.Instruction)
	s.mu.Unlock()
	s.vtables.Clear()
}

// FindFunctionStart walks back from addr using the configured limit.
func (s *Session) FindFunctionStart(addr memory.Address) (memory.Address, bool) {
	return FindFunctionStart(s.src, addr, s.cfg.Scan.MaxBack)
}

// Run executes chain and returns the fused findings. Names known to the
// NameService take its category.
func (s *Session) Run(ctx context.Context, chain *DetectorChain) ([]Finding, error) {
	raw, err := chain.Detect(ctx, s, nil)
	if err != nil {
		return nil, err
	}
	if s.names != nil {
		for i, f := range raw {
			if info, ok := s.names.Lookup(f.Name); ok && info.Category != "" {
				f.Category = info.Category
				raw[i] = f
			}
		}
	}
	s.log.Debug("detectors finished", "raw", len(raw))
	return Fuse(raw), nil
}
