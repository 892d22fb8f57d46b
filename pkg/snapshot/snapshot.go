// Package snapshot implements a debuggee that is a frozen image of a
// stopped process, described by a YAML file.
//
// A snapshot lists the threads of the process, its stop event, the
// register values and the mapped memory. Memory can be inlined as hex or
// read from a range of a file:
//
//	arch: amd64
//	threads: [1]
//	stop: {reason: signal, signal: SIGTRAP}
//	on-continue: {reason: exited, status: 0}
//	registers: {xax: 0x1, xsp: 0x7ffe0000, xip: 0x401000, xflags: 0x246}
//	memory:
//	  - {addr: 0x1000, data: "deadbeef"}
//	  - {addr: 0x400000, file: image.bin, offset: 0, size: 0x1000}
package snapshot

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"gopkg.in/yaml.v2"

	"github.com/rspd/rspd/pkg/gdbserial"
	"github.com/rspd/rspd/pkg/logflags"
)

// Error codes sent to the client, they follow the errno values gdbserver
// uses.
const (
	codeNoThread uint8 = 0x03 // ESRCH
	codeIO       uint8 = 0x05 // EIO
	codeFault    uint8 = 0x0e // EFAULT
	codeInvalid  uint8 = 0x16 // EINVAL
)

// cachedPages is the number of file pages kept in memory.
const cachedPages = 256

// File is the YAML representation of a snapshot.
type File struct {
	Arch       string            `yaml:"arch"`
	Threads    []uint32          `yaml:"threads"`
	Stop       *StopEvent        `yaml:"stop"`
	OnContinue *StopEvent        `yaml:"on-continue,omitempty"`
	Registers  map[string]uint64 `yaml:"registers"`
	Memory     []Region          `yaml:"memory"`
}

// StopEvent describes a stop of the debuggee.
type StopEvent struct {
	// Reason is one of signal, exited or terminated.
	Reason string `yaml:"reason"`
	// Signal is a signal name (SIGTRAP, TRAP) or number.
	Signal string `yaml:"signal,omitempty"`
	// Status is the exit status of an exited debuggee.
	Status uint8 `yaml:"status,omitempty"`
}

// Region is a range of mapped memory. Exactly one of Data and File must
// be set. Later regions override earlier ones where they overlap.
type Region struct {
	Addr uint64 `yaml:"addr"`
	// Data is the hex encoded content of the region.
	Data string `yaml:"data,omitempty"`
	// File is read from Offset for Size bytes. Relative paths are
	// relative to the directory of the snapshot. A zero Size maps the
	// rest of the file.
	File   string `yaml:"file,omitempty"`
	Offset int64  `yaml:"offset,omitempty"`
	Size   uint64 `yaml:"size,omitempty"`
}

// Target is a snapshot loaded in memory. It implements gdbserial.Executor.
type Target struct {
	arch    *gdbserial.Arch
	threads map[uint32]bool
	regs    gdbserial.Registers

	mu         sync.Mutex // protects stop and resumes
	stop       gdbserial.StopInfo
	onContinue *gdbserial.StopInfo
	resumes    []gdbserial.ContinueArgs

	mem   splicedMemory
	files []*os.File
	pages *lru.Cache

	log logflags.Logger
}

var _ gdbserial.Executor = (*Target)(nil)

// Load reads the snapshot stored at path.
func Load(path string) (*Target, error) {
	f, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	t, err := New(f, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// ReadFile decodes the snapshot stored at path without loading it, so
// that the caller can adjust it before calling New.
func ReadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse decodes a snapshot. File regions are resolved relative to baseDir.
func Parse(data []byte, baseDir string) (*Target, error) {
	f, err := decode(data)
	if err != nil {
		return nil, err
	}
	return New(f, baseDir)
}

func decode(data []byte) (*File, error) {
	var f File
	if err := yaml.UnmarshalStrict(data, &f); err != nil {
		return nil, fmt.Errorf("unable to decode snapshot: %w", err)
	}
	return &f, nil
}

// New builds a target from a decoded snapshot.
func New(f *File, baseDir string) (*Target, error) {
	t := &Target{
		threads: make(map[uint32]bool),
		log:     logflags.SnapshotLogger(),
	}
	var err error
	t.pages, err = lru.New(cachedPages)
	if err != nil {
		return nil, err
	}

	t.arch, err = gdbserial.ArchByName(f.Arch)
	if err != nil {
		return nil, err
	}

	if len(f.Threads) == 0 {
		return nil, errors.New("snapshot has no threads")
	}
	for _, tid := range f.Threads {
		if tid == 0 {
			return nil, errors.New("thread id 0 is reserved")
		}
		t.threads[tid] = true
	}

	if f.Stop == nil {
		return nil, errors.New("snapshot has no stop event")
	}
	stop, err := f.Stop.info()
	if err != nil {
		return nil, fmt.Errorf("stop: %w", err)
	}
	t.stop = *stop
	if f.OnContinue != nil {
		t.onContinue, err = f.OnContinue.info()
		if err != nil {
			return nil, fmt.Errorf("on-continue: %w", err)
		}
	}

	for name, v := range f.Registers {
		if err := setRegister(&t.regs, name, v); err != nil {
			return nil, err
		}
	}

	files := make(map[string]*os.File)
	for i := range f.Memory {
		if err := t.addRegion(&f.Memory[i], baseDir, files); err != nil {
			t.Close()
			return nil, fmt.Errorf("memory region %d: %w", i, err)
		}
	}

	t.log.Debugf("loaded %s snapshot with %d threads and %d memory regions", t.arch.Name, len(t.threads), len(f.Memory))
	if logflags.Snapshot() {
		for _, e := range t.mem.readers {
			t.log.Debugf("mapped %#x-%#x", e.offset, e.offset+e.length)
		}
	}
	return t, nil
}

func (ev *StopEvent) info() (*gdbserial.StopInfo, error) {
	switch ev.Reason {
	case "signal":
		sig, err := parseSignal(ev.Signal)
		if err != nil {
			return nil, err
		}
		return &gdbserial.StopInfo{Reason: gdbserial.StopSignal, Signal: sig}, nil
	case "terminated":
		sig, err := parseSignal(ev.Signal)
		if err != nil {
			return nil, err
		}
		return &gdbserial.StopInfo{Reason: gdbserial.StopTerminated, Signal: sig}, nil
	case "exited":
		return &gdbserial.StopInfo{Reason: gdbserial.StopExited, Status: ev.Status}, nil
	}
	return nil, fmt.Errorf("unknown stop reason %q", ev.Reason)
}

// parseSignal accepts a signal number, a signal name or a signal name
// without the SIG prefix.
func parseSignal(s string) (uint8, error) {
	if s == "" {
		return 0, errors.New("missing signal")
	}
	if n, err := strconv.ParseUint(s, 0, 8); err == nil {
		return uint8(n), nil
	}
	name := strings.ToUpper(s)
	if !strings.HasPrefix(name, "SIG") {
		name = "SIG" + name
	}
	sig := signalNum(name)
	if sig == 0 {
		return 0, fmt.Errorf("unknown signal %q", s)
	}
	return sig, nil
}

func setRegister(regs *gdbserial.Registers, name string, v uint64) error {
	var p *uint64
	switch strings.ToLower(name) {
	case "xax", "rax", "eax":
		p = &regs.Xax
	case "xbx", "rbx", "ebx":
		p = &regs.Xbx
	case "xcx", "rcx", "ecx":
		p = &regs.Xcx
	case "xdx", "rdx", "edx":
		p = &regs.Xdx
	case "xsi", "rsi", "esi":
		p = &regs.Xsi
	case "xdi", "rdi", "edi":
		p = &regs.Xdi
	case "xbp", "rbp", "ebp":
		p = &regs.Xbp
	case "xsp", "rsp", "esp":
		p = &regs.Xsp
	case "r8":
		p = &regs.R8
	case "r9":
		p = &regs.R9
	case "r10":
		p = &regs.R10
	case "r11":
		p = &regs.R11
	case "r12":
		p = &regs.R12
	case "r13":
		p = &regs.R13
	case "r14":
		p = &regs.R14
	case "r15":
		p = &regs.R15
	case "xip", "rip", "eip":
		p = &regs.Xip
	case "xflags", "rflags", "eflags":
		p = &regs.Xflags
	default:
		return fmt.Errorf("unknown register %q", name)
	}
	*p = v
	return nil
}

func (t *Target) addRegion(r *Region, baseDir string, files map[string]*os.File) error {
	switch {
	case r.Data != "" && r.File != "":
		return errors.New("data and file are mutually exclusive")
	case r.Data != "":
		data, err := hex.DecodeString(r.Data)
		if err != nil {
			return err
		}
		if r.Addr+uint64(len(data)) < r.Addr {
			return fmt.Errorf("region at %#x wraps around the address space", r.Addr)
		}
		t.mem.add(&byteRegion{base: r.Addr, data: data}, r.Addr, uint64(len(data)))
		return nil
	case r.File != "":
		if r.Offset < 0 {
			return fmt.Errorf("negative offset %d", r.Offset)
		}
		path := r.File
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		fh := files[path]
		if fh == nil {
			var err error
			fh, err = os.Open(path)
			if err != nil {
				return err
			}
			files[path] = fh
			t.files = append(t.files, fh)
		}
		size := r.Size
		if size == 0 {
			fi, err := fh.Stat()
			if err != nil {
				return err
			}
			if fi.Size() <= r.Offset {
				return fmt.Errorf("offset %#x is past the end of %s", r.Offset, path)
			}
			size = uint64(fi.Size() - r.Offset)
		}
		if r.Addr+size < r.Addr {
			return fmt.Errorf("region at %#x wraps around the address space", r.Addr)
		}
		t.mem.add(&fileRegion{f: fh, base: r.Addr, offset: r.Offset, pages: t.pages}, r.Addr, size)
		return nil
	}
	return errors.New("region has neither data nor file")
}

// Arch returns the architecture of the snapshot.
func (t *Target) Arch() *gdbserial.Arch {
	return t.arch
}

// Resumes returns the continue requests received so far.
func (t *Target) Resumes() []gdbserial.ContinueArgs {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]gdbserial.ContinueArgs(nil), t.resumes...)
}

// Execute implements gdbserial.Executor.
func (t *Target) Execute(cmd *gdbserial.Command) (*gdbserial.Result, error) {
	switch cmd.Kind {
	case gdbserial.CmdRegRead:
		regs := t.regs
		return &gdbserial.Result{Registers: &regs}, nil

	case gdbserial.CmdMemRead:
		return t.readMemory(cmd.MemRead)

	case gdbserial.CmdQueryStopReason:
		t.mu.Lock()
		stop := t.stop
		t.mu.Unlock()
		return &gdbserial.Result{Stop: &stop}, nil

	case gdbserial.CmdContinue:
		return t.resume(cmd.Continue)
	}
	return nil, &gdbserial.TargetError{Code: codeInvalid, Err: fmt.Errorf("%s not supported by snapshot", cmd.Kind)}
}

func (t *Target) readMemory(args *gdbserial.MemReadArgs) (*gdbserial.Result, error) {
	if args.Length > gdbserial.MaxReadLength {
		return nil, &gdbserial.TargetError{Code: codeInvalid, Err: fmt.Errorf("read of %#x bytes is too large", args.Length)}
	}
	buf := make([]byte, args.Length)
	n, err := t.mem.readMemory(buf, args.Addr)
	if err != nil {
		if n > 0 {
			// a short read is reported by returning fewer bytes
			t.log.Debugf("short read at %#x: %v", args.Addr, err)
			return &gdbserial.Result{Memory: buf[:n]}, nil
		}
		code := codeIO
		if errors.Is(err, errUnmapped) {
			code = codeFault
		}
		return nil, &gdbserial.TargetError{Code: code, Err: err}
	}
	return &gdbserial.Result{Memory: buf}, nil
}

func (t *Target) resume(args *gdbserial.ContinueArgs) (*gdbserial.Result, error) {
	for _, tid := range args.ThreadIDs {
		// zero selects any thread
		if tid != 0 && !t.threads[tid] {
			return nil, &gdbserial.TargetError{Code: codeNoThread, Err: fmt.Errorf("unknown thread %#x", tid)}
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.resumes = append(t.resumes, gdbserial.ContinueArgs{
		Action:    args.Action,
		ThreadIDs: append([]uint32(nil), args.ThreadIDs...),
	})
	t.log.Debugf("resume %s %v", args.Action, args.ThreadIDs)
	if t.onContinue == nil {
		return &gdbserial.Result{}, nil
	}
	t.stop = *t.onContinue
	stop := t.stop
	return &gdbserial.Result{Stop: &stop}, nil
}

// Close releases the files backing the memory of the snapshot.
func (t *Target) Close() error {
	var errs []error
	for _, fh := range t.files {
		if err := fh.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	t.files = nil
	t.pages.Purge()
	return errors.Join(errs...)
}
