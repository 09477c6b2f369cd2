package gimli

import (
	"github.com/sirupsen/logrus"
)

// Proc is a handle on a stopped target process. It owns the OS adaptor
// state, the object registry and the memory-map index. Handles are reference
// counted; when the last reference is dropped the target is detached and
// resumed if it was a remote attach.
//
// A pid of 0 denotes the tracer itself. All references live on one thread of
// control, so the counts are plain integers.
type Proc struct {
	pid    int
	refcnt int
	os     OSAdaptor
	log    *logrus.Entry

	files     map[string]*MappedObject
	fileOrder []*MappedObject
	firstFile *MappedObject

	mappings    []*Mapping
	mapsChanged bool

	threads []ThreadState
	stat    ProcStat

	// unwinder is the debug-table step implementation; its memory and
	// register accesses route back through this handle so only one component
	// holds the target-stopped state.
	unwinder DebugUnwinder

	remote bool
}

// Attach stops the target identified by pid and returns a handle to it. The
// mapping registry and thread list are populated before this returns.
func Attach(pid int, adaptor OSAdaptor, log *logrus.Entry) (*Proc, error) {
	p := &Proc{
		pid:    pid,
		refcnt: 1,
		os:     adaptor,
		log:    log,
		files:  map[string]*MappedObject{},
		remote: pid != 0,
	}
	p.unwinder = newCFIUnwinder(p)

	threads, err := adaptor.Attach(pid)
	if err != nil {
		return nil, err
	}
	p.threads = threads

	maps, err := adaptor.EnumMappings()
	if err != nil {
		adaptor.Detach()
		return nil, err
	}
	for _, m := range maps {
		p.AddMapping(m.Name, m.Base, m.Len, m.Offset)
	}

	if stat, err := adaptor.ProcStat(); err == nil {
		p.stat = stat
	} else {
		p.stat.Pid = pid
	}

	return p, nil
}

// AddRef adds a reference to the handle.
func (p *Proc) AddRef() { p.refcnt++ }

// Delete drops a reference. When the final reference is dropped the target
// is detached (and resumed) if it was a remote attach.
func (p *Proc) Delete() {
	p.refcnt--
	if p.refcnt > 0 {
		return
	}
	if p.remote {
		if err := p.os.Detach(); err != nil {
			p.log.WithError(err).Debug("detach failed")
		}
	}
	for _, f := range p.fileOrder {
		f.delRef()
	}
	p.files = nil
	p.fileOrder = nil
	p.mappings = nil
}

// Pid returns the pid of the target; 0 means the target is the tracer
// itself.
func (p *Proc) Pid() int {
	if !p.remote {
		return 0
	}
	return p.pid
}

// Threads returns the target's threads in the order the OS reported them.
func (p *Proc) Threads() []ThreadState { return p.threads }

// Stat returns the process status sampled at attach time.
func (p *Proc) Stat() ProcStat { return p.stat }

// ReadMem copies target memory into dest, best effort, returning the number
// of bytes read.
func (p *Proc) ReadMem(addr Addr, dest []byte) int {
	return p.os.ReadMem(addr, dest)
}

// ReadString reads bytes from addr until a NUL is found or a read falls
// short. A short read returns the bytes accumulated so far.
func (p *Proc) ReadString(addr Addr) string {
	var out []byte
	var buf [64]byte
	for {
		n := p.os.ReadMem(addr, buf[:])
		for i := 0; i < n; i++ {
			if buf[i] == 0 {
				return string(append(out, buf[:i]...))
			}
		}
		out = append(out, buf[:n]...)
		if n < len(buf) {
			return string(out)
		}
		addr += Addr(n)
	}
}

// ReadPointer reads one pointer-sized word from the target.
func (p *Proc) ReadPointer(addr Addr) (Addr, bool) {
	var buf [8]byte
	if p.os.ReadMem(addr, buf[:]) != len(buf) {
		return 0, false
	}
	return Addr(leUint64(buf[:])), true
}

func leUint64(b []byte) uint64 {
	return uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 | uint64(b[3])<<24 |
		uint64(b[4])<<32 | uint64(b[5])<<40 | uint64(b[6])<<48 | uint64(b[7])<<56
}
