package gimli

import (
	"io"

	"github.com/sirupsen/logrus"
)

// fakeAdaptor is a scriptable OS adaptor: target memory is a sparse byte
// map, threads and mappings are whatever the test installs.
type fakeAdaptor struct {
	pid     int
	mem     map[Addr]byte
	threads []ThreadState
	maps    []RawMapping
}

func newFakeAdaptor() *fakeAdaptor {
	return &fakeAdaptor{mem: map[Addr]byte{}}
}

func (a *fakeAdaptor) poke(addr Addr, data []byte) {
	for i, b := range data {
		a.mem[addr+Addr(i)] = b
	}
}

func (a *fakeAdaptor) pokeWord(addr Addr, val uint64) {
	var buf [8]byte
	for i := range buf {
		buf[i] = byte(val >> (8 * i))
	}
	a.poke(addr, buf[:])
}

func (a *fakeAdaptor) Attach(pid int) ([]ThreadState, error) {
	a.pid = pid
	if len(a.threads) == 0 {
		return []ThreadState{{LWP: pid}}, nil
	}
	return a.threads, nil
}

func (a *fakeAdaptor) Detach() error { return nil }

func (a *fakeAdaptor) ReadMem(addr Addr, dest []byte) int {
	for i := range dest {
		b, ok := a.mem[addr+Addr(i)]
		if !ok {
			return i
		}
		dest[i] = b
	}
	return len(dest)
}

func (a *fakeAdaptor) EnumMappings() ([]RawMapping, error) { return a.maps, nil }

func (a *fakeAdaptor) RegAddr(cur *Cursor, col int) *uint64 {
	if col < 0 || col >= RegSlots {
		return nil
	}
	return &cur.st.Regs[col]
}

func (a *fakeAdaptor) IsSignalFrame(cur *Cursor) bool {
	return cur.st.PC == ^Addr(0)
}

func (a *fakeAdaptor) ProcStat() (ProcStat, error) {
	return ProcStat{Pid: a.pid, Size: 4096, RSS: 2048}, nil
}

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.Out = io.Discard
	return logrus.NewEntry(log)
}

// newTestProc builds a process handle around a fake adaptor without going
// through Attach.
func newTestProc(a *fakeAdaptor) *Proc {
	p := &Proc{
		pid:    1234,
		refcnt: 1,
		os:     a,
		log:    testLogger(),
		files:  map[string]*MappedObject{},
		remote: true,
	}
	p.unwinder = newCFIUnwinder(p)
	a.pid = 1234
	return p
}

// addBareObject registers an object that has no backing file, so tests can
// feed its symbol table directly.
func addBareObject(p *Proc, name string) *MappedObject {
	f := &MappedObject{
		Name:        name,
		refcnt:      1,
		log:         p.log.WithField("object", name),
		hasSymSizes: true,
	}
	p.files[name] = f
	p.fileOrder = append(p.fileOrder, f)
	if p.firstFile == nil {
		p.firstFile = f
	}
	return f
}
