package gimli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"plugin"
	"strings"

	"github.com/sasha-s/go-deadlock"
	"github.com/wez/gimli/pkg/gimli/types"
)

// TraceSectionName is the well-known section that target binaries use to
// declare their analysis modules: a NUL-separated, padding-tolerant list of
// module base-names.
const TraceSectionName = "gimli_trace"

// AnaAPIVersion is the analysis API version offered to modules.
const AnaAPIVersion = 2

// Module continuation results. An analysis callback returns AnaSuppress to
// skip emitting the current thread, frame or variable.
const (
	AnaSuppress = 0
	AnaContinue = 1
)

// AnaModule is the function table an analysis module hands back from its
// init entry point. APIVersion 1 modules provide only PerformTrace and basic
// lookups; version 2 adds the per-frame and per-variable callbacks. Fields
// beyond what the declared version covers are ignored.
type AnaModule struct {
	APIVersion int

	PerformTrace func(api *Api, object string)

	OnBeginThreadTrace func(api *Api, object string, tid int, nframes int, pcaddrs []Addr, contexts []*StackFrame) int
	BeforePrintFrame   func(api *Api, object string, tid, frameno int, pcaddr Addr, context *StackFrame) int
	BeforePrintFrameVar func(api *Api, object string, tid, frameno int, pcaddr Addr, context *StackFrame,
		datatype, varname string, varaddr Addr, varsize uint64) int
	AfterPrintFrameVar func(api *Api, object string, tid, frameno int, pcaddr Addr, context *StackFrame,
		datatype, varname string, varaddr Addr, varsize uint64)
	AfterPrintFrame   func(api *Api, object string, tid, frameno int, pcaddr Addr, context *StackFrame)
	OnEndThreadTrace  func(api *Api, object string, tid int, nframes int, pcaddrs []Addr, contexts []*StackFrame)
}

// AnaInitFunc is the signature of the GimliAnaInit entry point an analysis
// module exports.
type AnaInitFunc func(api *Api) *AnaModule

// ModuleInitFunc is the signature of the optional GimliModuleInit entry
// point; it receives the offered API version.
type ModuleInitFunc func(version int) int

// Module records one loaded analysis module.
type Module struct {
	Name       string
	ExeName    string
	APIVersion int
	Ana        *AnaModule
}

// HookEntry is one registered callback: the function and its closure.
type HookEntry struct {
	Fn  interface{}
	Arg interface{}
}

// Hook function types dispatched by the trace emitter.
type (
	// TracerFunc runs once per trace, after all threads are emitted.
	TracerFunc func(p *Proc, arg interface{})

	// ThreadFunc runs at begin_thread and end_thread. Returning IterStop
	// from begin_thread suppresses the whole thread.
	ThreadFunc func(p *Proc, tid int, frames []*StackFrame, arg interface{}) IterStatus

	// FrameFunc runs at before_frame and after_frame. Returning IterStop
	// from before_frame suppresses the frame.
	FrameFunc func(p *Proc, frame *StackFrame, arg interface{}) IterStatus

	// VarPrinterFunc runs for each variable about to be printed. Returning
	// IterStop suppresses the variable.
	VarPrinterFunc func(p *Proc, frame *StackFrame, varname string, t *types.Type,
		addr Addr, depth int, arg interface{}) IterStatus
)

// ModuleRegistry owns the loaded modules and the hook registry for one
// tracer invocation. Loaded shared objects are interned by resolved path so
// the same file is loaded at most once. The registry is mutated only during
// discovery, which completes before trace emission begins.
type ModuleRegistry struct {
	mu      deadlock.Mutex
	loaded  map[string]struct{}
	modules []*Module
	hooks   map[string][]HookEntry

	// Diag receives human-readable diagnostics; defaults to stderr.
	Diag io.Writer
}

// NewModuleRegistry creates an empty registry.
func NewModuleRegistry() *ModuleRegistry {
	return &ModuleRegistry{
		loaded: map[string]struct{}{},
		hooks:  map[string][]HookEntry{},
		Diag:   os.Stderr,
	}
}

func (r *ModuleRegistry) diagf(format string, args ...interface{}) {
	fmt.Fprintf(r.Diag, format, args...)
}

// HookRegister appends a callback to the named event. Callbacks fire in
// registration order.
func (r *ModuleRegistry) HookRegister(name string, fn interface{}, arg interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks[name] = append(r.hooks[name], HookEntry{Fn: fn, Arg: arg})
}

// HookVisit invokes visit for each callback registered under name, in
// registration order, stopping at the first non-continue result.
func (r *ModuleRegistry) HookVisit(name string, visit func(e HookEntry) IterStatus) IterStatus {
	r.mu.Lock()
	entries := r.hooks[name]
	r.mu.Unlock()

	status := IterCont
	for _, e := range entries {
		status = visit(e)
		if status != IterCont {
			break
		}
	}
	return status
}

// VisitModules iterates the loaded modules in load order.
func (r *ModuleRegistry) VisitModules(fn func(mod *Module) IterStatus) IterStatus {
	status := IterCont
	for _, mod := range r.modules {
		status = fn(mod)
		if status != IterCont {
			break
		}
	}
	return status
}

// RegisterTracer registers fn on the tracer event.
func (r *ModuleRegistry) RegisterTracer(fn TracerFunc, arg interface{}) {
	r.HookRegister("tracer", fn, arg)
}

// RegisterVarPrinter registers fn on the var_printer event.
func (r *ModuleRegistry) RegisterVarPrinter(fn VarPrinterFunc, arg interface{}) {
	r.HookRegister("var_printer", fn, arg)
}

// DiscoverModules performs analysis-module discovery for every mapped
// object: the gimli_trace section, the gimli_tracer_module_name symbol, and
// the conventional gimli_<basename> fallback. Load failures are diagnosed
// and tracing proceeds without the module.
func (r *ModuleRegistry) DiscoverModules(api *Api) {
	for _, file := range api.proc.fileOrder {
		r.loadModulesForFile(api, file)
	}
}

func (r *ModuleRegistry) loadModulesForFile(api *Api, file *MappedObject) {
	if data, ok := file.SectionBytes(TraceSectionName); ok {
		seen := map[string]struct{}{}
		for _, name := range parseTraceSection(data) {
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			r.loadModuleNamed(api, file, name, true)
		}
	}

	if sym := api.proc.SymLookup(file.Name, "gimli_tracer_module_name"); sym != nil {
		if name := api.proc.ReadString(sym.Addr); name != "" {
			r.loadModuleNamed(api, file, name, true)
		}
	}

	r.loadModuleNamed(api, file, "gimli_"+filepath.Base(file.Name), false)
}

// parseTraceSection splits the section into its NUL-separated names,
// tolerating padding bytes between strings.
func parseTraceSection(data []byte) []string {
	var names []string
	for len(data) > 0 {
		if data[0] == 0 {
			data = data[1:]
			continue
		}
		end := 0
		for end < len(data) && data[end] != 0 {
			end++
		}
		names = append(names, string(data[:end]))
		data = data[end:]
	}
	return names
}

func (r *ModuleRegistry) loadModuleNamed(api *Api, file *MappedObject, name string, explicit bool) bool {
	// names may carry a suffix already; strip at the first dot
	if dot := strings.IndexByte(name, '.'); dot >= 0 {
		name = name[:dot]
	}
	path := filepath.Join(filepath.Dir(file.Name), name+ModuleSuffix)

	if _, err := os.Stat(path); err != nil {
		if explicit {
			r.diagf("NOTE: module %s declared that its tracing should be performed by %s, "+
				"but that module was not found (%v)\n", file.Name, path, err)
		}
		return false
	}
	if !r.loadModule(api, file.Name, path) {
		r.diagf("Failed to load modules from %s\n", path)
		return false
	}
	return true
}

// loadModule opens the shared object and negotiates with its entry points.
// The Go plugin runtime binds eagerly with global visibility, matching the
// dlopen(RTLD_NOW|RTLD_GLOBAL) contract of the module ABI; the entry points
// are exported as GimliAnaInit and GimliModuleInit.
func (r *ModuleRegistry) loadModule(api *Api, exename, path string) bool {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		resolved = path
	}

	r.mu.Lock()
	if _, dup := r.loaded[resolved]; dup {
		r.mu.Unlock()
		return true
	}
	r.loaded[resolved] = struct{}{}
	r.mu.Unlock()

	plug, err := plugin.Open(path)
	if err != nil {
		r.diagf("Unable to load library: %s: %v\n", path, err)
		return false
	}
	r.diagf("Loaded tracer module %s for %s\n", path, exename)

	found := 0

	if sym, err := plug.Lookup("GimliModuleInit"); err == nil {
		if modinit, ok := sym.(ModuleInitFunc); ok {
			found++
			modinit(AnaAPIVersion)
		} else if modinit, ok := sym.(func(int) int); ok {
			found++
			modinit(AnaAPIVersion)
		}
	}

	if sym, err := plug.Lookup("GimliAnaInit"); err == nil {
		var init AnaInitFunc
		switch fn := sym.(type) {
		case AnaInitFunc:
			init = fn
		case func(*Api) *AnaModule:
			init = fn
		}
		if init != nil {
			found++
			if mod := init(api); mod != nil {
				r.registerModule(api, exename, path, mod)
			}
		}
	}

	return found > 0
}

func (r *ModuleRegistry) registerModule(api *Api, exename, path string, ana *AnaModule) {
	version := ana.APIVersion
	if version != 1 && version != 2 {
		r.diagf("module %s requested unsupported API version %d; ignoring\n", path, version)
		return
	}

	mod := &Module{
		Name:       path,
		ExeName:    exename,
		APIVersion: version,
		Ana:        ana,
	}
	r.modules = append(r.modules, mod)

	if ana.PerformTrace != nil {
		r.RegisterTracer(func(p *Proc, arg interface{}) {
			m := arg.(*Module)
			m.Ana.PerformTrace(api, m.ExeName)
		}, mod)
	}
	if version >= 2 && ana.BeforePrintFrameVar != nil {
		r.RegisterVarPrinter(func(p *Proc, frame *StackFrame, varname string, t *types.Type,
			addr Addr, depth int, arg interface{}) IterStatus {
			m := arg.(*Module)

			size := uint64(0)
			typename := "<optimized out>"
			if t != nil {
				size = t.Size()
				typename = t.Declname()
			}

			var tid, frameno int
			var pcaddr Addr
			if frame != nil {
				tid = frame.Tid
				frameno = frame.FrameNo
				pcaddr = frame.PC()
			}
			if m.Ana.BeforePrintFrameVar(api, m.ExeName, tid, frameno, pcaddr, frame,
				typename, varname, addr, size) == AnaSuppress {
				return IterStop
			}
			return IterCont
		}, mod)
	}
	if version < 2 {
		return
	}
	if ana.OnBeginThreadTrace != nil {
		r.HookRegister("begin_thread", ThreadFunc(func(p *Proc, tid int, frames []*StackFrame, arg interface{}) IterStatus {
			m := arg.(*Module)
			pcs, ctxs := frameArrays(frames)
			if m.Ana.OnBeginThreadTrace(api, m.ExeName, tid, len(frames), pcs, ctxs) == AnaSuppress {
				return IterStop
			}
			return IterCont
		}), mod)
	}
	if ana.BeforePrintFrame != nil {
		r.HookRegister("before_frame", FrameFunc(func(p *Proc, frame *StackFrame, arg interface{}) IterStatus {
			m := arg.(*Module)
			if m.Ana.BeforePrintFrame(api, m.ExeName, frame.Tid, frame.FrameNo, frame.PC(), frame) == AnaSuppress {
				return IterStop
			}
			return IterCont
		}), mod)
	}
	if ana.AfterPrintFrame != nil {
		r.HookRegister("after_frame", FrameFunc(func(p *Proc, frame *StackFrame, arg interface{}) IterStatus {
			m := arg.(*Module)
			m.Ana.AfterPrintFrame(api, m.ExeName, frame.Tid, frame.FrameNo, frame.PC(), frame)
			return IterCont
		}), mod)
	}
	if ana.AfterPrintFrameVar != nil {
		r.HookRegister("after_var", VarPrinterFunc(func(p *Proc, frame *StackFrame, varname string, t *types.Type,
			addr Addr, depth int, arg interface{}) IterStatus {
			m := arg.(*Module)
			size := uint64(0)
			typename := "<optimized out>"
			if t != nil {
				size = t.Size()
				typename = t.Declname()
			}
			m.Ana.AfterPrintFrameVar(api, m.ExeName, frame.Tid, frame.FrameNo, frame.PC(), frame,
				typename, varname, addr, size)
			return IterCont
		}), mod)
	}
	if ana.OnEndThreadTrace != nil {
		r.HookRegister("end_thread", ThreadFunc(func(p *Proc, tid int, frames []*StackFrame, arg interface{}) IterStatus {
			m := arg.(*Module)
			pcs, ctxs := frameArrays(frames)
			m.Ana.OnEndThreadTrace(api, m.ExeName, tid, len(frames), pcs, ctxs)
			return IterCont
		}), mod)
	}
}

func frameArrays(frames []*StackFrame) ([]Addr, []*StackFrame) {
	pcs := make([]Addr, len(frames))
	for i, f := range frames {
		pcs[i] = f.PC()
	}
	return pcs, frames
}
