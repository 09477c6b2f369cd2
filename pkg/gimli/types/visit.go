package types

// IterStatus drives continuation of iteration callbacks throughout the
// tracer: hooks, type visits and collection walks all use it.
type IterStatus int

const (
	// IterStop ends the iteration.
	IterStop IterStatus = iota
	// IterCont proceeds to the next item.
	IterCont
	// IterErr ends the iteration and implies an error.
	IterErr
)

// VisitFunc is invoked for every node reached by Visit. Offset is in bits
// from the start of the visited root.
type VisitFunc func(name string, t *Type, offset uint64, depth int) IterStatus

// Visit performs a depth-first, left-to-right traversal of the type,
// invoking fn for every inner node and leaf. Aggregate members are descended
// into; pointer targets are not followed, so well-formed debug info cannot
// produce a cycle here.
func (t *Type) Visit(fn VisitFunc) IterStatus {
	return t.visit("", fn, 0, 0)
}

func (t *Type) visit(name string, fn VisitFunc, offset uint64, depth int) IterStatus {
	if t == nil {
		return IterCont
	}
	if status := fn(name, t, offset, depth); status != IterCont {
		return status
	}
	r := t.Resolve()
	if r == nil {
		return IterCont
	}
	switch r.Kind() {
	case Struct, Union:
		for _, m := range r.members {
			if status := m.Type.visit(m.Name, fn, offset+m.Offset, depth+1); status != IterCont {
				return status
			}
		}
	case Array:
		return r.arr.Contents.visit(name, fn, offset, depth+1)
	}
	return IterCont
}

// CollectionVisitFunc is invoked for every type registered in a collection.
type CollectionVisitFunc func(c *Collection, t *Type) IterStatus

// Visit walks every type owned by the collection in registration order.
func (c *Collection) Visit(fn CollectionVisitFunc) IterStatus {
	for _, t := range c.types {
		if status := fn(c, t); status != IterCont {
			return status
		}
	}
	return IterCont
}
