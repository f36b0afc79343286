package starlark

import (
	"fmt"
	"math"
	"math/bits"
	"strings"

	starlarklib "go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"

	"github.com/rhuss/majordomo/pkg/engine"
)

const (
	// maxIntBits caps the integers a product may build.
	maxIntBits = 1 << 16

	// maxIntDigits caps the decimal strings int() parses.
	maxIntDigits = 20000

	// maxDepth caps how deeply measure follows nested containers.
	maxDepth = 1000
)

// limits carries the per-invocation ceilings. Builtin work that is
// proportional to its input is charged against the same step ceiling the
// interpreter counts, and no single operation may build a string or
// collection larger than maxSize.
type limits struct {
	thread       *starlarklib.Thread
	maxSteps     uint64
	maxSize      int
	chargedSteps uint64
	exhausted    bool
}

func newLimits(thread *starlarklib.Thread, cfg engine.Config) *limits {
	return &limits{thread: thread, maxSteps: uint64(cfg.Steps()), maxSize: cfg.ValueSize()}
}

func (l *limits) remaining() int {
	used := l.thread.ExecutionSteps() + l.chargedSteps
	if used >= l.maxSteps {
		return 0
	}
	return int(min(l.maxSteps-used, math.MaxInt32))
}

// charge adds n steps of builtin work.
func (l *limits) charge(n int) error {
	if n <= 0 {
		return nil
	}
	l.chargedSteps += uint64(n)
	if l.thread.ExecutionSteps()+l.chargedSteps > l.maxSteps {
		l.exhausted = true
		return fmt.Errorf("%w: builtin work exceeds %d steps", engine.ErrStepLimit, l.maxSteps)
	}
	return nil
}

// fits reports an error if a result of n bytes or elements is too large.
func (l *limits) fits(what string, n int) error {
	if n > l.maxSize {
		return fmt.Errorf("%w: %s would have size %d, limit is %d", engine.ErrSizeLimit, what, n, l.maxSize)
	}
	return nil
}

// measure returns the rendered size of vs in bytes and charges one step
// per container element it visits.
func (l *limits) measure(vs ...starlarklib.Value) (int, error) {
	m := measurer{maxBytes: l.maxSize, maxCells: l.remaining()}
	for _, v := range vs {
		m.visit(v)
	}
	if err := l.charge(m.cells); err != nil {
		return 0, err
	}
	if m.tooDeep {
		return 0, fmt.Errorf("%w: value nested deeper than %d", engine.ErrSizeLimit, maxDepth)
	}
	return m.bytes, nil
}

// cost charges one step per container element reachable from vs.
func (l *limits) cost(vs ...starlarklib.Value) error {
	m := measurer{maxBytes: math.MaxInt, maxCells: l.remaining()}
	for _, v := range vs {
		m.visit(v)
	}
	return l.charge(m.cells)
}

// measurer walks a value until either total exceeds its cap, so its own
// cost never exceeds what it charges.
type measurer struct {
	bytes, cells       int
	maxBytes, maxCells int
	tooDeep            bool
	path               []starlarklib.Value
}

func (m *measurer) over() bool {
	return m.tooDeep || m.bytes > m.maxBytes || m.cells > m.maxCells
}

func (m *measurer) visit(v starlarklib.Value) {
	if m.over() {
		return
	}
	switch v := v.(type) {
	case starlarklib.String:
		m.bytes += len(v)
	case starlarklib.Bytes:
		m.bytes += len(v) + 3
	case starlarklib.Int:
		m.bytes += intBits(v)/3 + 1
	case starlarklib.Tuple:
		m.elems(v.Len(), v.Index)
	case *starlarklib.List:
		if m.enter(v) {
			m.elems(v.Len(), v.Index)
			m.leave()
		}
	case *starlarklib.Dict:
		if m.enter(v) {
			for _, kv := range v.Items() {
				m.elems(kv.Len(), kv.Index)
				if m.over() {
					break
				}
			}
			m.leave()
		}
	case *starlarkstruct.Struct:
		if m.enter(v) {
			for _, name := range v.AttrNames() {
				attr, _ := v.Attr(name)
				m.bytes += len(name) + 3
				m.elems(1, func(int) starlarklib.Value { return attr })
				if m.over() {
					break
				}
			}
			m.leave()
		}
	default:
		m.bytes += 16
	}
}

func (m *measurer) elems(n int, index func(int) starlarklib.Value) {
	m.bytes += 2
	for i := 0; i < n; i++ {
		m.cells++
		m.bytes += 2
		m.visit(index(i))
		if m.over() {
			return
		}
	}
}

// enter pushes a mutable container, refusing cycles and deep nesting.
func (m *measurer) enter(v starlarklib.Value) bool {
	if len(m.path) >= maxDepth {
		m.tooDeep = true
		return false
	}
	for _, p := range m.path {
		if p == v {
			m.bytes += 5
			return false
		}
	}
	m.path = append(m.path, v)
	return true
}

func (m *measurer) leave() {
	m.path = m.path[:len(m.path)-1]
}

func intBits(i starlarklib.Int) int {
	if n, ok := i.Int64(); ok {
		if n < 0 {
			n = -n
		}
		return bits.Len64(uint64(n))
	}
	return i.BigInt().BitLen()
}

// seqLen is the length of a string, bytes, list or tuple.
func seqLen(v starlarklib.Value) (int, bool) {
	switch v := v.(type) {
	case starlarklib.String:
		return len(v), true
	case starlarklib.Bytes:
		return len(v), true
	case *starlarklib.List:
		return v.Len(), true
	case starlarklib.Tuple:
		return len(v), true
	}
	return 0, false
}

// checkBinary rejects x op y before it runs if the result would be too
// large.
func (l *limits) checkBinary(op syntax.Token, x, y starlarklib.Value) error {
	switch op {
	case syntax.PLUS:
		n, okx := seqLen(x)
		m, oky := seqLen(y)
		if okx && oky {
			return l.fits("concatenation", n+m)
		}
	case syntax.STAR:
		return l.checkRepeat(x, y)
	case syntax.PERCENT:
		if f, ok := x.(starlarklib.String); ok {
			return l.checkPercent(string(f), y)
		}
	}
	return nil
}

func (l *limits) checkRepeat(x, y starlarklib.Value) error {
	if xi, ok := x.(starlarklib.Int); ok {
		if yi, ok := y.(starlarklib.Int); ok {
			if n := intBits(xi) + intBits(yi); n > maxIntBits {
				return fmt.Errorf("%w: product would have %d bits, limit is %d", engine.ErrSizeLimit, n, maxIntBits)
			}
			return nil
		}
		x, y = y, x
	}
	n, ok := seqLen(x)
	if !ok || n == 0 {
		return nil
	}
	k, ok := y.(starlarklib.Int)
	if !ok {
		return nil
	}
	times, ok := k.Int64()
	if ok && times <= 0 {
		return nil
	}
	if !ok || times > int64(l.maxSize/n) {
		return fmt.Errorf("%w: repetition of %s of length %d, limit is %d", engine.ErrSizeLimit, x.Type(), n, l.maxSize)
	}
	return l.fits("repetition", n*int(times))
}

// checkPercent bounds "format" % args. A tuple supplies each argument
// once; a mapping may be referenced by every directive.
func (l *limits) checkPercent(format string, args starlarklib.Value) error {
	directives := strings.Count(format, "%")
	if directives == 0 {
		return nil
	}
	size, err := l.measure(args)
	if err != nil {
		return err
	}
	if _, ok := args.(*starlarklib.Dict); ok {
		if size > l.maxSize/directives {
			return l.fits("formatted string", l.maxSize+1)
		}
		size *= directives
	}
	return l.fits("formatted string", len(format)+size)
}

// checkMethod bounds the string and list methods whose result can be
// much larger than their inputs.
func (l *limits) checkMethod(recv starlarklib.Value, name string, args starlarklib.Tuple, kwargs []starlarklib.Tuple) error {
	switch recv := recv.(type) {
	case starlarklib.String:
		s := string(recv)
		switch name {
		case "replace":
			return l.checkReplace(s, args)
		case "join":
			return l.checkJoin(s, args)
		case "format":
			fields := strings.Count(s, "{")
			if fields == 0 {
				return nil
			}
			vals := append(starlarklib.Tuple(nil), args...)
			for _, kv := range kwargs {
				vals = append(vals, kv[1])
			}
			largest := 0
			for _, v := range vals {
				n, err := l.measure(v)
				if err != nil {
					return err
				}
				largest = max(largest, n)
			}
			if largest > l.maxSize/fields {
				return l.fits("formatted string", l.maxSize+1)
			}
			return l.fits("formatted string", len(s)+fields*largest)
		}
	case *starlarklib.List:
		if name == "extend" && len(args) == 1 {
			if n := starlarklib.Len(args[0]); n > 0 {
				return l.fits("list", recv.Len()+n)
			}
		}
	}
	return nil
}

func (l *limits) checkReplace(s string, args starlarklib.Tuple) error {
	if len(args) < 2 {
		return nil
	}
	old, ok1 := args[0].(starlarklib.String)
	repl, ok2 := args[1].(starlarklib.String)
	if !ok1 || !ok2 || len(repl) <= len(old) {
		return nil
	}
	n := strings.Count(s, string(old))
	if len(args) > 2 {
		if c, ok := args[2].(starlarklib.Int); ok {
			if c64, ok := c.Int64(); ok && c64 >= 0 && c64 < int64(n) {
				n = int(c64)
			}
		}
	}
	growth := len(repl) - len(old)
	if n > 0 && growth > (l.maxSize-len(s))/n {
		return l.fits("replacement", l.maxSize+1)
	}
	return l.fits("replacement", len(s)+n*growth)
}

func (l *limits) checkJoin(sep string, args starlarklib.Tuple) error {
	if len(args) != 1 {
		return nil
	}
	n := starlarklib.Len(args[0])
	if n <= 0 {
		return nil
	}
	if err := l.charge(n); err != nil {
		return err
	}
	total := len(sep) * (n - 1)
	iter := starlarklib.Iterate(args[0])
	if iter == nil {
		return nil
	}
	defer iter.Done()
	var x starlarklib.Value
	for iter.Next(&x) {
		if s, ok := x.(starlarklib.String); ok {
			total += len(s)
		}
		if total > l.maxSize {
			break
		}
	}
	return l.fits("joined string", total)
}

// checkIndent bounds json.indent, whose output grows with nesting depth.
func (l *limits) checkIndent(doc, prefix, indent string) error {
	lines, deepest := jsonShape(doc)
	perLine := len(prefix) + deepest*len(indent) + 1
	if lines > (l.maxSize-len(doc))/perLine {
		return l.fits("indented document", l.maxSize+1)
	}
	return l.fits("indented document", len(doc)+lines*perLine)
}

// jsonShape counts the lines an indented rendering of doc would have and
// its deepest nesting, skipping string contents.
func jsonShape(doc string) (lines, deepest int) {
	lines = 1
	depth := 0
	inString, escaped := false, false
	for i := 0; i < len(doc); i++ {
		c := doc[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[', '{':
			lines++
			depth++
			deepest = max(deepest, depth)
		case ']', '}':
			lines++
			depth--
		case ',':
			lines++
		}
	}
	return lines, deepest
}
