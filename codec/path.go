package codec

import (
	"strconv"
	"strings"
)

// PathSegment is one step of a CodingPath: a dictionary key or an array index.
type PathSegment struct {
	Key     string
	Index   int
	isIndex bool
}

func KeySegment(key string) PathSegment { return PathSegment{Key: key} }
func IndexSegment(i int) PathSegment    { return PathSegment{Index: i, isIndex: true} }

func (s PathSegment) IsIndex() bool { return s.isIndex }

func (s PathSegment) String() string {
	if s.isIndex {
		return "[" + strconv.Itoa(s.Index) + "]"
	}
	return s.Key
}

// Path is the diagnostic trail from the root to the current position. It is
// never used for addressing.
type Path []PathSegment

func (p Path) String() string {
	if len(p) == 0 {
		return "<root>"
	}
	var sb strings.Builder
	for i, seg := range p {
		if i > 0 && !seg.isIndex {
			sb.WriteByte('.')
		}
		sb.WriteString(seg.String())
	}
	return sb.String()
}

// with returns a copy of p extended by seg; children never share backing
// arrays with their parents.
func (p Path) with(seg PathSegment) Path {
	out := make(Path, len(p), len(p)+1)
	copy(out, p)
	return append(out, seg)
}
