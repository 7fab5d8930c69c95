package stream

import "fmt"

// Kind is the shape of an operator: which transformation produced it.
type Kind int

const (
	KindSource Kind = iota
	KindFilter
	KindProject
	KindRekey
	KindLeftJoin
	KindSink
	KindPrint
)

func (k Kind) String() string {
	switch k {
	case KindSource:
		return "SOURCE"
	case KindFilter:
		return "FILTER"
	case KindProject:
		return "PROJECT"
	case KindRekey:
		return "REKEY"
	case KindLeftJoin:
		return "LEFT_JOIN"
	case KindSink:
		return "SINK"
	case KindPrint:
		return "PRINT"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}
