package node

import (
	"errors"
	"fmt"
)

var (
	ErrNotInitiated      = errors.New("node is not initiated")
	ErrNoTargets         = errors.New("node targets are not built or set yet")
	ErrNoImplicitDeps    = errors.New("node implicit dependencies are not built or set yet")
	ErrInvalidDependency = errors.New("invalid node dependency")
	ErrCycle             = errors.New("dependency cycle")
)

// Error ties a node failure to the node it happened on.
type Error struct {
	Kind   error
	Node   string
	Detail string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Kind.Error()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Node != "" {
		msg += " (" + e.Node + ")"
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Kind }

func (n *Node) failf(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Node: n.String(), Detail: fmt.Sprintf(format, args...)}
}

func (n *Node) fail(kind error) error {
	return &Error{Kind: kind, Node: n.String()}
}
