package node

import (
	"fmt"
	"strings"
)

// briefWishSize caps the length of elided argument lists in brief mode.
const briefWishSize = 128

// BuildStr renders the node as "name: sources => targets".
func (n *Node) BuildStr(brief bool) string {
	args := n.buildArgs(brief)
	name := args.Name
	sources := joinArgs(args.Sources, brief)
	targets := joinArgs(args.Targets, brief)

	switch {
	case sources != "" && targets != "":
		return fmt.Sprintf("%s: %s => %s", name, sources, targets)
	case sources != "":
		return fmt.Sprintf("%s: %s", name, sources)
	case targets != "":
		return fmt.Sprintf("%s: => %s", name, targets)
	default:
		return name
	}
}

// ClearStr renders the targets a clear removes.
func (n *Node) ClearStr(brief bool) string {
	return joinArgs(n.buildArgs(brief).Targets, brief)
}

func (n *Node) buildArgs(brief bool) BuildArgs {
	if n.shrunk {
		if brief {
			return n.descr[1]
		}
		return n.descr[0]
	}
	args := n.builder.BuildStrArgs(n, brief)
	if args.Name == "" {
		args.Name = typeName(n.builder)
	}
	return args
}

func typeName(v any) string {
	name := fmt.Sprintf("%T", v)
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	return name
}

// joinArgs keeps the first and the last argument in brief mode and elides
// the middle once the line grows past briefWishSize.
func joinArgs(args []string, brief bool) string {
	if !brief || len(args) < 3 {
		return strings.Join(args, " ")
	}

	last := args[len(args)-1]
	size := len(args[0]) + len(last)
	out := []string{args[0]}
	for _, a := range args[1 : len(args)-1] {
		size += len(a)
		if size > briefWishSize {
			out = append(out, "...")
			break
		}
		out = append(out, a)
	}
	out = append(out, last)
	return strings.Join(out, " ")
}
