// Package manifest loads kiln.hcl build files and plans them into a node
// graph.
package manifest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"

	"github.com/agentic-research/kiln/api"
	"github.com/agentic-research/kiln/internal/ctxlog"
	"github.com/agentic-research/kiln/internal/scan"
)

// DefaultFile is the manifest name looked up when none is given.
const DefaultFile = "kiln.hcl"

var ErrInvalid = errors.New("invalid manifest")

// Load parses and decodes the manifest at path. Expressions can use the
// variables root (the manifest directory) and env (the process environment),
// plus a few string functions.
func Load(ctx context.Context, path string) (*api.Manifest, string, error) {
	logger := ctxlog.FromContext(ctx)

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, "", err
	}
	root := filepath.Dir(abs)
	logger.Debug("Decoding manifest.", "path", abs)

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(abs)
	if diags.HasErrors() {
		return nil, "", fmt.Errorf("failed to parse manifest %s: %s", abs, diags.Error())
	}

	var m api.Manifest
	diags = gohcl.DecodeBody(file.Body, evalContext(root), &m)
	if diags.HasErrors() {
		return nil, "", fmt.Errorf("failed to decode manifest %s: %s", abs, diags.Error())
	}
	if err := Validate(&m); err != nil {
		return nil, "", fmt.Errorf("%s: %w", abs, err)
	}

	logger.Debug("Decoded manifest.", "path", abs, "steps_found", len(m.Steps))
	return &m, root, nil
}

func evalContext(root string) *hcl.EvalContext {
	env := map[string]cty.Value{}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			env[k] = cty.StringVal(v)
		}
	}
	envVal := cty.MapValEmpty(cty.String)
	if len(env) > 0 {
		envVal = cty.MapVal(env)
	}

	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"root": cty.StringVal(root),
			"env":  envVal,
		},
		Functions: map[string]function.Function{
			"concat":  stdlib.ConcatFunc,
			"format":  stdlib.FormatFunc,
			"join":    stdlib.JoinFunc,
			"lower":   stdlib.LowerFunc,
			"replace": stdlib.ReplaceFunc,
			"upper":   stdlib.UpperFunc,
		},
	}
}

// Validate checks names, builders and step references.
func Validate(m *api.Manifest) error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...)))
	}

	names := make(map[string]bool, len(m.Steps))
	for _, s := range m.Steps {
		if names[s.Name] {
			invalid("step %q declared twice", s.Name)
		}
		names[s.Name] = true
	}

	for _, s := range m.Steps {
		switch s.Builder {
		case "copy":
			if s.Dir == "" {
				invalid("step %q: copy needs dir", s.Name)
			}
		case "command":
			if len(s.Command) == 0 {
				invalid("step %q: command needs command", s.Name)
			}
		default:
			invalid("step %q: unknown builder %q", s.Name, s.Builder)
		}
		for _, ref := range append(append([]string{}, s.Inputs...), s.After...) {
			if !names[ref] {
				invalid("step %q: unknown step %q", s.Name, ref)
			}
		}
		if _, err := scan.ParseLanguage(s.Scan); err != nil {
			invalid("step %q: %v", s.Name, err)
		}
		switch s.Signature {
		case "", "checksum", "timestamp":
		default:
			invalid("step %q: unknown signature kind %q", s.Name, s.Signature)
		}
	}
	return errors.Join(errs...)
}
