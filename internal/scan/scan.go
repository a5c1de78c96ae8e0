// Package scan discovers implicit build dependencies by parsing sources with
// tree-sitter. Only quoted C/C++ includes are followed; <system> headers are
// outside the build.
package scan

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/c"
	"github.com/smacker/go-tree-sitter/cpp"
)

// Language selects the grammar used for a file.
type Language string

const (
	None Language = ""
	Auto Language = "auto"
	C    Language = "c"
	CPP  Language = "cpp"
)

const includeQuery = `(preproc_include path: (string_literal) @path)`

// ParseLanguage validates a manifest language name.
func ParseLanguage(s string) (Language, error) {
	switch l := Language(strings.ToLower(s)); l {
	case None, Auto, C, CPP:
		return l, nil
	case "c++", "cxx":
		return CPP, nil
	default:
		return None, fmt.Errorf("unknown scan language %q", s)
	}
}

// Detect picks a language from the file extension.
func Detect(path string) (Language, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".c", ".h":
		return C, true
	case ".cc", ".cpp", ".cxx", ".c++", ".hh", ".hpp", ".hxx", ".inl":
		return CPP, true
	default:
		return None, false
	}
}

func grammar(l Language) *sitter.Language {
	switch l {
	case C:
		return c.GetLanguage()
	case CPP:
		return cpp.GetLanguage()
	default:
		return nil
	}
}

// Scanner follows includes from a set of source files.
type Scanner struct {
	Lang Language
	// Dirs are searched after the including file's directory.
	Dirs []string
}

// Includes is Scanner{Lang: Auto}.Includes for a single file.
func Includes(ctx context.Context, path string) ([]string, error) {
	return Scanner{Lang: Auto}.Includes(ctx, path)
}

// Includes returns every existing file transitively included by paths, sorted
// and without duplicates. The starting files are not part of the result
// unless another file includes them.
func (s Scanner) Includes(ctx context.Context, paths ...string) ([]string, error) {
	if s.Lang == None {
		return nil, nil
	}

	queries := map[Language]*sitter.Query{}
	defer func() {
		for _, q := range queries {
			q.Close()
		}
	}()

	found := map[string]bool{}
	visited := map[string]bool{}
	queue := make([]string, 0, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, err
		}
		queue = append(queue, abs)
	}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path := queue[0]
		queue = queue[1:]
		if visited[path] {
			continue
		}
		visited[path] = true

		lang := s.Lang
		if lang == Auto {
			var ok bool
			if lang, ok = Detect(path); !ok {
				continue
			}
		}
		q := queries[lang]
		if q == nil {
			var err error
			if q, err = sitter.NewQuery([]byte(includeQuery), grammar(lang)); err != nil {
				return nil, fmt.Errorf("include query for %s: %w", lang, err)
			}
			queries[lang] = q
		}

		names, err := includesOf(ctx, path, lang, q)
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			if dep, ok := s.resolve(filepath.Dir(path), name); ok {
				found[dep] = true
				queue = append(queue, dep)
			}
		}
	}

	out := make([]string, 0, len(found))
	for p := range found {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

func includesOf(ctx context.Context, path string, lang Language, q *sitter.Query) ([]string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(grammar(lang))
	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	defer tree.Close()

	qc := sitter.NewQueryCursor()
	defer qc.Close()
	qc.Exec(q, tree.RootNode())

	var names []string
	for {
		m, ok := qc.NextMatch()
		if !ok {
			break
		}
		for _, capture := range m.Captures {
			text := capture.Node.Content(content)
			if name := strings.Trim(text, `"`); name != "" {
				names = append(names, name)
			}
		}
	}
	return names, nil
}

func (s Scanner) resolve(dir, name string) (string, bool) {
	if filepath.IsAbs(name) {
		return name, isFile(name)
	}
	for _, base := range append([]string{dir}, s.Dirs...) {
		candidate := filepath.Clean(filepath.Join(base, name))
		if isFile(candidate) {
			if abs, err := filepath.Abs(candidate); err == nil {
				return abs, true
			}
		}
	}
	return "", false
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
