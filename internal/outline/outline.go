// Package outline names chunks after the definitions they contain, using
// tree-sitter grammars picked by file extension.
package outline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("torii.outline")

const captureName = "name"

// DefaultQueries capture the name of every top-level-looking definition.
// Keys are file extensions.
var DefaultQueries = map[string]string{
	".py": `(function_definition name: (identifier) @name)
(class_definition name: (identifier) @name)`,
	".go": `(function_declaration name: (identifier) @name)
(method_declaration name: (field_identifier) @name)
(type_spec name: (type_identifier) @name)`,
	".js": `(function_declaration name: (identifier) @name)
(class_declaration name: (identifier) @name)
(method_definition name: (property_identifier) @name)`,
}

var languages = map[string]*sitter.Language{
	".py":  python.GetLanguage(),
	".go":  golang.GetLanguage(),
	".js":  javascript.GetLanguage(),
	".jsx": javascript.GetLanguage(),
	".mjs": javascript.GetLanguage(),
}

type grammar struct {
	lang  *sitter.Language
	query *sitter.Query
}

// Namer finds the first definition inside a line range.
type Namer struct {
	mu       sync.Mutex
	parser   *sitter.Parser
	grammars map[string]grammar
}

// NewNamer compiles DefaultQueries, with overrides taking precedence per
// extension. Extensions without a known grammar are rejected.
func NewNamer(overrides map[string]string) (*Namer, error) {
	queries := make(map[string]string, len(DefaultQueries))
	for ext, q := range DefaultQueries {
		queries[ext] = q
	}
	if js, ok := queries[".js"]; ok {
		queries[".jsx"] = js
		queries[".mjs"] = js
	}
	for ext, q := range overrides {
		queries[strings.ToLower(ext)] = q
	}

	n := &Namer{
		parser:   sitter.NewParser(),
		grammars: make(map[string]grammar, len(queries)),
	}
	for ext, q := range queries {
		lang, ok := languages[ext]
		if !ok {
			n.Close()
			return nil, fmt.Errorf("no grammar for extension %q", ext)
		}
		query, err := sitter.NewQuery([]byte(q), lang)
		if err != nil {
			n.Close()
			return nil, fmt.Errorf("invalid query for %q: %w", ext, err)
		}
		n.grammars[ext] = grammar{lang: lang, query: query}
	}
	return n, nil
}

// Name returns the name of the earliest definition whose name starts on a
// zero-based row in [first, last] of text, or "" if there is none.
func (n *Namer) Name(path string, text []byte, first, last int) string {
	g, ok := n.grammars[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return ""
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	n.parser.SetLanguage(g.lang)
	tree, err := n.parser.ParseCtx(context.Background(), nil, text)
	if err != nil {
		log.Warningf("failed to parse %s: %v", path, err)
		return ""
	}
	defer tree.Close()

	qc := sitter.NewQueryCursor()
	defer qc.Close()
	qc.Exec(g.query, tree.RootNode())

	best := ""
	bestRow := -1
	for {
		m, ok := qc.NextMatch()
		if !ok {
			break
		}
		m = qc.FilterPredicates(m, text)
		for _, c := range m.Captures {
			if g.query.CaptureNameForId(c.Index) != captureName {
				continue
			}
			row := int(c.Node.StartPoint().Row)
			if row < first || row > last {
				continue
			}
			if bestRow == -1 || row < bestRow {
				best = c.Node.Content(text)
				bestRow = row
			}
		}
	}
	return best
}

func (n *Namer) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, g := range n.grammars {
		g.query.Close()
	}
	n.grammars = nil
	if n.parser != nil {
		n.parser.Close()
		n.parser = nil
	}
}
