// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package cogbridge

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/vincent-petithory/dataurl"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// PreludeSource is the source name reported for the document-start script.
const PreludeSource = "cogbridge://runtime"

// Document is a loaded document reduced to what a headless view executes.
type Document struct {
	URI     string
	Title   string
	Scripts []DocumentScript
}

// DocumentScript is one script of a document, in document order.
type DocumentScript struct {
	Source string // Resolved src URI, or the document URI for inline scripts
	Code   string
	Err    error // Set when the external source could not be read
}

// ReadDocument reads the document of req: the literal HTML when URI is empty,
// otherwise the content of a file: or data: URI.
func ReadDocument(req *LoadRequest) (*Document, error) {
	base := req.BaseURI
	content := req.HTML
	if req.URI != "" {
		data, err := readURI(req.URI)
		if err != nil {
			return nil, err
		}
		content = string(data)
		base = req.URI
	}

	root, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}

	doc := &Document{URI: req.URI}
	inlineSource := base
	if inlineSource == "" {
		inlineSource = "about:blank"
	}

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Title:
				if doc.Title == "" {
					doc.Title = strings.TrimSpace(textContent(n))
				}
			case atom.Script:
				if s, ok := scriptOf(n, base, inlineSource); ok {
					doc.Scripts = append(doc.Scripts, s)
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return doc, nil
}

func scriptOf(n *html.Node, base, inlineSource string) (DocumentScript, bool) {
	var src, typ string
	for _, a := range n.Attr {
		switch a.Key {
		case "src":
			src = strings.TrimSpace(a.Val)
		case "type":
			typ = strings.ToLower(strings.TrimSpace(a.Val))
		}
	}
	switch typ {
	case "", "text/javascript", "application/javascript", "module":
	default:
		return DocumentScript{}, false
	}

	if src == "" {
		return DocumentScript{Source: inlineSource, Code: textContent(n)}, true
	}

	resolved, err := resolveURI(base, src)
	if err != nil {
		return DocumentScript{Source: src, Err: err}, true
	}
	data, err := readURI(resolved)
	if err != nil {
		return DocumentScript{Source: resolved, Err: err}, true
	}
	return DocumentScript{Source: resolved, Code: string(data)}, true
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
	}
	return sb.String()
}

// resolveURI resolves ref against base. Without a base, ref is a file path
// relative to the working directory.
func resolveURI(base, ref string) (string, error) {
	r, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("failed to parse script source %s: %w", ref, err)
	}
	if r.IsAbs() {
		return ref, nil
	}
	if base == "" {
		return ref, nil
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("failed to parse base uri %s: %w", base, err)
	}
	switch b.Scheme {
	case "file":
		return b.ResolveReference(r).String(), nil
	case "":
		return filepath.Join(filepath.Dir(base), filepath.FromSlash(ref)), nil
	default:
		return "", fmt.Errorf("%w: cannot resolve %s against %s", ErrUnsupportedURI, ref, base)
	}
}

// readURI returns the content of a file: URI, a data: URI or a plain file path.
func readURI(uri string) ([]byte, error) {
	if strings.HasPrefix(uri, "data:") {
		du, err := dataurl.DecodeString(uri)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnsupportedURI, err)
		}
		return du.Data, nil
	}
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("failed to parse uri %s: %w", uri, err)
	}
	var path string
	switch u.Scheme {
	case "file":
		path = u.Path
	case "":
		path = uri
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedURI, uri)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", uri, err)
	}
	return data, nil
}


// EvalFunc evaluates one script under the given source name.
type EvalFunc func(source, code string) error

// RunDocument evaluates prelude and then every script of doc in order. A failing
// script is reported to sink as an ERROR console message; the run continues.
func RunDocument(doc *Document, prelude string, eval EvalFunc, sink ChannelSink) {
	if prelude != "" {
		if err := eval(PreludeSource, prelude); err != nil {
			reportScriptError(sink, PreludeSource, err)
		}
	}
	for _, s := range doc.Scripts {
		if s.Err != nil {
			reportScriptError(sink, s.Source, s.Err)
			continue
		}
		if strings.TrimSpace(s.Code) == "" {
			continue
		}
		if err := eval(s.Source, s.Code); err != nil {
			reportScriptError(sink, s.Source, err)
		}
	}
}

func reportScriptError(sink ChannelSink, source string, err error) {
	if sink == nil {
		return
	}
	sink.OnConsoleMessage(&ConsoleMessage{
		Level:   ConsoleLevelError,
		Message: err.Error(),
		Source:  source,
	})
}
