package field

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Rich is an in-memory contenteditable region. Its content is an HTML
// fragment; Value flattens it to text where <br> and block boundaries become
// newlines.
type Rich struct {
	mu         sync.Mutex
	ref        Ref
	root       *html.Node
	caret      int
	caretKnown bool
	events     []string
	gone       bool
}

// NewRich parses markup as the field's initial content. The caret starts
// unknown, as it does for editors without a selection.
func NewRich(ref Ref, markup string) (*Rich, error) {
	root := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	nodes, err := parseFragment(markup)
	if err != nil {
		return nil, fmt.Errorf("parse rich content: %w", err)
	}
	for _, n := range nodes {
		root.AppendChild(n)
	}
	r := &Rich{ref: ref, root: root}
	text, _ := layout(root)
	r.caret = len(text)
	return r, nil
}

func (r *Rich) Kind() Kind { return KindRich }

func (r *Rich) Value(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gone {
		return "", &FieldGoneError{Ref: r.ref}
	}
	text, _ := layout(r.root)
	return text, nil
}

func (r *Rich) SetValue(ctx context.Context, v string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gone {
		return &FieldGoneError{Ref: r.ref}
	}
	for c := r.root.FirstChild; c != nil; c = r.root.FirstChild {
		r.root.RemoveChild(c)
	}
	for _, n := range lineNodes(v) {
		r.root.AppendChild(n)
	}
	r.caret = clamp(r.caret, len(v))
	return nil
}

func (r *Rich) Caret(ctx context.Context) (int, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gone {
		return 0, false, &FieldGoneError{Ref: r.ref}
	}
	return r.caret, r.caretKnown, nil
}

func (r *Rich) SetCaret(ctx context.Context, offset int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gone {
		return &FieldGoneError{Ref: r.ref}
	}
	text, _ := layout(r.root)
	r.caret = clamp(offset, len(text))
	r.caretKnown = true
	return nil
}

func (r *Rich) NotifyChanged(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gone {
		return &FieldGoneError{Ref: r.ref}
	}
	r.events = append(r.events, RichChangeEvents...)
	return nil
}

// InsertStructured replaces [start,end) with text, turning newlines into
// <br> elements, and collapses the caret after the inserted content.
func (r *Rich) InsertStructured(ctx context.Context, start, end int, text string) error {
	return r.replace(start, end, lineNodes(text), len(text))
}

func (r *Rich) replace(start, end int, nodes []*html.Node, width int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gone {
		return &FieldGoneError{Ref: r.ref}
	}
	deleteRange(r.root, start, end)
	insertAt(r.root, start, nodes)
	r.caret = start + width
	r.caretKnown = true
	return nil
}

// HTML renders the current content.
func (r *Rich) HTML() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return renderChildren(r.root)
}

// Detach simulates the element leaving the document.
func (r *Rich) Detach() {
	r.mu.Lock()
	r.gone = true
	r.mu.Unlock()
}

// Events returns the notifications dispatched so far.
func (r *Rich) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// Markup renders text as an HTML fragment with <br> line breaks.
func Markup(text string) string {
	holder := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	for _, n := range lineNodes(text) {
		holder.AppendChild(n)
	}
	return renderChildren(holder)
}

// segment maps a text node or <br> to its span in the flattened value.
type segment struct {
	node       *html.Node
	start, end int
}

var blockElements = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Li: true, atom.Blockquote: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.Pre: true,
}

func layout(root *html.Node) (string, []segment) {
	var buf strings.Builder
	var segs []segment
	// afterBlock is set when a block closed and no newline followed it yet.
	afterBlock := false
	breakLine := func() {
		if buf.Len() > 0 && !strings.HasSuffix(buf.String(), "\n") {
			buf.WriteByte('\n')
		}
		afterBlock = false
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			switch {
			case c.Type == html.TextNode:
				if afterBlock {
					breakLine()
				}
				segs = append(segs, segment{c, buf.Len(), buf.Len() + len(c.Data)})
				buf.WriteString(c.Data)
			case c.Type == html.ElementNode && c.DataAtom == atom.Br:
				if afterBlock {
					breakLine()
				}
				segs = append(segs, segment{c, buf.Len(), buf.Len() + 1})
				buf.WriteByte('\n')
			case c.Type == html.ElementNode && blockElements[c.DataAtom]:
				breakLine()
				walk(c)
				afterBlock = true
			case c.Type == html.ElementNode:
				walk(c)
			}
		}
	}
	walk(root)
	return buf.String(), segs
}

func deleteRange(root *html.Node, start, end int) {
	if end <= start {
		return
	}
	_, segs := layout(root)
	for _, s := range segs {
		if s.end <= start || s.start >= end {
			continue
		}
		if s.node.Type == html.TextNode {
			a := max(start, s.start) - s.start
			b := min(end, s.end) - s.start
			s.node.Data = s.node.Data[:a] + s.node.Data[b:]
			continue
		}
		if s.start >= start && s.end <= end {
			s.node.Parent.RemoveChild(s.node)
		}
	}
}

func insertAt(root *html.Node, off int, nodes []*html.Node) {
	_, segs := layout(root)
	// A segment starting at off wins over one ending there, so content
	// lands after a block boundary rather than inside the closed block.
	var target *segment
	for i := range segs {
		s := &segs[i]
		if s.start == off {
			target = s
			break
		}
		if target == nil && s.node.Type == html.TextNode && s.start < off && off <= s.end {
			target = s
		}
	}
	if target == nil {
		for _, n := range nodes {
			root.AppendChild(n)
		}
		return
	}

	if target.node.Type != html.TextNode {
		for _, n := range nodes {
			target.node.Parent.InsertBefore(n, target.node)
		}
		return
	}
	k := off - target.start
	parent, next := target.node.Parent, target.node.NextSibling
	right := target.node.Data[k:]
	target.node.Data = target.node.Data[:k]
	for _, n := range nodes {
		parent.InsertBefore(n, next)
	}
	if right != "" {
		parent.InsertBefore(&html.Node{Type: html.TextNode, Data: right}, next)
	}
}

func lineNodes(text string) []*html.Node {
	var out []*html.Node
	for i, line := range strings.Split(text, "\n") {
		if i > 0 {
			out = append(out, &html.Node{Type: html.ElementNode, Data: "br", DataAtom: atom.Br})
		}
		if line != "" {
			out = append(out, &html.Node{Type: html.TextNode, Data: line})
		}
	}
	return out
}

func parseFragment(markup string) ([]*html.Node, error) {
	ctx := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	return html.ParseFragment(strings.NewReader(markup), ctx)
}

// fragmentWidth is the flattened text length of detached nodes.
func fragmentWidth(nodes []*html.Node) int {
	holder := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	for _, n := range nodes {
		holder.AppendChild(n)
	}
	text, _ := layout(holder)
	for c := holder.FirstChild; c != nil; c = holder.FirstChild {
		holder.RemoveChild(c)
	}
	return len(text)
}

func renderChildren(n *html.Node) string {
	var buf bytes.Buffer
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		_ = html.Render(&buf, c)
	}
	return buf.String()
}
