package builder

import (
	"fmt"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	blockAttr    = "data-deferred-id"
	loadMoreAttr = "data-loadmore"
)

// bodyContext is the parsing context of every fragment.
var bodyContext = &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}

func parseFragment(markup string) ([]*html.Node, error) {
	nodes, err := html.ParseFragment(strings.NewReader(markup), bodyContext)
	if err != nil {
		return nil, fmt.Errorf("parse fragment: %w", err)
	}
	return nodes, nil
}

func renderNodes(nodes []*html.Node) (string, error) {
	var b strings.Builder
	for _, n := range nodes {
		if err := html.Render(&b, n); err != nil {
			return "", err
		}
	}
	return b.String(), nil
}

func renderChildren(parent *html.Node) (string, error) {
	var nodes []*html.Node
	for c := parent.FirstChild; c != nil; c = c.NextSibling {
		nodes = append(nodes, c)
	}
	return renderNodes(nodes)
}

func detach(n *html.Node) *html.Node {
	if n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
	return n
}

func appendNodes(parent *html.Node, nodes []*html.Node) {
	for _, n := range nodes {
		parent.AppendChild(detach(n))
	}
}

func replaceChildren(parent *html.Node, nodes []*html.Node) {
	for c := parent.FirstChild; c != nil; c = parent.FirstChild {
		parent.RemoveChild(c)
	}
	appendNodes(parent, nodes)
}

func childNodes(parent *html.Node) []*html.Node {
	var out []*html.Node
	for c := parent.FirstChild; c != nil; c = c.NextSibling {
		out = append(out, c)
	}
	return out
}

// matchAll returns the outermost nodes in nodes, or below them, matching sel.
func matchAll(nodes []*html.Node, sel cascadia.Selector) []*html.Node {
	var out []*html.Node
	for _, n := range nodes {
		for _, m := range sel.MatchAll(n) {
			if !hasAncestorIn(m, out) {
				out = append(out, m)
			}
		}
	}
	return out
}

func hasAncestorIn(n *html.Node, set []*html.Node) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		for _, s := range set {
			if p == s {
				return true
			}
		}
	}
	return false
}

// findFirst returns the first node in or below nodes matching sel.
func findFirst(nodes []*html.Node, sel cascadia.Selector) *html.Node {
	for _, n := range nodes {
		if m := sel.MatchFirst(n); m != nil {
			return m
		}
	}
	return nil
}

func attrSelector(name, value string) cascadia.Selector {
	return cascadia.MustCompile(fmt.Sprintf(`[%s=%q]`, name, value))
}

func attrSelectorPresent(name string) cascadia.Selector {
	return cascadia.MustCompile("[" + name + "]")
}

func removeAll(nodes []*html.Node, sel cascadia.Selector) {
	for _, n := range matchAll(nodes, sel) {
		detach(n)
	}
}
