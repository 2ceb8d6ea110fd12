package skype

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
)

// Minimal DOM helpers for the login pages. Only element lookup by
// predicate, attribute access and text extraction are needed.

func parseHTML(body []byte) (*html.Node, error) {
	return html.Parse(bytes.NewReader(body))
}

// findElement returns the first element below n, in document order,
// for which match returns true.
func findElement(n *html.Node, match func(*html.Node) bool) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && match(c) {
			return c
		}

		if found := findElement(c, match); found != nil {
			return found
		}
	}

	return nil
}

// findElements returns every element below n for which match returns true.
func findElements(n *html.Node, match func(*html.Node) bool) []*html.Node {
	var out []*html.Node

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && match(c) {
			out = append(out, c)
		}

		out = append(out, findElements(c, match)...)
	}

	return out
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}

	return "", false
}

func hasClass(n *html.Node, class string) bool {
	v, ok := attr(n, "class")
	if !ok {
		return false
	}

	for _, c := range strings.Fields(v) {
		if c == class {
			return true
		}
	}

	return false
}

func tagIs(tag string) func(*html.Node) bool {
	return func(n *html.Node) bool { return n.Data == tag }
}

func idIs(id string) func(*html.Node) bool {
	return func(n *html.Node) bool {
		v, _ := attr(n, "id")
		return v == id
	}
}

func classIs(class string) func(*html.Node) bool {
	return func(n *html.Node) bool { return hasClass(n, class) }
}

func inputNamed(name string) func(*html.Node) bool {
	return func(n *html.Node) bool {
		if n.Data != "input" {
			return false
		}

		v, _ := attr(n, "name")

		return v == name
	}
}

// elementChildren returns the direct element children of n, skipping
// text and comment nodes.
func elementChildren(n *html.Node) []*html.Node {
	var out []*html.Node

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			out = append(out, c)
		}
	}

	return out
}

// textContent returns the text below n with runs of whitespace
// collapsed to single spaces.
func textContent(n *html.Node) string {
	var sb strings.Builder

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)

	return strings.Join(strings.Fields(sb.String()), " ")
}
