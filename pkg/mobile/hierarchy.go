/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: hierarchy.go
Description: Parsing of uiautomator window hierarchy dumps. Resolves widget
locators (resource id or indexed XPath) to on-screen bounds so GUI actions can
be injected as coordinates.
*/

package mobile

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/kleascm/akaylee-probe/pkg/daemon"
)

// Node is one element of a window hierarchy dump.
type Node struct {
	XMLName     xml.Name
	Index       string  `xml:"index,attr"`
	Text        string  `xml:"text,attr"`
	ResourceID  string  `xml:"resource-id,attr"`
	Class       string  `xml:"class,attr"`
	Package     string  `xml:"package,attr"`
	ContentDesc string  `xml:"content-desc,attr"`
	Clickable   bool    `xml:"clickable,attr"`
	Enabled     bool    `xml:"enabled,attr"`
	Bounds      string  `xml:"bounds,attr"`
	Children    []*Node `xml:",any"`
}

// Hierarchy is a parsed window hierarchy dump.
type Hierarchy struct {
	XMLName  xml.Name `xml:"hierarchy"`
	Rotation int      `xml:"rotation,attr"`
	Nodes    []*Node  `xml:",any"`
}

// Rect is a widget's on-screen rectangle.
type Rect struct {
	Left, Top, Right, Bottom int
}

// Center returns the midpoint of r.
func (r Rect) Center() (int, int) {
	return (r.Left + r.Right) / 2, (r.Top + r.Bottom) / 2
}

// ParseHierarchy decodes a uiautomator dump.
func ParseHierarchy(r io.Reader) (*Hierarchy, error) {
	var h Hierarchy
	if err := xml.NewDecoder(r).Decode(&h); err != nil {
		return nil, fmt.Errorf("failed to parse window hierarchy: %w", err)
	}
	return &h, nil
}

// ParseBounds parses the "[l,t][r,b]" bounds attribute.
func ParseBounds(s string) (Rect, error) {
	var r Rect
	if _, err := fmt.Sscanf(s, "[%d,%d][%d,%d]", &r.Left, &r.Top, &r.Right, &r.Bottom); err != nil {
		return Rect{}, fmt.Errorf("malformed bounds %q: %w", s, err)
	}
	if r.Right < r.Left || r.Bottom < r.Top {
		return Rect{}, fmt.Errorf("malformed bounds %q: negative size", s)
	}
	return r, nil
}

// Find resolves a locator. The resource id wins when both are set.
func (h *Hierarchy) Find(loc daemon.Locator) (*Node, error) {
	switch {
	case loc.ResourceID != "":
		if n := findByResourceID(h.Nodes, loc.ResourceID); n != nil {
			return n, nil
		}
		return nil, fmt.Errorf("no widget with resource id %q", loc.ResourceID)
	case loc.XPath != "":
		return h.findByXPath(loc.XPath)
	default:
		return nil, fmt.Errorf("empty locator")
	}
}

// Locate returns the bounds of the widget loc refers to.
func (h *Hierarchy) Locate(loc daemon.Locator) (Rect, error) {
	n, err := h.Find(loc)
	if err != nil {
		return Rect{}, err
	}
	return ParseBounds(n.Bounds)
}

func findByResourceID(nodes []*Node, id string) *Node {
	for _, n := range nodes {
		if n.ResourceID == id {
			return n
		}
		if found := findByResourceID(n.Children, id); found != nil {
			return found
		}
	}
	return nil
}

// findByXPath walks an indexed absolute path such as
// /hierarchy/node[1]/node[3]. Indices are 1-based among same-named siblings
// and default to 1; "*" matches any element name.
func (h *Hierarchy) findByXPath(path string) (*Node, error) {
	segments := strings.FieldsFunc(path, func(r rune) bool { return r == '/' })
	if len(segments) > 0 && segments[0] == "hierarchy" {
		segments = segments[1:]
	}
	if len(segments) == 0 {
		return nil, fmt.Errorf("xpath %q selects no widget", path)
	}

	children := h.Nodes
	var current *Node
	for _, seg := range segments {
		name, index, err := parseStep(seg)
		if err != nil {
			return nil, fmt.Errorf("xpath %q: %w", path, err)
		}
		current = nil
		seen := 0
		for _, c := range children {
			if name != "*" && c.XMLName.Local != name {
				continue
			}
			seen++
			if seen == index {
				current = c
				break
			}
		}
		if current == nil {
			return nil, fmt.Errorf("xpath %q: no match for step %q", path, seg)
		}
		children = current.Children
	}
	return current, nil
}

func parseStep(seg string) (string, int, error) {
	open := strings.IndexByte(seg, '[')
	if open < 0 {
		return seg, 1, nil
	}
	if !strings.HasSuffix(seg, "]") {
		return "", 0, fmt.Errorf("unterminated step %q", seg)
	}
	index, err := strconv.Atoi(seg[open+1 : len(seg)-1])
	if err != nil || index < 1 {
		return "", 0, fmt.Errorf("bad index in step %q", seg)
	}
	return seg[:open], index, nil
}
