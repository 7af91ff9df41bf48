/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: value.go
Description: Argument values of intercepted calls. Every argument is one of a
closed set of shapes (null, scalar, structured, URI, sequence) that renders
itself into the deterministic text used in call log lines.
*/

package monitor

import (
	"fmt"
	"strings"
)

// Value is an intercepted argument or return value in renderable form.
type Value interface {
	render(b *strings.Builder)
}

type nullValue struct{}

func (nullValue) render(b *strings.Builder) { b.WriteString("null") }

// Null is the absent value.
var Null Value = nullValue{}

// Scalar is a value rendered by its default string conversion.
type Scalar string

func (s Scalar) render(b *strings.Builder) { b.WriteString(string(s)) }

// ScalarOf converts v with its default string form. A nil v is Null.
func ScalarOf(v any) Value {
	if v == nil {
		return Null
	}
	return Scalar(fmt.Sprint(v))
}

// Structured is a value with a canonical string form, such as an intent URI.
type Structured struct {
	Canonical string
}

func (s Structured) render(b *strings.Builder) { b.WriteString(s.Canonical) }

// URI is a resource identifier argument. URI arguments take part in policy
// matching.
type URI string

func (u URI) render(b *strings.Builder) { b.WriteString(string(u)) }

// Sequence is an ordered collection rendered element by element, nesting
// included.
type Sequence []Value

func (s Sequence) render(b *strings.Builder) {
	b.WriteByte('[')
	for i, v := range s {
		if i > 0 {
			b.WriteString(", ")
		}
		if v == nil {
			Null.render(b)
			continue
		}
		v.render(b)
	}
	b.WriteByte(']')
}

// Strings builds a Sequence of scalars.
func Strings(items ...string) Sequence {
	seq := make(Sequence, len(items))
	for i, s := range items {
		seq[i] = Scalar(s)
	}
	return seq
}

// Render returns the log form of v with single quotes escaped.
func Render(v Value) string {
	if v == nil {
		v = Null
	}
	var b strings.Builder
	v.render(&b)
	return escapeQuotes(b.String())
}

func escapeQuotes(s string) string {
	return strings.ReplaceAll(s, "'", `\'`)
}
