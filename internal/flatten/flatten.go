// Package flatten converts between nested documents and flat dotted-path
// maps. It is the pure core under both the write path (unwinding a document
// into independently settable leaf fields) and the read path (rebuilding a
// merged flat state into nested form). Both directions share the same depth
// bound; if they disagreed, reconstruction would silently diverge for
// deeply nested documents.
//
// Rebuild inverts Flatten for JSON-native documents, with one exception:
// an empty nested object has no leaves, contributes nothing to the flat
// map, and so vanishes on the round trip. Rebuild(Flatten({a:{}})) is {}.
package flatten

import (
	"fmt"
	"sort"
	"strings"
)

// MaxDepth bounds how many levels of nesting are unwound or rebuilt.
// A structure nested deeper is partially processed: levels beyond the bound
// stay as opaque leaf values and the caller receives a DepthError alongside
// the partial result.
const MaxDepth = 10

// RootKey is the reserved top-level key meaning "replace the entire
// destination". Flatten never produces it; higher layers may hand a flat
// map containing only RootKey to request a whole-document overwrite.
const RootKey = "ROOT"

// DepthError reports nesting beyond MaxDepth. It is warning-grade: the
// accompanying result is still usable, just truncated at the bound.
type DepthError struct {
	Path  string
	Depth int
}

// Error implements the error interface.
func (e *DepthError) Error() string {
	return fmt.Sprintf("nesting at %q exceeds depth bound %d; deeper levels kept as opaque values", e.Path, e.Depth)
}

// Flatten converts a nested document into a map of dotted leaf paths.
//
// Object-typed values are descended into; arrays and scalars become single
// leaf entries. An empty nested object contributes nothing. In the simple
// case {a:1, b:{c:2, d:3}} flattens to {a:1, "b.c":2, "b.d":3}.
//
// The returned error, if any, is a *DepthError for the first over-deep
// path encountered; the flat map is still complete up to the bound.
func Flatten(doc map[string]any) (map[string]any, error) {
	flat := make(map[string]any, len(doc))
	var depthErr *DepthError
	flattenInto(doc, flat, "", 1, &depthErr)
	if depthErr != nil {
		return flat, depthErr
	}
	return flat, nil
}

func flattenInto(in map[string]any, out map[string]any, prefix string, depth int, depthErr **DepthError) {
	for k, v := range in {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		nested, ok := v.(map[string]any)
		if !ok {
			out[path] = v
			continue
		}
		if depth >= MaxDepth {
			// Keep the remainder as an opaque leaf rather than lose it.
			out[path] = v
			if *depthErr == nil {
				*depthErr = &DepthError{Path: path, Depth: MaxDepth}
			}
			continue
		}
		flattenInto(nested, out, path, depth+1, depthErr)
	}
}

// Rebuild is the inverse of Flatten: it converts a flat dotted-path map
// back into nested form.
//
// Each path is split at its dots; sibling entries sharing a parent path are
// merged into the same nested object, never blind-overwritten. Paths are
// applied in sorted order so that when a fold has produced both an atomic
// value and deeper children for the same path (the value was an object at
// one point in history and a scalar at another), the outcome is
// deterministic: the structured children win.
//
// Paths with more than MaxDepth segments are only partially rebuilt; the
// segments beyond the bound stay joined in the leaf key and a *DepthError
// accompanies the result.
func Rebuild(flat map[string]any) (map[string]any, error) {
	paths := make([]string, 0, len(flat))
	for p := range flat {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	out := make(map[string]any)
	var depthErr *DepthError
	for _, path := range paths {
		segs := strings.Split(path, ".")
		if len(segs) > MaxDepth {
			joined := strings.Join(segs[MaxDepth-1:], ".")
			segs = append(segs[:MaxDepth-1:MaxDepth-1], joined)
			if depthErr == nil {
				depthErr = &DepthError{Path: path, Depth: MaxDepth}
			}
		}
		node := out
		for _, seg := range segs[:len(segs)-1] {
			child, ok := node[seg].(map[string]any)
			if !ok {
				child = make(map[string]any)
				node[seg] = child
			}
			node = child
		}
		leaf := segs[len(segs)-1]
		if _, exists := node[leaf].(map[string]any); exists {
			// A sibling already rebuilt children here; an atomic value
			// for the same path loses to them.
			continue
		}
		node[leaf] = flat[path]
	}
	if depthErr != nil {
		return out, depthErr
	}
	return out, nil
}

// IsWholeReplace reports whether a document is the reserved whole-replace
// form: a single RootKey entry whose value is the complete new body.
// Callers must check this before flattening; Flatten descends into the
// RootKey value like any other nested object.
func IsWholeReplace(doc map[string]any) (map[string]any, bool) {
	if len(doc) != 1 {
		return nil, false
	}
	v, ok := doc[RootKey]
	if !ok {
		return nil, false
	}
	body, ok := v.(map[string]any)
	return body, ok
}
