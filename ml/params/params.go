// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package params implements Container, the ordered nested mapping from names to parameter tensors
// (or to nested containers) held by every layer.
//
// A Container is created once, with all its entries, and never changes afterward: to update the
// parameters of a layer, a new Container is built and given to the layer as a whole. This makes it
// safe to share one Container among several layers (weight tying) or goroutines.
//
// Entries are addressed by key at each level, or by dotted paths across levels:
//
//	c, err := params.New(
//	    params.C("input", must.M1(params.New(params.T("layer_0", w)))),
//	    params.T("b", b))
//	w, err = c.Tensor("input.layer_0")
package params

import (
	"fmt"
	"iter"
	"strings"

	"github.com/gomlx/nnlayers/types/tensors"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// PathSeparator separates the keys of the different levels of a path. Keys can't contain it.
const PathSeparator = "."

var (
	// ErrKeyNotFound is returned (wrapped) when a key or path doesn't resolve to an entry of the expected kind.
	ErrKeyNotFound = errors.New("key not found")

	// ErrInvalidKey is returned (wrapped) when creating a Container with empty, duplicate or malformed keys.
	ErrInvalidKey = errors.New("invalid key")
)

// Entry of a Container: a key associated with either a Tensor or a Sub container, never both.
type Entry struct {
	Key    string
	Tensor *tensors.Tensor
	Sub    *Container
}

// IsTensor returns whether the entry holds a tensor (a leaf).
func (e Entry) IsTensor() bool { return e.Tensor != nil }

// T creates a tensor Entry.
func T(key string, tensor *tensors.Tensor) Entry { return Entry{Key: key, Tensor: tensor} }

// C creates a nested container Entry.
func C(key string, sub *Container) Entry { return Entry{Key: key, Sub: sub} }

// Container is an ordered nested mapping from keys to tensors or nested containers. See package documentation.
type Container struct {
	id      string
	entries []Entry
	index   map[string]int
}

// New creates a Container with the given entries, in the given order.
//
// It returns an error wrapping ErrInvalidKey if a key is empty, contains PathSeparator, is repeated, or
// if an entry doesn't hold exactly one of Tensor or Sub.
func New(entries ...Entry) (*Container, error) {
	c := &Container{
		id:      uuid.NewString(),
		entries: make([]Entry, 0, len(entries)),
		index:   make(map[string]int, len(entries)),
	}
	for _, e := range entries {
		if e.Key == "" {
			return nil, errors.Wrapf(ErrInvalidKey, "empty key in params.New()")
		}
		if strings.Contains(e.Key, PathSeparator) {
			return nil, errors.Wrapf(ErrInvalidKey, "key %q cannot contain %q", e.Key, PathSeparator)
		}
		if _, found := c.index[e.Key]; found {
			return nil, errors.Wrapf(ErrInvalidKey, "duplicate key %q", e.Key)
		}
		if (e.Tensor == nil) == (e.Sub == nil) {
			return nil, errors.Wrapf(ErrInvalidKey, "entry %q must have either a tensor or a sub-container", e.Key)
		}
		c.index[e.Key] = len(c.entries)
		c.entries = append(c.entries, e)
	}
	return c, nil
}

// ID is a unique identifier assigned to the Container when it was created.
// Containers shared by layers have the same ID.
func (c *Container) ID() string { return c.id }

// Len returns the number of entries at the top level.
func (c *Container) Len() int { return len(c.entries) }

// Keys returns the keys of the top level, in insertion order.
func (c *Container) Keys() []string {
	keys := make([]string, len(c.entries))
	for ii, e := range c.entries {
		keys[ii] = e.Key
	}
	return keys
}

// Items iterates over the top level entries, in insertion order.
func (c *Container) Items() iter.Seq2[string, Entry] {
	return func(yield func(string, Entry) bool) {
		for _, e := range c.entries {
			if !yield(e.Key, e) {
				return
			}
		}
	}
}

// Get returns the entry for the given key or dotted path (e.g.: "input.layer_0.w").
//
// It returns an error wrapping ErrKeyNotFound if any element of the path is missing, or if an
// intermediary element is not a container.
func (c *Container) Get(path string) (Entry, error) {
	keys := strings.Split(path, PathSeparator)
	current := c
	for ii, key := range keys {
		idx, found := current.index[key]
		if !found {
			return Entry{}, errors.Wrapf(ErrKeyNotFound, "%q (missing %q)", path, strings.Join(keys[:ii+1], PathSeparator))
		}
		e := current.entries[idx]
		if ii == len(keys)-1 {
			return e, nil
		}
		if e.Sub == nil {
			return Entry{}, errors.Wrapf(ErrKeyNotFound, "%q (%q is a tensor, not a container)", path,
				strings.Join(keys[:ii+1], PathSeparator))
		}
		current = e.Sub
	}
	return Entry{}, errors.Wrapf(ErrKeyNotFound, "%q", path)
}

// Tensor returns the tensor at the given key or dotted path.
// It returns an error wrapping ErrKeyNotFound if it is missing or if it is a container.
func (c *Container) Tensor(path string) (*tensors.Tensor, error) {
	e, err := c.Get(path)
	if err != nil {
		return nil, err
	}
	if e.Tensor == nil {
		return nil, errors.Wrapf(ErrKeyNotFound, "%q is a container, not a tensor", path)
	}
	return e.Tensor, nil
}

// Sub returns the nested container at the given key or dotted path.
// It returns an error wrapping ErrKeyNotFound if it is missing or if it is a tensor.
func (c *Container) Sub(path string) (*Container, error) {
	e, err := c.Get(path)
	if err != nil {
		return nil, err
	}
	if e.Sub == nil {
		return nil, errors.Wrapf(ErrKeyNotFound, "%q is a tensor, not a container", path)
	}
	return e.Sub, nil
}

// Walk iterates depth-first over all the tensors of the Container and its nested containers, in insertion
// order, yielding their full dotted paths.
func (c *Container) Walk() iter.Seq2[string, *tensors.Tensor] {
	return func(yield func(string, *tensors.Tensor) bool) {
		c.walk("", yield)
	}
}

func (c *Container) walk(prefix string, yield func(string, *tensors.Tensor) bool) bool {
	for _, e := range c.entries {
		path := e.Key
		if prefix != "" {
			path = prefix + PathSeparator + e.Key
		}
		if e.Tensor != nil {
			if !yield(path, e.Tensor) {
				return false
			}
			continue
		}
		if !e.Sub.walk(path, yield) {
			return false
		}
	}
	return true
}

// NumVariables returns the total number of tensors, including the nested ones.
func (c *Container) NumVariables() (count int) {
	for range c.Walk() {
		count++
	}
	return
}

// NumParameters returns the total number of scalar values of all tensors, including the nested ones.
func (c *Container) NumParameters() (count int) {
	for _, t := range c.Walk() {
		count += t.Size()
	}
	return
}

// Memory returns the total number of bytes used by all tensors, including the nested ones.
func (c *Container) Memory() (total uintptr) {
	for _, t := range c.Walk() {
		total += t.Memory()
	}
	return
}

// String lists the paths and shapes of all tensors.
func (c *Container) String() string {
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "params.Container{")
	first := true
	for path, t := range c.Walk() {
		if !first {
			sb.WriteString(", ")
		}
		first = false
		_, _ = fmt.Fprintf(&sb, "%s: %s", path, t.Shape())
	}
	sb.WriteString("}")
	return sb.String()
}

// FromFlat builds a Container from the dotted paths of its tensors, e.g. as yielded by Walk.
// The nesting and the order of the entries follow the order of paths.
func FromFlat(paths []string, values []*tensors.Tensor) (*Container, error) {
	if len(paths) != len(values) {
		return nil, errors.Errorf("params.FromFlat: %d paths given, but %d values", len(paths), len(values))
	}
	root := &flatNode{}
	for ii, path := range paths {
		if path == "" {
			return nil, errors.Wrapf(ErrInvalidKey, "empty path in params.FromFlat()")
		}
		if err := root.insert(strings.Split(path, PathSeparator), values[ii]); err != nil {
			return nil, errors.WithMessagef(err, "params.FromFlat(%q)", path)
		}
	}
	return root.build()
}

// flatNode is an intermediary mutable tree used by FromFlat.
type flatNode struct {
	keys     []string
	tensors  map[string]*tensors.Tensor
	children map[string]*flatNode
}

func (n *flatNode) insert(keys []string, value *tensors.Tensor) error {
	key := keys[0]
	if n.tensors == nil {
		n.tensors = make(map[string]*tensors.Tensor)
		n.children = make(map[string]*flatNode)
	}
	if _, found := n.tensors[key]; found {
		return errors.Wrapf(ErrInvalidKey, "duplicate key %q", key)
	}
	if len(keys) == 1 {
		if _, found := n.children[key]; found {
			return errors.Wrapf(ErrInvalidKey, "key %q used both as a tensor and as a container", key)
		}
		n.tensors[key] = value
		n.keys = append(n.keys, key)
		return nil
	}
	child, found := n.children[key]
	if !found {
		child = &flatNode{}
		n.children[key] = child
		n.keys = append(n.keys, key)
	}
	return child.insert(keys[1:], value)
}

func (n *flatNode) build() (*Container, error) {
	entries := make([]Entry, 0, len(n.keys))
	for _, key := range n.keys {
		if t, found := n.tensors[key]; found {
			entries = append(entries, T(key, t))
			continue
		}
		sub, err := n.children[key].build()
		if err != nil {
			return nil, err
		}
		entries = append(entries, C(key, sub))
	}
	return New(entries...)
}
