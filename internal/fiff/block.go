package fiff

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Block is a node of the block tree with its own tags and nested blocks.
type Block struct {
	Kind     int32
	Tags     []*Tag
	Children []*Block
}

// Find returns every block of the given kind below b, depth first, in file order.
func (b *Block) Find(kind int32) []*Block {
	var out []*Block
	for _, c := range b.Children {
		if c.Kind == kind {
			out = append(out, c)
		}
		out = append(out, c.Find(kind)...)
	}
	return out
}

// FindFirst returns the first block of the given kind below b, or nil.
func (b *Block) FindFirst(kind int32) *Block {
	for _, c := range b.Children {
		if c.Kind == kind {
			return c
		}
		if found := c.FindFirst(kind); found != nil {
			return found
		}
	}
	return nil
}

// Child returns the first direct child of the given kind, or nil.
func (b *Block) Child(kind int32) *Block {
	for _, c := range b.Children {
		if c.Kind == kind {
			return c
		}
	}
	return nil
}

// Tag returns the first tag of the given kind stored directly in b, or nil.
func (b *Block) Tag(kind int32) *Tag {
	for _, t := range b.Tags {
		if t.Kind == kind {
			return t
		}
	}
	return nil
}

// TagsOf returns all tags of the given kind stored directly in b.
func (b *Block) TagsOf(kind int32) []*Tag {
	var out []*Tag
	for _, t := range b.Tags {
		if t.Kind == kind {
			out = append(out, t)
		}
	}
	return out
}

// Has reports whether b directly stores a tag of the given kind.
func (b *Block) Has(kind int32) bool { return b.Tag(kind) != nil }

func (b *Block) require(kind int32) (*Tag, error) {
	t := b.Tag(kind)
	if t == nil {
		return nil, fmt.Errorf("block %d: tag %d: %w", b.Kind, kind, ErrTagNotFound)
	}
	return t, nil
}

// Int returns the int32 value of a required tag.
func (b *Block) Int(kind int32) (int32, error) {
	t, err := b.require(kind)
	if err != nil {
		return 0, err
	}
	return t.Int()
}

// IntOr returns the int32 value of an optional tag, or def when absent.
func (b *Block) IntOr(kind int32, def int32) (int32, error) {
	if !b.Has(kind) {
		return def, nil
	}
	return b.Int(kind)
}

// Float64 returns the numeric value of a required tag.
func (b *Block) Float64(kind int32) (float64, error) {
	t, err := b.require(kind)
	if err != nil {
		return 0, err
	}
	return t.Float64()
}

// Text returns the string value of a required tag.
func (b *Block) Text(kind int32) (string, error) {
	t, err := b.require(kind)
	if err != nil {
		return "", err
	}
	return t.Text()
}

// TextOr returns the string value of an optional tag, or "" when absent.
func (b *Block) TextOr(kind int32) (string, error) {
	if !b.Has(kind) {
		return "", nil
	}
	return b.Text(kind)
}

// NameList returns the names stored in a required tag.
func (b *Block) NameList(kind int32) ([]string, error) {
	t, err := b.require(kind)
	if err != nil {
		return nil, err
	}
	return t.NameList()
}

// Matrix returns the two-dimensional matrix stored in a required tag.
func (b *Block) Matrix(kind int32) (*mat.Dense, error) {
	t, err := b.require(kind)
	if err != nil {
		return nil, err
	}
	return t.Matrix()
}
