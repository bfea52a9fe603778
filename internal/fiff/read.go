// Package fiff reads and writes the tagged binary container used for M/EEG
// measurement, forward-solution and inverse-operator files.
//
// A file is a flat stream of big-endian tags. BLOCK_START and BLOCK_END tags
// nest the stream into a tree of blocks, which is what callers navigate:
//
//	f, err := fiff.Open("sample-raw.fif")
//	info := f.Root.FindFirst(fiff.BlockMeasInfo)
//	sfreq, err := info.Float64(fiff.KindSFreq)
package fiff

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
)

var (
	// ErrNotFIFF is returned when the stream does not start with a file id tag.
	ErrNotFIFF = errors.New("fiff: not a FIF file")
	// ErrTagNotFound is returned by block accessors when a required tag is missing.
	ErrTagNotFound = errors.New("fiff: tag not found")
)

// maxTagSize bounds a single tag payload (1 GiB) so a corrupt header cannot
// trigger an unbounded allocation.
const maxTagSize = 1 << 30

// File is a parsed container.
type File struct {
	Path string
	ID   ID
	Root *Block
}

// Open reads and parses the file at path. Gzip-compressed files are detected
// by their magic bytes and decompressed transparently.
func Open(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	r, err := maybeGunzip(bufio.NewReader(fh))
	if err != nil {
		return nil, fmt.Errorf("fiff: %s: %w", path, err)
	}

	f, err := Parse(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	f.Path = path
	return f, nil
}

func maybeGunzip(br *bufio.Reader) (io.Reader, error) {
	magic, err := br.Peek(2)
	if err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		return gzip.NewReader(br)
	}
	return br, nil
}

// Parse reads a complete tag stream from r and builds its block tree.
func Parse(r io.Reader) (*File, error) {
	first, err := readTag(r)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrNotFIFF
		}
		return nil, err
	}
	if first.Kind != KindFileID || first.Type != TypeIDStruct {
		return nil, ErrNotFIFF
	}
	id, err := first.IDStruct()
	if err != nil {
		return nil, err
	}

	root := &Block{Kind: BlockRoot}
	stack := []*Block{root}
	for {
		tag, err := readTag(r)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		top := stack[len(stack)-1]
		switch tag.Kind {
		case KindBlockStart:
			kind, err := tag.Int()
			if err != nil {
				return nil, err
			}
			b := &Block{Kind: kind}
			top.Children = append(top.Children, b)
			stack = append(stack, b)
		case KindBlockEnd:
			if len(stack) == 1 {
				return nil, errors.New("fiff: unbalanced block end")
			}
			stack = stack[:len(stack)-1]
		case KindDirPointer, KindDir, KindNop:
			// directory is rebuilt from the stream
		default:
			top.Tags = append(top.Tags, tag)
		}
	}
	if len(stack) != 1 {
		return nil, fmt.Errorf("fiff: %d unterminated blocks", len(stack)-1)
	}

	return &File{ID: id, Root: root}, nil
}

func readTag(r io.Reader) (*Tag, error) {
	var hdr [16]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("fiff: read tag header: %w", err)
	}

	kind := int32(binary.BigEndian.Uint32(hdr[0:4]))
	typ := int32(binary.BigEndian.Uint32(hdr[4:8]))
	size := int32(binary.BigEndian.Uint32(hdr[8:12]))
	next := int32(binary.BigEndian.Uint32(hdr[12:16]))

	if size < 0 || size > maxTagSize {
		return nil, fmt.Errorf("fiff: tag %d has invalid size %d", kind, size)
	}
	if next > 0 {
		return nil, fmt.Errorf("fiff: tag %d uses non-sequential layout", kind)
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("fiff: read tag %d payload: %w", kind, err)
	}
	return &Tag{Kind: kind, Type: typ, Data: data}, nil
}
