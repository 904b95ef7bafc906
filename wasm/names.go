package wasm

import (
	"fmt"
	"sort"

	"github.com/wippyai/wasm-split/wasm/internal/binary"
)

// NameSectionName is the custom section carrying debug names.
const NameSectionName = "name"

// Name subsection IDs.
const (
	nameSubModule   byte = 0
	nameSubFunction byte = 1
	nameSubLocal    byte = 2
)

// NameAssoc maps an index to a name.
type NameAssoc struct {
	Name  string
	Index uint32
}

// IndirectNameAssoc maps a function index to the names of its locals.
type IndirectNameAssoc struct {
	Names []NameAssoc
	Index uint32
}

// Names is the decoded module, function and local subsections of a name
// section. Other subsections are not retained.
type Names struct {
	Module    *string
	Functions []NameAssoc
	Locals    []IndirectNameAssoc
}

// FunctionName returns the debug name of a function.
func (n *Names) FunctionName(idx uint32) (string, bool) {
	if n == nil {
		return "", false
	}
	i := sort.Search(len(n.Functions), func(i int) bool { return n.Functions[i].Index >= idx })
	if i < len(n.Functions) && n.Functions[i].Index == idx {
		return n.Functions[i].Name, true
	}
	return "", false
}

// ParseNames decodes a name section payload. Entries are sorted by index
// even when the producer emitted them out of order.
func ParseNames(data []byte) (*Names, error) {
	r := binary.NewReader(data)
	n := &Names{}
	for r.Len() > 0 {
		id, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		size, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		sub, err := r.Sub(int(size))
		if err != nil {
			return nil, r.WrapError("name section", err)
		}
		switch id {
		case nameSubModule:
			name, err := sub.ReadName()
			if err != nil {
				return nil, sub.WrapError("module name", err)
			}
			n.Module = &name
		case nameSubFunction:
			if n.Functions, err = readNameMap(sub); err != nil {
				return nil, sub.WrapError("function names", err)
			}
		case nameSubLocal:
			count, err := sub.ReadU32()
			if err != nil {
				return nil, err
			}
			n.Locals = make([]IndirectNameAssoc, 0, count)
			for i := uint32(0); i < count; i++ {
				idx, err := sub.ReadU32()
				if err != nil {
					return nil, sub.WrapError("local names", err)
				}
				names, err := readNameMap(sub)
				if err != nil {
					return nil, sub.WrapError("local names", err)
				}
				n.Locals = append(n.Locals, IndirectNameAssoc{Index: idx, Names: names})
			}
			sort.SliceStable(n.Locals, func(i, j int) bool { return n.Locals[i].Index < n.Locals[j].Index })
		}
	}
	return n, nil
}

func readNameMap(r *binary.Reader) ([]NameAssoc, error) {
	count, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	out := make([]NameAssoc, 0, count)
	for i := uint32(0); i < count; i++ {
		idx, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		name, err := r.ReadName()
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", idx, err)
		}
		out = append(out, NameAssoc{Index: idx, Name: name})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

// Encode returns the name section payload. Empty subsections are omitted.
func (n *Names) Encode() []byte {
	w := binary.NewWriter()
	if n.Module != nil {
		sub := binary.NewWriter()
		sub.WriteName(*n.Module)
		writeSubsection(w, nameSubModule, sub)
	}
	if len(n.Functions) > 0 {
		sub := binary.NewWriter()
		writeNameMap(sub, n.Functions)
		writeSubsection(w, nameSubFunction, sub)
	}
	if len(n.Locals) > 0 {
		sub := binary.NewWriter()
		sub.WriteU32(uint32(len(n.Locals)))
		for _, l := range n.Locals {
			sub.WriteU32(l.Index)
			writeNameMap(sub, l.Names)
		}
		writeSubsection(w, nameSubLocal, sub)
	}
	return w.Bytes()
}

func writeNameMap(w *binary.Writer, names []NameAssoc) {
	w.WriteU32(uint32(len(names)))
	for _, na := range names {
		w.WriteU32(na.Index)
		w.WriteName(na.Name)
	}
}

func writeSubsection(w *binary.Writer, id byte, sub *binary.Writer) {
	w.Byte(id)
	w.WriteU32(uint32(sub.Len()))
	w.WriteBytes(sub.Bytes())
}
