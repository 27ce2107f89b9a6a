package capturefile

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// RightmostNode is the rightmost node of one level in the implicit N-ary
// tree index and is not referred to by any parent node. RightmostNodes live
// in the master node and are never found full at rest: a node that reaches
// fan_out children is flushed to the data stream and reset before any
// further call returns.
type RightmostNode struct {
	children []DataCoordinates
}

// AddChild appends a child coordinate to this node.
func (rn *RightmostNode) AddChild(dc DataCoordinates) {
	rn.children = append(rn.children, dc)
}

// IsFull reports whether this node has reached fan_out children.
func (rn *RightmostNode) IsFull(fanOut uint32) bool {
	return uint32(len(rn.children)) == fanOut
}

// ChildCount returns the number of children currently held.
func (rn *RightmostNode) ChildCount() int {
	return len(rn.children)
}

// Children returns the node's children in order. Callers must not mutate
// the returned slice.
func (rn *RightmostNode) Children() []DataCoordinates {
	return rn.children
}

// Reset clears the node back to empty after it has been flushed.
func (rn *RightmostNode) Reset() {
	rn.children = rn.children[:0]
}

// WriteWithHeight serializes this node's children in the height-prefixed
// form used inside the master node.
func (rn *RightmostNode) WriteWithHeight(bs *ByteStream, height int) {
	for _, dc := range rn.children {
		dc.EncodeWithHeight(bs, height)
	}
}

// WriteWithoutHeight serializes this node's children as plain 12-byte
// tuples, the form used when flushing a full interior node to the data
// region.
func (rn *RightmostNode) WriteWithoutHeight(bs *ByteStream) {
	for _, dc := range rn.children {
		dc.Encode(bs)
	}
}

// clone returns a deep copy of this node, used when snapshotting a
// RightmostPath for a RecordIterator.
func (rn *RightmostNode) clone() *RightmostNode {
	out := &RightmostNode{children: make([]DataCoordinates, len(rn.children))}
	copy(out.children, rn.children)
	return out
}

// RightmostPath is the sequence of not-yet-full interior/leaf nodes from the
// current leaf (index 0) up to the current root, the only mutable part of
// the tree index. It is held entirely in the master node.
type RightmostPath struct {
	nodes []*RightmostNode
}

// NewRightmostPath returns an empty path with no levels.
func NewRightmostPath() *RightmostPath {
	return &RightmostPath{}
}

// NumberOfLevels returns the current tree height.
func (rp *RightmostPath) NumberOfLevels() int {
	return len(rp.nodes)
}

// RightmostNodeAt returns the node for the given 1-based height, growing the
// path with empty nodes for any missing intermediate levels. Height 1 is the
// leaf level.
func (rp *RightmostPath) RightmostNodeAt(height int) *RightmostNode {
	for height > len(rp.nodes) {
		rp.nodes = append(rp.nodes, &RightmostNode{})
	}
	return rp.nodes[height-1]
}

// ComputeRecordCount returns the total number of records represented by this
// path: the sum over levels of child_count_at_level_h * fan_out^h, h from 0.
func (rp *RightmostPath) ComputeRecordCount(fanOut uint32) uint64 {
	var count uint64
	power := uint64(1)
	for _, node := range rp.nodes {
		count += uint64(node.ChildCount()) * power
		power *= uint64(fanOut)
	}
	return count
}

// DescendantCount returns the total number of children referenced across all
// levels of this path.
func (rp *RightmostPath) DescendantCount() int {
	total := 0
	for _, node := range rp.nodes {
		total += node.ChildCount()
	}
	return total
}

// Clone returns a deep copy of this path, used to isolate a RecordIterator
// from subsequent appends.
func (rp *RightmostPath) Clone() *RightmostPath {
	out := &RightmostPath{nodes: make([]*RightmostNode, len(rp.nodes))}
	for i, n := range rp.nodes {
		out.nodes[i] = n.clone()
	}
	return out
}

// WriteRightmostNodes serializes the whole path into the master node form: a
// 4-byte total child count, followed by (height, coordinate) pairs for every
// child across every level, height-ordered from leaf (1) to root.
func (rp *RightmostPath) WriteRightmostNodes(bs *ByteStream) {
	bs.WriteUint32(uint32(rp.DescendantCount()))
	for i, node := range rp.nodes {
		node.WriteWithHeight(bs, i+1)
	}
}

// DecodeRightmostPath reconstructs a RightmostPath from the master node's
// serialized form starting at offset, per the master node layout: a 4-byte
// total child count followed by that many (height, coordinate) triples.
// Intermediate empty levels are created as needed so a later non-empty
// higher level remains reachable.
func DecodeRightmostPath(buf []byte, offset int) (*RightmostPath, error) {
	if offset+4 > len(buf) {
		return nil, errors.Errorf("rightmost path: short buffer at offset %d", offset)
	}
	total := int(binary.BigEndian.Uint32(buf[offset : offset+4]))
	offset += 4

	rp := NewRightmostPath()
	for i := 0; i < total; i++ {
		height, dc, err := DecodeDataCoordinatesWithHeight(buf, offset)
		if err != nil {
			return nil, err
		}
		offset += heightPrefixedCoordinatesSize
		rp.RightmostNodeAt(height).AddChild(dc)
	}
	return rp, nil
}

// AddChildToRightmostNode adds a leaf-level (or, recursively, higher-level)
// child coordinate to the rightmost node at the given height. If that node
// becomes full it is flushed to the data stream without its height prefix,
// reset, and the coordinate at which it was written is promoted as a new
// child one level up -- recursively, so a cascade of full levels promotes
// all the way to a newly created root if necessary.
func (rp *RightmostPath) AddChildToRightmostNode(dc DataCoordinates, height int, cf *CaptureFile) error {
	node := rp.RightmostNodeAt(height)
	node.AddChild(dc)

	if !node.IsFull(cf.config.FanOut) {
		return nil
	}

	promoted := cf.coordinatesForNextNewDataBlock()
	node.WriteWithoutHeight(cf.compressionBlock)
	node.Reset()

	if err := cf.compressAndWriteIfFull(); err != nil {
		return err
	}

	return rp.AddChildToRightmostNode(promoted, height+1, cf)
}
