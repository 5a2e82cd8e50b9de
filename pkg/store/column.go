package store

import "fmt"

// Column is a key namespace. It is stored as the first byte of every key.
//
// Key layout:
//
//	0x01 nodes          node_hash                -> node bytes
//	0x02 refcounts      node_hash                -> uint64 big-endian
//	0x03 stale          root_hash || node_hash   -> StaleEntry (JSON)
//	0x04 births         node_hash                -> unix seconds, uint64 big-endian
//	0x05 roots          root_hash                -> Root (JSON)
//	0x06 root-orders    order (uint64 BE) || root_hash -> empty
//	0x07 meta           name                     -> GC meta (JSON, bloom chunks)
//	0x08 recycle        node_hash                -> RecycleRecord (JSON)
//	0x09 recycle-order  seq (uint64 BE)          -> node_hash
//	0x0a reach-seen     node_hash                -> empty
//
// Values are never shared across columns, and no column is a prefix of
// another.
type Column byte

const (
	ColNodes Column = iota + 1
	ColRefcounts
	ColStale
	ColBirths
	ColRoots
	ColRootOrders
	ColMeta
	ColRecycle
	ColRecycleOrder
	ColReachSeen
)

// Columns lists every column in prefix order.
var Columns = []Column{
	ColNodes, ColRefcounts, ColStale, ColBirths, ColRoots,
	ColRootOrders, ColMeta, ColRecycle, ColRecycleOrder, ColReachSeen,
}

var columnNames = map[Column]string{
	ColNodes:        "nodes",
	ColRefcounts:    "refcounts",
	ColStale:        "stale",
	ColBirths:       "births",
	ColRoots:        "roots",
	ColRootOrders:   "root-orders",
	ColMeta:         "meta",
	ColRecycle:      "recycle",
	ColRecycleOrder: "recycle-order",
	ColReachSeen:    "reach-seen",
}

func (c Column) String() string {
	if name, ok := columnNames[c]; ok {
		return name
	}
	return fmt.Sprintf("column(%d)", byte(c))
}

// Key returns the full engine key for key in column c.
func (c Column) Key(key []byte) []byte {
	out := make([]byte, 1+len(key))
	out[0] = byte(c)
	copy(out[1:], key)
	return out
}

// Prefix returns the one-byte prefix shared by every key of c.
func (c Column) Prefix() []byte {
	return []byte{byte(c)}
}

// Strip removes the column prefix from a full engine key.
func (c Column) Strip(full []byte) []byte {
	return full[1:]
}
