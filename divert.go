package m4

import (
	"bytes"
	"sort"
)

// diversions holds the numbered deferred-output buffers. Diversion 0 is
// the final sink and never buffers; negative diversions discard their
// output; positive buffers are created lazily on first write.
type diversions struct {
	current int
	bufs    map[int]*bytes.Buffer
}

func newDiversions() *diversions {
	return &diversions{bufs: make(map[int]*bytes.Buffer)}
}

func (d *diversions) buffer(id int) *bytes.Buffer {
	buf := d.bufs[id]
	if buf == nil {
		buf = &bytes.Buffer{}
		d.bufs[id] = buf
	}
	return buf
}

// ids returns the non-empty positive diversion numbers in ascending
// order.
func (d *diversions) ids() []int {
	ids := make([]int, 0, len(d.bufs))
	for id, buf := range d.bufs {
		if id > 0 && buf.Len() > 0 {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}

// take removes and returns a buffer's contents.
func (d *diversions) take(id int) []byte {
	buf := d.bufs[id]
	if buf == nil {
		return nil
	}
	delete(d.bufs, id)
	return buf.Bytes()
}
