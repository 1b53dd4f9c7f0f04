package query

import (
	"iter"

	"github.com/RoaringBitmap/roaring/v2"
)

// Bitmap is a set of array positions backed by a 32-bit roaring bitmap.
// Result sets use it to intersect filter stages without allocating
// intermediate position slices.
type Bitmap struct {
	rb *roaring.Bitmap
}

// NewBitmap creates an empty position set.
func NewBitmap() *Bitmap {
	return &Bitmap{rb: roaring.New()}
}

// Add inserts a position.
func (b *Bitmap) Add(pos int) {
	b.rb.Add(uint32(pos))
}

// Contains reports membership of a position.
func (b *Bitmap) Contains(pos int) bool {
	return b.rb.Contains(uint32(pos))
}

// And intersects b with other in place.
func (b *Bitmap) And(other *Bitmap) {
	b.rb.And(other.rb)
}

// Or unions b with other in place.
func (b *Bitmap) Or(other *Bitmap) {
	b.rb.Or(other.rb)
}

// Cardinality returns the number of positions in the set.
func (b *Bitmap) Cardinality() int {
	return int(b.rb.GetCardinality())
}

// Iterate yields positions in ascending order.
func (b *Bitmap) Iterate() iter.Seq[int] {
	return func(yield func(int) bool) {
		it := b.rb.Iterator()
		for it.HasNext() {
			if !yield(int(it.Next())) {
				return
			}
		}
	}
}
