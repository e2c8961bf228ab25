package trajclust

import "fmt"

// Block is an in-memory copy of the distances among a fixed member set. It
// answers GetElement by global member index without touching the source
// matrix, which pays off for O(k²) passes over a disk-backed matrix.
type Block struct {
	local *MemoryMatrix
	index map[int]int
}

// CacheBlock reads the k*(k-1)/2 distances among members from m.
func CacheBlock(m Distances, members []int) (*Block, error) {
	if len(members) == 0 {
		return nil, ErrEmptyCluster
	}
	index := make(map[int]int, len(members))
	for k, member := range members {
		if _, dup := index[member]; dup {
			return nil, fmt.Errorf("%w: member %d repeated in block", ErrDuplicateMember, member)
		}
		index[member] = k
	}
	local := NewMemoryMatrix(0)
	if err := local.Allocate(len(members)); err != nil {
		return nil, err
	}
	for a := 0; a < len(members); a++ {
		for b := a + 1; b < len(members); b++ {
			d, err := m.GetElement(members[a], members[b])
			if err != nil {
				return nil, err
			}
			// Copied verbatim so Unset survives the round trip.
			local.elements[TriangularIndex(a, b, len(members))] = float32(d)
		}
	}
	return &Block{local: local, index: index}, nil
}

func (b *Block) GetElement(i, j int) (float64, error) {
	li, ok := b.index[i]
	if !ok {
		return 0, fmt.Errorf("%w: member %d is not in the block", ErrIndexOutOfRange, i)
	}
	lj, ok := b.index[j]
	if !ok {
		return 0, fmt.Errorf("%w: member %d is not in the block", ErrIndexOutOfRange, j)
	}
	return b.local.GetElement(li, lj)
}

func (b *Block) Size() int    { return b.local.Size() }
func (b *Block) Members() int { return b.local.Members() }
