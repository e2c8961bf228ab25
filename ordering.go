package trajclust

import "sort"

// Less orders nodes by descending member count: a node with more members
// sorts before one with fewer.
func (c *ClusterNode) Less(other *ClusterNode) bool {
	return len(c.members) > len(other.members)
}

// BySize sorts nodes largest first. Use sort.Stable to keep the relative
// order of equally sized nodes.
type BySize []*ClusterNode

func (s BySize) Len() int           { return len(s) }
func (s BySize) Less(i, j int) bool { return s[i].Less(s[j]) }
func (s BySize) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }

// SortBySize stably sorts nodes largest first.
func SortBySize(nodes []*ClusterNode) {
	sort.Stable(BySize(nodes))
}
