package trajclust

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ClusterList is an arena of cluster nodes addressed by integer id. Merging
// drains the source node and tombstones its id. Renumber compacts the arena
// into priority order (largest cluster first). Every matrix member belongs
// to at most one live node.
//
// A ClusterList is not safe for concurrent use; ComputeStats and
// ComputeCentroidFrames parallelize internally with one goroutine per node.
type ClusterList struct {
	nodes  []*ClusterNode // nil entries are tombstones
	owner  []int          // owner[member] is the owning id, or -1
	matrix Distances
	cfg    Config
	sieved bool
}

// NewClusterList returns an empty list whose nodes are measured against m.
func NewClusterList(m Distances, cfg Config) (*ClusterList, error) {
	applyDefaults(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	owner := make([]int, m.Members())
	for i := range owner {
		owner[i] = -1
	}
	return &ClusterList{owner: owner, matrix: m, cfg: cfg}, nil
}

// Add creates a node from matrix member indices and returns its id. A member
// may not repeat, nor already belong to a live node.
func (l *ClusterList) Add(members []int) (int, error) {
	if l.sieved {
		return 0, fmt.Errorf("%w: cannot add clusters after sieve offset", ErrAlreadySieved)
	}
	n := len(l.owner)
	seen := make(map[int]struct{}, len(members))
	for _, idx := range members {
		if idx < 0 || idx >= n {
			return 0, fmt.Errorf("%w: member %d with %d matrix members", ErrIndexOutOfRange, idx, n)
		}
		if _, dup := seen[idx]; dup {
			return 0, fmt.Errorf("%w: member %d repeated", ErrDuplicateMember, idx)
		}
		if owner := l.owner[idx]; owner >= 0 {
			return 0, fmt.Errorf("%w: member %d already in cluster id %d", ErrDuplicateMember, idx, owner)
		}
		seen[idx] = struct{}{}
	}
	id := len(l.nodes)
	node, err := NewClusterNode(members, id)
	if err != nil {
		return 0, err
	}
	l.nodes = append(l.nodes, node)
	l.setOwner(node.members, id)
	return id, nil
}

// AddSingletons adds one node per matrix member, the usual starting point of
// agglomerative clustering. Node id i holds member i.
func (l *ClusterList) AddSingletons() error {
	for i := 0; i < l.matrix.Members(); i++ {
		if _, err := l.Add([]int{i}); err != nil {
			return err
		}
	}
	return nil
}

// Node returns the live node with the given id.
func (l *ClusterList) Node(id int) (*ClusterNode, error) {
	if id < 0 || id >= len(l.nodes) {
		return nil, fmt.Errorf("%w: cluster id %d of %d", ErrIndexOutOfRange, id, len(l.nodes))
	}
	if l.nodes[id] == nil {
		return nil, fmt.Errorf("%w: cluster id %d was merged away", ErrEmptyCluster, id)
	}
	return l.nodes[id], nil
}

// Merge moves every member of src into dst and tombstones src.
func (l *ClusterList) Merge(dst, src int) error {
	if dst == src {
		return fmt.Errorf("trajclust: cannot merge cluster id %d into itself", dst)
	}
	d, err := l.Node(dst)
	if err != nil {
		return err
	}
	s, err := l.Node(src)
	if err != nil {
		return err
	}
	moved := s.members
	if err := d.MergeFrom(s); err != nil {
		return err
	}
	l.setOwner(moved, dst)
	l.nodes[src] = nil
	return nil
}

// setOwner records id as the owner of members. Ownership is tracked in
// matrix indices only, so it stops once the list is sieved.
func (l *ClusterList) setOwner(members []int, id int) {
	if l.sieved {
		return
	}
	for _, idx := range members {
		l.owner[idx] = id
	}
}

// Len returns the number of live nodes.
func (l *ClusterList) Len() int {
	var count int
	for _, node := range l.nodes {
		if node != nil {
			count++
		}
	}
	return count
}

// Active returns the live nodes in id order.
func (l *ClusterList) Active() []*ClusterNode {
	active := make([]*ClusterNode, 0, len(l.nodes))
	for _, node := range l.nodes {
		if node != nil {
			active = append(active, node)
		}
	}
	return active
}

// Renumber drops tombstones, stably sorts the live nodes largest first, and
// assigns each its position as number and id. Member lists end up sorted.
func (l *ClusterList) Renumber() []*ClusterNode {
	active := l.Active()
	SortBySize(active)
	for i, node := range active {
		node.AssignNumber(i)
		l.setOwner(node.members, i)
	}
	l.nodes = active
	return active
}

// ApplySieve rescales every live node from matrix indices to full
// population indices using cfg.Sieve. It may run only once per list, and
// matrix-based statistics must be computed before it.
func (l *ClusterList) ApplySieve() error {
	if l.sieved {
		return ErrAlreadySieved
	}
	for _, node := range l.Active() {
		if err := node.ApplySieveOffset(l.cfg.Sieve); err != nil {
			return err
		}
	}
	l.sieved = true
	return nil
}

// Sieved reports whether ApplySieve has run.
func (l *ClusterList) Sieved() bool { return l.sieved }

// ComputeStats runs FindCentroid, CalcEccentricity and CalcAvgFrameDist on
// every live node. Nodes are processed concurrently; each node is touched by
// exactly one goroutine.
func (l *ClusterList) ComputeStats(ctx context.Context) error {
	if l.sieved {
		return fmt.Errorf("%w: matrix statistics need matrix indices", ErrAlreadySieved)
	}
	start := time.Now()
	_, onDisk := l.matrix.(*DiskMatrix)
	cache := l.cfg.CacheBlocks || onDisk

	active := l.Active()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.cfg.Workers)
	for _, node := range active {
		node := node
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return nodeStats(node, l.matrix, cache)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	l.cfg.Logger.Info("computed cluster statistics",
		zap.Int("clusters", len(active)),
		zap.Bool("cached_blocks", cache),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

func nodeStats(node *ClusterNode, m Distances, cache bool) error {
	dist := m
	if cache && node.Len() > 1 {
		block, err := CacheBlock(m, node.members)
		if err != nil {
			return fmt.Errorf("cluster %d: %w", node.Number(), err)
		}
		dist = block
	}
	if err := node.FindCentroid(dist); err != nil {
		return fmt.Errorf("cluster %d: %w", node.Number(), err)
	}
	if err := node.CalcEccentricity(dist); err != nil {
		return fmt.Errorf("cluster %d: %w", node.Number(), err)
	}
	if err := node.CalcAvgFrameDist(dist); err != nil {
		return fmt.Errorf("cluster %d: %w", node.Number(), err)
	}
	return nil
}

// ComputeCentroidFrames builds the synthesized centroid of every live node.
// Before ApplySieve, member indices are translated to provider members by
// the sieve stride. p must be safe for concurrent reads.
func (l *ClusterList) ComputeCentroidFrames(ctx context.Context, p CoordinateProvider, mask Mask) error {
	if !l.sieved && l.cfg.Sieve > 1 {
		p = sievedProvider{p: p, sieve: l.cfg.Sieve}
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.cfg.Workers)
	for _, node := range l.Active() {
		node := node
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := node.CalcCentroidFrame(p, mask); err != nil {
				return fmt.Errorf("cluster %d: %w", node.Number(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// CentroidDistances returns the symmetric matrix of centroid-frame RMSDs
// between live nodes, indexed in Active order.
func (l *ClusterList) CentroidDistances() ([][]float64, error) {
	active := l.Active()
	out := make([][]float64, len(active))
	for i := range out {
		out[i] = make([]float64, len(active))
	}
	for i := range active {
		for j := i + 1; j < len(active); j++ {
			d, err := active[i].CentroidDist(active[j])
			if err != nil {
				return nil, err
			}
			out[i][j] = d
			out[j][i] = d
		}
	}
	return out, nil
}

// sievedProvider maps matrix indices to provider members.
type sievedProvider struct {
	p     CoordinateProvider
	sieve int
}

func (s sievedProvider) Coordinates(member int, mask Mask) (Frame, error) {
	return s.p.Coordinates(member*s.sieve, mask)
}

func (s sievedProvider) NumMembers() int {
	return SievedMembers(s.p.NumMembers(), s.sieve)
}
