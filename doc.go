// Package trajclust provides the storage and per-cluster primitives for
// clustering sampled structures (e.g. trajectory frames) by pairwise RMSD.
//
// A clustering run builds one pairwise distance matrix, then creates and
// merges ClusterNode values that read distances from it. The matrix lives in
// memory or, when it is too large, in a file with a fixed triangular layout.
//
// Basic usage:
//
//	cfg := trajclust.DefaultConfig()
//	n := trajclust.SievedMembers(traj.NumMembers(), cfg.Sieve)
//	m, err := trajclust.NewMatrix(cfg, nil, n)
//	err = trajclust.PopulateMatrix(ctx, m, traj, mask, cfg)
//	// m is synced; clustering may read it.
//
//	list, err := trajclust.NewClusterList(m, cfg)
//	err = list.AddSingletons()
//	err = list.Merge(0, 1) // chosen by the caller's linkage policy
//	list.Renumber()
//	err = list.ComputeStats(ctx)
//	// node.Centroid(), node.Eccentricity(), node.InternalAvg() ...
//
// # Sieving
//
// With Config.Sieve = s only every s-th member enters the matrix, so matrix
// index i is member i*s. Compute matrix statistics first, then call
// ClusterList.ApplySieve (or ClusterNode.ApplySieveOffset) exactly once to
// express clusters in full-population indices.
//
// # Phases
//
// Allocate, SetElement, Sync, then only GetElement. PopulateMatrix runs the
// first three; a caller that shards population itself with PopulateShard
// must call Sync once all shards are written.
package trajclust
