package scheduler

import "math"

const unreachable = math.MaxInt64

type flowEdge struct {
	to   int
	rev  int
	cap  int
	cost int64
}

// flowGraph is a residual network for integral min-cost flow
type flowGraph struct {
	adj [][]flowEdge
}

func newFlowGraph(nodes int) *flowGraph {
	return &flowGraph{adj: make([][]flowEdge, nodes)}
}

// addEdge adds from->to with its zero-capacity reverse edge and returns the
// forward edge's index in adj[from].
func (g *flowGraph) addEdge(from, to, capacity int, cost int64) int {
	g.adj[from] = append(g.adj[from], flowEdge{to: to, rev: len(g.adj[to]), cap: capacity, cost: cost})
	g.adj[to] = append(g.adj[to], flowEdge{to: from, rev: len(g.adj[from]) - 1, cap: 0, cost: -cost})
	return len(g.adj[from]) - 1
}

// shortestPath runs Bellman-Ford from s over residual edges. Edge scan order is
// fixed so equal-cost paths are always resolved the same way.
func (g *flowGraph) shortestPath(s int) (dist []int64, prevNode, prevEdge []int) {
	n := len(g.adj)
	dist = make([]int64, n)
	prevNode = make([]int, n)
	prevEdge = make([]int, n)
	for i := range dist {
		dist[i] = unreachable
		prevNode[i] = -1
		prevEdge[i] = -1
	}
	dist[s] = 0

	for iter := 0; iter < n-1; iter++ {
		changed := false
		for u := 0; u < n; u++ {
			if dist[u] == unreachable {
				continue
			}
			for i, e := range g.adj[u] {
				if e.cap <= 0 {
					continue
				}
				if nd := dist[u] + e.cost; nd < dist[e.to] {
					dist[e.to] = nd
					prevNode[e.to] = u
					prevEdge[e.to] = i
					changed = true
				}
			}
		}
		if !changed {
			break
		}
	}
	return dist, prevNode, prevEdge
}

// minCostFlow pushes at most maxFlow units from s to t along successive
// shortest paths, stopping as soon as the cheapest path is not profitable.
// With negated values as costs this maximizes value for every flow size.
func (g *flowGraph) minCostFlow(s, t, maxFlow int) (flow int, cost int64) {
	for flow < maxFlow {
		dist, prevNode, prevEdge := g.shortestPath(s)
		if dist[t] == unreachable || dist[t] >= 0 {
			break
		}

		push := maxFlow - flow
		for v := t; v != s; v = prevNode[v] {
			if c := g.adj[prevNode[v]][prevEdge[v]].cap; c < push {
				push = c
			}
		}
		for v := t; v != s; v = prevNode[v] {
			e := &g.adj[prevNode[v]][prevEdge[v]]
			e.cap -= push
			g.adj[v][e.rev].cap += push
		}

		flow += push
		cost += int64(push) * dist[t]
	}
	return flow, cost
}
