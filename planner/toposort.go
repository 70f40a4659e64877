package planner

import (
	"container/heap"
	"fmt"
	"sort"
)

// TopsortTaskIDs orders task ids so that every dependency precedes its
// dependents, using Kahn's algorithm. Ties break lexicographically by task
// id, which makes the order fully deterministic for a given graph.
func TopsortTaskIDs(taskIDs map[string]struct{}, edges [][2]string) ([]string, error) {
	inDegree := make(map[string]int, len(taskIDs))
	outgoing := make(map[string][]string)
	for id := range taskIDs {
		inDegree[id] = 0
	}

	for _, edge := range edges {
		source, target := edge[0], edge[1]
		if _, ok := taskIDs[source]; !ok {
			return nil, fmt.Errorf("%w: dependency references unknown active task", ErrDependency)
		}
		if _, ok := taskIDs[target]; !ok {
			return nil, fmt.Errorf("%w: dependency references unknown active task", ErrDependency)
		}
		outgoing[source] = append(outgoing[source], target)
		inDegree[target]++
	}

	ready := &idHeap{}
	for id, degree := range inDegree {
		if degree == 0 {
			*ready = append(*ready, id)
		}
	}
	heap.Init(ready)

	order := make([]string, 0, len(taskIDs))
	for ready.Len() > 0 {
		current := heap.Pop(ready).(string)
		order = append(order, current)

		next := outgoing[current]
		sort.Strings(next)
		for _, target := range next {
			inDegree[target]--
			if inDegree[target] == 0 {
				heap.Push(ready, target)
			}
		}
	}

	if len(order) != len(taskIDs) {
		return nil, fmt.Errorf("%w: cycle detected in active task graph", ErrCycle)
	}

	return order, nil
}

// idHeap is a min-heap of task ids.
type idHeap []string

func (h idHeap) Len() int           { return len(h) }
func (h idHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h idHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *idHeap) Push(x any)        { *h = append(*h, x.(string)) }
func (h *idHeap) Pop() any {
	old := *h
	n := len(old)
	id := old[n-1]
	*h = old[:n-1]
	return id
}
