package dispatch

import "math"

// sentinelCost pads rectangular matrices to square. Real pair costs stay
// far below it, so sentinel matches can never displace a real one.
const sentinelCost = 1e6

// solveAssignment returns, for each row of the square cost matrix, the index
// of the column assigned to it. The matrix must be square with finite
// entries. The implementation is the O(n^3) potentials formulation of the
// Hungarian algorithm with 1-based scratch arrays; p[j] holds the row
// currently matched to column j.
func solveAssignment(cost [][]float64) []int {
	n := len(cost)
	if n == 0 {
		return nil
	}

	u := make([]float64, n+1)
	v := make([]float64, n+1)
	p := make([]int, n+1)
	way := make([]int, n+1)

	for i := 1; i <= n; i++ {
		p[0] = i
		j0 := 0
		minv := make([]float64, n+1)
		used := make([]bool, n+1)
		for j := range minv {
			minv[j] = math.Inf(1)
		}
		for {
			used[j0] = true
			i0 := p[j0]
			delta := math.Inf(1)
			j1 := 0
			for j := 1; j <= n; j++ {
				if used[j] {
					continue
				}
				cur := cost[i0-1][j-1] - u[i0] - v[j]
				if cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}
				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}
			for j := 0; j <= n; j++ {
				if used[j] {
					u[p[j]] += delta
					v[j] -= delta
				} else {
					minv[j] -= delta
				}
			}
			j0 = j1
			if p[j0] == 0 {
				break
			}
		}
		for j0 != 0 {
			j1 := way[j0]
			p[j0] = p[j1]
			j0 = j1
		}
	}

	assigned := make([]int, n)
	for j := 1; j <= n; j++ {
		if p[j] > 0 {
			assigned[p[j]-1] = j - 1
		}
	}
	return assigned
}
