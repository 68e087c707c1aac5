package nn

// ScatterMean averages source rows into destination rows along edges src[e] -> dst[e].
// Destinations without incoming edges stay zero. The returned counts are
// needed by ScatterMeanBackward.
func ScatterMean(x *Matrix, src, dst []int, numDst int) (*Matrix, []int) {
	out := NewMatrix(numDst, x.Cols)
	counts := make([]int, numDst)

	for e := range src {
		counts[dst[e]]++
		row := out.Row(dst[e])
		in := x.Row(src[e])
		for d := range row {
			row[d] += in[d]
		}
	}
	for i, c := range counts {
		if c > 1 {
			row := out.Row(i)
			inv := 1.0 / float64(c)
			for d := range row {
				row[d] *= inv
			}
		}
	}
	return out, counts
}

// ScatterMeanBackward routes dL/dout back to the source rows
func ScatterMeanBackward(dy *Matrix, src, dst []int, counts []int, numSrc int) *Matrix {
	dx := NewMatrix(numSrc, dy.Cols)
	for e := range src {
		inv := 1.0 / float64(counts[dst[e]])
		row := dx.Row(src[e])
		g := dy.Row(dst[e])
		for d := range row {
			row[d] += g[d] * inv
		}
	}
	return dx
}

// RemoveSelfLoops drops edges whose endpoints coincide
func RemoveSelfLoops(src, dst []int) ([]int, []int) {
	outSrc := make([]int, 0, len(src))
	outDst := make([]int, 0, len(dst))
	for e := range src {
		if src[e] == dst[e] {
			continue
		}
		outSrc = append(outSrc, src[e])
		outDst = append(outDst, dst[e])
	}
	return outSrc, outDst
}
