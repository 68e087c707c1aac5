package nn

import (
	"math"
	"sync"
)

// Matrix is a dense row-major matrix
type Matrix struct {
	Rows int
	Cols int
	Data []float64
}

// NewMatrix creates a zero matrix
func NewMatrix(rows, cols int) *Matrix {
	return &Matrix{Rows: rows, Cols: cols, Data: make([]float64, rows*cols)}
}

// FromRows copies a slice of equally sized rows into a matrix
func FromRows(rows [][]float64) *Matrix {
	if len(rows) == 0 {
		return NewMatrix(0, 0)
	}
	m := NewMatrix(len(rows), len(rows[0]))
	for i, row := range rows {
		copy(m.Row(i), row)
	}
	return m
}

// Row returns row i as a slice aliasing the matrix storage
func (m *Matrix) Row(i int) []float64 {
	return m.Data[i*m.Cols : (i+1)*m.Cols]
}

// At returns element (i, j)
func (m *Matrix) At(i, j int) float64 {
	return m.Data[i*m.Cols+j]
}

// Set sets element (i, j)
func (m *Matrix) Set(i, j int, v float64) {
	m.Data[i*m.Cols+j] = v
}

// Clone returns a deep copy
func (m *Matrix) Clone() *Matrix {
	out := &Matrix{Rows: m.Rows, Cols: m.Cols, Data: make([]float64, len(m.Data))}
	copy(out.Data, m.Data)
	return out
}

// AddInPlace adds other to m element-wise
func (m *Matrix) AddInPlace(other *Matrix) {
	for i := range m.Data {
		m.Data[i] += other.Data[i]
	}
}

// Concat joins a and b column-wise
func Concat(a, b *Matrix) *Matrix {
	out := NewMatrix(a.Rows, a.Cols+b.Cols)
	for i := 0; i < a.Rows; i++ {
		row := out.Row(i)
		copy(row[:a.Cols], a.Row(i))
		copy(row[a.Cols:], b.Row(i))
	}
	return out
}

// Split undoes Concat, returning the first cols columns and the rest
func Split(m *Matrix, cols int) (*Matrix, *Matrix) {
	a := NewMatrix(m.Rows, cols)
	b := NewMatrix(m.Rows, m.Cols-cols)
	for i := 0; i < m.Rows; i++ {
		row := m.Row(i)
		copy(a.Row(i), row[:cols])
		copy(b.Row(i), row[cols:])
	}
	return a, b
}

// Parallel splits [0, n) into contiguous chunks and runs fn on each chunk
// in its own goroutine. Chunks never overlap.
func Parallel(n, workers int, fn func(start, end int)) {
	if workers < 1 {
		workers = 1
	}
	if n < 2*workers || workers == 1 {
		fn(0, n)
		return
	}

	var wg sync.WaitGroup
	chunkSize := (n + workers - 1) / workers
	for w := 0; w < workers; w++ {
		start := w * chunkSize
		end := start + chunkSize
		if end > n {
			end = n
		}
		if start >= end {
			break
		}

		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			fn(start, end)
		}(start, end)
	}
	wg.Wait()
}

// Sigmoid is the logistic function
func Sigmoid(x float64) float64 {
	if x >= 0 {
		return 1.0 / (1.0 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1.0 + e)
}

// Dot returns the inner product of two equally sized vectors
func Dot(a, b []float64) float64 {
	sum := 0.0
	for d := range a {
		sum += a[d] * b[d]
	}
	return sum
}
