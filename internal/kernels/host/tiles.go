package host

import "fmt"

// GemmSpec selects how a tile configuration treats ragged edges.
type GemmSpec uint8

const (
	// GemmDefault requires every GEMM dimension to be a multiple of its tile.
	GemmDefault GemmSpec = iota
	// GemmMNKPadding accepts any size; edge tiles are partial.
	GemmMNKPadding
)

func (s GemmSpec) String() string {
	if s == GemmMNKPadding {
		return "MNKPadding"
	}
	return "Default"
}

const (
	maxTileM = 256
	maxTileN = 256
	maxTileK = 128
)

// Tile is one row of an instance table: block sizes of the implicit GEMM
// plus the vector width of the contiguous load dimension.
type Tile struct {
	M, N, K int
	// Vector is the element count loaded per access along the contiguous
	// dimension. The problem's contiguous length must divide by it.
	Vector int
	Spec   GemmSpec
	// Workers caps parallelism; 0 uses the whole pool.
	Workers int
}

func (t Tile) String() string {
	s := fmt.Sprintf("%d, %d, %d, %d, %s", t.M, t.N, t.K, t.Vector, t.Spec)
	if t.Workers > 0 {
		s += fmt.Sprintf(", %dT", t.Workers)
	}
	return s
}

func (t Tile) clamped() Tile {
	t.M = clampTile(t.M, maxTileM)
	t.N = clampTile(t.N, maxTileN)
	t.K = clampTile(t.K, maxTileK)
	t.Vector = max(t.Vector, 1)
	return t
}

// divides reports whether the tile admits an m x n x k GEMM.
func (t Tile) divides(m, n, k int) bool {
	if t.Spec == GemmMNKPadding {
		return true
	}
	return m%t.M == 0 && n%t.N == 0 && k%t.K == 0
}

func clampTile(v, limit int) int {
	if v < 1 {
		return 1
	}
	if v > limit {
		return limit
	}
	return v
}

// gemmTiles is the shared table behind the GEMM, quantized GEMM and
// contraction families. Padded rows come last so exact-fit tiles are tried
// first.
var gemmTiles = []Tile{
	{M: 128, N: 128, K: 64, Vector: 16},
	{M: 128, N: 64, K: 64, Vector: 16},
	{M: 64, N: 128, K: 32, Vector: 8},
	{M: 64, N: 64, K: 64, Vector: 16},
	{M: 64, N: 64, K: 32, Vector: 8},
	{M: 32, N: 64, K: 32, Vector: 8},
	{M: 32, N: 32, K: 16, Vector: 4},
	{M: 256, N: 128, K: 64, Vector: 16},
	{M: 64, N: 64, K: 32, Vector: 8, Workers: 1},
	{M: 64, N: 64, K: 32, Vector: 1, Spec: GemmMNKPadding},
	{M: 32, N: 32, K: 16, Vector: 1, Spec: GemmMNKPadding},
}

var convTiles = []Tile{
	{M: 128, N: 64, K: 64, Vector: 16},
	{M: 64, N: 64, K: 64, Vector: 16},
	{M: 64, N: 32, K: 32, Vector: 8},
	{M: 128, N: 32, K: 32, Vector: 8},
	{M: 32, N: 32, K: 16, Vector: 4},
	{M: 64, N: 32, K: 32, Vector: 1, Spec: GemmMNKPadding},
}

// attentionTiles reuse M as query rows per task and N as keys per chunk.
var attentionTiles = []Tile{
	{M: 128, N: 128, K: 32, Vector: 8},
	{M: 64, N: 128, K: 32, Vector: 8},
	{M: 64, N: 64, K: 32, Vector: 8},
	{M: 32, N: 64, K: 32, Vector: 4},
	{M: 32, N: 32, K: 16, Vector: 1, Spec: GemmMNKPadding},
}
