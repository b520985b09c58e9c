package report

import (
	"fmt"
	"io"
	"sort"

	"github.com/gocarina/gocsv"

	"github.com/privaudit/internal/types"
)

// TopAssets returns up to n assets ordered by descending USD value. The
// input slice is not modified.
func TopAssets(assets []types.AssetBalance, n int) []types.AssetBalance {
	sorted := make([]types.AssetBalance, len(assets))
	copy(sorted, assets)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ValueUSD > sorted[j].ValueUSD
	})
	if n >= 0 && len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

// WriteAssetsCSV writes the asset table, largest holding first
func WriteAssetsCSV(w io.Writer, assets []types.AssetBalance) error {
	rows := TopAssets(assets, -1)
	if err := gocsv.Marshal(&rows, w); err != nil {
		return fmt.Errorf("failed to write csv: %w", err)
	}
	return nil
}
