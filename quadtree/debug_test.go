package quadtree

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MickWest/Sitrec2/scene"
)

func TestDumpWKT(t *testing.T) {
	tm, err := NewTextureMap(scene.NewGroup(), nil, testOptions(), testDeps(newFakeFetcher(0)))
	require.NoError(t, err)
	defer tm.Clean()
	settle(t, tm.Map)

	var sb strings.Builder
	require.NoError(t, tm.DumpWKT(&sb, 0))
	lines := strings.Split(strings.TrimSpace(sb.String()), "\n")
	require.Len(t, lines, 9)
	assert.True(t, strings.HasPrefix(lines[0], tm.Cache().Keys()[0].String()+"\t"))
	for _, line := range lines {
		assert.Contains(t, line, "active=true\tadded=true\tloaded=true")
		assert.Contains(t, line, "POLYGON")
	}

	sb.Reset()
	require.NoError(t, tm.DumpWKT(&sb, 10))
	for _, line := range strings.Split(strings.TrimSpace(sb.String()), "\n") {
		fields := strings.Split(line, "\t")
		assert.LessOrEqual(t, len(fields[len(fields)-1]), 10)
	}
}

func TestActiveByZoom(t *testing.T) {
	opts := testOptions()
	opts.Dynamic = true
	em, err := NewElevationMap(opts, testDeps(newFakeFetcher(0)))
	require.NoError(t, err)
	defer em.Clean()

	assert.Equal(t, map[int]int{0: 1}, em.ActiveByZoom())
	em.SubdivideTiles(nearCamera())
	assert.Equal(t, map[int]int{1: 4}, em.ActiveByZoom())
	assert.Len(t, em.ActiveTiles(), 4)
}
