package main

import (
	"go/parser"
	"go/token"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/bid-monitor/internal/config"
)

func TestBinaryEmbedsZoneData(t *testing.T) {
	file, err := parser.ParseFile(token.NewFileSet(), "main.go", nil, parser.ImportsOnly)
	require.NoError(t, err)

	var imports []string
	for _, spec := range file.Imports {
		path, err := strconv.Unquote(spec.Path.Value)
		require.NoError(t, err)
		imports = append(imports, path)
	}
	require.Contains(t, imports, "time/tzdata")
}

func TestDefaultTimezoneLoadsWithoutZoneinfoDir(t *testing.T) {
	t.Setenv("ZONEINFO", filepath.Join(t.TempDir(), "missing"))

	cfg, err := config.Load("")
	require.NoError(t, err)
	loc, err := time.LoadLocation(cfg.Schedule.Timezone)
	require.NoError(t, err)
	require.Equal(t, "America/Sao_Paulo", loc.String())
}
