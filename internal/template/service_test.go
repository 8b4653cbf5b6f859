package template

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/contractgraph/discovery/internal/models"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadAndFindMatchingByShape(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "erc20", "template.jsonc"), `{
		// a basic ERC-20 template
		"fields": {
			"totalSupply": {"handler": "call", "params": {"method": "totalSupply"}}
		}
	}`)
	writeFile(t, filepath.Join(root, "erc20", "shapes.json"), `["0xaaaa000000000000000000000000000000000000000000000000000000000001"]`)

	svc, err := Load(root)
	require.NoError(t, err)

	match, ok := svc.FindMatching([]models.SourceHash{"0xAAAA000000000000000000000000000000000000000000000000000000000001"}, models.Address{}, "ethereum", nil)
	require.True(t, ok)
	require.Equal(t, "erc20", match.ID)
}

func TestFindMatchingScoresAddressCriterionHighest(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "generic", "template.jsonc"), `{}`)
	writeFile(t, filepath.Join(root, "generic", "shapes.json"), `["0x1111000000000000000000000000000000000000000000000000000000000001"]`)

	addr := models.MustParseAddress("0x0000000000000000000000000000000000000001")
	writeFile(t, filepath.Join(root, "specific", "template.jsonc"), `{}`)
	writeFile(t, filepath.Join(root, "specific", "shapes.json"), `["0x1111000000000000000000000000000000000000000000000000000000000001"]`)
	writeFile(t, filepath.Join(root, "specific", "criteria.json"), `{"addresses": ["`+addr.Hex()+`"]}`)

	svc, err := Load(root)
	require.NoError(t, err)

	match, ok := svc.FindMatching([]models.SourceHash{"0x1111000000000000000000000000000000000000000000000000000000000001"}, addr, "ethereum", nil)
	require.True(t, ok)
	require.Equal(t, "specific", match.ID)
}

func TestExtendsMergesAncestorFields(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "base", "template.jsonc"), `{
		"fields": {"owner": {"handler": "call", "params": {"method": "owner"}}}
	}`)
	writeFile(t, filepath.Join(root, "child", "template.jsonc"), `{
		"extends": "base",
		"fields": {"symbol": {"handler": "call", "params": {"method": "symbol"}}}
	}`)

	svc, err := Load(root)
	require.NoError(t, err)

	child, ok := svc.Get("child")
	require.True(t, ok)
	require.Contains(t, child.Config.Fields, "owner")
	require.Contains(t, child.Config.Fields, "symbol")
}

func TestExtendsCycleIsConfigError(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a", "template.jsonc"), `{"extends": "b"}`)
	writeFile(t, filepath.Join(root, "b", "template.jsonc"), `{"extends": "a"}`)

	_, err := Load(root)
	require.Error(t, err)
	var de *models.DiscoveryError
	require.ErrorAs(t, err, &de)
	require.Equal(t, models.ConfigError, de.Kind)
}

func TestMergeOverrideWinsPerField(t *testing.T) {
	base := &models.StructureContract{
		Fields:  map[string]*models.StructureContractField{"owner": {Handler: "call"}},
		Methods: map[string]json.RawMessage{},
		Types:   map[string]json.RawMessage{},
	}
	override := &models.StructureContract{
		Fields:  map[string]*models.StructureContractField{"owner": {Handler: "storage"}},
		Methods: map[string]json.RawMessage{},
		Types:   map[string]json.RawMessage{},
	}
	merged := Merge(base, override)
	require.Equal(t, "storage", merged.Fields["owner"].Handler)
}
