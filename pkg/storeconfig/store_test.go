package storeconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetConfigSeedsDefaults(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, nil)
	require.NoError(t, err)

	cfg, err := s.GetConfig("Demo Store!")
	require.NoError(t, err)
	require.Equal(t, "demostore", cfg.StoreID)
	require.Empty(t, cfg.MenuCatalog)
	require.Empty(t, cfg.AllowedMods)
	require.Equal(t, "openai", cfg.LLMConfig.Provider)
	require.Equal(t, 15, cfg.LLMConfig.TimeoutS)
	require.Len(t, cfg.MenuCatalogVersion, 16)
}

func TestUpdateConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, nil)
	require.NoError(t, err)

	patch := ConfigPatch{
		HasMods:     true,
		AllowedMods: []string{"加辣", "加辣", "不加香菜", ""},
	}
	cfg, err := s.UpdateConfig("store-1", patch)
	require.NoError(t, err)
	require.Equal(t, []string{"加辣", "不加香菜"}, cfg.AllowedMods)

	cfg2, err := s.GetConfig("store-1")
	require.NoError(t, err)
	require.Equal(t, cfg.AllowedModsVersion, cfg2.AllowedModsVersion)
}

func TestGetConfigHotReload(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, nil)
	require.NoError(t, err)

	cfg1, err := s.GetConfig("store-1")
	require.NoError(t, err)

	modsPath := filepath.Join(dir, "store-1", allowedModsFile)
	require.NoError(t, os.WriteFile(modsPath, []byte(`["SMOKE_MARKER"]`), 0o644))

	cfg2, err := s.GetConfig("store-1")
	require.NoError(t, err)
	require.NotEqual(t, cfg1.AllowedModsVersion, cfg2.AllowedModsVersion)
	require.Equal(t, []string{"SMOKE_MARKER"}, cfg2.AllowedMods)
}

func TestParseMenuCatalogMapping(t *testing.T) {
	items, err := parseMenuCatalog([]byte(`{"I002": {"canonical_name": "酸辣湯"}, "I001": {"canonical_name": "招牌鍋貼"}}`))
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, "I001", items[0].ItemID)
	require.Equal(t, "I002", items[1].ItemID)
}

func TestParseMenuCatalogRejectsGarbage(t *testing.T) {
	_, err := parseMenuCatalog([]byte(`"not a catalog"`))
	require.ErrorIs(t, err, ErrInvalidMenuCatalog)
}
