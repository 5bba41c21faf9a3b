// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package policy

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/campusgate/internal/errors"
	"grimm.is/campusgate/internal/store"
)

func newTestManager(t *testing.T) (*Manager, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "campusgate.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	m, err := NewManager(st)
	require.NoError(t, err)
	return m, st
}

func TestManager_SeedsDefaultOnFirstRun(t *testing.T) {
	m, st := newTestManager(t)

	cfg := m.Snapshot()
	assert.True(t, cfg.Categories["social"].Active)
	assert.False(t, cfg.Categories["video"].Active)
	assert.Equal(t, 10, cfg.Thresholds.HighActivity)

	// Seed is persisted, not just in memory.
	data, err := st.GetPolicyJSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), "facebook.com")
}

func TestManager_ReloadsPersistedPolicy(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "campusgate.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	m1, err := NewManager(st)
	require.NoError(t, err)
	require.NoError(t, m1.AddManualBlock("chess.com"))

	m2, err := NewManager(st)
	require.NoError(t, err)
	assert.Contains(t, m2.Snapshot().ManualBlocks, "chess.com")
}

func TestBlockedHostnames_UnionOfManualAndActive(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.AddManualBlock("9gag.com"))
	require.NoError(t, m.AddManualBlock("facebook.com")) // also in active social list

	blocked := m.Snapshot().BlockedHostnames()
	assert.Contains(t, blocked, "9gag.com")
	assert.Contains(t, blocked, "instagram.com")
	assert.NotContains(t, blocked, "youtube.com") // video inactive

	// facebook.com appears once despite two sources
	count := 0
	for _, h := range blocked {
		if h == "facebook.com" {
			count++
		}
	}
	assert.Equal(t, 1, count)
	assert.IsIncreasing(t, blocked)
}

func TestSetCategoryActive(t *testing.T) {
	m, _ := newTestManager(t)

	require.NoError(t, m.SetCategoryActive("video", true))
	assert.Contains(t, m.Snapshot().BlockedHostnames(), "youtube.com")

	require.NoError(t, m.SetCategoryActive("video", true)) // no-op
	require.NoError(t, m.SetCategoryActive("video", false))
	assert.NotContains(t, m.Snapshot().BlockedHostnames(), "youtube.com")

	err := m.SetCategoryActive("crypto", true)
	assert.Equal(t, errors.KindNotFound, errors.GetKind(err))
}

func TestManualBlocks_Idempotent(t *testing.T) {
	m, _ := newTestManager(t)

	require.NoError(t, m.AddManualBlock("9gag.com"))
	require.NoError(t, m.AddManualBlock("9gag.com"))
	assert.Len(t, m.Snapshot().ManualBlocks, 1)

	require.NoError(t, m.RemoveManualBlock("9gag.com"))
	require.NoError(t, m.RemoveManualBlock("9gag.com"))
	assert.Empty(t, m.Snapshot().ManualBlocks)

	err := m.AddManualBlock("")
	assert.Equal(t, errors.KindValidation, errors.GetKind(err))
}

func TestUpdate_ValidatesThresholds(t *testing.T) {
	m, _ := newTestManager(t)

	bad := m.Snapshot()
	bad.Thresholds.VideoRatio = 1.5
	err := m.Update(bad)
	assert.Equal(t, errors.KindValidation, errors.GetKind(err))

	good := m.Snapshot()
	good.Thresholds.HighActivity = 20
	require.NoError(t, m.Update(good))
	assert.Equal(t, 20, m.Snapshot().Thresholds.HighActivity)

	// Mutating the returned snapshot does not leak into the manager.
	leaked := m.Snapshot()
	leaked.ManualBlocks = append(leaked.ManualBlocks, "smuggled.example")
	assert.Empty(t, m.Snapshot().ManualBlocks)
}
