package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
version: 1
logLevel: debug
conditionSets:
  pollInterval: 2s
jobs:
  - job: pld
    trackers:
      - trackerType: StatusTracker
        itemId: 76
        addonName: JobHudPLD0
        widgetType: Simple
        enabled: true
        conditionSet: 0
      - trackerType: ActionTracker
        itemId: 7383
        enabled: false
        limitLevelRange: true
        levelMin: 50
        levelMax: 60
        hideOutsideCombatDuty: true
  - job: BLM
    trackers:
      - trackerType: ParameterTracker
        enabled: true
        prevEnabledBeforeConditionSet: true
`

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 2*time.Second, cfg.ConditionSets.PollInterval)
	assert.Equal(t, 15*time.Second, cfg.ConditionSets.ProbeTimeout)
	assert.Equal(t, 250*time.Millisecond, cfg.ConditionSets.CallTimeout)

	require.Len(t, cfg.Jobs, 2)
	assert.Equal(t, Job("PLD"), cfg.Jobs[0].Job)

	gated := cfg.Jobs[0].Trackers[0]
	assert.Equal(t, 0, gated.ConditionSet)
	assert.Equal(t, 1, gated.LevelMin)
	assert.Equal(t, LevelCap, gated.LevelMax)
	assert.Equal(t, 1.0, gated.PreviewValue)
	assert.Nil(t, gated.PrevEnabledBeforeConditionSet)

	limited := cfg.Jobs[0].Trackers[1]
	assert.Equal(t, NoConditionSet, limited.ConditionSet)
	assert.True(t, limited.LimitLevelRange)
	assert.Equal(t, 50, limited.LevelMin)
	assert.Equal(t, 60, limited.LevelMax)

	param := cfg.Jobs[1].Trackers[0]
	require.NotNil(t, param.PrevEnabledBeforeConditionSet)
	assert.True(t, *param.PrevEnabledBeforeConditionSet)
}

func TestLintReportsEveryIssueWithPath(t *testing.T) {
	cfg, err := Parse([]byte(`
jobs:
  - job: XYZ
  - job: PLD
    trackers:
      - trackerType: ""
        levelMin: 70
        levelMax: 60
        conditionSet: -4
      -
  - job: PLD
`))
	require.NoError(t, err)

	errs := cfg.Lint()
	paths := make([]string, 0, len(errs))
	for _, e := range errs {
		paths = append(paths, e.Path)
	}
	assert.Contains(t, paths, "jobs[0].job")
	assert.Contains(t, paths, "jobs[1].trackers[0].trackerType")
	assert.Contains(t, paths, "jobs[1].trackers[0].levelMin")
	assert.Contains(t, paths, "jobs[1].trackers[0].conditionSet")
	assert.Contains(t, paths, "jobs[1].trackers[1]")
	assert.Contains(t, paths, "jobs[2].job")

	err = cfg.Validate()
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "jobs[0].job"), err.Error())
}

func TestLevelOK(t *testing.T) {
	tc := NewTrackerConfig("StatusTracker", 1)
	assert.True(t, tc.LevelOK(0), "ungated level window passes")

	tc.LimitLevelRange = true
	assert.True(t, tc.LevelOK(0), "full range passes even before login")

	tc.LevelMin, tc.LevelMax = 50, 60
	assert.False(t, tc.LevelOK(49))
	assert.True(t, tc.LevelOK(50))
	assert.True(t, tc.LevelOK(60))
	assert.False(t, tc.LevelOK(61))
}

func TestFileStoreRoundTripKeepsBookkeeping(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(filepath.Join(dir, "nested", "config.yaml"))

	cfg, raw, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, raw)
	assert.Equal(t, 0, cfg.TrackerCount())

	prev := true
	tc := NewTrackerConfig("StatusTracker", 76)
	tc.ConditionSet = 3
	tc.AutoDisabledByConditionSet = true
	tc.PrevEnabledBeforeConditionSet = &prev
	tc.Preview = true
	require.NoError(t, cfg.AddTracker("WAR", tc))
	require.NoError(t, store.Save(cfg))

	data, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	assert.True(t, store.WroteLast(data))
	assert.NotContains(t, string(data), "preview")
	assert.NotContains(t, string(data), "autoDisabled")

	loaded, _, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, 1, loaded.TrackerCount())
	got := loaded.Jobs[0].Trackers[0]
	assert.Equal(t, 3, got.ConditionSet)
	assert.False(t, got.AutoDisabledByConditionSet)
	assert.False(t, got.Preview)
	require.NotNil(t, got.PrevEnabledBeforeConditionSet)
	assert.True(t, *got.PrevEnabledBeforeConditionSet)

	assert.False(t, store.WroteLast([]byte("version: 1\n")))
}

func TestAddAndRemoveTracker(t *testing.T) {
	cfg := Default()
	require.ErrorIs(t, cfg.AddTracker("NOPE", NewTrackerConfig("StatusTracker", 1)), ErrUnknownJob)

	require.NoError(t, cfg.AddTracker("SMN", NewTrackerConfig("StatusTracker", 1)))
	require.NoError(t, cfg.AddTracker("SMN", NewTrackerConfig("StatusTracker", 2)))
	require.NoError(t, cfg.RemoveTracker("SMN", 0))

	group := cfg.Group("SMN")
	require.NotNil(t, group)
	require.Len(t, group.Trackers, 1)
	assert.Equal(t, uint32(2), group.Trackers[0].ItemID)
	assert.Error(t, cfg.RemoveTracker("SMN", 5))
	assert.Error(t, cfg.RemoveTracker("AST", 0))
}

func TestParseJob(t *testing.T) {
	j, err := ParseJob(" sch ")
	require.NoError(t, err)
	assert.Equal(t, Job("SCH"), j)
	assert.Equal(t, RoleHealer, j.Role())
	assert.Equal(t, Job("ACN"), j.Class())

	_, err = ParseJob("GLA")
	assert.ErrorIs(t, err, ErrUnknownJob)
}

func TestLintFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("jobs:\n  - job: NOPE\n"), 0o600))
	errs, err := LintFile(path)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, "jobs[0].job", errs[0].Path)

	_, err = LintFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestJobsSortedAndKnown(t *testing.T) {
	all := Jobs()
	require.NotEmpty(t, all)
	for i, j := range all {
		assert.True(t, j.Known(), j)
		if i > 0 {
			assert.Less(t, string(all[i-1]), string(j))
		}
	}
}
