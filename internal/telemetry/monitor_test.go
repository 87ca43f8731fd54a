package telemetry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZoneFor(t *testing.T) {
	cases := []struct {
		fill float64
		want Zone
	}{
		{0, ZoneSmart},
		{39.9, ZoneSmart},
		{40, ZoneDegrading},
		{50, ZoneDegrading},
		{59.9, ZoneDegrading},
		{60, ZoneDumb},
		{95, ZoneDumb},
		{120, ZoneDumb},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ZoneFor(tc.fill), "fill %.1f", tc.fill)
	}
}

func TestRecordUsageFillMath(t *testing.T) {
	m := NewMonitor(Config{Kind: KindManager, WindowTokens: 1000})

	st, err := m.RecordUsage(250, "T1")
	require.NoError(t, err)
	assert.Equal(t, 25.0, st.FillPercent)
	assert.Equal(t, ZoneSmart, st.Zone)
	assert.Equal(t, 750, st.TokensRemaining)
	assert.False(t, st.NeedsRotation)

	st, err = m.RecordUsage(250, "")
	require.NoError(t, err)
	assert.Equal(t, 50.0, st.FillPercent)
	assert.Equal(t, ZoneDegrading, st.Zone)
}

func TestRotationIsManagerOnly(t *testing.T) {
	// Same 65% fill, different agent kinds.
	mgr := NewMonitor(Config{Kind: KindManager, WindowTokens: 1000})
	wkr := NewMonitor(Config{Kind: KindWorker, WindowTokens: 1000})

	_, err := mgr.RecordUsage(650, "")
	require.NoError(t, err)
	_, err = wkr.RecordUsage(650, "")
	require.NoError(t, err)

	assert.True(t, mgr.NeedsRotation())
	assert.False(t, mgr.ShouldAbort(), "abort predicate never fires for managers")

	assert.False(t, wkr.NeedsRotation(), "workers never rotate")
	assert.True(t, wkr.ShouldAbort(), "a worker at 65%% is a failed attempt")
}

func TestWorkerAbortBoundary(t *testing.T) {
	m := NewMonitor(Config{Kind: KindWorker, WindowTokens: 1000, AbortThresholdPercent: 30})

	_, err := m.RecordUsage(299, "")
	require.NoError(t, err)
	assert.False(t, m.ShouldAbort())

	_, err = m.RecordUsage(1, "")
	require.NoError(t, err)
	assert.True(t, m.ShouldAbort(), "threshold is inclusive")
}

func TestResetClearsUsage(t *testing.T) {
	m := NewMonitor(Config{Kind: KindWorker, WindowTokens: 100})
	_, err := m.RecordUsage(90, "T3")
	require.NoError(t, err)
	require.True(t, m.ShouldAbort())

	require.NoError(t, m.Reset())
	st := m.Status()
	assert.Equal(t, 0.0, st.FillPercent)
	assert.False(t, m.ShouldAbort())
}

func TestSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".foreman", "telemetry.json")
	m := NewMonitor(Config{Kind: KindManager, WindowTokens: 1000, SnapshotPath: path})

	_, err := m.RecordUsage(400, "T7")
	require.NoError(t, err)

	snap, err := ReadSnapshot(path)
	require.NoError(t, err)
	require.NotNil(t, snap)

	want := &Snapshot{
		AgentKind:       KindManager,
		FillPercent:     40.0,
		Zone:            ZoneDegrading,
		TokensUsed:      400,
		TokensRemaining: 600,
		TaskID:          "T7",
	}
	if diff := cmp.Diff(want, snap, cmpopts.IgnoreFields(Snapshot{}, "Heartbeat")); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
	assert.False(t, snap.Heartbeat.IsZero())

	// No torn intermediate file left behind.
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestReadSnapshotMissing(t *testing.T) {
	snap, err := ReadSnapshot(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestTokenCounter(t *testing.T) {
	tc := NewTokenCounter()

	assert.Equal(t, 0, tc.CountString(""))
	assert.Equal(t, 25, tc.CountString(string(make([]byte, 100))))

	long := ""
	for i := 0; i < 100; i++ {
		long += "abcd"
	}
	out := tc.TruncateToTokens(long, 10)
	assert.Contains(t, out, "[truncated]")
	assert.Less(t, len(out), len(long))

	short := "hello"
	assert.Equal(t, short, tc.TruncateToTokens(short, 100))
	assert.Equal(t, short, tc.TruncateToTokens(short, 0), "zero budget means unbounded")
}
