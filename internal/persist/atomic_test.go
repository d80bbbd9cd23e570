package persist_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/ups-guardian/internal/nut"
	"github.com/sweeney/ups-guardian/internal/persist"
)

func TestWriteAtomic_WritesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state")

	require.NoError(t, persist.WriteAtomic(path, []byte("hello")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestWriteAtomic_OverwritesExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state")

	require.NoError(t, persist.WriteAtomic(path, []byte("first")))
	require.NoError(t, persist.WriteAtomic(path, []byte("second")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}

func TestWriteAtomic_LeavesNoTempFileBehind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state")
	require.NoError(t, persist.WriteAtomic(path, []byte("x")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, "state", entries[0].Name())
}

func TestWriteAtomic_BadDirectory_ReturnsError(t *testing.T) {
	err := persist.WriteAtomic("/nonexistent/dir/state", []byte("x"))
	assert.Error(t, err)
}

func TestShutdownLatch_SetAndIsSet(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "latch")
	l := persist.NewShutdownLatch(path)

	assert.False(t, l.IsSet())
	require.NoError(t, l.Set())
	assert.True(t, l.IsSet())

	_, err := os.Stat(path)
	assert.NoError(t, err, "latch file should exist after Set")
}

func TestShutdownLatch_Clear(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "latch")
	l := persist.NewShutdownLatch(path)
	require.NoError(t, l.Set())

	require.NoError(t, l.Clear())
	assert.False(t, l.IsSet())

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestShutdownLatch_ClearWhenFileAbsent_IsNotAnError(t *testing.T) {
	dir := t.TempDir()
	l := persist.NewShutdownLatch(filepath.Join(dir, "latch"))
	assert.NoError(t, l.Clear())
}

// TestNewShutdownLatch_PreExistingFile_StartsSet covers restart recovery: a
// latch file left behind by a crash mid-shutdown must not be silently
// treated as "no shutdown in progress".
func TestNewShutdownLatch_PreExistingFile_StartsSet(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "latch")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	l := persist.NewShutdownLatch(path)
	assert.True(t, l.IsSet())
}

func TestWriteUPSState_WritesExpectedKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ups-state")

	sample := nut.Sample{
		StatusTokens:   []string{"OB", "DISCHRG"},
		ChargePct:      nut.OptFloat{Value: 85, Valid: true},
		RuntimeS:       nut.OptInt{Value: 1200, Valid: true},
		InputVoltageV:  nut.OptFloat{Value: 0, Valid: true},
		OutputVoltageV: nut.OptFloat{Value: 230, Valid: true},
	}
	require.NoError(t, persist.WriteUPSState(path, sample, 1700000000))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)

	assert.Contains(t, content, "STATUS=OB DISCHRG\n")
	assert.Contains(t, content, "BATTERY=85\n")
	assert.Contains(t, content, "RUNTIME=1200\n")
	assert.Contains(t, content, "OUTPUT_VOLTAGE=230\n")
	assert.Contains(t, content, "TIMESTAMP=1700000000\n")
}

func TestWriteUPSState_MissingFieldsAreEmptyNotOmitted(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ups-state")

	require.NoError(t, persist.WriteUPSState(path, nut.Sample{}, 0))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "BATTERY=\n")
	assert.Contains(t, string(data), "LOAD=\n")
}
