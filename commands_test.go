package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"btcsignal/ml"
)

func TestRunsCommandOnEmptyLedger(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
data:
  tweets: tweets.csv
  market: btc.csv
split:
  train_end: "2022-06-30"
storage:
  db_path: ledger.db
log:
  level: error
`), 0o600))

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--config", path, "runs"})
	require.NoError(t, cmd.Execute())
	assert.True(t, strings.HasPrefix(out.String(), "ID"))
	assert.FileExists(t, filepath.Join(dir, "ledger.db"))
}

func TestPredictRequiresBundle(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"predict"})
	assert.Error(t, cmd.Execute())
}

func TestDescribeKeepsCause(t *testing.T) {
	err := describe(fmt.Errorf("split: %w", ml.ErrLeakage))
	assert.True(t, errors.Is(err, ml.ErrLeakage))
	assert.Contains(t, err.Error(), "split.train_end")

	plain := errors.New("boom")
	assert.Equal(t, plain, describe(plain))
}
