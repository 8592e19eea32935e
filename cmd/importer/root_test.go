package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeExport(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("SNOWFLAKE_ACCOUNT", "")
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestValidateCommand(t *testing.T) {
	good := writeExport(t, "reach.csv", "date,reach\n2024-03-01,10\n")
	out, err := run(t, "validate", "--platform", "instagram", good)
	require.NoError(t, err)

	var reports []fileReport
	require.NoError(t, json.Unmarshal([]byte(out), &reports))
	require.Len(t, reports, 1)
	assert.Equal(t, "reach", string(reports[0].Kind))
	assert.Equal(t, 1, reports[0].Records)
	assert.False(t, reports[0].Blocking)
}

func TestValidateCommandBlocking(t *testing.T) {
	bad := writeExport(t, "reach.csv", "data,alcance\n31/02/2024,100\n")
	out, err := run(t, "validate", "--platform", "instagram", bad)
	assert.ErrorContains(t, err, "1 of 1 files have blocking errors")
	assert.Contains(t, out, "invalid_date:1:date")
}

func TestValidateCommandPlatformCount(t *testing.T) {
	a := writeExport(t, "a.csv", "date,reach\n2024-03-01,1\n")
	_, err := run(t, "validate", "--platform", "instagram,youtube", a)
	assert.ErrorContains(t, err, "--platform values")
}

func TestImportCommandAutoFix(t *testing.T) {
	bad := writeExport(t, "reach.csv", "data,alcance\n31/02/2024,100\n01/03/2024,200\n")

	_, err := run(t, "import", "--client", "c", "--platform", "instagram", bad)
	assert.ErrorContains(t, err, "unresolved errors")

	out, err := run(t, "import", "--client", "c", "--platform", "instagram", "--auto-fix", bad)
	require.NoError(t, err)
	var res importOutput
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.NotNil(t, res.Outcome)
	assert.Equal(t, 1, res.Outcome.RecordsImported)
	require.Len(t, res.Outcome.Advisory, 1)
	assert.Equal(t, "local", res.Outcome.Advisory[0].Provider)
}

func TestImportCommandDryRun(t *testing.T) {
	good := writeExport(t, "reach.csv", "date,reach\n2024-03-01,10\n")
	out, err := run(t, "import", "--client", "c", "--platform", "instagram", "--dry-run", good)
	require.NoError(t, err)
	var res importOutput
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Nil(t, res.Outcome)
	assert.Len(t, res.Files, 1)
}

func TestClassifyCommand(t *testing.T) {
	f := writeExport(t, "yt.csv", "Date,Views,Watch time (hours),Subscribers\n2024-03-01,100,1.5,2\n")
	out, err := run(t, "classify", "--platform", "youtube", f)
	require.NoError(t, err)

	var res struct {
		Classification struct {
			Kind string `json:"kind"`
		} `json:"classification"`
		Candidates []map[string]any `json:"candidates"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "youtube_daily_views", res.Classification.Kind)
	assert.NotEmpty(t, res.Candidates)
}

func TestKindsCommand(t *testing.T) {
	out, err := run(t, "kinds")
	require.NoError(t, err)
	assert.Contains(t, out, "daily_metrics")
	assert.Contains(t, out, "social_posts")
}
