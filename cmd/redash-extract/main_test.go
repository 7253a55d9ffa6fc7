package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Sternrassler/redash-extract/internal/config"
	"github.com/Sternrassler/redash-extract/internal/testutil"
	"github.com/Sternrassler/redash-extract/pkg/credentials"
	"github.com/Sternrassler/redash-extract/pkg/publish"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupEnv points the configuration at mock and removes every wait.
func setupEnv(t *testing.T, mock *testutil.MockRedash) {
	t.Helper()
	t.Setenv("REDASH_EXTRACT_REDASH_BASE_URL", mock.URL())
	t.Setenv("REDASH_EXTRACT_REDASH_API_KEY", "test-token")
	t.Setenv("REDASH_EXTRACT_RETRY_SUBMIT_DELAY", "0s")
	t.Setenv("REDASH_EXTRACT_RETRY_POLL_DELAY", "0s")
	t.Setenv("REDASH_EXTRACT_RETRY_QUERY_DELAY", "0s")
	t.Setenv("REDASH_EXTRACT_REPORT_PAUSE", "0s")
	t.Setenv("REDASH_EXTRACT_LOG_LEVEL", "error")
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--env-file", filepath.Join(t.TempDir(), "missing.env")}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "redash-extract dev\n", out)
}

func TestParseParams(t *testing.T) {
	params, err := parseParams([]string{"start=2026-10-01", "note=a=b"})
	require.NoError(t, err)
	assert.Equal(t, "2026-10-01", params["start"])
	assert.Equal(t, "a=b", params["note"])

	empty, err := parseParams(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)

	for _, bad := range []string{"start", "=x"} {
		_, err := parseParams([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestCredentialProvider(t *testing.T) {
	p := credentialProvider(config.RedashConfig{APIKey: "k", CredentialSheetURL: "https://sheet.example.com/export"})
	assert.Equal(t, credentials.Static("k"), p)

	p = credentialProvider(config.RedashConfig{CredentialSheetURL: "https://sheet.example.com/export", CredentialKind: "redash"})
	sheet, ok := p.(*credentials.Sheet)
	require.True(t, ok)
	assert.Equal(t, "redash", sheet.Kind)
}

func TestClientConfig(t *testing.T) {
	cfg := &config.Config{
		Redash: config.RedashConfig{BaseURL: "https://redash.example.com/api", HTTPTimeout: 30 * time.Second},
		Retry: config.RetryConfig{
			SubmitAttempts: 3, SubmitDelay: 10 * time.Second,
			PollAttempts: 0, PollDelay: 10 * time.Second,
			QueryAttempts: 20, QueryDelay: 5 * time.Second,
		},
	}

	cc := clientConfig(cfg, "token")
	assert.Equal(t, "token", cc.APIKey)
	assert.Equal(t, 30*time.Second, cc.HTTPTimeout)
	assert.Equal(t, 3, cc.Submit.MaxAttempts)
	assert.Equal(t, 10*time.Second, cc.Submit.Delay)
	assert.Zero(t, cc.Poll.MaxAttempts, "polling is unbounded")
	assert.NotNil(t, cc.Poll.RetryIf)
	assert.Equal(t, 20, cc.Query.MaxAttempts)
	assert.Equal(t, 5*time.Second, cc.Query.Delay)
	assert.Nil(t, cc.Limiter, "pacing disabled at rate 0")
}

func TestPublishConfig(t *testing.T) {
	var pc config.PublishConfig
	pc.Backend = "minio"
	pc.Prefix = "reports"
	pc.MinIO.Endpoint = "localhost:9000"
	pc.MinIO.Bucket = "cx"
	pc.MinIO.UseSSL = true

	got := publishConfig(pc)
	assert.Equal(t, publish.BackendMinIO, got.Backend)
	assert.Equal(t, "reports", got.Prefix)
	assert.Equal(t, publish.MinIOConfig{Endpoint: "localhost:9000", Bucket: "cx", UseSSL: true}, got.MinIO)
}

func TestQueryCmd(t *testing.T) {
	mock := testutil.NewMockRedash()
	defer mock.Close()
	setupEnv(t, mock)

	mock.SetStaticQuery("7", testutil.QueryResult{
		Statuses: []int{testutil.StatusQueued, testutil.StatusFinished},
		Columns:  []string{"hub", "orders"},
		Rows:     []map[string]any{{"hub": "HCM", "orders": 12}},
	})

	out, err := execute(t, "query", "7", "--param", "start=2026-10-01")
	require.NoError(t, err)

	var got struct {
		Columns []string         `json:"columns"`
		Rows    []map[string]any `json:"rows"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, []string{"hub", "orders"}, got.Columns)
	require.Len(t, got.Rows, 1)
	assert.Equal(t, "HCM", got.Rows[0]["hub"])

	subs := mock.Submissions("7")
	require.Len(t, subs, 1)
	assert.Equal(t, "Key test-token", subs[0].Authorization)
	assert.Equal(t, map[string]any{"start": "2026-10-01"}, subs[0].Body["parameters"])
}

func TestQueryCmd_JobFails(t *testing.T) {
	mock := testutil.NewMockRedash()
	defer mock.Close()
	setupEnv(t, mock)
	t.Setenv("REDASH_EXTRACT_RETRY_QUERY_ATTEMPTS", "2")

	mock.SetStaticQuery("7", testutil.QueryResult{
		Statuses: []int{testutil.StatusFailed},
		JobError: "relation does not exist",
	})

	_, err := execute(t, "query", "7")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relation does not exist")
	assert.Len(t, mock.Submissions("7"), 2)
}

func TestQueryCmd_InvalidConfig(t *testing.T) {
	t.Setenv("REDASH_EXTRACT_REDASH_BASE_URL", "")
	t.Setenv("REDASH_BASE_URL", "")
	_, err := execute(t, "query", "7")
	assert.Error(t, err)
}

func TestFetchAllCmd_WritesParquet(t *testing.T) {
	mock := testutil.NewMockRedash()
	defer mock.Close()
	setupEnv(t, mock)

	mock.SetStaticQuery("344", testutil.QueryResult{
		Columns: []string{"total_orders"},
		Rows:    []map[string]any{{"total_orders": 2}},
	})
	mock.SetStaticQuery("341", testutil.QueryResult{
		Columns: []string{"tracking_id"},
		Rows:    []map[string]any{{"tracking_id": "NV1"}, {"tracking_id": "NV2"}},
	})

	out := filepath.Join(t.TempDir(), "day.pq")
	_, err := execute(t, "fetch-all", "--start", "2026-10-18", "--page-size", "50000", "--out", out)
	require.NoError(t, err)
	assert.FileExists(t, out)

	subs := mock.Submissions("341")
	require.Len(t, subs, 1)
	params := subs[0].Body["parameters"].(map[string]any)
	assert.Equal(t, "2026-10-18", params["start"])
	assert.Equal(t, "2026-10-18", params["end"])
	assert.EqualValues(t, 0, params["OFFSET"])
	assert.EqualValues(t, 50000, params["no_of_row"])
}

func TestRunCmd_PublishesLocally(t *testing.T) {
	mock := testutil.NewMockRedash()
	defer mock.Close()
	setupEnv(t, mock)

	outDir := t.TempDir()
	pubDir := t.TempDir()
	t.Setenv("REDASH_EXTRACT_REPORT_DAYS", "2")
	t.Setenv("REDASH_EXTRACT_REPORT_PARTITIONS", "2")
	t.Setenv("REDASH_EXTRACT_REPORT_OUTPUT_DIR", outDir)
	t.Setenv("REDASH_EXTRACT_PUBLISH_BACKEND", "local")
	t.Setenv("REDASH_EXTRACT_PUBLISH_LOCAL_DIR", pubDir)

	count := testutil.QueryResult{
		Columns: []string{"total_orders"},
		Rows:    []map[string]any{{"total_orders": 1}},
	}
	mock.SetStaticQuery("346", count)
	mock.SetStaticQuery("344", count)
	page := func(params map[string]any, _ int) testutil.QueryResult {
		return testutil.QueryResult{
			Columns: []string{"tracking_id", "day"},
			Rows:    []map[string]any{{"tracking_id": "NV-" + params["start"].(string), "day": params["start"]}},
		}
	}
	mock.SetQuery("345", page)
	mock.SetQuery("341", page)

	_, err := execute(t, "run")
	require.NoError(t, err)

	// one monthly and two daily fetches, one page each
	assert.Len(t, mock.Submissions("345"), 1)
	assert.Len(t, mock.Submissions("341"), 2)

	entries, err := os.ReadDir(pubDir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{
		"daily_reports_last_30_days_1.pq",
		"daily_reports_last_30_days_2.pq",
		"daily_reports_last_3_months.pq",
	}, names)
}
