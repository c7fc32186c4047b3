package input

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hybridfetch/hybridfetch/internal/result"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadURLsTxt(t *testing.T) {
	path := writeFile(t, "urls.txt", `
https://example.com/a

# comment line
https://example.com/b
  https://example.com/c
`)
	urls, err := LoadURLsTxt(path)
	require.NoError(t, err)
	require.Equal(t, []string{
		"https://example.com/a",
		"https://example.com/b",
		"https://example.com/c",
	}, urls)
}

func TestLoadURLsTxtMissingFile(t *testing.T) {
	urls, err := LoadURLsTxt(filepath.Join(t.TempDir(), "absent.txt"))
	require.NoError(t, err)
	require.Empty(t, urls)
}

func TestLoadURLsCSV(t *testing.T) {
	path := writeFile(t, "urls.csv", `id,url,dynamic
1,https://example.com/a,true
2,https://example.com/b,false
3,https://example.com/c,
4,,true
`)
	rows, err := LoadURLsCSV(path)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	require.Equal(t, "https://example.com/a", rows[0].URL)
	require.NotNil(t, rows[0].Dynamic)
	require.True(t, *rows[0].Dynamic)

	require.NotNil(t, rows[1].Dynamic)
	require.False(t, *rows[1].Dynamic)

	require.Nil(t, rows[2].Dynamic, "blank hint column carries no hint")
}

func TestLoadURLsCSVNoURLColumn(t *testing.T) {
	path := writeFile(t, "urls.csv", "id,link\n1,https://example.com\n")
	_, err := LoadURLsCSV(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "no url column")
}

func TestMakeJobsRejectsInvalidURLs(t *testing.T) {
	now := func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) }
	rows := FromStrings([]string{
		"https://example.com/ok",
		"ftp://example.com/file",
		"not a url",
		"https://",
		"http://example.org/also-ok",
	})

	jobs, rejected := MakeJobs(rows, now)
	require.Len(t, jobs, 2)
	require.Equal(t, "https://example.com/ok", jobs[0].URL)
	require.Equal(t, "http://example.org/also-ok", jobs[1].URL)

	require.Len(t, rejected, 3)
	for _, stat := range rejected {
		require.Equal(t, result.StatusInvalidURL, stat.Status)
		require.Equal(t, "invalid_url", stat.ErrorKind)
		require.Equal(t, -1, stat.ShardID)
		require.Equal(t, now(), stat.Timestamp)
	}
}

func TestMakeShards(t *testing.T) {
	jobs, _ := MakeJobs(FromStrings([]string{
		"https://example.com/1",
		"https://example.com/2",
		"https://example.com/3",
		"https://example.com/4",
		"https://example.com/5",
	}), time.Now)

	shards := MakeShards(jobs, 2)
	require.Len(t, shards, 3)
	require.Len(t, shards[0], 2)
	require.Len(t, shards[1], 2)
	require.Len(t, shards[2], 1)

	require.Equal(t, 0, shards[0][0].ShardID)
	require.Equal(t, 1, shards[0][1].IndexInShard)
	require.Equal(t, 2, shards[2][0].ShardID)
	require.Equal(t, 0, shards[2][0].IndexInShard)
}

func TestMakeShardsZeroSizeSingleShard(t *testing.T) {
	jobs, _ := MakeJobs(FromStrings([]string{
		"https://example.com/1",
		"https://example.com/2",
	}), time.Now)

	shards := MakeShards(jobs, 0)
	require.Len(t, shards, 1)
	require.Len(t, shards[0], 2)
}

func TestMakeShardsEmpty(t *testing.T) {
	require.Empty(t, MakeShards(nil, 10))
}
