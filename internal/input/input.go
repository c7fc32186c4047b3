// Package input loads URL lists from txt or csv files and turns them into
// sharded fetch jobs.
package input

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hybridfetch/hybridfetch/internal/result"
)

// LoadURLsTxt reads one URL per line, skipping blank lines and lines starting
// with '#'. A missing file yields an empty slice.
func LoadURLsTxt(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open url list: %w", err)
	}
	defer f.Close()

	var urls []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read url list: %w", err)
	}
	return urls, nil
}

// CSVRow is a single row of a URL csv: the url column is required, the
// dynamic column is an optional per-URL hint that the page needs a browser.
type CSVRow struct {
	URL     string
	Dynamic *bool
}

// LoadURLsCSV reads a csv with a header row. The "url" column is required;
// an optional "dynamic" column ("true"/"false") carries a rendering hint.
func LoadURLsCSV(path string) ([]CSVRow, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open url csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	urlCol, dynCol := -1, -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "url":
			urlCol = i
		case "dynamic":
			dynCol = i
		}
	}
	if urlCol < 0 {
		return nil, fmt.Errorf("csv %s has no url column", path)
	}

	var rows []CSVRow
	for {
		record, err := r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("read csv row: %w", err)
		}
		if urlCol >= len(record) {
			continue
		}
		u := strings.TrimSpace(record[urlCol])
		if u == "" {
			continue
		}
		row := CSVRow{URL: u}
		if dynCol >= 0 && dynCol < len(record) {
			if v, err := strconv.ParseBool(strings.TrimSpace(record[dynCol])); err == nil {
				row.Dynamic = &v
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// MakeJobs validates URLs and returns fetch jobs for the valid ones plus
// ready-made stats rows for the invalid ones, so rejected input still shows
// up in the run output.
func MakeJobs(rows []CSVRow, now func() time.Time) ([]result.UrlJob, []result.UrlStat) {
	var jobs []result.UrlJob
	var rejected []result.UrlStat
	for i, row := range rows {
		if validURL(row.URL) {
			jobs = append(jobs, result.UrlJob{
				URL:          row.URL,
				DynamicHint:  row.Dynamic,
				ShardID:      -1,
				IndexInShard: i,
			})
			continue
		}
		rejected = append(rejected, result.UrlStat{
			URL:          row.URL,
			Method:       result.MethodHTTP,
			Stage:        result.StagePrimary,
			Status:       result.StatusInvalidURL,
			ErrorKind:    "invalid_url",
			ErrorMessage: "url failed validation before scheduling",
			Timestamp:    now(),
			ShardID:      -1,
			BlockType:    result.BlockNone,
		})
	}
	return jobs, rejected
}

// FromStrings wraps plain URL strings as csv rows with no hint column.
func FromStrings(urls []string) []CSVRow {
	rows := make([]CSVRow, 0, len(urls))
	for _, u := range urls {
		rows = append(rows, CSVRow{URL: u})
	}
	return rows
}

// MakeShards splits jobs into consecutive shards of at most size jobs each
// and stamps every job with its shard id and position.
func MakeShards(jobs []result.UrlJob, size int) [][]result.UrlJob {
	if size <= 0 {
		size = len(jobs)
		if size == 0 {
			size = 1
		}
	}
	var shards [][]result.UrlJob
	for start := 0; start < len(jobs); start += size {
		end := start + size
		if end > len(jobs) {
			end = len(jobs)
		}
		shard := make([]result.UrlJob, end-start)
		copy(shard, jobs[start:end])
		for i := range shard {
			shard[i].ShardID = len(shards)
			shard[i].IndexInShard = i
		}
		shards = append(shards, shard)
	}
	return shards
}

func validURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Host != ""
}
