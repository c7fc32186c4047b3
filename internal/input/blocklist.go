package input

import (
	"net/url"
	"strings"
	"time"

	"github.com/hybridfetch/hybridfetch/internal/result"
)

// HostBlocklist matches hosts against exact entries and suffix wildcards
// ("*.example.com" or ".example.com"). A nil blocklist blocks nothing.
type HostBlocklist struct {
	exact    map[string]struct{}
	suffixes []string
}

// NewHostBlocklist builds a matcher from configured patterns. Empty and
// all-blank pattern lists yield nil.
func NewHostBlocklist(patterns []string) *HostBlocklist {
	bl := &HostBlocklist{
		exact: make(map[string]struct{}),
	}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		if value == "" {
			continue
		}
		switch {
		case strings.HasPrefix(value, "*."):
			if suffix := strings.TrimPrefix(value, "*."); suffix != "" {
				bl.addSuffix(suffix)
			}
		case strings.HasPrefix(value, "."):
			if suffix := strings.TrimPrefix(value, "."); suffix != "" {
				bl.addSuffix(suffix)
			}
		default:
			bl.exact[value] = struct{}{}
		}
	}
	if len(bl.exact) == 0 && len(bl.suffixes) == 0 {
		return nil
	}
	return bl
}

func (b *HostBlocklist) addSuffix(suffix string) {
	for _, existing := range b.suffixes {
		if existing == suffix {
			return
		}
	}
	b.suffixes = append(b.suffixes, suffix)
}

// IsBlocked reports whether a host matches the blocklist.
func (b *HostBlocklist) IsBlocked(host string) bool {
	if b == nil {
		return false
	}
	host = strings.TrimSpace(strings.ToLower(host))
	if host == "" {
		return false
	}
	if _, exact := b.exact[host]; exact {
		return true
	}
	for _, suffix := range b.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

// FilterBlocked drops jobs whose host matches the blocklist, returning the
// surviving jobs plus a stats row for each skipped URL so the run output
// accounts for every input.
func FilterBlocked(jobs []result.UrlJob, bl *HostBlocklist, now func() time.Time) ([]result.UrlJob, []result.UrlStat) {
	if bl == nil {
		return jobs, nil
	}
	kept := jobs[:0:0]
	var skipped []result.UrlStat
	for _, job := range jobs {
		u, err := url.Parse(job.URL)
		if err != nil || !bl.IsBlocked(u.Hostname()) {
			kept = append(kept, job)
			continue
		}
		skipped = append(skipped, result.UrlStat{
			URL:          job.URL,
			Domain:       strings.ToLower(u.Hostname()),
			Method:       result.MethodHTTP,
			Stage:        result.StagePrimary,
			Status:       result.StatusOtherError,
			ErrorKind:    "blocked_domain",
			ErrorMessage: "host matches configured blocklist",
			Timestamp:    now(),
			ShardID:      -1,
			BlockType:    result.BlockOther,
		})
	}
	return kept, skipped
}
