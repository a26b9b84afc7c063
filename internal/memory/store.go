package memory

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sentinel-agent/sentinel/internal/store"
)

const dailyDirName = "daily"
const memoryFileName = "memory.tsv"

// Store manages the agent's durable long-term facts (memory.tsv) and
// per-day operational logs (daily/YYYY-MM-DD.tsv). It is the tool-facing
// complement to VectorMemory: tools write small, structured, human-
// readable rows here, while the Planner's retrieval pipeline consults
// VectorMemory for semantic recall.
type Store struct {
	dir string
	mu  sync.Mutex
}

// New creates (if needed) the memory directory and returns a Store rooted
// at dir.
func New(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("memory directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create memory directory %q: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) memoryPath() string {
	return filepath.Join(s.dir, memoryFileName)
}

func (s *Store) dailyPath(day time.Time) string {
	return filepath.Join(s.dir, dailyDirName, day.In(time.Local).Format("2006-01-02")+".tsv")
}

// AppendMemory appends one structured fact to memory.tsv.
func (s *Store) AppendMemory(entry LogEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendTSVLine(s.memoryPath(), entry)
}

// AppendDailyLog appends one structured entry to the daily log file for
// entry's calendar date (local time), creating the daily directory on
// first use.
func (s *Store) AppendDailyLog(entry LogEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	path := s.dailyPath(entry.Timestamp)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create daily log directory: %w", err)
	}
	return appendTSVLine(path, entry)
}

func appendTSVLine(path string, entry LogEntry) error {
	line := strings.Join(entry.MarshalTSV(), "\t") + "\n"
	return store.AppendFile(path, []byte(line))
}

// readEntries parses every well-formed row of a TSV file, skipping
// malformed lines rather than failing the whole read.
func readEntries(path string) ([]LogEntry, error) {
	raw, err := store.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var entries []LogEntry
	for _, line := range strings.Split(raw, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		var entry LogEntry
		if err := entry.UnmarshalTSV(fields); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// ActiveFacts returns every memory.tsv entry not yet expired as of now,
// in insertion order, honoring a KV "expires=<unix_seconds>" token.
func (s *Store) ActiveFacts(now time.Time) []LogEntry {
	s.mu.Lock()
	entries, _ := readEntries(s.memoryPath())
	s.mu.Unlock()

	if now.IsZero() {
		now = time.Now()
	}
	active := make([]LogEntry, 0, len(entries))
	for _, e := range entries {
		if isExpired(e, now) {
			continue
		}
		active = append(active, e)
	}
	return active
}

func isExpired(e LogEntry, now time.Time) bool {
	raw, ok := ParseKV(e.KV)["expires"]
	if !ok {
		return false
	}
	epoch, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false
	}
	return now.Unix() >= epoch
}

// FactTags counts active memory.tsv entries by their first tag.
func (s *Store) FactTags() map[string]int {
	counts := map[string]int{}
	for _, e := range s.ActiveFacts(time.Now()) {
		if len(e.Tags) == 0 {
			continue
		}
		counts[e.Tags[0]]++
	}
	return counts
}

// DailyLogsByDate returns the daily-log entries for each given local
// calendar date, concatenated in the order the dates were supplied.
func (s *Store) DailyLogsByDate(dates []time.Time) []LogEntry {
	var out []LogEntry
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range dates {
		entries, _ := readEntries(s.dailyPath(d))
		out = append(out, entries...)
	}
	return out
}

// GetDailyLogs returns every daily-log entry whose timestamp falls within
// [fromTime, toTime], sorted ascending.
func (s *Store) GetDailyLogs(fromTime, toTime time.Time) ([]LogEntry, error) {
	fromTime, toTime, err := normalizeTimeRange(fromTime, toTime)
	if err != nil {
		return nil, err
	}

	var out []LogEntry
	for d := fromTime; !d.After(toTime); d = d.AddDate(0, 0, 1) {
		entries := s.DailyLogsByDate([]time.Time{d})
		for _, e := range entries {
			if e.Timestamp.Before(fromTime) || e.Timestamp.After(toTime) {
				continue
			}
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// GetAllDailyLogs returns every stored daily log entry across all days.
func (s *Store) GetAllDailyLogs() ([]LogEntry, error) {
	s.mu.Lock()
	dailyDir := filepath.Join(s.dir, dailyDirName)
	files, err := os.ReadDir(dailyDir)
	s.mu.Unlock()
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list daily logs: %w", err)
	}

	var out []LogEntry
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".tsv") {
			continue
		}
		day, err := time.ParseInLocation("2006-01-02", strings.TrimSuffix(f.Name(), ".tsv"), time.Local)
		if err != nil {
			continue
		}
		out = append(out, s.DailyLogsByDate([]time.Time{day})...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// Search regex-matches entry text across memory facts and daily logs
// within [fromTime, toTime], returning matches sorted ascending by time.
func (s *Store) Search(query string, fromTime, toTime time.Time) ([]LogEntry, error) {
	re, err := regexp.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("invalid search pattern: %w", err)
	}
	fromTime, toTime, err = normalizeTimeRange(fromTime, toTime)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	facts, _ := readEntries(s.memoryPath())
	s.mu.Unlock()

	var candidates []LogEntry
	for _, e := range facts {
		if e.Timestamp.Before(fromTime) || e.Timestamp.After(toTime) {
			continue
		}
		candidates = append(candidates, e)
	}
	dailyEntries, err := s.GetDailyLogs(fromTime, toTime)
	if err != nil {
		return nil, err
	}
	candidates = append(candidates, dailyEntries...)

	var matches []LogEntry
	for _, e := range candidates {
		if re.MatchString(e.Text) {
			matches = append(matches, e)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Timestamp.Before(matches[j].Timestamp) })
	return matches, nil
}

func normalizeTimeRange(fromTime, toTime time.Time) (time.Time, time.Time, error) {
	if fromTime.IsZero() {
		fromTime = time.Unix(0, 0)
	}
	if toTime.IsZero() {
		toTime = time.Now()
	}
	if toTime.Before(fromTime) {
		return time.Time{}, time.Time{}, fmt.Errorf("to_time %s is before from_time %s", toTime, fromTime)
	}
	return fromTime, toTime, nil
}
