package wal

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// RunInfo summarizes the journal of one push run.
type RunInfo struct {
	RunID     string            `json:"run_id"`
	Entries   int               `json:"entries"`
	Started   time.Time         `json:"started"`
	Updated   time.Time         `json:"updated"`
	Finished  bool              `json:"finished"`
	Counts    map[EntryType]int `json:"counts"`
	SizeBytes int64             `json:"size_bytes"`
}

// Summarize folds entries into a RunInfo.
func Summarize(runID string, entries []Entry) RunInfo {
	info := RunInfo{RunID: runID, Entries: len(entries), Counts: make(map[EntryType]int)}
	for i, e := range entries {
		if i == 0 || e.Timestamp.Before(info.Started) {
			info.Started = e.Timestamp
		}
		if e.Timestamp.After(info.Updated) {
			info.Updated = e.Timestamp
		}
		if e.Type == EntryFinished {
			info.Finished = true
		}
		info.Counts[e.Type]++
	}
	return info
}

// Runs lists the journaled runs in dir, oldest first.
func Runs(dir string) ([]RunInfo, error) {
	files, err := findAllWALFiles(dir)
	if err != nil {
		return nil, err
	}

	runs := make([]RunInfo, 0, len(files))
	for _, file := range files {
		runID := runIDFromPath(file)
		entries, err := ReadRun(dir, runID)
		if err != nil {
			return nil, fmt.Errorf("read run %s: %w", runID, err)
		}
		info := Summarize(runID, entries)
		if st, err := os.Stat(file); err == nil {
			info.SizeBytes = st.Size()
		}
		runs = append(runs, info)
	}

	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].Started.Equal(runs[j].Started) {
			return runs[i].Started.Before(runs[j].Started)
		}
		return runs[i].RunID < runs[j].RunID
	})
	return runs, nil
}

func runIDFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(strings.TrimPrefix(base, FilePrefix+"-"), ".wal")
}
