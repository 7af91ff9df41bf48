/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: utils.go
Description: Log file management for the Akaylee probe. Archives and compresses
rotated files, prunes old ones, and summarises log contents (commands, drained
calls, denials, capture failures) for quick post-run inspection.
*/

package logging

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
)

// LogManager provides log file management
type LogManager struct {
	logDir   string
	maxFiles int
	maxSize  int64
	compress bool
}

// NewLogManager creates a new log manager
func NewLogManager(logDir string, maxFiles int, maxSize int64, compress bool) *LogManager {
	return &LogManager{
		logDir:   logDir,
		maxFiles: maxFiles,
		maxSize:  maxSize,
		compress: compress,
	}
}

func (lm *LogManager) pattern(suffix string) string {
	return filepath.Join(lm.logDir, FilePrefix+"*.log"+suffix)
}

// RotateLogs archives every live log file that exceeds the size limit
func (lm *LogManager) RotateLogs() error {
	files, err := filepath.Glob(lm.pattern(""))
	if err != nil {
		return fmt.Errorf("failed to glob log files: %w", err)
	}

	for _, file := range files {
		stat, err := os.Stat(file)
		if err != nil {
			return err
		}
		if stat.Size() < lm.maxSize {
			continue
		}
		if _, err := lm.Archive(file); err != nil {
			return fmt.Errorf("failed to rotate file %s: %w", file, err)
		}
	}

	return nil
}

// Archive moves path aside under a timestamped name, compressing it when
// enabled, and returns the archived path.
func (lm *LogManager) Archive(path string) (string, error) {
	rotatedPath := fmt.Sprintf("%s.%s", path, time.Now().Format("20060102T150405.000000000"))
	if err := os.Rename(path, rotatedPath); err != nil {
		return "", err
	}

	if !lm.compress {
		return rotatedPath, nil
	}
	return lm.compressFile(rotatedPath)
}

// compressFile compresses a log file using gzip and removes the original
func (lm *LogManager) compressFile(path string) (string, error) {
	source, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer source.Close()

	compressedPath := path + ".gz"
	compressed, err := os.Create(compressedPath)
	if err != nil {
		return "", err
	}
	defer compressed.Close()

	gzipWriter := gzip.NewWriter(compressed)
	gzipWriter.Name = filepath.Base(path)
	if _, err := io.Copy(gzipWriter, source); err != nil {
		gzipWriter.Close()
		return "", err
	}
	if err := gzipWriter.Close(); err != nil {
		return "", err
	}

	return compressedPath, os.Remove(path)
}

// CleanupOldLogs removes the oldest log files beyond the retention count
func (lm *LogManager) CleanupOldLogs() error {
	files, err := filepath.Glob(lm.pattern("*"))
	if err != nil {
		return fmt.Errorf("failed to glob log files: %w", err)
	}

	if len(files) <= lm.maxFiles {
		return nil
	}

	modTimes := make(map[string]time.Time, len(files))
	for _, f := range files {
		if stat, err := os.Stat(f); err == nil {
			modTimes[f] = stat.ModTime()
		}
	}
	sort.SliceStable(files, func(i, j int) bool {
		return modTimes[files[i]].Before(modTimes[files[j]])
	})

	filesToRemove := len(files) - lm.maxFiles
	for i := 0; i < filesToRemove; i++ {
		if err := os.Remove(files[i]); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove file %s: %w", files[i], err)
		}
	}

	return nil
}

// GetLogStats returns statistics about log files
func (lm *LogManager) GetLogStats() (*LogStats, error) {
	files, err := filepath.Glob(lm.pattern("*"))
	if err != nil {
		return nil, fmt.Errorf("failed to glob log files: %w", err)
	}

	stats := &LogStats{
		TotalFiles: len(files),
		OldestFile: time.Now(),
	}

	for _, file := range files {
		stat, err := os.Stat(file)
		if err != nil {
			continue
		}

		stats.TotalSize += stat.Size()

		if stat.ModTime().Before(stats.OldestFile) {
			stats.OldestFile = stat.ModTime()
		}
		if stat.ModTime().After(stats.NewestFile) {
			stats.NewestFile = stat.ModTime()
		}

		if strings.HasSuffix(file, ".gz") {
			stats.CompressedFiles++
		} else {
			stats.UncompressedFiles++
		}
	}

	return stats, nil
}

// LogStats holds statistics about log files
type LogStats struct {
	TotalFiles        int       `json:"total_files"`
	TotalSize         int64     `json:"total_size"`
	CompressedFiles   int       `json:"compressed_files"`
	UncompressedFiles int       `json:"uncompressed_files"`
	OldestFile        time.Time `json:"oldest_file"`
	NewestFile        time.Time `json:"newest_file"`
}

// LogAnalyzer provides log analysis capabilities
type LogAnalyzer struct {
	logDir string
}

// NewLogAnalyzer creates a new log analyzer
func NewLogAnalyzer(logDir string) *LogAnalyzer {
	return &LogAnalyzer{
		logDir: logDir,
	}
}

// AnalyzeLogs reads live and archived log files, compressed or not
func (la *LogAnalyzer) AnalyzeLogs() (*LogAnalysis, error) {
	files, err := filepath.Glob(filepath.Join(la.logDir, FilePrefix+"*.log*"))
	if err != nil {
		return nil, fmt.Errorf("failed to glob log files: %w", err)
	}
	sort.Strings(files)

	analysis := &LogAnalysis{
		StartTime: time.Now(),
		LogFiles:  len(files),
	}

	for _, file := range files {
		if err := la.analyzeFile(file, analysis); err != nil {
			return nil, fmt.Errorf("failed to analyze file %s: %w", file, err)
		}
	}

	return analysis, nil
}

// analyzeFile analyzes a single log file
func (la *LogAnalyzer) analyzeFile(path string, analysis *LogAnalysis) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	var r io.Reader = file
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(file)
		if err != nil {
			return err
		}
		defer gz.Close()
		r = gz
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		la.analyzeLine(scanner.Text(), analysis)
	}

	return scanner.Err()
}

// analyzeLine analyzes a single log line
func (la *LogAnalyzer) analyzeLine(line string, analysis *LogAnalysis) {
	analysis.TotalLines++

	switch {
	case strings.Contains(line, "DEBUG"):
		analysis.DebugCount++
	case strings.Contains(line, "INFO"):
		analysis.InfoCount++
	case strings.Contains(line, "WARN"):
		analysis.WarningCount++
	case strings.Contains(line, "ERROR"):
		analysis.ErrorCount++
	case strings.Contains(line, "FATAL"):
		analysis.FatalCount++
	}

	switch {
	case strings.Contains(line, "Command executed"):
		analysis.CommandCount++
	case strings.Contains(line, "Command failed"):
		analysis.CommandFailures++
	case strings.Contains(line, "Calls drained"):
		analysis.DrainCount++
	case strings.Contains(line, "blocked by policy"):
		analysis.DenialCount++
	case strings.Contains(line, "Window hierarchy dump failed"):
		analysis.CaptureFailures++
	}
}

// LogAnalysis holds the results of log analysis
type LogAnalysis struct {
	StartTime       time.Time `json:"start_time"`
	LogFiles        int       `json:"log_files"`
	TotalLines      int64     `json:"total_lines"`
	DebugCount      int64     `json:"debug_count"`
	InfoCount       int64     `json:"info_count"`
	WarningCount    int64     `json:"warning_count"`
	ErrorCount      int64     `json:"error_count"`
	FatalCount      int64     `json:"fatal_count"`
	CommandCount    int64     `json:"command_count"`
	CommandFailures int64     `json:"command_failures"`
	DrainCount      int64     `json:"drain_count"`
	DenialCount     int64     `json:"denial_count"`
	CaptureFailures int64     `json:"capture_failures"`
}

// GetLogSummary returns a summary of the log analysis
func (la *LogAnalysis) GetLogSummary() string {
	return fmt.Sprintf(
		"Log Analysis Summary:\n"+
			"  Files: %d\n"+
			"  Total Lines: %d\n"+
			"  Debug: %d\n"+
			"  Info: %d\n"+
			"  Warning: %d\n"+
			"  Error: %d\n"+
			"  Fatal: %d\n"+
			"  Commands: %d (%d failed)\n"+
			"  Drains: %d\n"+
			"  Denials: %d\n"+
			"  Capture Failures: %d",
		la.LogFiles, la.TotalLines, la.DebugCount, la.InfoCount,
		la.WarningCount, la.ErrorCount, la.FatalCount, la.CommandCount,
		la.CommandFailures, la.DrainCount, la.DenialCount, la.CaptureFailures,
	)
}
