/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: crash_reporter.go
Description: Crash detection for the app under analysis. Scans adb logcat for
fatal exceptions, ANRs and security exceptions mentioning the target package,
and optionally writes each report to a timestamped file.
*/

package mobile

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

var (
	headerRegex  = regexp.MustCompile(`FATAL EXCEPTION|ANR in|Process \d+ terminated`)
	crashRegex   = regexp.MustCompile(`SecurityException|java\.lang\.[A-Za-z]+Exception`)
	processRegex = regexp.MustCompile(`Process: ([\w.:]+), PID: \d+`)
	timeRegex    = regexp.MustCompile(`^(\d{2}-\d{2} \d{2}:\d{2}:\d{2}\.\d{3})`)
)

// CrashReport is one crash found in logcat.
type CrashReport struct {
	PackageName string
	Type        string
	Message     string
	StackTrace  string
	Timestamp   time.Time
	Logs        []string
}

// ParseCrashes extracts crashes of packageName from logcat output. A crash
// header opens a report; lines following it belong to it until the next header.
// A header that does not name the package is kept only once a Process: line
// names it, as AndroidRuntime logs the process on the line after the header.
func ParseCrashes(output []byte, packageName string) []CrashReport {
	var (
		reports []CrashReport
		current *CrashReport
		owned   bool
		foreign bool
	)
	flush := func() {
		if current != nil && owned {
			reports = append(reports, *current)
		}
		current, owned = nil, false
	}

	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		header := headerRegex.MatchString(line) ||
			(current == nil && !foreign && crashRegex.MatchString(line) && strings.Contains(line, packageName))
		if header {
			flush()
			foreign = false
			current = newCrashReport(packageName, line)
			owned = strings.Contains(line, packageName)
			continue
		}
		if current == nil {
			continue
		}
		if m := processRegex.FindStringSubmatch(line); m != nil && !owned {
			if !isPackageProcess(m[1], packageName) {
				current, foreign = nil, true
				continue
			}
			owned = true
		}
		current.Logs = append(current.Logs, line)
		if strings.Contains(line, "at ") {
			current.StackTrace += strings.TrimSpace(line) + "\n"
		}
	}
	flush()
	return reports
}

func newCrashReport(packageName, line string) *CrashReport {
	report := &CrashReport{
		PackageName: packageName,
		Type:        crashType(line),
		Message:     line,
		Logs:        []string{line},
	}
	if m := timeRegex.FindStringSubmatch(line); len(m) == 2 {
		if t, err := time.Parse("01-02 15:04:05.000", m[1]); err == nil {
			report.Timestamp = t
		}
	}
	return report
}

// isPackageProcess matches the app's main process and its named
// sub-processes such as com.example:remote.
func isPackageProcess(process, packageName string) bool {
	return process == packageName || strings.HasPrefix(process, packageName+":")
}

func crashType(line string) string {
	switch {
	case strings.Contains(line, "ANR in"):
		return "anr"
	case strings.Contains(line, "SecurityException"):
		return "security"
	default:
		return "crash"
	}
}

// WriteTo renders the report as text.
func (c CrashReport) WriteTo(w io.Writer) (int64, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Crash Report for %s\n", c.PackageName)
	fmt.Fprintf(&b, "Timestamp: %v\n", c.Timestamp)
	fmt.Fprintf(&b, "Type: %s\n", c.Type)
	fmt.Fprintf(&b, "Message: %s\n", c.Message)
	fmt.Fprintf(&b, "StackTrace:\n%s\n", c.StackTrace)
	b.WriteString("Logs:\n")
	for _, l := range c.Logs {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	n, err := io.WriteString(w, b.String())
	return int64(n), err
}

// Crashes reads logcat and returns crashes of packageName.
func (d *ADBDevice) Crashes(ctx context.Context, packageName string) ([]CrashReport, error) {
	output, err := d.shell(ctx, "logcat", "-d")
	if err != nil {
		return nil, fmt.Errorf("logcat failed: %w", err)
	}
	return ParseCrashes(output, packageName), nil
}

// ClearLogcat empties the device log buffers.
func (d *ADBDevice) ClearLogcat(ctx context.Context) error {
	_, err := d.shell(ctx, "logcat", "-c")
	return err
}

// CrashWatcher reports new crashes of one package between drive steps.
type CrashWatcher struct {
	device    *ADBDevice
	pkg       string
	reportDir string
	written   int
}

// NewCrashWatcher watches packageName. Reports are written to reportDir
// unless it is empty.
func NewCrashWatcher(device *ADBDevice, packageName, reportDir string) *CrashWatcher {
	return &CrashWatcher{device: device, pkg: packageName, reportDir: reportDir}
}

// Crashes returns the messages of crashes logged since the previous call
// and clears logcat.
func (w *CrashWatcher) Crashes(ctx context.Context) ([]string, error) {
	reports, err := w.device.Crashes(ctx, w.pkg)
	if err != nil {
		return nil, err
	}
	if err := w.device.ClearLogcat(ctx); err != nil {
		return nil, err
	}

	messages := make([]string, 0, len(reports))
	for _, r := range reports {
		messages = append(messages, r.Message)
		if w.reportDir == "" {
			continue
		}
		if err := w.writeReport(r); err != nil {
			return messages, err
		}
	}
	return messages, nil
}

func (w *CrashWatcher) writeReport(r CrashReport) error {
	if err := os.MkdirAll(w.reportDir, 0755); err != nil {
		return err
	}
	w.written++
	filename := fmt.Sprintf("crash_%s_%d_%03d.txt", r.PackageName, time.Now().UnixNano(), w.written)
	f, err := os.Create(filepath.Join(w.reportDir, filename))
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = r.WriteTo(f)
	return err
}
