package trial

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ParseReport extracts a trial report from worker output. Workers are
// free to log anything; the last non-empty line must be the report
// JSON.
func ParseReport(output []byte) (Report, error) {
	var last string
	scanner := bufio.NewScanner(bytes.NewReader(output))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			last = line
		}
	}
	if err := scanner.Err(); err != nil {
		return Report{}, fmt.Errorf("failed to scan worker output: %w", err)
	}
	if last == "" {
		return Report{}, errors.New("worker produced no output")
	}

	var report Report
	if err := json.Unmarshal([]byte(last), &report); err != nil {
		return Report{}, fmt.Errorf("failed to parse trial report: %w", err)
	}
	return report, nil
}
