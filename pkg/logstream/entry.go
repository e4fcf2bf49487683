// Package logstream classifies simulation-runner output lines and fans them
// out to live subscribers.
//
// The simulation runner emits a line-oriented text protocol on stdout/stderr.
// Lines carrying the literal "[Progress]" marker are structured progress
// signals; everything else is free text classified by substring heuristics.
// The Hub broadcasts classified entries to any number of subscribers (SSE
// clients, test observers) without ever blocking the producing stream reader.
package logstream

import (
	"strings"
	"time"
)

// ProgressMarker is the literal tag the simulation runner prefixes onto
// structured progress lines. The marker match is case-sensitive; the text
// after it is not.
const ProgressMarker = "[Progress]"

// Severity is the classified level of a runner output line.
type Severity string

const (
	SeverityProgress Severity = "PROGRESS"
	SeverityError    Severity = "ERROR"
	SeverityWarning  Severity = "WARNING"
	SeveritySuccess  Severity = "SUCCESS"
	SeverityInfo     Severity = "INFO"
)

// Entry is a single classified output line from a supervised experiment.
type Entry struct {
	ExperimentID string    `json:"experiment_id"`
	Severity     Severity  `json:"level"`
	Line         string    `json:"message"`
	Time         time.Time `json:"timestamp"`
}

// classifyRule pairs a substring predicate with the severity it implies.
// Rules are evaluated top to bottom; the first match wins.
type classifyRule struct {
	keywords []string
	severity Severity
}

var classifyRules = []classifyRule{
	{keywords: []string{"error", "exception", "failed", "failure", "traceback"}, severity: SeverityError},
	{keywords: []string{"warning", "warn", "deprecated"}, severity: SeverityWarning},
	{keywords: []string{"success", "completed", "collision found", "results saved"}, severity: SeveritySuccess},
}

// Classify maps a raw output line to a Severity.
//
// The structured ProgressMarker takes precedence over every keyword rule so a
// progress line mentioning "collision" still parses as PROGRESS. Lines that
// match no rule default to INFO.
func Classify(line string) Severity {
	if strings.Contains(line, ProgressMarker) {
		return SeverityProgress
	}

	lower := strings.ToLower(line)
	for _, rule := range classifyRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.severity
			}
		}
	}
	return SeverityInfo
}
