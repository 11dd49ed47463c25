package config

import (
	"fmt"
	"strings"
	"time"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError blocks execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning is surfaced to users but does not block.
	SeverityWarning IssueSeverity = "warning"
)

// Issue is a single lint finding. Path is a dotted path into the config
// (e.g. "destinations[1].dsn").
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be treated as one.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue is of error severity.
func HasErrors(issues []Issue) bool {
	for _, i := range issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}

// ValidatePipeline statically lints a Pipeline without mutating it. Callers
// decide whether warnings are fatal.
func ValidatePipeline(p Pipeline) []Issue {
	var issues []Issue

	if strings.TrimSpace(p.Job) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "job",
			Message:  "job must not be empty; it labels metrics and identifies runs",
		})
	}
	issues = append(issues, validateSource(p.Source)...)
	issues = append(issues, validateTransform(p.Transform)...)
	issues = append(issues, validateDestinations(p.Destinations)...)
	issues = append(issues, validateRuntime(p.Runtime)...)

	return issues
}

func validateSource(s Source) []Issue {
	var issues []Issue

	if strings.TrimSpace(s.Path) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "source.path",
			Message:  "source.path must not be empty",
		})
	}
	if comma := s.Options.String("comma", ","); len([]rune(comma)) != 1 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "source.options.comma",
			Message:  fmt.Sprintf("comma must be a single character, got %q", comma),
		})
	}
	return issues
}

func validateTransform(t TransformConfig) []Issue {
	var issues []Issue

	if t.SeasonMin < 0 || t.SeasonMax < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "transform",
			Message:  "season_min and season_max must not be negative",
		})
	}
	if t.SeasonMin > 0 && t.SeasonMax > 0 && t.SeasonMin > t.SeasonMax {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "transform",
			Message:  fmt.Sprintf("season_min %d is greater than season_max %d", t.SeasonMin, t.SeasonMax),
		})
	}
	if t.SeasonMax > time.Now().Year()+1 {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "transform.season_max",
			Message:  fmt.Sprintf("season_max %d is beyond next year; future seasons will be accepted", t.SeasonMax),
		})
	}
	return issues
}

func validateDestinations(ds []Destination) []Issue {
	var issues []Issue

	if len(ds) == 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "destinations",
			Message:  "at least one destination is required",
		})
		return issues
	}

	known := map[string]struct{}{
		"sqlite":   {},
		"postgres": {},
		"mysql":    {},
		"flatfile": {},
	}

	for i, d := range ds {
		path := fmt.Sprintf("destinations[%d]", i)
		if strings.TrimSpace(d.Kind) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path + ".kind",
				Message:  "destination kind must not be empty",
			})
			continue
		}
		if _, ok := known[d.Kind]; !ok {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     path + ".kind",
				Message:  fmt.Sprintf("unknown destination kind %q; ensure a matching backend is registered", d.Kind),
			})
		}

		switch d.Kind {
		case "flatfile":
			if strings.TrimSpace(d.Output) == "" {
				issues = append(issues, Issue{
					Severity: SeverityError,
					Path:     path + ".output",
					Message:  "flatfile destination requires a non-empty output path",
				})
			}
			if d.DSN != "" || d.DSNEnv != "" {
				issues = append(issues, Issue{
					Severity: SeverityWarning,
					Path:     path,
					Message:  "dsn/dsn_env are ignored by the flatfile destination",
				})
			}
		default:
			if strings.TrimSpace(d.DSN) == "" && strings.TrimSpace(d.DSNEnv) == "" {
				issues = append(issues, Issue{
					Severity: SeverityError,
					Path:     path,
					Message:  "a relational destination requires dsn or dsn_env",
				})
			}
			if d.Schema != "" && d.Kind != "postgres" {
				issues = append(issues, Issue{
					Severity: SeverityWarning,
					Path:     path + ".schema",
					Message:  fmt.Sprintf("schema is only honored by postgres, not %q", d.Kind),
				})
			}
		}
	}

	return issues
}

func validateRuntime(r RuntimeConfig) []Issue {
	var issues []Issue

	if r.BatchSize < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "runtime.batch_size",
			Message:  "batch_size must not be negative",
		})
	}
	if r.BatchSize > 10000 {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "runtime.batch_size",
			Message:  fmt.Sprintf("batch_size=%d; very large chunks increase rollback blast radius", r.BatchSize),
		})
	}
	return issues
}
