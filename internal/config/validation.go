package config

import (
	"fmt"
	"net/url"
	"strings"
)

// IntervalProblem describes an invalid cadence setting of one class.
type IntervalProblem struct {
	Class   Class
	Problem string
}

// ValidationErrors collects all validation errors
type ValidationErrors struct {
	InvalidIntervals []IntervalProblem
	InvalidSettings  []string
}

// HasErrors returns true if any validation errors exist
func (e *ValidationErrors) HasErrors() bool {
	return len(e.InvalidIntervals) > 0 || len(e.InvalidSettings) > 0
}

// Error formats all validation errors into a clear message
func (e *ValidationErrors) Error() string {
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")

	if len(e.InvalidIntervals) > 0 {
		sb.WriteString("\nInvalid polling intervals:\n")
		for _, p := range e.InvalidIntervals {
			sb.WriteString(fmt.Sprintf("  - %s: %s\n", p.Class, p.Problem))
		}
	}

	if len(e.InvalidSettings) > 0 {
		sb.WriteString("\nInvalid settings:\n")
		for _, s := range e.InvalidSettings {
			sb.WriteString(fmt.Sprintf("  - %s\n", s))
		}
	}

	return sb.String()
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	errs := &ValidationErrors{}

	for _, class := range Classes {
		validateIntervals(errs, class, c.Classes.For(class))
	}

	if u, err := url.Parse(c.Provider.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs.InvalidSettings = append(errs.InvalidSettings,
			fmt.Sprintf("provider.base_url %q is not an absolute URL (set PUBG_API_URL)", c.Provider.BaseURL))
	}
	if c.Provider.Timeout <= 0 {
		errs.InvalidSettings = append(errs.InvalidSettings, "provider.timeout must be > 0")
	}
	if c.Provider.RatePerSecond < 1 {
		errs.InvalidSettings = append(errs.InvalidSettings, "provider.rate_per_second must be >= 1")
	}
	if c.Provider.RetryCount < 0 {
		errs.InvalidSettings = append(errs.InvalidSettings, "provider.retry_count must be >= 0")
	}
	if c.Discovery.Interval <= 0 {
		errs.InvalidSettings = append(errs.InvalidSettings, "discovery.interval must be > 0")
	}

	switch c.Store.Driver {
	case "memory":
	case "sqlite":
		if c.Store.Path == "" {
			errs.InvalidSettings = append(errs.InvalidSettings, "store.path is required for the sqlite driver")
		}
		if c.Store.PoolSize < 1 {
			errs.InvalidSettings = append(errs.InvalidSettings, "store.pool_size must be >= 1")
		}
	default:
		errs.InvalidSettings = append(errs.InvalidSettings,
			fmt.Sprintf("store.driver %q (must be 'memory' or 'sqlite')", c.Store.Driver))
	}

	if c.Cache.BackpackTTL < 0 {
		errs.InvalidSettings = append(errs.InvalidSettings, "cache.backpack_ttl must be >= 0")
	}

	if c.Notify.Enabled {
		if c.Notify.Topic == "" {
			errs.InvalidSettings = append(errs.InvalidSettings, "notify.topic is required when notify.enabled is true")
		}
		if !validPriorities[c.Notify.Priority] {
			errs.InvalidSettings = append(errs.InvalidSettings,
				fmt.Sprintf("notify.priority %q (valid: min, low, default, high, urgent)", c.Notify.Priority))
		}
		if c.Notify.FailureThreshold < 1 {
			errs.InvalidSettings = append(errs.InvalidSettings, "notify.failure_threshold must be >= 1")
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

var validPriorities = map[string]bool{
	"min": true, "low": true, "default": true, "high": true, "urgent": true,
}

func validateIntervals(errs *ValidationErrors, class Class, iv IntervalConfig) {
	add := func(problem string) {
		errs.InvalidIntervals = append(errs.InvalidIntervals, IntervalProblem{Class: class, Problem: problem})
	}

	if iv.Min <= 0 {
		add("min_interval must be > 0")
	}
	if iv.Max < iv.Min {
		add(fmt.Sprintf("max_interval %s is below min_interval %s", iv.Max, iv.Min))
	}
	if iv.Initial < iv.Min || iv.Initial > iv.Max {
		add(fmt.Sprintf("initial_interval %s outside [%s, %s]", iv.Initial, iv.Min, iv.Max))
	}
	if iv.Step <= 0 {
		add("step must be > 0")
	}
	if iv.NoChangeThreshold < 1 {
		add("no_change_threshold must be >= 1")
	}
}
