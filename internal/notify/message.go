package notify

import (
	"fmt"
	"strings"
	"time"
)

// Outage describes a run of consecutive failed provider fetches.
type Outage struct {
	Endpoint  string
	Failures  int
	Since     time.Time
	LastError string
	Duration  time.Duration // set on recovery
}

func FormatDownMessage(o Outage) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Endpoint: %s\n", o.Endpoint))
	sb.WriteString(fmt.Sprintf("Consecutive failures: %d\n", o.Failures))
	sb.WriteString(fmt.Sprintf("Failing since: %s", o.Since.UTC().Format(time.RFC3339)))
	if o.LastError != "" {
		sb.WriteString(fmt.Sprintf("\n\nLast error: %s", o.LastError))
	}
	return sb.String()
}

func FormatRecoveredMessage(o Outage) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Endpoint: %s\n", o.Endpoint))
	sb.WriteString(fmt.Sprintf("Failed requests: %d\n", o.Failures))
	sb.WriteString(fmt.Sprintf("Outage duration: %s", o.Duration.Round(time.Second)))
	return sb.String()
}
