package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/scoresync/livesync/internal/telemetry"
)

const sendTimeout = 15 * time.Second

type notice struct {
	recovered bool
	outage    Outage
}

type endpointState struct {
	failures  int
	since     time.Time
	lastError string
	alerted   bool
}

// OutageWatcher counts consecutive failures per provider endpoint. Once an
// endpoint reaches the threshold a single down alert is sent, and a single
// recovered alert follows the next success.
type OutageWatcher struct {
	notifier  Notifier
	threshold int
	logger    *zap.Logger
	now       func() time.Time

	mu      sync.Mutex
	state   map[string]*endpointState
	notices chan notice
}

var _ telemetry.Observer = (*OutageWatcher)(nil)

func NewOutageWatcher(n Notifier, threshold int, logger *zap.Logger) *OutageWatcher {
	if threshold < 1 {
		threshold = 1
	}
	return &OutageWatcher{
		notifier:  n,
		threshold: threshold,
		logger:    logger,
		now:       time.Now,
		state:     make(map[string]*endpointState),
		notices:   make(chan notice, 16),
	}
}

// ObserveFetch is called from the telemetry client and never blocks.
func (w *OutageWatcher) ObserveFetch(endpoint string, err error) {
	w.mu.Lock()
	st, ok := w.state[endpoint]
	if !ok {
		st = &endpointState{}
		w.state[endpoint] = st
	}

	var n *notice
	if err != nil {
		if st.failures == 0 {
			st.since = w.now()
		}
		st.failures++
		st.lastError = err.Error()
		if st.failures >= w.threshold && !st.alerted {
			st.alerted = true
			n = &notice{outage: Outage{Endpoint: endpoint, Failures: st.failures, Since: st.since, LastError: st.lastError}}
		}
	} else {
		if st.alerted {
			n = &notice{recovered: true, outage: Outage{
				Endpoint: endpoint,
				Failures: st.failures,
				Since:    st.since,
				Duration: w.now().Sub(st.since),
			}}
		}
		*st = endpointState{}
	}
	w.mu.Unlock()

	if n == nil {
		return
	}
	select {
	case w.notices <- *n:
	default:
		w.logger.Warn("dropping outage notice, queue full", zap.String("endpoint", endpoint))
	}
}

// Run delivers queued alerts until ctx is cancelled.
func (w *OutageWatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-w.notices:
			sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
			var err error
			if n.recovered {
				w.logger.Info("telemetry provider recovered",
					zap.String("endpoint", n.outage.Endpoint),
					zap.Duration("outage", n.outage.Duration),
				)
				err = w.notifier.SendRecovered(sendCtx, n.outage)
			} else {
				w.logger.Warn("telemetry provider down",
					zap.String("endpoint", n.outage.Endpoint),
					zap.Int("failures", n.outage.Failures),
				)
				err = w.notifier.SendDown(sendCtx, n.outage)
			}
			cancel()
			if err != nil {
				w.logger.Warn("outage notification failed", zap.Error(err))
			}
		}
	}
}
