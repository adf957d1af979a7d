package prometheus

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

var logEntriesCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "relayer_log_entries_total",
	Help: "Log messages emitted, by level and subsystem prefix.",
}, []string{"level", "prefix"})

// LogrusCollector counts emitted log entries per level and subsystem so
// error spikes show up on the metrics endpoint. Install it with
// logrus.AddHook.
type LogrusCollector struct{}

// NewLogrusCollector returns the counting hook.
func NewLogrusCollector() *LogrusCollector {
	return &LogrusCollector{}
}

// Fire implements logrus.Hook.
func (*LogrusCollector) Fire(entry *logrus.Entry) error {
	prefix := "global"
	if value, ok := entry.Data["prefix"]; ok {
		s, ok := value.(string)
		if !ok {
			return errors.New("prefix field is not a string")
		}
		prefix = s
	}
	logEntriesCounter.WithLabelValues(entry.Level.String(), prefix).Inc()
	return nil
}

// Levels implements logrus.Hook. Debug and trace entries are not
// counted.
func (*LogrusCollector) Levels() []logrus.Level {
	return []logrus.Level{logrus.InfoLevel, logrus.WarnLevel, logrus.ErrorLevel}
}
