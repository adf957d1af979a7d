// Package prometheus serves the relayer's operational endpoints:
// Prometheus metrics, the aggregated health check and goroutine dumps.
package prometheus

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"runtime/pprof"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/keep-network/tbtc-relayer/runtime"
)

var log = logrus.WithField("prefix", "prometheus")

// Service exposes /metrics for everything registered with the default
// Prometheus registerer, plus /healthz and /goroutinez. It implements
// runtime.Service.
type Service struct {
	server      *http.Server
	svcRegistry *runtime.ServiceRegistry
	failStatus  error
}

// NewService listens on addr; an empty host like ":8080" binds all
// interfaces.
func NewService(addr string, svcRegistry *runtime.ServiceRegistry) *Service {
	s := &Service{svcRegistry: svcRegistry}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.healthzHandler)
	mux.HandleFunc("/goroutinez", s.goroutinezHandler)

	s.server = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	return s
}

// healthzHandler reports per-service health, one line per registered
// service, with a 500 status when any of them is failing.
func (s *Service) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	var lines []string
	healthy := true
	for kind, err := range s.svcRegistry.Statuses() {
		if err == nil {
			lines = append(lines, fmt.Sprintf("%s: OK", kind))
			continue
		}
		healthy = false
		lines = append(lines, fmt.Sprintf("%s: ERROR %s", kind, err))
	}
	sort.Strings(lines)

	if !healthy {
		w.WriteHeader(http.StatusInternalServerError)
	}
	if _, err := w.Write([]byte(strings.Join(lines, "\n") + "\n")); err != nil {
		log.WithError(err).Error("Could not write healthz body")
	}
}

func (s *Service) goroutinezHandler(w http.ResponseWriter, _ *http.Request) {
	if _, err := w.Write(debug.Stack()); err != nil {
		log.WithError(err).Error("Could not write goroutinez body")
		return
	}
	if err := pprof.Lookup("goroutine").WriteTo(w, 2); err != nil {
		log.WithError(err).Error("Could not write goroutine profile")
	}
}

// Start serves the monitoring endpoints in the background.
func (s *Service) Start() {
	log.WithField("endpoint", s.server.Addr).Info("Monitoring listening")
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Errorf("Could not listen on %s", s.server.Addr)
			s.failStatus = err
		}
	}()
}

// Stop shuts the server down gracefully.
func (s *Service) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Status implements runtime.Service.
func (s *Service) Status() error {
	return s.failStatus
}
