// Package runtime includes lifecycle utilities shared by every relayer
// service.
package runtime

import (
	"reflect"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("prefix", "registry")

// Service is a long-running component with a managed lifecycle: the API
// server, the monitoring endpoint and the reconciler all implement it.
type Service interface {
	// Start spawns the service's goroutines. It must not block.
	Start()
	// Stop terminates the service, blocking until shutdown completes.
	Stop() error
	// Status returns nil while the service is healthy.
	Status() error
}

// ServiceRegistry keys registered services by their concrete type and
// preserves registration order, so startup runs in dependency order and
// shutdown in reverse.
type ServiceRegistry struct {
	services map[reflect.Type]Service
	order    []reflect.Type
}

// NewServiceRegistry returns an empty registry.
func NewServiceRegistry() *ServiceRegistry {
	return &ServiceRegistry{services: make(map[reflect.Type]Service)}
}

// RegisterService adds a service. At most one service per concrete type
// can be registered.
func (s *ServiceRegistry) RegisterService(service Service) error {
	kind := reflect.TypeOf(service)
	if _, exists := s.services[kind]; exists {
		return errors.Errorf("service already exists: %v", kind)
	}
	s.services[kind] = service
	s.order = append(s.order, kind)
	return nil
}

// StartAll launches every service in registration order.
func (s *ServiceRegistry) StartAll() {
	log.WithField("count", len(s.order)).Debug("Starting services")
	for _, kind := range s.order {
		log.Debugf("Starting %v", kind)
		go s.services[kind].Start()
	}
}

// StopAll stops every service in reverse registration order so consumers
// go down before the things they depend on.
func (s *ServiceRegistry) StopAll() {
	for i := len(s.order) - 1; i >= 0; i-- {
		kind := s.order[i]
		if err := s.services[kind].Stop(); err != nil {
			log.WithError(err).Errorf("Could not stop service %v", kind)
		}
	}
}

// Statuses polls every registered service's health.
func (s *ServiceRegistry) Statuses() map[reflect.Type]error {
	statuses := make(map[reflect.Type]error, len(s.order))
	for _, kind := range s.order {
		statuses[kind] = s.services[kind].Status()
	}
	return statuses
}

// FetchService sets the given pointer to the registered service of the
// matching type, so callers share the exact registered instance.
func (s *ServiceRegistry) FetchService(service interface{}) error {
	if reflect.TypeOf(service).Kind() != reflect.Ptr {
		return errors.Errorf("input must be of pointer type, received value type instead: %T", service)
	}
	element := reflect.ValueOf(service).Elem()
	if registered, ok := s.services[element.Type()]; ok {
		element.Set(reflect.ValueOf(registered))
		return nil
	}
	return errors.Errorf("unknown service: %T", service)
}
