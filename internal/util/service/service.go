// Package serviceutil configures suture supervisors.
package serviceutil

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lthibault/log"
	"github.com/thejerf/suture/v4"
)

// New supervisor that reports its events to log.
func New(name string, log log.Logger) *suture.Supervisor {
	return suture.New(name, suture.Spec{
		EventHook: NewEventHook(log),
	})
}

// NewEventHook logs supervisor events.
func NewEventHook(logger log.Logger) suture.EventHook {
	return func(e suture.Event) {
		switch ev := e.(type) {
		case suture.EventBackoff:
			logger.WithFields(ev.Map()).Debugf("%s suspended", ev.SupervisorName)

		case suture.EventResume:
			logger.
				WithField("parent", ev.SupervisorName).
				Debugf("%s resumed", ev.SupervisorName)

		case suture.EventServiceTerminate:
			logger.With(Exception{
				Value:        ev.Err,
				Parent:       ev.SupervisorName,
				Restart:      ev.Restarting,
				Backpressure: ev.CurrentFailures / ev.FailureThreshold,
			}).
				Warnf("service %s terminated", ev.ServiceName)

		case suture.EventServicePanic:
			logger.With(Exception{
				Value:        ev.PanicMsg,
				Parent:       ev.SupervisorName,
				Restart:      ev.Restarting,
				Backpressure: ev.CurrentFailures / ev.FailureThreshold,
			}).
				WithField("stack", ev.Stacktrace).
				Errorf("service %s panicked", ev.ServiceName)

		case suture.EventStopTimeout:
			logger.
				WithField("parent", ev.SupervisorName).
				Errorf("service %s did not stop in time", ev.ServiceName)
		}
	}
}

// Exception is reported asynchronously by a failing service.
type Exception struct {
	Value        interface{} `json:"value"`
	Parent       string      `json:"parent"`
	Restart      bool        `json:"restart"`
	Backpressure float64     `json:"backpressure"`
}

func (e Exception) GoString() string {
	return fmt.Sprintf(strings.TrimSpace(`
Exception{
	Value:       "%#v",
	Parent:      "%s",
	Restart:      %t,
	Backpressure: %.2f,
}`),
		e.Value,
		strconv.Quote(e.Parent),
		e.Restart,
		e.Backpressure)
}

func (e Exception) Loggable() map[string]interface{} {
	return map[string]interface{}{
		"value":        e.Value,
		"parent":       e.Parent,
		"restart":      e.Restart,
		"backpressure": e.Backpressure,
	}
}
