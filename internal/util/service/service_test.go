package serviceutil_test

import (
	"bytes"
	"testing"

	"github.com/lthibault/log"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/thejerf/suture/v4"

	serviceutil "github.com/wetware/rpcpool/internal/util/service"
)

func TestEventHook(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	hook := serviceutil.NewEventHook(log.New(
		log.WithLevel(log.DebugLevel),
		log.WithFormatter(&logrus.TextFormatter{DisableTimestamp: true}),
		log.WithWriter(&buf)))

	hook(suture.EventServiceTerminate{
		SupervisorName:   "pool",
		ServiceName:      "gc",
		CurrentFailures:  1,
		FailureThreshold: 5,
		Restarting:       true,
	})

	assert.Contains(t, buf.String(), "service gc terminated")
	assert.Contains(t, buf.String(), "parent=pool")
}

func TestException(t *testing.T) {
	t.Parallel()

	e := serviceutil.Exception{Value: "boom", Parent: "pool", Restart: true, Backpressure: .2}
	assert.Equal(t, "pool", e.Loggable()["parent"])
	assert.Contains(t, e.GoString(), "pool")
}
