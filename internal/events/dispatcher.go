package events

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/estatedesk/crm/internal/access"
	"github.com/estatedesk/crm/internal/metrics"
	"github.com/estatedesk/crm/internal/models"
)

const (
	defaultQueueSize = 1000
	sendTimeout      = 5 * time.Second
)

type job struct {
	name      string
	payload   []byte
	audiences []Audience
}

// Dispatcher queues mutation events and delivers them from one goroutine.
type Dispatcher struct {
	transport Transport
	log       *logrus.Logger
	jobs      chan job
}

// NewDispatcher creates a Dispatcher with the given queue capacity.
func NewDispatcher(t Transport, log *logrus.Logger, queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	return &Dispatcher{
		transport: t,
		log:       log,
		jobs:      make(chan job, queueSize),
	}
}

// Emit queues evt for the audiences of p. Non-blocking; drops the event if
// the queue is full. Audiences are resolved now, while p is current.
func (d *Dispatcher) Emit(evt models.MutationEvent, p access.Principal, isPrivate bool) {
	payload, err := Encode(evt)
	if err != nil {
		metrics.EventsDropped.WithLabelValues("encode").Inc()
		d.log.WithError(err).Warn("dropping unencodable event")

		return
	}

	j := job{name: evt.Name(), payload: payload, audiences: Audiences(p, isPrivate)}
	if len(j.audiences) == 0 {
		return
	}

	select {
	case d.jobs <- j:
		metrics.EventQueueDepth.Set(float64(len(d.jobs)))
	default:
		metrics.EventsDropped.WithLabelValues("queue_full").Inc()
		d.log.WithFields(logrus.Fields{
			"event":     j.name,
			"entity_id": evt.EntityID,
		}).Warn("event queue full, dropping event")
	}
}

// Run delivers queued events until ctx is cancelled, then drains what is left.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			d.drain()
			return
		case j := <-d.jobs:
			d.deliver(j)
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case j := <-d.jobs:
			d.deliver(j)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(j job) {
	metrics.EventQueueDepth.Set(float64(len(d.jobs)))

	for _, a := range j.audiences {
		if err := d.sendOne(a, j); err != nil {
			metrics.EventsDropped.WithLabelValues("transport").Inc()
			d.log.WithError(err).WithFields(logrus.Fields{
				"event":    j.name,
				"audience": a.Key(),
			}).Warn("event delivery failed")

			continue
		}

		metrics.EventsDispatched.WithLabelValues(string(a.Tier)).Inc()
	}
}

// sendOne delivers to one audience. A panicking transport only loses this tier.
func (d *Dispatcher) sendOne(a Audience, j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transport panic: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	return send(ctx, d.transport, a, j.name, j.payload)
}
