// Package ingress is the hand-off point between business handlers and the
// real-time hub. Handlers call Publish after their transaction commits and
// never see connections.
package ingress

import (
	"taskflow-realtime/domain"
)

type Deliverer interface {
	Deliver(event domain.Event, scope string)
}

type Ingress struct {
	deliverer Deliverer
}

func New(d Deliverer) *Ingress {
	return &Ingress{deliverer: d}
}

// Publish hands event to the hub for scope. It returns once every target
// has been attempted and never waits on a client.
func (i *Ingress) Publish(event domain.Event, scope string) {
	i.deliverer.Deliver(event, scope)
}
