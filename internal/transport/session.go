//go:generate mockgen -destination=mocks/transport.go . Session,Sink
package transport

import (
	"net/http"
	"net/url"

	"github.com/tanq16/danzo-agent/internal/event"
)

// Sink receives the events of a transaction. Push returning false on an open
// sink means it is full; the transfer must hold its data and retry after Room
// fires. A closed sink accepts nothing more and the transfer gives up.
type Sink interface {
	Push(ev event.Event) bool
	Room() <-chan struct{}
	Closed() bool
}

// Request describes one HTTP exchange.
type Request struct {
	URL    string
	Method string
	Header http.Header
	// Proxy overrides the session's proxy for this request when set.
	Proxy *url.URL
	Sink  Sink
}

// Session performs transfers and reports them as events. Each transaction
// delivers a Header, any number of BodyChunks, and exactly one Final or
// AbortWithError, unless it is disconnected first.
type Session interface {
	// StartTransaction begins the request and returns its transaction id.
	StartTransaction(req Request) (string, error)

	// CancelTransaction stops the transfer and delivers Final. A hard cancel
	// drops the connection immediately; a graceful one lets data already read
	// be delivered first.
	CancelTransaction(id string, hard bool)

	// DisconnectTransaction stops the transfer without delivering anything more.
	DisconnectTransaction(id string)

	// PauseTransaction holds the transfer until UnpauseTransaction.
	PauseTransaction(id string)
	UnpauseTransaction(id string)
}
