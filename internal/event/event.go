package event

import (
	"net/http"

	"github.com/tanq16/danzo-agent/dlerr"
)

type Kind int

const (
	// Control events.
	Cancel Kind = iota
	Suspend
	Resume
	Abort
	NetDisconnected

	// Data events.
	Header
	BodyChunk
	Final
	AbortWithError
)

var kindNames = [...]string{
	Cancel:          "cancel",
	Suspend:         "suspend",
	Resume:          "resume",
	Abort:           "abort",
	NetDisconnected: "net-disconnected",
	Header:          "header",
	BodyChunk:       "body-chunk",
	Final:           "final",
	AbortWithError:  "abort-with-error",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

func (k Kind) IsControl() bool {
	return k <= NetDisconnected
}

// Response is a parsed response head.
type Response struct {
	StatusCode int
	Header     http.Header
}

// Event is one unit of work for a download's state machine. Only the payload
// matching Kind is set. Whoever pops the event owns Response and Body.
type Event struct {
	Kind          Kind
	TransactionID string
	Response      *Response
	Body          []byte
	Code          dlerr.Code
}

func Control(kind Kind) Event {
	return Event{Kind: kind}
}

func HeaderReceived(txID string, resp *Response) Event {
	return Event{Kind: Header, TransactionID: txID, Response: resp}
}

func Chunk(txID string, body []byte) Event {
	return Event{Kind: BodyChunk, TransactionID: txID, Body: body}
}

func Finished(txID string) Event {
	return Event{Kind: Final, TransactionID: txID}
}

func Failed(txID string, code dlerr.Code) Event {
	return Event{Kind: AbortWithError, TransactionID: txID, Code: code}
}

// size is what the event counts against the queue's byte budget.
func (e Event) size() int {
	if e.Kind == BodyChunk {
		return len(e.Body)
	}
	return 0
}
