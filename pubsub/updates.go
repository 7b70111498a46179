package pubsub

import (
	"github.com/pantrylabs/listsync/state"
)

// The channel carrying list update payloads from out-of-band mutators (REST
// bulk append) to the live gateway, which fans them out to connections.
const ChanUpdates = "updates"

// ListUpdateListener is implemented by whoever wants list updates delivered.
type ListUpdateListener interface {
	OnListUpdate(p *ListUpdate)
}

// ListUpdate announces that a list was mutated outside the live message flow.
// Items is the complete post-mutation snapshot, same as any other result.
type ListUpdate struct {
	ListID int64
	Action string
	Items  []state.ListItem
}

func (u ListUpdate) Type() string { return "list_update" }

// Dispatch the payload to the correct listener callback. Unknown payload
// types are silently dropped so channels can gain payload kinds without
// breaking old listeners.
func Dispatch(l ListUpdateListener, p Payload) {
	switch pl := p.(type) {
	case *ListUpdate:
		l.OnListUpdate(pl)
	}
}
