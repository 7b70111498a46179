package live

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/pantrylabs/listsync/internal"
	"github.com/pantrylabs/listsync/state"
)

// Action tags an inbound message with the operation it wants. The set is
// closed: dispatch is an exhaustive switch, not a lookup table, so a typo'd
// action is a client error rather than a silent fallthrough.
type Action string

const (
	ActionCurrentItems       Action = "current_items"
	ActionAddItem            Action = "add_item"
	ActionDeleteItem         Action = "delete_item"
	ActionMarkItemComplete   Action = "mark_item_complete"
	ActionMarkItemIncomplete Action = "mark_item_incomplete"
	ActionSetItemOrder       Action = "set_item_order"
	ActionSetItemContent     Action = "set_item_content"
	ActionSetItemNotes       Action = "set_item_notes"
	ActionClearItems         Action = "clear_items"
	// ActionPing performs no mutation and echoes an empty result back to the
	// sender. Used by clients as a keepalive and to verify end-to-end routing
	// without touching data.
	ActionPing Action = "__ping__"
)

// ItemPayload is the partial item carried by a message. Pointer fields
// distinguish "absent" from the zero value.
type ItemPayload struct {
	ID        int64   `json:"id,omitempty"`
	Completed bool    `json:"completed,omitempty"`
	Position  *int    `json:"position,omitempty"`
	Content   *string `json:"content,omitempty"`
	Notes     *string `json:"notes,omitempty"`
}

// Message is the client to server envelope. Item is absent for read-only and
// bulk actions.
type Message struct {
	Action Action       `json:"action"`
	Item   *ItemPayload `json:"item,omitempty"`
}

// Result is the server to client envelope, broadcast to every connection
// sharing the list on success. Items is always the complete snapshot.
type Result struct {
	RespondingToAction Action           `json:"responding_to_action"`
	Items              []state.ListItem `json:"items"`
}

// ErrorResponse is sent only to the connection whose message failed.
type ErrorResponse struct {
	Message string `json:"message"`
}

// ParseMessage decodes an inbound frame. Decoding is strict: unknown fields
// are rejected, since a client sending fields we don't know about is running
// a schema we don't speak.
func ParseMessage(data []byte) (*Message, *internal.HandlerError) {
	if !gjson.ValidBytes(data) {
		return nil, &internal.HandlerError{
			StatusCode: http.StatusBadRequest,
			Err:        fmt.Errorf("malformed message"),
		}
	}
	var msg Message
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&msg); err != nil {
		return nil, &internal.HandlerError{
			StatusCode: http.StatusBadRequest,
			Err:        fmt.Errorf("invalid message: %s", err),
		}
	}
	if gjson.GetBytes(data, "action").Str == "" {
		return nil, &internal.HandlerError{
			StatusCode: http.StatusBadRequest,
			Err:        fmt.Errorf("missing action"),
		}
	}
	return &msg, nil
}
