package live

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/pantrylabs/listsync/internal"
	"github.com/pantrylabs/listsync/state"
)

// Dispatcher executes one message against one list. Every mutating action
// runs in a single transaction and returns the complete, freshly re-read item
// list; there is no entity-level lock on top of that, so two concurrent
// reorders of the same list resolve to last-write-wins on intent while the
// density invariant is preserved by construction.
type Dispatcher struct {
	store *state.Storage
}

func NewDispatcher(store *state.Storage) *Dispatcher {
	return &Dispatcher{store: store}
}

// Dispatch maps the message's action to its handler. Returns the result to
// broadcast, or a HandlerError to send back to the sender only.
func (d *Dispatcher) Dispatch(listID int64, msg *Message) (*Result, *internal.HandlerError) {
	switch msg.Action {
	case ActionPing:
		return &Result{RespondingToAction: msg.Action, Items: []state.ListItem{}}, nil

	case ActionCurrentItems:
		items, err := d.store.Items(listID)
		return d.result(msg.Action, items, err)

	case ActionAddItem:
		if msg.Item == nil || msg.Item.Content == nil {
			return nil, badRequest("add_item requires an item with content")
		}
		items, err := d.store.AddItem(state.ListItem{
			ListID:    listID,
			Completed: msg.Item.Completed,
			Content:   *msg.Item.Content,
			Notes:     derefOr(msg.Item.Notes, ""),
		})
		return d.result(msg.Action, items, err)

	case ActionDeleteItem:
		if msg.Item == nil || msg.Item.ID == 0 {
			return nil, badRequest("delete_item requires an item id")
		}
		items, err := d.store.DeleteItem(listID, msg.Item.ID)
		return d.result(msg.Action, items, err)

	case ActionMarkItemComplete:
		if msg.Item == nil || msg.Item.ID == 0 {
			return nil, badRequest("mark_item_complete requires an item id")
		}
		items, err := d.store.SetItemCompleted(listID, msg.Item.ID, true)
		return d.result(msg.Action, items, err)

	case ActionMarkItemIncomplete:
		if msg.Item == nil || msg.Item.ID == 0 {
			return nil, badRequest("mark_item_incomplete requires an item id")
		}
		items, err := d.store.SetItemCompleted(listID, msg.Item.ID, false)
		return d.result(msg.Action, items, err)

	case ActionSetItemOrder:
		if msg.Item == nil || msg.Item.ID == 0 || msg.Item.Position == nil {
			return nil, badRequest("set_item_order requires an item id and position")
		}
		items, err := d.store.SetItemPosition(listID, msg.Item.ID, *msg.Item.Position)
		return d.result(msg.Action, items, err)

	case ActionSetItemContent:
		if msg.Item == nil || msg.Item.ID == 0 || msg.Item.Content == nil {
			return nil, badRequest("set_item_content requires an item id and content")
		}
		items, err := d.store.SetItemContent(listID, msg.Item.ID, *msg.Item.Content)
		return d.result(msg.Action, items, err)

	case ActionSetItemNotes:
		if msg.Item == nil || msg.Item.ID == 0 || msg.Item.Notes == nil {
			return nil, badRequest("set_item_notes requires an item id and notes")
		}
		items, err := d.store.SetItemNotes(listID, msg.Item.ID, *msg.Item.Notes)
		return d.result(msg.Action, items, err)

	case ActionClearItems:
		items, err := d.store.ClearItems(listID)
		return d.result(msg.Action, items, err)

	default:
		return nil, badRequest(fmt.Sprintf("unknown action: %s", msg.Action))
	}
}

func (d *Dispatcher) result(action Action, items []state.ListItem, err error) (*Result, *internal.HandlerError) {
	if errors.Is(err, state.ErrItemNotFound) {
		return nil, &internal.HandlerError{
			StatusCode: http.StatusNotFound,
			Err:        err,
		}
	}
	if err != nil {
		return nil, &internal.HandlerError{
			StatusCode: http.StatusInternalServerError,
			Err:        err,
		}
	}
	return &Result{RespondingToAction: action, Items: items}, nil
}

func badRequest(msg string) *internal.HandlerError {
	return &internal.HandlerError{
		StatusCode: http.StatusBadRequest,
		Err:        errors.New(msg),
	}
}

func derefOr(s *string, def string) string {
	if s == nil {
		return def
	}
	return *s
}
