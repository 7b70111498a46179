package live

import (
	"net/http"
	"testing"
)

func TestParseMessageValid(t *testing.T) {
	msg, herr := ParseMessage([]byte(`{"action":"add_item","item":{"content":"eggs"}}`))
	if herr != nil {
		t.Fatalf("got error: %s", herr)
	}
	if msg.Action != ActionAddItem {
		t.Errorf("got action %q want %q", msg.Action, ActionAddItem)
	}
	if msg.Item == nil || msg.Item.Content == nil || *msg.Item.Content != "eggs" {
		t.Errorf("item not parsed: %+v", msg.Item)
	}
}

func TestParseMessageNoItem(t *testing.T) {
	msg, herr := ParseMessage([]byte(`{"action":"current_items"}`))
	if herr != nil {
		t.Fatalf("got error: %s", herr)
	}
	if msg.Item != nil {
		t.Errorf("expected absent item, got %+v", msg.Item)
	}
}

func TestParseMessageMalformed(t *testing.T) {
	_, herr := ParseMessage([]byte(`{"action": nope`))
	if herr == nil {
		t.Fatalf("expected an error for malformed JSON")
	}
	if herr.StatusCode != http.StatusBadRequest {
		t.Errorf("got status %d want 400", herr.StatusCode)
	}
}

func TestParseMessageUnknownField(t *testing.T) {
	_, herr := ParseMessage([]byte(`{"action":"add_item","surprise":true}`))
	if herr == nil {
		t.Fatalf("expected an error for unknown fields")
	}
	if herr.StatusCode != http.StatusBadRequest {
		t.Errorf("got status %d want 400", herr.StatusCode)
	}
}

func TestParseMessageMissingAction(t *testing.T) {
	_, herr := ParseMessage([]byte(`{"item":{"id":1}}`))
	if herr == nil {
		t.Fatalf("expected an error for a missing action")
	}
}
