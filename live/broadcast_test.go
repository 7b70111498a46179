package live

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pantrylabs/listsync/session"
	"github.com/pantrylabs/listsync/state"
)

func TestFanOutReachesEveryConnection(t *testing.T) {
	sessions := newTestSessions(t)
	registry := NewRegistry(time.Minute, false)
	defer registry.Stop()
	fanout := NewFanOut(sessions, registry, false)
	defer fanout.Close()
	ctx := context.Background()
	var listID int64 = 1

	clients := make([]*clientSide, 3)
	for i, token := range []string{"tok_1", "tok_2", "tok_3"} {
		conn, client := newSocketPair(t, token)
		registry.Register(token, conn)
		assertNoError(t, sessions.AddMember(ctx, session.EntityTypeList, listID, token))
		clients[i] = &clientSide{token: token, ws: client}
	}

	res := &Result{
		RespondingToAction: ActionAddItem,
		Items: []state.ListItem{
			{ID: 1, ListID: listID, Position: 1, Content: "eggs"},
		},
	}
	fanout.Broadcast(ctx, session.EntityTypeList, listID, res)

	// every connection gets the same full snapshot, the sender included
	for _, c := range clients {
		var got Result
		assertNoError(t, json.Unmarshal(readFrame(t, c.ws), &got))
		if got.RespondingToAction != ActionAddItem {
			t.Errorf("%s: got action %q want %q", c.token, got.RespondingToAction, ActionAddItem)
		}
		if len(got.Items) != 1 || got.Items[0].Content != "eggs" {
			t.Errorf("%s: got items %+v", c.token, got.Items)
		}
	}
}

type clientSide struct {
	token string
	ws    *websocket.Conn
}

func TestFanOutPrunesStaleTokens(t *testing.T) {
	sessions := newTestSessions(t)
	registry := NewRegistry(time.Minute, false)
	defer registry.Stop()
	fanout := NewFanOut(sessions, registry, false)
	defer fanout.Close()
	ctx := context.Background()
	var listID int64 = 2

	liveConn, liveClient := newSocketPair(t, "tok_live")
	registry.Register("tok_live", liveConn)
	assertNoError(t, sessions.AddMember(ctx, session.EntityTypeList, listID, "tok_live"))
	// a token whose connection is long gone
	assertNoError(t, sessions.AddMember(ctx, session.EntityTypeList, listID, "tok_stale"))

	fanout.Broadcast(ctx, session.EntityTypeList, listID, &Result{
		RespondingToAction: ActionDeleteItem,
		Items:              []state.ListItem{},
	})

	// the live member still got its push
	var got Result
	assertNoError(t, json.Unmarshal(readFrame(t, liveClient), &got))
	if got.RespondingToAction != ActionDeleteItem {
		t.Errorf("got action %q want %q", got.RespondingToAction, ActionDeleteItem)
	}

	// the stale token was retired from the membership set
	members, err := sessions.Members(ctx, session.EntityTypeList, listID)
	assertNoError(t, err)
	if len(members) != 1 || members[0] != "tok_live" {
		t.Errorf("got members %v want [tok_live]", members)
	}
}
