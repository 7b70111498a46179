package listsync

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/hlog"

	"github.com/pantrylabs/listsync/internal"
	"github.com/pantrylabs/listsync/pubsub"
	"github.com/pantrylabs/listsync/state"
)

// AppendFromRecipeAction labels bulk-append results so clients can tell them
// apart from updates triggered by their own messages.
const AppendFromRecipeAction = "append_from_recipe"

// Authorizer answers whether the caller of a REST endpoint may access a list.
// Ownership and share checks belong to the surrounding application; the
// engine only asks for a verdict. A non-nil error refuses access and its
// status code is used when it is a HandlerError.
type Authorizer interface {
	CanAccessList(req *http.Request, listID int64) error
}

// AllowAll authorizes every request. Only suitable when the engine sits
// behind an application that has already authenticated the caller.
type AllowAll struct{}

func (AllowAll) CanAccessList(req *http.Request, listID int64) error { return nil }

type requestSessionResponse struct {
	Token string `json:"token"`
}

// RequestSession mints a capability token for the list. This is the only way
// tokens come into existence.
func (a *App) RequestSession(w http.ResponseWriter, req *http.Request) {
	listID, err := strconv.ParseInt(mux.Vars(req)["id"], 10, 64)
	if err != nil {
		writeError(w, &internal.HandlerError{StatusCode: http.StatusBadRequest, Err: errors.New("bad list id")})
		return
	}
	if err := a.authorizer.CanAccessList(req, listID); err != nil {
		writeError(w, asHandlerError(err, http.StatusNotFound))
		return
	}
	token, err := a.Issuer.Request(req.Context(), listID)
	if err != nil {
		hlog.FromRequest(req).Err(err).Msg("failed to mint session token")
		internal.GetSentryHubFromContextOrDefault(req.Context()).CaptureException(err)
		writeError(w, &internal.HandlerError{StatusCode: http.StatusInternalServerError, Err: errors.New("internal error")})
		return
	}
	writeJSON(w, http.StatusOK, requestSessionResponse{Token: token})
}

type appendItemsRequest struct {
	ListID int64 `json:"list_id"`
	Items  []struct {
		Content string `json:"content"`
		Notes   string `json:"notes"`
	} `json:"items"`
}

// AppendItems bulk-appends items onto the end of the list's not-completed
// partition (e.g. "add all ingredients of this recipe") and pushes the new
// snapshot to every live connection via the update channel.
func (a *App) AppendItems(w http.ResponseWriter, req *http.Request) {
	var body appendItemsRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, &internal.HandlerError{StatusCode: http.StatusBadRequest, Err: errors.New("malformed request body")})
		return
	}
	if len(body.Items) == 0 {
		writeError(w, &internal.HandlerError{StatusCode: http.StatusBadRequest, Err: errors.New("no items to append")})
		return
	}
	if err := a.authorizer.CanAccessList(req, body.ListID); err != nil {
		writeError(w, asHandlerError(err, http.StatusNotFound))
		return
	}

	toAppend := make([]state.ListItem, len(body.Items))
	for i, item := range body.Items {
		toAppend[i] = state.ListItem{Content: item.Content, Notes: item.Notes}
	}
	items, err := a.Storage.AppendItems(body.ListID, toAppend)
	if err != nil {
		hlog.FromRequest(req).Err(err).Int64("list_id", body.ListID).Msg("bulk append failed")
		internal.GetSentryHubFromContextOrDefault(req.Context()).CaptureException(err)
		writeError(w, &internal.HandlerError{StatusCode: http.StatusInternalServerError, Err: errors.New("internal error")})
		return
	}

	// broadcast to anyone watching the list live; best effort
	err = a.notifier.Notify(pubsub.ChanUpdates, &pubsub.ListUpdate{
		ListID: body.ListID,
		Action: AppendFromRecipeAction,
		Items:  items,
	})
	if err != nil {
		hlog.FromRequest(req).Warn().Err(err).Int64("list_id", body.ListID).Msg("failed to notify live gateway")
	}

	writeJSON(w, http.StatusOK, struct {
		Items []state.ListItem `json:"items"`
	}{Items: items})
}

func asHandlerError(err error, defaultStatus int) *internal.HandlerError {
	var herr *internal.HandlerError
	if errors.As(err, &herr) {
		return herr
	}
	return &internal.HandlerError{StatusCode: defaultStatus, Err: err}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn().Err(err).Msg("failed to write response")
	}
}

func writeError(w http.ResponseWriter, herr *internal.HandlerError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(herr.StatusCode)
	w.Write(herr.JSON())
}
