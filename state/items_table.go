package state

import (
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/pantrylabs/listsync/sqlutil"
)

// MaxListItems is the sentinel position assigned to an item when it is moved
// across partitions or bulk-appended. It is larger than any legitimate
// position, so the item sorts last within its partition until the next
// Collapse renumbers it into place.
const MaxListItems = 100000

var ErrItemNotFound = errors.New("list item not found")

// ListItem is one entry of a list. Positions are 1-based and dense within
// each (list_id, completed) partition whenever no mutation is in flight.
// Display order is (completed ASC, position ASC).
type ListItem struct {
	ID        int64  `db:"id" json:"id"`
	ListID    int64  `db:"list_id" json:"list_id"`
	Completed bool   `db:"completed" json:"completed"`
	Position  int    `db:"position" json:"position"`
	Content   string `db:"content" json:"content"`
	Notes     string `db:"notes" json:"notes"`
}

type ListItemChunker []ListItem

func (c ListItemChunker) Len() int {
	return len(c)
}
func (c ListItemChunker) Subslice(i, j int) sqlutil.Chunker {
	return c[i:j]
}

// ItemsTable stores the ordered items of every list.
type ItemsTable struct{}

func NewItemsTable(db *sqlx.DB) *ItemsTable {
	// make sure tables are made
	db.MustExec(`
	CREATE SEQUENCE IF NOT EXISTS listsync_items_seq;
	CREATE TABLE IF NOT EXISTS listsync_items (
		id BIGINT NOT NULL PRIMARY KEY DEFAULT nextval('listsync_items_seq'),
		list_id BIGINT NOT NULL,
		completed BOOLEAN NOT NULL DEFAULT FALSE,
		"position" INTEGER NOT NULL,
		content TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS listsync_items_list_idx ON listsync_items(list_id);
	`)
	return &ItemsTable{}
}

// SelectItems returns every item of the list in display order.
func (t *ItemsTable) SelectItems(txn *sqlx.Tx, listID int64) ([]ListItem, error) {
	items := []ListItem{}
	err := txn.Select(&items, `
	SELECT id, list_id, completed, "position", content, notes FROM listsync_items
	WHERE list_id = $1 ORDER BY completed ASC, "position" ASC`, listID)
	return items, err
}

// Insert appends a new item at the end of its partition: position is the
// current partition count + 1, so no other item needs to shift.
func (t *ItemsTable) Insert(txn *sqlx.Tx, item ListItem) (id int64, err error) {
	var count int
	err = txn.QueryRow(
		`SELECT count(*) FROM listsync_items WHERE list_id = $1 AND completed = $2`,
		item.ListID, item.Completed,
	).Scan(&count)
	if err != nil {
		return 0, err
	}
	err = txn.QueryRow(`
	INSERT INTO listsync_items(list_id, completed, "position", content, notes)
	VALUES($1, $2, $3, $4, $5) RETURNING id`,
		item.ListID, item.Completed, count+1, item.Content, item.Notes,
	).Scan(&id)
	return
}

// Delete removes the item. Run Collapse afterwards to close the gap it left.
// Deleting an item which doesn't exist is a no-op.
func (t *ItemsTable) Delete(txn *sqlx.Tx, listID, itemID int64) error {
	_, err := txn.Exec(
		`DELETE FROM listsync_items WHERE list_id = $1 AND id = $2`, listID, itemID,
	)
	return err
}

// SetCompleted flips the item into the other partition, parking it at the
// sentinel position so the next Collapse lands it at the end of its new
// partition without needing to know that partition's size. Items already in
// the target partition are left untouched.
func (t *ItemsTable) SetCompleted(txn *sqlx.Tx, listID, itemID int64, completed bool) error {
	_, err := txn.Exec(`
	UPDATE listsync_items SET completed = $3, "position" = $4
	WHERE list_id = $1 AND id = $2 AND completed <> $3`,
		listID, itemID, completed, MaxListItems,
	)
	return err
}

// SetPosition moves the item to the target position within its partition,
// shifting the items in between by one to keep positions dense. The target is
// clamped to [1, partition count] so clients can drag an item past either end
// of the list. Returns ErrItemNotFound if the item isn't in the list.
func (t *ItemsTable) SetPosition(txn *sqlx.Tx, listID, itemID int64, target int) error {
	var old ListItem
	err := txn.Get(&old, `
	SELECT id, list_id, completed, "position", content, notes FROM listsync_items
	WHERE list_id = $1 AND id = $2`, listID, itemID)
	if err == sql.ErrNoRows {
		return ErrItemNotFound
	}
	if err != nil {
		return err
	}

	_, err = txn.Exec(`
	WITH partition_size AS (
		SELECT count(*) AS num_items FROM listsync_items
		WHERE list_id = $1 AND completed = $2
	)
	UPDATE listsync_items SET "position" = least(greatest($3, 1), partition_size.num_items)
	FROM partition_size
	WHERE id = $4`, listID, old.Completed, target, itemID)
	if err != nil {
		return err
	}

	// Shift the other items in the affected range to re-close the sequence.
	// The moved item is excluded from the predicate so it isn't moved twice.
	// The unclamped target is a safe range bound: positions beyond the
	// partition count don't exist, so the range degenerates to the clamped one.
	if target > old.Position {
		_, err = txn.Exec(`
		UPDATE listsync_items SET "position" = "position" - 1
		WHERE list_id = $1 AND completed = $2 AND id <> $3
		AND "position" >= $4 AND "position" <= $5`,
			listID, old.Completed, itemID, old.Position, target)
	} else if target < old.Position {
		_, err = txn.Exec(`
		UPDATE listsync_items SET "position" = "position" + 1
		WHERE list_id = $1 AND completed = $2 AND id <> $3
		AND "position" >= $4 AND "position" <= $5`,
			listID, old.Completed, itemID, target, old.Position)
	}
	return err
}

// SetContent updates the item's content. No positional effect.
func (t *ItemsTable) SetContent(txn *sqlx.Tx, listID, itemID int64, content string) error {
	_, err := txn.Exec(
		`UPDATE listsync_items SET content = $3 WHERE list_id = $1 AND id = $2`,
		listID, itemID, content,
	)
	return err
}

// SetNotes updates the item's notes. No positional effect.
func (t *ItemsTable) SetNotes(txn *sqlx.Tx, listID, itemID int64, notes string) error {
	_, err := txn.Exec(
		`UPDATE listsync_items SET notes = $3 WHERE list_id = $1 AND id = $2`,
		listID, itemID, notes,
	)
	return err
}

// Clear deletes every item of the list. The empty list is trivially dense so
// no Collapse is needed afterwards.
func (t *ItemsTable) Clear(txn *sqlx.Tx, listID int64) error {
	_, err := txn.Exec(`DELETE FROM listsync_items WHERE list_id = $1`, listID)
	return err
}

// BulkAppend inserts the given items as not-completed at positions beyond the
// sentinel, preserving their relative order. Run Collapse afterwards to
// renumber them onto the end of the partition.
func (t *ItemsTable) BulkAppend(txn *sqlx.Tx, listID int64, items []ListItem) error {
	if len(items) == 0 {
		return nil
	}
	rows := make([]ListItem, len(items))
	for i := range items {
		rows[i] = ListItem{
			ListID:    listID,
			Completed: false,
			Position:  MaxListItems + i,
			Content:   items[i].Content,
			Notes:     items[i].Notes,
		}
	}
	chunks := sqlutil.Chunkify(5, MaxPostgresParameters, ListItemChunker(rows))
	for _, chunk := range chunks {
		_, err := txn.NamedExec(`
		INSERT INTO listsync_items (list_id, completed, "position", content, notes)
		VALUES (:list_id, :completed, :position, :content, :notes)`, chunk)
		if err != nil {
			return err
		}
	}
	return nil
}

// Collapse renumbers every partition of the list so positions are exactly
// 1..count again, ranking items by their current position with insertion
// order breaking ties. Collapsing an already-dense list is a no-op, which is
// what makes it safe to run after every delete, toggle and bulk append.
// Returns the full item list in display order.
func (t *ItemsTable) Collapse(txn *sqlx.Tx, listID int64) ([]ListItem, error) {
	items := []ListItem{}
	err := txn.Select(&items, `
	WITH updated AS (
		UPDATE listsync_items
		SET "position" = ranked.position_in_row
		FROM (
			SELECT id, row_number() OVER (
				PARTITION BY completed
				ORDER BY "position", id
			) AS position_in_row
			FROM listsync_items
			WHERE listsync_items.list_id = $1
		) AS ranked
		WHERE ranked.id = listsync_items.id
		RETURNING listsync_items.*
	)
	SELECT id, list_id, completed, "position", content, notes FROM updated
	ORDER BY completed ASC, "position" ASC`, listID)
	return items, err
}
