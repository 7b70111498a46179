package state

import (
	"os"

	"github.com/getsentry/sentry-go"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/pantrylabs/listsync/internal"
	"github.com/pantrylabs/listsync/sqlutil"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Logger().Output(zerolog.ConsoleWriter{
	Out:        os.Stderr,
	TimeFormat: "15:04:05",
})

// Max number of parameters in a single SQL command
const MaxPostgresParameters = 65535

// Storage owns the database handle. Every mutating operation runs in one
// transaction and returns the complete, freshly re-read item list in display
// order: clients are sent full snapshots, never deltas.
type Storage struct {
	DB         *sqlx.DB
	ItemsTable *ItemsTable
}

func NewStorage(postgresURI string) *Storage {
	db, err := sqlx.Open("postgres", postgresURI)
	if err != nil {
		sentry.CaptureException(err)
		logger.Panic().Err(err).Str("uri", postgresURI).Msg("failed to open SQL DB")
	}
	return NewStorageWithDB(db)
}

func NewStorageWithDB(db *sqlx.DB) *Storage {
	return &Storage{
		DB:         db,
		ItemsTable: NewItemsTable(db),
	}
}

// Items returns the list's items in display order without mutating anything.
func (s *Storage) Items(listID int64) (items []ListItem, err error) {
	err = sqlutil.WithTransaction(s.DB, func(txn *sqlx.Tx) error {
		items, err = s.ItemsTable.SelectItems(txn, listID)
		return err
	})
	return
}

// AddItem inserts the item at the end of its partition.
func (s *Storage) AddItem(item ListItem) (items []ListItem, err error) {
	err = sqlutil.WithTransaction(s.DB, func(txn *sqlx.Tx) error {
		if _, err := s.ItemsTable.Insert(txn, item); err != nil {
			return err
		}
		items, err = s.ItemsTable.SelectItems(txn, item.ListID)
		return err
	})
	return
}

// DeleteItem removes the item and collapses the gap it left.
func (s *Storage) DeleteItem(listID, itemID int64) (items []ListItem, err error) {
	err = sqlutil.WithTransaction(s.DB, func(txn *sqlx.Tx) error {
		if err := s.ItemsTable.Delete(txn, listID, itemID); err != nil {
			return err
		}
		items, err = s.ItemsTable.Collapse(txn, listID)
		return err
	})
	assertSnapshotDense(items)
	return
}

// SetItemCompleted moves the item to the end of the other partition. Flipping
// an item which is already in the target partition is a no-op.
func (s *Storage) SetItemCompleted(listID, itemID int64, completed bool) (items []ListItem, err error) {
	err = sqlutil.WithTransaction(s.DB, func(txn *sqlx.Tx) error {
		if err := s.ItemsTable.SetCompleted(txn, listID, itemID, completed); err != nil {
			return err
		}
		items, err = s.ItemsTable.Collapse(txn, listID)
		return err
	})
	assertSnapshotDense(items)
	return
}

// SetItemPosition reorders the item within its partition. The target position
// is clamped to the partition bounds.
func (s *Storage) SetItemPosition(listID, itemID int64, target int) (items []ListItem, err error) {
	err = sqlutil.WithTransaction(s.DB, func(txn *sqlx.Tx) error {
		if err := s.ItemsTable.SetPosition(txn, listID, itemID, target); err != nil {
			return err
		}
		items, err = s.ItemsTable.SelectItems(txn, listID)
		return err
	})
	return
}

// SetItemContent edits the item's content in place.
func (s *Storage) SetItemContent(listID, itemID int64, content string) (items []ListItem, err error) {
	err = sqlutil.WithTransaction(s.DB, func(txn *sqlx.Tx) error {
		if err := s.ItemsTable.SetContent(txn, listID, itemID, content); err != nil {
			return err
		}
		items, err = s.ItemsTable.SelectItems(txn, listID)
		return err
	})
	return
}

// SetItemNotes edits the item's notes in place.
func (s *Storage) SetItemNotes(listID, itemID int64, notes string) (items []ListItem, err error) {
	err = sqlutil.WithTransaction(s.DB, func(txn *sqlx.Tx) error {
		if err := s.ItemsTable.SetNotes(txn, listID, itemID, notes); err != nil {
			return err
		}
		items, err = s.ItemsTable.SelectItems(txn, listID)
		return err
	})
	return
}

// ClearItems deletes every item of the list.
func (s *Storage) ClearItems(listID int64) (items []ListItem, err error) {
	err = sqlutil.WithTransaction(s.DB, func(txn *sqlx.Tx) error {
		return s.ItemsTable.Clear(txn, listID)
	})
	return []ListItem{}, err
}

// AppendItems bulk-inserts items (e.g. all the ingredients of a recipe) onto
// the end of the not-completed partition, preserving their relative order.
func (s *Storage) AppendItems(listID int64, toAppend []ListItem) (items []ListItem, err error) {
	err = sqlutil.WithTransaction(s.DB, func(txn *sqlx.Tx) error {
		if err := s.ItemsTable.BulkAppend(txn, listID, toAppend); err != nil {
			return err
		}
		items, err = s.ItemsTable.Collapse(txn, listID)
		return err
	})
	assertSnapshotDense(items)
	return
}

// assertSnapshotDense checks the at-rest invariant on a freshly collapsed snapshot:
// within each partition, positions read exactly 1..count. Items arrive in
// display order so a single pass with one counter per partition suffices.
func assertSnapshotDense(items []ListItem) {
	next := map[bool]int{}
	for _, item := range items {
		next[item.Completed]++
		internal.Assert("positions are dense after collapse", item.Position == next[item.Completed])
	}
}

func (s *Storage) Teardown() {
	err := s.DB.Close()
	if err != nil {
		panic("Storage.Teardown: " + err.Error())
	}
}
