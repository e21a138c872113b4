package store

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/hashicorp/go-memdb"
	"github.com/open-feature/flagwatch/pkg/model"
)

const flagsTable = "flags"

// State holds the flag definitions currently served, keyed by flag key.
// Reads and writes go through memdb transactions, so concurrent evaluations
// always observe a consistent snapshot while a source is being reloaded.
type State struct {
	db *memdb.MemDB
}

func NewFlags() *State {
	schema := &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			flagsTable: {
				Name: flagsTable,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "Key"},
					},
					"source": {
						Name:         "source",
						Unique:       false,
						AllowMissing: true,
						Indexer:      &memdb.StringFieldIndex{Field: "Source"},
					},
				},
			},
		},
	}

	db, err := memdb.NewMemDB(schema)
	if err != nil {
		panic(err)
	}

	return &State{db: db}
}

func (f *State) Get(key string) (model.Flag, bool) {
	txn := f.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(flagsTable, "id", key)
	if err != nil || raw == nil {
		return model.Flag{}, false
	}

	flag, ok := raw.(model.Flag)
	return flag, ok
}

// GetAll returns a copy of the stored flags.
func (f *State) GetAll() (map[string]model.Flag, error) {
	txn := f.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(flagsTable, "id")
	if err != nil {
		return nil, fmt.Errorf("unable to list flags: %w", err)
	}

	flags := map[string]model.Flag{}
	for obj := it.Next(); obj != nil; obj = it.Next() {
		flag := obj.(model.Flag)
		flags[flag.Key] = flag
	}
	return flags, nil
}

// Update replaces every flag owned by source with flags and returns one
// notification per created, updated or deleted key.
func (f *State) Update(source string, flags map[string]model.Flag) (map[string]interface{}, error) {
	notifications := map[string]interface{}{}
	txn := f.db.Txn(true)
	defer txn.Abort()

	it, err := txn.Get(flagsTable, "source", source)
	if err != nil {
		return nil, fmt.Errorf("unable to list flags of source %s: %w", source, err)
	}
	var stale []model.Flag
	for obj := it.Next(); obj != nil; obj = it.Next() {
		stored := obj.(model.Flag)
		if _, ok := flags[stored.Key]; !ok {
			stale = append(stale, stored)
		}
	}
	for _, stored := range stale {
		if err := txn.Delete(flagsTable, stored); err != nil {
			return nil, fmt.Errorf("unable to delete flag %s: %w", stored.Key, err)
		}
		notifications[stored.Key] = map[string]interface{}{
			"type":   string(model.NotificationDelete),
			"source": source,
		}
	}

	for k, newFlag := range flags {
		newFlag.Key = k
		newFlag.Source = source

		raw, err := txn.First(flagsTable, "id", k)
		if err != nil {
			return nil, fmt.Errorf("unable to read flag %s: %w", k, err)
		}
		notificationType := model.NotificationCreate
		if raw != nil {
			if reflect.DeepEqual(raw.(model.Flag), newFlag) {
				continue
			}
			notificationType = model.NotificationUpdate
		}

		if err := txn.Insert(flagsTable, newFlag); err != nil {
			return nil, fmt.Errorf("unable to store flag %s: %w", k, err)
		}
		notifications[k] = map[string]interface{}{
			"type":   string(notificationType),
			"source": source,
		}
	}

	txn.Commit()
	return notifications, nil
}

func (f *State) String() (string, error) {
	flags, err := f.GetAll()
	if err != nil {
		return "", err
	}
	bytes, err := json.Marshal(model.Flags{Flags: flags})
	if err != nil {
		return "", fmt.Errorf("unable to marshal flags: %w", err)
	}

	return string(bytes), nil
}
