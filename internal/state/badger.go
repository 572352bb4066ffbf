package state

import (
	"context"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// BadgerStore keeps state in an embedded Badger database.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens a Badger database at path, or in memory when inMemory is set.
func OpenBadger(path string, inMemory bool, log zerolog.Logger) (*badger.DB, error) {
	var opts badger.Options
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0750); err != nil {
			return nil, errors.Wrapf(err, "state: create badger directory %s", path)
		}
		opts = badger.DefaultOptions(path)
	}
	opts = opts.WithLogger(badgerLogger{log: log})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "state: open badger")
	}
	return db, nil
}

// NewBadgerStore wraps an open database.
func NewBadgerStore(db *badger.DB) (*BadgerStore, error) {
	if db == nil {
		return nil, errors.New("state: badger db is required")
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Get(ctx context.Context, botUsername string, chatID int64) (*ConversationState, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(Key(botUsername, chatID)))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, persistErr(err, "badger get")
	}
	return decode(data)
}

func (s *BadgerStore) Put(ctx context.Context, st *ConversationState) error {
	data, err := encode(st)
	if err != nil {
		return persistErr(err, "encode")
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(st.Key()), data)
	})
	if err != nil {
		return persistErr(err, "badger set")
	}
	return nil
}

// badgerLogger routes Badger's internal logging through zerolog.
type badgerLogger struct {
	log zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error().Msgf("badger: "+format, args...)
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn().Msgf("badger: "+format, args...)
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Debug().Msgf("badger: "+format, args...)
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Trace().Msgf("badger: "+format, args...)
}
