package engine_util

import (
	"os"

	"github.com/Connor1996/badger"

	"github.com/latticedb/core/log"
)

// CreateDB opens (creating if absent) a single Badger instance at dir,
// sized for a long-lived process that keeps one connection open for the
// server's lifetime rather than reopening per call.
func CreateDB(dir string) (*badger.DB, error) {
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return nil, err
	}
	opts := badger.DefaultOptions
	opts.Dir = dir
	opts.ValueDir = dir
	opts.SyncWrites = true
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	log.Infof("opened badger store at %s", dir)
	return db, nil
}
