// Package engine_util wraps Badger with the column-family convention
// the storage driver uses to keep its three logical partitions
// (revisions, index, meta) inside one Badger instance instead of three
// separate databases.
package engine_util

import (
	"github.com/Connor1996/badger"
)

// DBIterator is a cursor over one column family's keys in ascending
// order.
type DBIterator interface {
	Item() DBItem
	Valid() bool
	Next()
	Seek([]byte)
	Close()
}

// DBItem is one key/value pair a DBIterator is currently positioned at.
type DBItem interface {
	Key() []byte
	KeyCopy(dst []byte) []byte
	Value() ([]byte, error)
	ValueSize() int
	ValueCopy(dst []byte) ([]byte, error)
}

// CFItem adapts a badger.Item, stripping the column-family prefix every
// key in this engine carries.
type CFItem struct {
	item      *badger.Item
	prefixLen int
}

func (i *CFItem) String() string { return i.item.String() }

func (i *CFItem) Key() []byte {
	return i.item.Key()[i.prefixLen:]
}

func (i *CFItem) KeyCopy(dst []byte) []byte {
	return i.item.KeyCopy(dst)[i.prefixLen:]
}

func (i *CFItem) Value() ([]byte, error) { return i.item.Value() }

func (i *CFItem) ValueSize() int { return i.item.ValueSize() }

func (i *CFItem) ValueCopy(dst []byte) ([]byte, error) { return i.item.ValueCopy(dst) }

func (i *CFItem) IsDeleted() bool { return i.item.IsDeleted() }

// BadgerIterator walks one column family's keys, in key order.
type BadgerIterator struct {
	iter   *badger.Iterator
	prefix string
}

// NewCFIterator opens an iterator over cf's keys within txn.
func NewCFIterator(cf string, txn *badger.Txn) *BadgerIterator {
	return &BadgerIterator{
		iter:   txn.NewIterator(badger.DefaultIteratorOptions),
		prefix: cf + "_",
	}
}

func (it *BadgerIterator) Item() DBItem {
	return &CFItem{item: it.iter.Item(), prefixLen: len(it.prefix)}
}

func (it *BadgerIterator) Valid() bool { return it.iter.ValidForPrefix([]byte(it.prefix)) }

func (it *BadgerIterator) Close() { it.iter.Close() }

func (it *BadgerIterator) Next() { it.iter.Next() }

func (it *BadgerIterator) Seek(key []byte) {
	it.iter.Seek(append([]byte(it.prefix), key...))
}

func (it *BadgerIterator) Rewind() { it.iter.Rewind() }
