package pebbledb

import (
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/moatlabs/surge/db"
)

func TestWriteTx(t *testing.T) {
	c := qt.New(t)

	database, err := New(db.Options{Path: t.TempDir()})
	c.Assert(err, qt.IsNil)
	defer func() { c.Assert(database.Close(), qt.IsNil) }()

	tx := database.WriteTx()
	c.Assert(tx.Set([]byte("a"), []byte("1")), qt.IsNil)
	c.Assert(tx.Set([]byte("b"), []byte("2")), qt.IsNil)

	// Reads within the tx see pending writes; the database does not yet.
	v, err := tx.Get([]byte("a"))
	c.Assert(err, qt.IsNil)
	c.Assert(string(v), qt.Equals, "1")
	_, err = database.Get([]byte("a"))
	c.Assert(err, qt.Equals, db.ErrKeyNotFound)

	c.Assert(tx.Commit(), qt.IsNil)
	v, err = database.Get([]byte("b"))
	c.Assert(err, qt.IsNil)
	c.Assert(string(v), qt.Equals, "2")

	// Double commit is rejected.
	c.Assert(tx.Commit(), qt.Equals, db.ErrTxDone)
}

func TestIterate(t *testing.T) {
	c := qt.New(t)

	database, err := New(db.Options{Path: t.TempDir()})
	c.Assert(err, qt.IsNil)
	defer func() { c.Assert(database.Close(), qt.IsNil) }()

	tx := database.WriteTx()
	for _, kv := range [][2]string{{"p/1", "a"}, {"p/2", "b"}, {"q/1", "c"}} {
		c.Assert(tx.Set([]byte(kv[0]), []byte(kv[1])), qt.IsNil)
	}
	c.Assert(tx.Commit(), qt.IsNil)

	var keys []string
	err = database.Iterate([]byte("p/"), func(k, _ []byte) bool {
		keys = append(keys, string(k))
		return true
	})
	c.Assert(err, qt.IsNil)
	c.Assert(keys, qt.DeepEquals, []string{"p/1", "p/2"})
}

func TestDelete(t *testing.T) {
	c := qt.New(t)

	database, err := New(db.Options{Path: t.TempDir()})
	c.Assert(err, qt.IsNil)
	defer func() { c.Assert(database.Close(), qt.IsNil) }()

	tx := database.WriteTx()
	c.Assert(tx.Set([]byte("k"), []byte("v")), qt.IsNil)
	c.Assert(tx.Commit(), qt.IsNil)

	tx = database.WriteTx()
	c.Assert(tx.Delete([]byte("k")), qt.IsNil)
	c.Assert(tx.Commit(), qt.IsNil)

	_, err = database.Get([]byte("k"))
	c.Assert(err, qt.Equals, db.ErrKeyNotFound)
}
