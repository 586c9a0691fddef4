package bamprovider

import (
	"github.com/biogo/hts/sam"
)

// errorIterator is returned for shards that can't be read at all.
type errorIterator struct {
	err error
}

func (i *errorIterator) Scan() bool          { return false }
func (i *errorIterator) Record() *sam.Record { panic("bamprovider: Record called on a failed iterator") }
func (i *errorIterator) Err() error          { return i.err }
func (i *errorIterator) Close() error        { return i.err }

// NewErrorIterator returns an Iterator that yields no records. Its Err and
// Close return err.
func NewErrorIterator(err error) Iterator {
	return &errorIterator{err: err}
}
