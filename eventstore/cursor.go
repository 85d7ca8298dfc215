package eventstore

// FetchBatchFunc returns the next batch of entries. An empty batch marks
// exhaustion. Implementations must release any statements or result sets
// they open before returning, so that dropping the cursor never leaks
// backend resources.
type FetchBatchFunc func() ([]*DomainEventEntry, error)

type batchCursor struct {
	fetch  FetchBatchFunc
	buf    []*DomainEventEntry
	pos    int
	entry  *DomainEventEntry
	err    error
	done   bool
	closed bool
}

// NewBatchCursor builds an EntryCursor over lazily fetched batches.
func NewBatchCursor(fetch FetchBatchFunc) EntryCursor {
	return &batchCursor{fetch: fetch}
}

func (c *batchCursor) Next() bool {
	if c.closed || c.done || c.err != nil {
		return false
	}
	if c.pos >= len(c.buf) {
		batch, err := c.fetch()
		if err != nil {
			c.err = err
			return false
		}
		if len(batch) == 0 {
			c.done = true
			return false
		}
		c.buf, c.pos = batch, 0
	}
	c.entry = c.buf[c.pos]
	c.pos++
	return true
}

func (c *batchCursor) Entry() *DomainEventEntry { return c.entry }

func (c *batchCursor) Err() error { return c.err }

func (c *batchCursor) Close() error {
	c.closed = true
	c.buf = nil
	return nil
}
