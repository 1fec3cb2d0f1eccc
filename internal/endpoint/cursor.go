package endpoint

// SliceCursor implements Cursor over an in-memory slice of records.
type SliceCursor struct {
	columns []string
	records []Record
	index   int
	err     error
	done    bool
	closed  bool
}

// NewSliceCursor creates a cursor over records. A non-nil err is reported by
// Err once the records are exhausted, mimicking a backend failing mid-stream.
func NewSliceCursor(columns []string, records []Record, err error) *SliceCursor {
	return &SliceCursor{columns: columns, records: records, index: -1, err: err}
}

func (c *SliceCursor) Next() bool {
	if c.closed {
		return false
	}
	if c.index < len(c.records)-1 {
		c.index++
		return true
	}
	c.done = true
	return false
}

func (c *SliceCursor) Value() Record {
	if c.index >= 0 && c.index < len(c.records) {
		return c.records[c.index]
	}
	return nil
}

func (c *SliceCursor) Err() error {
	if c.done {
		return c.err
	}
	return nil
}

func (c *SliceCursor) Columns() []string { return c.columns }

func (c *SliceCursor) Close() error {
	c.closed = true
	c.records = nil
	return nil
}
