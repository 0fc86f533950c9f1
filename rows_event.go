package slave

// RowsEvent is a WRITE/UPDATE/DELETE_ROWS event. decode consumes the
// post-header and the columns-present bitmaps; the row images that
// follow are pulled by decodeRows once the table layout is known.
//
// https://dev.mysql.com/doc/internals/en/rows-event.html
type RowsEvent struct {
	Type       EventType
	TableID    uint64
	Flags      uint16
	NumColumns uint64

	present [2]bitmap
}

func (e *RowsEvent) decode(r *reader, typ EventType) error {
	e.Type = typ
	if r.fde.postHeaderLength(typ, 8) == 6 {
		e.TableID = uint64(r.int4())
	} else {
		e.TableID = r.int6()
	}
	e.Flags = r.int2()
	switch typ {
	case WRITE_ROWS_EVENTv2, UPDATE_ROWS_EVENTv2, DELETE_ROWS_EVENTv2:
		extraDataLength := r.int2()
		if r.err != nil {
			return r.err
		}
		if extraDataLength < 2 {
			return ErrMalformedFrame
		}
		r.skip(int(extraDataLength) - 2)
	}
	e.NumColumns = r.intN()
	if r.err != nil {
		return r.err
	}

	e.present[0] = r.bytes(bitmapSize(e.NumColumns))
	if e.Type.IsUpdateRows() {
		e.present[1] = r.bytes(bitmapSize(e.NumColumns))
	}
	return r.err
}

// Kind reports the change kind of this event.
func (e *RowsEvent) Kind() EventKind {
	return eventKindOf(e.Type)
}

// RowChange is one row of a rows event. Update carries both images,
// Insert only After, Delete only Before.
type RowChange struct {
	Before RowImage
	After  RowImage
}

// decodeRows decodes the row images of e against the table layout.
func (e *RowsEvent) decodeRows(r *reader, tab *Table) ([]RowChange, error) {
	var changes []RowChange
	for r.more() {
		first, err := e.decodeImage(r, tab, e.present[0])
		if err != nil {
			return changes, err
		}
		switch {
		case e.Type.IsUpdateRows():
			second, err := e.decodeImage(r, tab, e.present[1])
			if err != nil {
				return changes, err
			}
			changes = append(changes, RowChange{Before: first, After: second})
		case e.Type.IsWriteRows():
			changes = append(changes, RowChange{After: first})
		default:
			changes = append(changes, RowChange{Before: first})
		}
	}
	return changes, r.err
}

// decodeImage decodes a single row image: the null bitmap, indexed
// over the present columns, then one value per present non-null column.
func (e *RowsEvent) decodeImage(r *reader, tab *Table, present bitmap) (RowImage, error) {
	numPresent := 0
	for i := 0; i < int(e.NumColumns); i++ {
		if present.isSet(i) {
			numPresent++
		}
	}
	nulls := bitmap(r.bytes(bitmapSize(uint64(numPresent))))
	if r.err != nil {
		return nil, r.err
	}

	img := make(RowImage, numPresent)
	j := 0
	for i := 0; i < int(e.NumColumns); i++ {
		if !present.isSet(i) {
			continue
		}
		col, ok := tab.column(i)
		if !ok {
			return nil, errMalformedField("row has column %d, table %s.%s has %d", i, tab.Database, tab.Table, len(tab.Columns))
		}
		cell := Cell{Type: col.Type}
		if !nulls.isSet(j) {
			v, err := decodeValue(r, col)
			if err != nil {
				return nil, err
			}
			cell.Value = v
		}
		img[col.Name] = cell
		j++
	}
	return img, nil
}
