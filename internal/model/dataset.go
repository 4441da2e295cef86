package model

// Dataset is the normalized output of one harvest: a single source and a
// single kind. Only the slice matching Kind is populated.
type Dataset struct {
	Source   Source
	Kind     Kind
	Stores   []StoreRecord
	Products []ProductRecord
}

// Len returns the number of records of the dataset's kind.
func (d Dataset) Len() int {
	if d.Kind == KindProducts {
		return len(d.Products)
	}
	return len(d.Stores)
}

// Columns returns the raw-tier columns for the dataset's kind.
func (d Dataset) Columns() []string {
	if d.Kind == KindProducts {
		return ProductColumns
	}
	return StoreColumns
}

// Rows renders every record as text values in Columns order.
func (d Dataset) Rows() [][]any {
	if d.Kind == KindProducts {
		rows := make([][]any, 0, len(d.Products))
		for _, p := range d.Products {
			rows = append(rows, p.Texts())
		}
		return rows
	}

	rows := make([][]any, 0, len(d.Stores))
	for _, s := range d.Stores {
		rows = append(rows, s.Texts())
	}
	return rows
}
