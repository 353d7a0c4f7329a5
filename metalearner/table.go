package metalearner

import (
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/causalgo/pkg/errors"
)

// Table is a row-aligned feature table with named columns. It satisfies
// mat.Matrix, so it can be passed anywhere a plain matrix is accepted;
// additionally it enables by-name feature subsets.
type Table struct {
	*mat.Dense
	columns []string
	byName  map[string]int
}

// NewTable wraps data with column names. The number of names must match the
// number of columns.
func NewTable(data *mat.Dense, columns []string) (*Table, error) {
	_, c := data.Dims()
	if len(columns) != c {
		return nil, errors.NewDimensionError("NewTable", c, len(columns), 1)
	}
	byName := make(map[string]int, len(columns))
	for i, name := range columns {
		if _, dup := byName[name]; dup {
			return nil, errors.NewValidationError("columns", "duplicate column name", name)
		}
		byName[name] = i
	}
	return &Table{Dense: data, columns: columns, byName: byName}, nil
}

// Columns returns the column names in order.
func (t *Table) Columns() []string {
	return t.columns
}

// ColumnIndex returns the position of the named column.
func (t *Table) ColumnIndex(name string) (int, bool) {
	i, ok := t.byName[name]
	return i, ok
}

// FeatureSet selects the feature columns one model slot sees.
//
// A nil *FeatureSet means all columns. A non-nil FeatureSet with neither
// Columns nor Names selects no present column: the model input is a single
// synthetic all-ones column. Names require a *Table input.
type FeatureSet struct {
	Columns []int
	Names   []string
}

// AllColumns is the nil FeatureSet, spelled out for readable call sites.
var AllColumns *FeatureSet

// NoColumns selects the synthetic all-ones column.
func NoColumns() *FeatureSet { return &FeatureSet{} }

// ByPosition selects columns by position.
func ByPosition(cols ...int) *FeatureSet { return &FeatureSet{Columns: cols} }

// ByName selects columns by name; the input must be a *Table.
func ByName(names ...string) *FeatureSet { return &FeatureSet{Names: names} }

// filterX projects X to the slot's feature subset.
func filterX(X mat.Matrix, fs *FeatureSet) (mat.Matrix, error) {
	if fs == nil {
		return X, nil
	}

	n, cols := X.Dims()
	if len(fs.Columns) == 0 && len(fs.Names) == 0 {
		// Degenerate "no features" model: a single all-ones column.
		ones := mat.NewDense(n, 1, nil)
		for i := 0; i < n; i++ {
			ones.Set(i, 0, 1)
		}
		return ones, nil
	}

	positions := fs.Columns
	if len(fs.Names) > 0 {
		table, ok := X.(*Table)
		if !ok {
			return nil, errors.NewValidationError("feature_set",
				"column names can only be used with a *Table input", fs.Names)
		}
		positions = make([]int, len(fs.Names))
		for i, name := range fs.Names {
			idx, ok := table.ColumnIndex(name)
			if !ok {
				return nil, errors.NewValidationError("feature_set", "unknown column name", name)
			}
			positions[i] = idx
		}
	}

	projected := mat.NewDense(n, len(positions), nil)
	for j, src := range positions {
		if src < 0 || src >= cols {
			return nil, errors.NewValidationError("feature_set", "column index out of range", src)
		}
		for i := 0; i < n; i++ {
			projected.Set(i, j, X.At(i, src))
		}
	}
	return projected, nil
}
