package table

// Registry is an O(1) table_id -> Table lookup populated once at
// configuration time and never mutated afterward.
type Registry struct {
	byID [256]*Table
}

// NewRegistry builds a registry from a configured table set.
func NewRegistry(tables []*Table) *Registry {
	r := &Registry{}
	for _, t := range tables {
		r.byID[t.ID] = t
	}
	return r
}

// Lookup returns the table for id, or ok=false if unconfigured.
func (r *Registry) Lookup(id byte) (*Table, bool) {
	t := r.byID[id]
	return t, t != nil
}

// All returns every configured table, in id order skipped for gaps.
func (r *Registry) All() []*Table {
	tables := make([]*Table, 0, 16)
	for _, t := range r.byID {
		if t != nil {
			tables = append(tables, t)
		}
	}
	return tables
}
