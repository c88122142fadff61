package dispatch

import (
	"encoding/json"

	"github.com/cachegrid/rowcache/pkg/table"
)

type indexSchema struct {
	ID     byte   `json:"id"`
	Column string `json:"column"`
	Type   string `json:"type"`
}

type tableSchema struct {
	Name    string        `json:"name"`
	ID      byte          `json:"id"`
	Period  float64       `json:"period"`
	Indexes []indexSchema `json:"indexes"`
}

type schemaDoc struct {
	Tables []tableSchema `json:"tables"`
}

// BuildSchema renders the describe-schema payload for the configured
// table list, computed once at startup and cached by the caller.
func BuildSchema(tables []*table.Table) []byte {
	doc := schemaDoc{Tables: make([]tableSchema, 0, len(tables))}
	for _, t := range tables {
		ts := tableSchema{
			Name:    t.Name,
			ID:      t.ID,
			Period:  t.RefreshPeriod.Seconds(),
			Indexes: make([]indexSchema, 0, len(t.Indexes)),
		}
		for _, idx := range t.Indexes {
			ts.Indexes = append(ts.Indexes, indexSchema{
				ID:     idx.ID,
				Column: idx.Column,
				Type:   indexTypeName(idx.Type),
			})
		}
		doc.Tables = append(doc.Tables, ts)
	}
	// Schema is small and computed once; a marshal failure here would
	// mean a bug in the types above, not bad input, so a panic is
	// appropriate at startup rather than a runtime error path.
	b, err := json.Marshal(doc)
	if err != nil {
		panic("dispatch: schema marshal: " + err.Error())
	}
	return b
}

func indexTypeName(t table.IndexType) string {
	switch t {
	case table.IndexTypeInt:
		return "int"
	case table.IndexTypeString:
		return "string"
	default:
		return "unknown"
	}
}
