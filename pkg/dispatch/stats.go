package dispatch

import (
	"encoding/json"

	"github.com/cachegrid/rowcache/pkg/hashindex"
	"github.com/cachegrid/rowcache/pkg/table"
)

type indexStats struct {
	ID             byte    `json:"id"`
	Capacity       int     `json:"capacity"`
	Used           int     `json:"used"`
	LoadFactor     float64 `json:"load_factor"`
	Queries        int64   `json:"queries"`
	Discards       int64   `json:"discards"`
	ProbeHistogram []int64 `json:"probe_histogram"`
}

type tableStats struct {
	ID         byte         `json:"id"`
	Rows       int          `json:"rows"`
	ArenaBytes int          `json:"arena_bytes"`
	ArenaCap   int          `json:"arena_cap"`
	LastLoaded int64        `json:"last_loaded"`
	Indexes    []indexStats `json:"indexes"`
}

type statsDoc struct {
	Backend string       `json:"backend"`
	Tables  []tableStats `json:"tables"`
}

// statsIndexBudget caps how many per-index entries are rendered for a
// single table; indexes past the cap are left out of the document,
// keeping it near the 10 KiB response budget even for a pathologically
// wide table. The aggregate-only fallback (degradedStats) applies only
// when the whole document still exceeds 10 KiB.
const statsIndexBudget = 64

// BuildStats samples every registered table's arena and hash-index
// counters into a JSON document bounded at 10 KiB. It runs on the
// serving thread and must not block: every value it reads is either a
// plain struct field or an unsynchronized counter private to this
// thread (see hashindex.Index.Stats). backend names the active event
// loop readiness implementation (eventloop.Loop.Name()), surfaced for
// operational diagnosis.
func BuildStats(reg *table.Registry, backend string) []byte {
	tables := reg.All()
	doc := statsDoc{Backend: backend, Tables: make([]tableStats, 0, len(tables))}
	for _, t := range tables {
		snap := t.Current()
		st := t.Stats()
		ts := tableStats{
			ID:         t.ID,
			Rows:       st.Rows,
			ArenaBytes: snap.Arena.Used(),
			ArenaCap:   snap.Arena.Capacity(),
			LastLoaded: st.LastLoadedEpoch,
			Indexes:    make([]indexStats, 0, len(snap.Indexes)),
		}
		for i, idx := range snap.Indexes {
			if i >= statsIndexBudget {
				break
			}
			ts.Indexes = append(ts.Indexes, toIndexStats(t.Indexes[i].ID, idx.Stats()))
		}
		doc.Tables = append(doc.Tables, ts)
	}

	b, err := json.Marshal(doc)
	if err != nil {
		// Stats types are all plain numbers and strings; a marshal
		// error here can only mean a future field addition broke that
		// invariant. Degrade to an empty, still-valid document rather
		// than block or crash the serving thread.
		return []byte(`{"tables":[]}`)
	}
	if len(b) > 10*1024 {
		return degradedStats(doc)
	}
	return b
}

func toIndexStats(id byte, s hashindex.Stats) indexStats {
	return indexStats{
		ID:             id,
		Capacity:       s.Capacity,
		Used:           s.Used,
		LoadFactor:     s.LoadFactor,
		Queries:        s.Queries,
		Discards:       s.Discards,
		ProbeHistogram: s.ProbeHistogram[:],
	}
}

// degradedStats drops per-index detail, keeping only table-level
// aggregates, for the rare configuration wide enough to blow the 10
// KiB budget even under statsIndexBudget.
func degradedStats(doc statsDoc) []byte {
	for i := range doc.Tables {
		doc.Tables[i].Indexes = nil
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return []byte(`{"tables":[]}`)
	}
	return b
}
