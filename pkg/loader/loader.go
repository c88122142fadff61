// Package loader rebuilds a table's idle snapshot from its database
// adapter, finalizes the hash indexes, and publishes the result by
// flipping the table's current slot. It is invoked by the reload
// scheduler and never runs concurrently with itself for the same
// table.
package loader

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cachegrid/rowcache/pkg/hashindex"
	"github.com/cachegrid/rowcache/pkg/log"
	"github.com/cachegrid/rowcache/pkg/metrics"
	"github.com/cachegrid/rowcache/pkg/source"
	"github.com/cachegrid/rowcache/pkg/table"
	"github.com/google/uuid"
)

// Options configures one table's reload behavior beyond what
// table.Table itself carries.
type Options struct {
	Descriptor source.TableDescriptor
	StripNull  bool
}

// Reload performs one end-to-end rebuild of tbl's idle slot against
// adapter and, on success, publishes it. On any failure the idle slot
// is left in whatever state it reached, the current slot is not
// flipped, and the table's stats are not updated — the next scheduler
// tick will retry.
func Reload(ctx context.Context, tbl *table.Table, adapter source.DatabaseAdapter, opts Options) error {
	genID := uuid.New().String()
	logger := log.WithTable(tbl.Name)
	start := time.Now()

	rowCount, err := adapter.CountRows(ctx, opts.Descriptor)
	if err != nil {
		logger.Error().Err(err).Str("generation", genID).Msg("count_rows failed, keeping active snapshot")
		metrics.ReloadsTotal.WithLabelValues(tbl.Name, "failed").Inc()
		return fmt.Errorf("count rows for %s: %w", tbl.Name, err)
	}

	hashCap := hashindex.Capacity(int(rowCount))
	a := tbl.IdleSnapshot().Arena
	a.Reset()

	indexes := make([]*hashindex.Index, len(tbl.Indexes))
	for i := range indexes {
		indexes[i] = hashindex.Build(a, hashCap)
	}

	var minID, maxID int64
	hasIntStats := false
	rows := 0

	err = adapter.IterateRows(ctx, opts.Descriptor, func(row source.Row) error {
		payload, err := encodeRow(row, opts.StripNull)
		if err != nil {
			return err
		}
		frameOff := a.StoreFramed(payload)
		frameLen := uint32(4 + len(payload))

		for i, idxCfg := range tbl.Indexes {
			keyBytes, ok, err := extractKey(row, idxCfg)
			if err != nil {
				return fmt.Errorf("extract key for index %s: %w", idxCfg.Column, err)
			}
			if !ok {
				continue
			}
			keyOff := a.Store(keyBytes)
			if err := indexes[i].Insert(keyBytes, keyOff, frameOff, frameLen); err != nil {
				return fmt.Errorf("insert into index %s: %w", idxCfg.Column, err)
			}
			if idxCfg.Type == table.IndexTypeInt && i == 0 {
				id := int64(binary.LittleEndian.Uint32(keyBytes))
				if !hasIntStats || id < minID {
					minID = id
				}
				if !hasIntStats || id > maxID {
					maxID = id
				}
				hasIntStats = true
			}
		}
		rows++
		return nil
	})
	if err != nil {
		logger.Error().Err(err).Str("generation", genID).Msg("iterate_rows failed, keeping active snapshot")
		metrics.ReloadsTotal.WithLabelValues(tbl.Name, "failed").Inc()
		return fmt.Errorf("iterate rows for %s: %w", tbl.Name, err)
	}

	for _, idx := range indexes {
		idx.Finalize()
	}

	tbl.SetIdleSnapshot(&table.Snapshot{Arena: a, Indexes: indexes})
	tbl.Publish()
	metrics.ReloadDuration.WithLabelValues(tbl.Name).Observe(time.Since(start).Seconds())
	metrics.ReloadsTotal.WithLabelValues(tbl.Name, "ok").Inc()
	tbl.SetStats(table.Stats{
		LastLoadedEpoch: time.Now().Unix(),
		Rows:            rows,
		MinID:           minID,
		MaxID:           maxID,
		HasIntStats:     hasIntStats,
	})

	logger.Info().
		Str("generation", genID).
		Int("rows", rows).
		Dur("elapsed", time.Since(start)).
		Msg("reload complete")
	return nil
}

// encodeRow turns a database row into the wire payload: a JSON object
// of column name -> value. Null columns are omitted when stripNull is
// set, matching the configuration contract's strip_null option.
func encodeRow(row source.Row, stripNull bool) ([]byte, error) {
	obj := make(map[string]any, len(row))
	for _, col := range row {
		if col.IsNull {
			if stripNull {
				continue
			}
			obj[col.Name] = nil
			continue
		}
		obj[col.Name] = json.RawMessage(jsonString(col.Value))
	}
	return json.Marshal(obj)
}

// jsonString renders a raw column value as a JSON string literal
// unless it is already a valid JSON number, matching how a row's
// string/text columns are expected to serialize (numbers pass through
// unquoted so ids print as 42, not "42").
func jsonString(v []byte) []byte {
	if isJSONNumber(v) {
		return v
	}
	encoded, _ := json.Marshal(string(v))
	return encoded
}

func isJSONNumber(v []byte) bool {
	if len(v) == 0 {
		return false
	}
	var f float64
	return json.Unmarshal(v, &f) == nil
}

// extractKey pulls the bytes for a configured index's column out of a
// row, encoded as the wire expects: 4-byte little-endian for int keys
// (matching the fetch examples in the protocol's end-to-end
// scenarios — id 42 is sent as `2A 00 00 00`), raw bytes for string
// keys.
func extractKey(row source.Row, idxCfg table.IndexConfig) ([]byte, bool, error) {
	for _, col := range row {
		if col.Name != idxCfg.Column {
			continue
		}
		if col.IsNull {
			return nil, false, nil
		}
		switch idxCfg.Type {
		case table.IndexTypeInt:
			var n int64
			if err := json.Unmarshal(col.Value, &n); err != nil {
				return nil, false, fmt.Errorf("column %s is not an integer: %w", col.Name, err)
			}
			b := make([]byte, 4)
			binary.LittleEndian.PutUint32(b, uint32(n))
			return b, true, nil
		case table.IndexTypeString:
			return col.Value, true, nil
		default:
			return nil, false, fmt.Errorf("unknown index type for column %s", col.Name)
		}
	}
	return nil, false, nil
}
