package strategy

import (
	"context"
	"fmt"
	"reflect"

	"github.com/schemaops/migrate-orchestrator/driver"
)

// diffAgainstSource looks up the source counterpart of each sampled record
// by id and reports the first field whose value differs. Fields named in
// skip are ignored, as are fields present in only one copy; the migration
// itself adds and removes those.
func diffAgainstSource(ctx context.Context, d driver.Driver, source string, sample []driver.Record, skip map[string]bool) error {
	for _, record := range sample {
		id, ok := record["id"]
		if !ok {
			continue
		}
		want, err := d.FetchRecord(ctx, source, id)
		if err != nil {
			return fmt.Errorf("source lookup for id %v: %w", id, err)
		}
		for field, got := range record {
			if skip[field] {
				continue
			}
			expected, present := want[field]
			if !present {
				continue
			}
			if !reflect.DeepEqual(got, expected) {
				return fmt.Errorf("record %v differs from source in field %q: %v vs %v", id, field, expected, got)
			}
		}
	}
	return nil
}
