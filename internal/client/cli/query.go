package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/synckit/internal/client/models"
	"github.com/dmitrijs2005/synckit/internal/client/query"
	"github.com/dmitrijs2005/synckit/internal/common"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

// queryFlags are the query options shared by read and remove commands.
type queryFlags struct {
	where  []string
	asc    []string
	desc   []string
	fields []string
	near   string
	skip   int
	limit  int
}

func (f *queryFlags) register(cmd *cobra.Command, paging bool) {
	fs := cmd.Flags()
	fs.StringArrayVarP(&f.where, "where", "w", nil, "field=value equality filter, value parsed as JSON when possible (repeatable)")
	fs.StringVar(&f.near, "near", "", "lon,lat,meters: entities within meters of the point")
	if !paging {
		return
	}
	fs.StringArrayVar(&f.asc, "sort", nil, "sort ascending by field (repeatable)")
	fs.StringArrayVar(&f.desc, "sort-desc", nil, "sort descending by field (repeatable)")
	fs.StringSliceVar(&f.fields, "fields", nil, "return only these fields; results are not cached")
	fs.IntVar(&f.skip, "skip", 0, "skip the first n results")
	fs.IntVar(&f.limit, "limit", 0, "return at most n results")
}

// build returns nil when no option is set.
func (f *queryFlags) build() (*query.Query, error) {
	var preds []query.Predicate
	for _, w := range f.where {
		field, raw, ok := strings.Cut(w, "=")
		if !ok || field == "" {
			return nil, common.NewError(common.KindInvalidQuery, fmt.Sprintf("bad filter %q, want field=value", w))
		}
		preds = append(preds, query.Eq(field, parseValue(raw)))
	}
	if f.near != "" {
		p, err := parseNear(f.near)
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}

	q := &query.Query{Skip: f.skip, Limit: f.limit, Fields: f.fields}
	switch len(preds) {
	case 0:
	case 1:
		q.Filter = preds[0]
	default:
		q.Filter = query.And(preds...)
	}
	for _, s := range f.asc {
		q.Ascending(s)
	}
	for _, s := range f.desc {
		q.Descending(s)
	}

	if q.Filter == nil && len(q.Sort) == 0 && !q.Paginated() && !q.Projected() {
		return nil, nil
	}
	return q, nil
}

func parseValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}

func parseNear(s string) (query.Predicate, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return nil, common.NewError(common.KindInvalidQuery, fmt.Sprintf("bad --near %q, want lon,lat,meters", s))
	}
	nums := make([]float64, 3)
	for i, p := range parts {
		n, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, common.Wrap(common.KindInvalidQuery, fmt.Sprintf("bad --near %q", s), err)
		}
		nums[i] = n
	}
	return query.Near(common.FieldGeoLoc, models.GeoPoint{Longitude: nums[0], Latitude: nums[1]}, nums[2]), nil
}
