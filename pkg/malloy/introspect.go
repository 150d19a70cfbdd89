package malloy

import (
	"context"
	"fmt"
	"strings"
)

// DefaultTopValuesLimit is the number of values SearchValueMap returns per
// field when no positive limit is given.
const DefaultTopValuesLimit = 10

var stringTypes = []string{"VARCHAR", "TEXT", "CHAR", "STRING", "NAME", "ENUM"}

func (m *materializer) source(name string) (*Source, error) {
	s, ok := m.model.Source(name)
	if !ok {
		return nil, &QueryError{Problems: []Diagnostic{
			errorDiag(0, "Unknown source", "source '%s' is not defined", name),
		}}
	}
	return s, nil
}

func (m *materializer) DescribeSource(ctx context.Context, name string) (*SourceInfo, error) {
	src, err := m.source(name)
	if err != nil {
		return nil, err
	}
	a, err := m.rt.pool.get(ctx, src.Connection)
	if err != nil {
		return nil, queryErr(err, "Connection error")
	}

	sqlText := fmt.Sprintf("SELECT * FROM (\n%s\n) AS %s LIMIT 0", sourceSelect(src, a), sourceAlias)
	res, err := m.executeOn(ctx, a, src.Connection, sqlText)
	if err != nil {
		return nil, err
	}

	info := &SourceInfo{Name: src.Name, Connection: src.Connection, Fields: make([]Field, len(res.Columns))}
	for i, c := range res.Columns {
		info.Fields[i] = Field{Name: c.Name, Type: c.Type}
	}
	return info, nil
}

func (m *materializer) SearchValueMap(ctx context.Context, name string, limit int) ([]FieldValues, error) {
	if limit <= 0 {
		limit = DefaultTopValuesLimit
	}
	info, err := m.DescribeSource(ctx, name)
	if err != nil {
		return nil, err
	}
	src, _ := m.model.Source(name)
	a, err := m.rt.pool.get(ctx, src.Connection)
	if err != nil {
		return nil, queryErr(err, "Connection error")
	}

	out := []FieldValues{}
	for _, f := range info.Fields {
		if !isStringType(f.Type) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		col := a.QuoteIdentifier(f.Name)
		sqlText := fmt.Sprintf(
			"WITH %s AS (\n%s\n)\nSELECT %s, COUNT(*)\nFROM %s\nWHERE %s IS NOT NULL\nGROUP BY 1\nORDER BY 2 DESC, 1\nLIMIT %d",
			sourceAlias, sourceSelect(src, a), col, sourceAlias, col, limit,
		)
		res, err := m.executeOn(ctx, a, src.Connection, sqlText)
		if err != nil {
			return nil, err
		}
		fv := FieldValues{Field: f.Name, Values: make([]ValueCount, 0, len(res.Rows))}
		for _, row := range res.Rows {
			fv.Values = append(fv.Values, ValueCount{Value: row[0], Count: toInt64(row[1])})
		}
		out = append(out, fv)
	}
	return out, nil
}

func isStringType(t string) bool {
	t = strings.ToUpper(t)
	for _, s := range stringTypes {
		if strings.Contains(t, s) {
			return true
		}
	}
	return false
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	case uint64:
		return int64(n) //nolint:gosec // counts fit
	case float64:
		return int64(n)
	}
	return 0
}
