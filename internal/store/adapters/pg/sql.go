package pg

import (
	"fmt"
	"strings"

	"github.com/dropDatabas3/rebano/internal/domain/repository"
)

// whereClause traduce un predicado a SQL parametrizado. Los campos ya fueron
// validados contra la whitelist; se comparan como texto para unificar uuid,
// boolean y text.
func whereClause(p repository.Predicate, allowed map[string]bool, args []any) (string, []any, error) {
	if err := p.Validate(allowed); err != nil {
		return "", nil, err
	}
	if len(p) == 0 {
		return "", args, nil
	}
	parts := make([]string, 0, len(p))
	for _, c := range p {
		col := c.Field
		var expr string
		switch c.Op {
		case repository.OpEq:
			args = append(args, c.Values[0])
			expr = fmt.Sprintf("%s::text = $%d", col, len(args))
		case repository.OpIn:
			args = append(args, c.Values)
			expr = fmt.Sprintf("%s::text = ANY($%d)", col, len(args))
		case repository.OpILike:
			args = append(args, c.Values[0])
			expr = fmt.Sprintf("%s::text ILIKE $%d", col, len(args))
		case repository.OpIsNull:
			expr = fmt.Sprintf("(%s IS NULL OR %s::text = '')", col, col)
		}
		if c.Not {
			expr = "NOT " + expr
		}
		parts = append(parts, expr)
	}
	return " WHERE " + strings.Join(parts, " AND "), args, nil
}

// pageClause agrega ORDER BY id y LIMIT/OFFSET.
func pageClause(q repository.Query) string {
	s := " ORDER BY id"
	if q.Limit > 0 {
		s += fmt.Sprintf(" LIMIT %d", q.Limit)
	}
	if q.Offset > 0 {
		s += fmt.Sprintf(" OFFSET %d", q.Offset)
	}
	return s
}

// upsertSQL arma INSERT ... ON CONFLICT (id) DO UPDATE sólo con las columnas presentes.
func upsertSQL(table string, cols []string, returning string) string {
	all := append([]string{"id"}, cols...)
	ph := make([]string, len(all))
	for i := range all {
		ph[i] = fmt.Sprintf("$%d", i+1)
	}
	set := make([]string, 0, len(cols)+1)
	for _, c := range cols {
		set = append(set, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
	}
	set = append(set, "updated_at = NOW()")
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (id) DO UPDATE SET %s RETURNING %s",
		table, strings.Join(all, ", "), strings.Join(ph, ", "), strings.Join(set, ", "), returning)
}
