package dataset

import "github.com/broker-flow-ai/regpack/pkg/expr"

// Context is the cross-table state visible to every evaluation. It is built
// once after loading and is read-only afterwards.
type Context struct {
	Period            string
	PolicyIDs         expr.Set
	ClientIDs         expr.Set
	IntermediaryCodes expr.Set
}

// NewContext precomputes the referential sets from the loaded tables.
func NewContext(period string, ds *Dataset) *Context {
	return &Context{
		Period:            period,
		PolicyIDs:         collect(ds.Table("policy"), "id", "policy_id"),
		ClientIDs:         collect(ds.Table("client"), "id", "client_id"),
		IntermediaryCodes: collect(ds.Table("intermediary"), "code", "id"),
	}
}

// Vars returns the context bindings for one table. The map is shared by all
// rows of that table and must not be modified.
func (c *Context) Vars(table string) map[string]any {
	return map[string]any{
		"table":              table,
		"period":             c.Period,
		"policy_ids":         c.PolicyIDs,
		"client_ids":         c.ClientIDs,
		"intermediary_codes": c.IntermediaryCodes,
	}
}

// collect gathers the first non-empty key column of each row.
func collect(t *Table, cols ...string) expr.Set {
	out := expr.Set{}
	if t == nil {
		return out
	}
	for _, r := range t.Rows {
		for _, c := range cols {
			v, ok := r.Values[c]
			if !ok || v == "" {
				continue
			}
			if k, ok := expr.Key(v); ok {
				out[k] = true
			}
			break
		}
	}
	return out
}
