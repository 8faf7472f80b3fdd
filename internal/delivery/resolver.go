package delivery

// Resolver turns a return target, token and user agent into an
// Instruction. It has no state beyond its table and is safe for
// concurrent use.
type Resolver struct {
	table Table
}

// NewResolver returns a resolver using table.
func NewResolver(table Table) *Resolver {
	if len(table.MobileMarkers) == 0 {
		table.MobileMarkers = DefaultMobileMarkers
	}

	return &Resolver{table: table}
}

// Table returns the resolver's decision table.
func (r *Resolver) Table() Table {
	return r.table
}

// Resolve is pure: identical inputs always yield identical output.
func (r *Resolver) Resolve(returnTarget, accessToken, userAgent string) Instruction {
	target := ClassifyTarget(returnTarget)

	kind := r.table.Lookup(target, r.table.ClassifyAgent(userAgent))
	if kind == KindJSON {
		return Instruction{Kind: KindJSON, Token: accessToken}
	}

	return Instruction{Kind: kind, URL: BuildURL(returnTarget, accessToken)}
}
