// Copyright 2026 The ZTeraDB Go Client Authors.
// Licensed under Apache 2.0, see LICENCE file for details.

/*
Package query builds ZTeraDB requests.

A Builder collects the operation, the target schema, the fields, related
sub-queries, filters, sort keys and the record window through chained calls:

	b := query.New("product").
		Select().
		Project("name", "price").
		Filter(filter.Must(filter.Gt("quantity", 3))).
		Sort("price", query.Desc).
		Limit(0, 10)

	q, err := b.Finalize()

Finalize is the only place errors are reported. It returns an immutable Query
that can be encoded and sent; changing the Builder afterwards does not affect
it.
*/
package query
