/*
Package zteradb is a client for ZTeraDB servers.

Queries are described with the query and filter packages, finalized into an
immutable snapshot, and executed by a [Client] over a pool of authenticated
sessions.

# Basics

A client is opened once per server and shared:

	cfg, err := config.Load(config.FromEnv())
	if err != nil {
		return err
	}
	client, err := zteradb.Open(ctx, "db.zteradb.com:7777", cfg)
	if err != nil {
		return err
	}
	defer client.Close()

Queries are built with a [query.Builder]. Filters are expression trees built
with the filter package; a bare string names a field, other Go values are
literals:

	q, err := query.New("product").
		Select().
		Project("name", "price").
		Filter(filter.Must(filter.Gt("quantity", 3))).
		Sort("price", query.Desc).
		Limit(0, 10).
		Finalize()

Finalize reports every structural problem of the query, so a query that
finalizes is never rejected by the encoder.

# Results

A Select returns a [Stream] of records. The stream holds a session until it
is exhausted or closed:

	st, err := client.Iter(ctx, q)
	if err != nil {
		return err
	}
	defer st.Close()
	for st.Next() {
		var p Product
		if err := st.Decode(&p); err != nil {
			return err
		}
	}
	return st.Err()

Every other operation returns a [Result]:

	res, err := client.Run(ctx, insert)
	id := res.LastInsertID

# Errors

Errors raised by the server are returned as [*ServerError] and leave the
session usable. Transport failures, out of order frames and truncated
streams discard the session; the pool opens a replacement on demand. The
client never retries a query.
*/
package zteradb
