package zteradb_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	. "gopkg.in/check.v1"

	"github.com/zteradb/zteradb-go"
	"github.com/zteradb/zteradb-go/config"
	"github.com/zteradb/zteradb-go/filter"
	"github.com/zteradb/zteradb-go/internal/session"
	"github.com/zteradb/zteradb-go/internal/testserver"
	"github.com/zteradb/zteradb-go/internal/testutil"
	"github.com/zteradb/zteradb-go/internal/wire"
	"github.com/zteradb/zteradb-go/query"
)

// Hook up gocheck into the "go test" runner.
func TestPackage(t *testing.T) { TestingT(t) }

type PackageSuite struct {
	db     *sql.DB
	srv    *testserver.Server
	dialer *trackingDialer
}

var _ = Suite(&PackageSuite{})

var creds = testserver.Credentials{
	ClientKey: "client",
	AccessKey: "access",
	SecretKey: "secret",
}

type Product struct {
	ID       int64   `json:"id"`
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
	Status   string  `json:"status"`
}

func (s *PackageSuite) SetUpTest(c *C) {
	db, err := testserver.ProductDB()
	c.Assert(err, IsNil)
	s.db = db
	s.dialer = &trackingDialer{}
	s.serve(c, testserver.NewSQLite(db))
}

func (s *PackageSuite) TearDownTest(c *C) {
	s.srv.Close()
	s.srv = nil
	s.db.Close()
}

// serve replaces the server of the test with one answering with h.
func (s *PackageSuite) serve(c *C, h testserver.Handler) {
	if s.srv != nil {
		s.srv.Close()
	}
	srv, err := testserver.New(creds, h, testutil.NewLogger(c))
	c.Assert(err, IsNil)
	s.srv = srv
}

func (s *PackageSuite) config() *config.Config {
	return &config.Config{
		ClientKey:  creds.ClientKey,
		AccessKey:  creds.AccessKey,
		SecretKey:  creds.SecretKey,
		DatabaseID: "shop",
		Env:        config.Dev,
	}
}

func (s *PackageSuite) open(c *C, cfg *config.Config, opts ...zteradb.Option) *zteradb.Client {
	if cfg == nil {
		cfg = s.config()
	}
	opts = append([]zteradb.Option{
		zteradb.WithLogger(testutil.NewLogger(c)),
		zteradb.WithDialer(s.dialer),
	}, opts...)
	client, err := zteradb.Open(context.Background(), s.srv.Addr(), cfg, opts...)
	c.Assert(err, IsNil)
	return client
}

func finalize(c *C, b *query.Builder) *query.Query {
	q, err := b.Finalize()
	c.Assert(err, IsNil)
	return q
}

func allProducts() *query.Builder {
	return query.New("product").Select().Sort("id", query.Asc)
}

func (s *PackageSuite) TestSelect(c *C) {
	client := s.open(c, nil)
	defer client.Close()

	q := finalize(c, query.New("product").
		Select().
		Filter(filter.Must(filter.Gt("quantity", 3))).
		Sort("id", query.Asc).
		Limit(0, 1))
	st, err := client.Iter(context.Background(), q)
	c.Assert(err, IsNil)

	c.Assert(st.Next(), Equals, true)
	c.Check(st.Record(), DeepEquals, zteradb.Record{
		"id":       json.Number("1"),
		"name":     "Phone",
		"quantity": json.Number("5"),
		"price":    json.Number("499"),
		"status":   "A",
	})
	var p Product
	c.Assert(st.Decode(&p), IsNil)
	c.Check(p, Equals, Product{ID: 1, Name: "Phone", Quantity: 5, Price: 499, Status: "A"})

	c.Check(st.Next(), Equals, false)
	c.Check(st.Err(), IsNil)
	c.Check(st.Session().State(), Equals, session.Ready)
	c.Check(st.Close(), IsNil)
	c.Check(client.Stats(), Equals, zteradb.PoolStats{Max: 1, Live: 1, Idle: 1})
}

func (s *PackageSuite) TestGetAll(c *C) {
	client := s.open(c, nil)
	defer client.Close()

	q := finalize(c, query.New("product").
		Select().
		Project("name", "price").
		Filter(filter.Must(filter.IContains("name", "PHONE"))).
		Sort("price", query.Desc))
	records, err := client.GetAll(context.Background(), q)
	c.Assert(err, IsNil)
	c.Check(records, DeepEquals, []zteradb.Record{
		{"name": "Phone", "price": json.Number("499")},
		{"name": "Headphones", "price": json.Number("120")},
		{"name": "Phone case", "price": json.Number("15.5")},
	})
}

func (s *PackageSuite) TestStreamAll(c *C) {
	client := s.open(c, nil)
	defer client.Close()

	q := finalize(c, query.New("product").
		Select().
		Filter(
			filter.Must(filter.In("status", "A", "B")),
			filter.Must(filter.Lt(1, "quantity", 20)),
		).
		Sort("id", query.Asc))

	st, err := client.Iter(context.Background(), q)
	c.Assert(err, IsNil)
	var products []Product
	c.Assert(st.All(&products), IsNil)
	c.Check(products, DeepEquals, []Product{
		{ID: 1, Name: "Phone", Quantity: 5, Price: 499, Status: "A"},
		{ID: 3, Name: "Charger", Quantity: 2, Price: 25, Status: "B"},
		{ID: 4, Name: "Headphones", Quantity: 12, Price: 120, Status: "A"},
	})

	st, err = client.Iter(context.Background(), finalize(c, allProducts()))
	c.Assert(err, IsNil)
	var names []map[string]any
	c.Assert(st.All(&names), IsNil)
	c.Check(names, HasLen, 5)

	st, err = client.Iter(context.Background(), finalize(c, allProducts()))
	c.Assert(err, IsNil)
	var bad []int
	c.Check(st.All(&bad), ErrorMatches, "need slice of structs/maps, got slice of int")
	c.Check(client.Stats().InUse, Equals, 0)
}

func (s *PackageSuite) TestRun(c *C) {
	client := s.open(c, nil)
	defer client.Close()
	ctx := context.Background()

	res, err := client.Run(ctx, finalize(c, query.New("product").
		Insert().
		Set("name", "Mouse").
		Set("quantity", 7).
		Set("price", 19.5).
		Set("status", "A")))
	c.Assert(err, IsNil)
	c.Check(res.LastInsertID, Equals, int64(6))

	res, err = client.Run(ctx, finalize(c, query.New("product").Count().Where("status", "A")))
	c.Assert(err, IsNil)
	c.Check(res.Count, Equals, int64(4))

	res, err = client.Run(ctx, finalize(c, query.New("product").Update().Set("price", 10).Where("id", 6)))
	c.Assert(err, IsNil)
	c.Check(res.IsUpdated, Equals, true)
	c.Check(res.RowsAffected, Equals, int64(1))

	res, err = client.Run(ctx, finalize(c, query.New("product").Update().Set("price", 10).Where("id", 60)))
	c.Assert(err, IsNil)
	c.Check(res.IsUpdated, Equals, false)

	exec, err := client.Execute(ctx, finalize(c, query.New("product").Delete().Where("id", 6)))
	c.Assert(err, IsNil)
	c.Check(exec.Stream, IsNil)
	c.Check(exec.Result.IsDeleted, Equals, true)

	res, err = client.Run(ctx, finalize(c, query.New("product").Count()))
	c.Assert(err, IsNil)
	c.Check(res.Count, Equals, int64(5))

	// Every query went through the one session.
	c.Check(s.srv.Handshakes(), Equals, 1)
}

func (s *PackageSuite) TestWrongEntryPoint(c *C) {
	client := s.open(c, nil)
	defer client.Close()
	ctx := context.Background()

	_, err := client.Run(ctx, finalize(c, allProducts()))
	c.Check(err, ErrorMatches, "cannot run query: select queries return records, use Iter")
	_, err = client.Iter(ctx, finalize(c, query.New("product").Count()))
	c.Check(err, ErrorMatches, "cannot iterate: count queries return no records")
	_, err = client.Execute(ctx, nil)
	c.Check(err, ErrorMatches, "cannot execute query: nil query")

	c.Check(s.srv.Requests(), HasLen, 0)
}

func (s *PackageSuite) TestDatabaseID(c *C) {
	client := s.open(c, nil)
	defer client.Close()
	ctx := context.Background()

	_, err := client.Run(ctx, finalize(c, query.New("product").Count()))
	c.Assert(err, IsNil)
	_, err = client.Run(ctx, finalize(c, query.New("product").Database("archive").Count()))
	c.Assert(err, IsNil)

	reqs := s.srv.Requests()
	c.Assert(reqs, HasLen, 2)
	c.Check(reqs[0].DatabaseID, Equals, "shop")
	c.Check(reqs[0].Env, Equals, "dev")
	c.Check(reqs[0].Query.DatabaseID, Equals, "")
	c.Check(reqs[1].DatabaseID, Equals, "archive")
	c.Check(reqs[1].Query.DatabaseID, Equals, "archive")
}

func (s *PackageSuite) TestServerErrorLeavesSessionReady(c *C) {
	client := s.open(c, nil)
	defer client.Close()
	ctx := context.Background()

	_, err := client.Run(ctx, finalize(c, query.New("missing").Count()))
	c.Assert(err, NotNil)
	var serr *zteradb.ServerError
	c.Assert(errors.As(err, &serr), Equals, true)
	c.Check(serr.Code, Equals, zteradb.CodeInvalidSchema)
	c.Check(serr.Message, Matches, "no such table: missing")
	c.Check(errors.Is(err, zteradb.ErrServer), Equals, true)

	st, err := client.Iter(ctx, finalize(c, query.New("product").Select().Project("colour")))
	c.Assert(err, IsNil)
	c.Check(st.Next(), Equals, false)
	c.Check(errors.As(st.Err(), &serr), Equals, true)
	c.Check(serr.Code, Equals, zteradb.CodeFieldError)
	c.Check(st.Session().State(), Equals, session.Ready)
	c.Check(st.Close(), Equals, st.Err())

	res, err := client.Run(ctx, finalize(c, query.New("product").Count()))
	c.Assert(err, IsNil)
	c.Check(res.Count, Equals, int64(5))
	c.Check(s.srv.Handshakes(), Equals, 1)
	c.Check(client.Stats(), Equals, zteradb.PoolStats{Max: 1, Live: 1, Idle: 1})
}

func (s *PackageSuite) TestCloseEarlyReleasesSession(c *C) {
	client := s.open(c, nil)
	defer client.Close()
	ctx := context.Background()

	st, err := client.Iter(ctx, finalize(c, allProducts()))
	c.Assert(err, IsNil)
	for i := 0; i < 2; i++ {
		c.Assert(st.Next(), Equals, true)
	}
	c.Check(st.Record()["name"], Equals, "Phone case")

	c.Assert(st.Close(), IsNil)
	c.Check(st.Session().State(), Equals, session.Ready)
	c.Check(client.Stats(), Equals, zteradb.PoolStats{Max: 1, Live: 1, Idle: 1})
	c.Check(st.Next(), Equals, false)
	c.Check(st.Record(), IsNil)
	c.Check(st.Err(), IsNil)

	// The drained session serves the next query.
	records, err := client.GetAll(ctx, finalize(c, allProducts()))
	c.Assert(err, IsNil)
	c.Check(records, HasLen, 5)
	c.Check(s.srv.Handshakes(), Equals, 1)
	c.Check(s.dialer.opened(), Equals, 1)
}

func scripted(f func(w *testserver.ResponseWriter) error) testserver.Handler {
	return testserver.HandlerFunc(func(req *testserver.Request, w *testserver.ResponseWriter) error {
		return f(w)
	})
}

func record(id int) map[string]any {
	return map[string]any{"id": id}
}

func (s *PackageSuite) TestOutOfOrderFrame(c *C) {
	s.serve(c, scripted(func(w *testserver.ResponseWriter) error {
		for _, seq := range []int{0, 1, 3} {
			if err := w.RecordSeq(seq, record(seq)); err != nil {
				return err
			}
		}
		return w.Done()
	}))
	client := s.open(c, nil)
	defer client.Close()

	st, err := client.Iter(context.Background(), finalize(c, allProducts()))
	c.Assert(err, IsNil)
	c.Assert(st.Next(), Equals, true)
	c.Assert(st.Next(), Equals, true)
	c.Check(st.Record(), DeepEquals, zteradb.Record{"id": json.Number("1")})
	c.Check(st.Next(), Equals, false)
	c.Check(errors.Is(st.Err(), zteradb.ErrOutOfOrderFrame), Equals, true)
	c.Check(st.Err(), ErrorMatches, "out of order frame: got frame 3, want 2")
	c.Check(st.Session().State(), Equals, session.Faulted)
	c.Check(st.Close(), Equals, st.Err())
	c.Check(client.Stats(), Equals, zteradb.PoolStats{Max: 1})
}

func (s *PackageSuite) TestServerErrorEndsStream(c *C) {
	s.serve(c, scripted(func(w *testserver.ResponseWriter) error {
		w.Record(record(0))
		w.Record(record(1))
		// Error frames need not carry a sequence number.
		return w.Raw(map[string]any{"status": "error", "code": 0x401, "message": "schema dropped"})
	}))
	client := s.open(c, nil)
	defer client.Close()

	st, err := client.Iter(context.Background(), finalize(c, allProducts()))
	c.Assert(err, IsNil)
	c.Assert(st.Next(), Equals, true)
	c.Assert(st.Next(), Equals, true)
	c.Check(st.Next(), Equals, false)
	var serr *zteradb.ServerError
	c.Assert(errors.As(st.Err(), &serr), Equals, true)
	c.Check(serr.Code, Equals, zteradb.CodeInvalidSchema)
	c.Check(serr.Message, Equals, "schema dropped")
	c.Check(errors.Is(st.Err(), zteradb.ErrOutOfOrderFrame), Equals, false)
	c.Check(st.Session().State(), Equals, session.Ready)
	c.Check(st.Close(), Equals, st.Err())
	c.Check(client.Stats(), Equals, zteradb.PoolStats{Max: 1, Live: 1, Idle: 1})

	// The session is reused.
	_, err = client.GetAll(context.Background(), finalize(c, allProducts()))
	c.Check(errors.As(err, &serr), Equals, true)
	c.Check(s.srv.Handshakes(), Equals, 1)
}

func (s *PackageSuite) TestCloseAbortsStalledStream(c *C) {
	unblock := make(chan struct{})
	defer close(unblock)
	s.serve(c, scripted(func(w *testserver.ResponseWriter) error {
		if err := w.Record(record(0)); err != nil {
			return err
		}
		<-unblock
		return w.Done()
	}))
	client := s.open(c, nil)
	defer client.Close()

	st, err := client.Iter(context.Background(), finalize(c, allProducts()))
	c.Assert(err, IsNil)
	c.Assert(st.Next(), Equals, true)

	closed := make(chan error, 1)
	go func() { closed <- st.Close() }()
	select {
	case err := <-closed:
		c.Check(err, IsNil)
	case <-time.After(5 * time.Second):
		c.Fatalf("close blocked on a stalled stream")
	}
	c.Check(st.Session().State(), Equals, session.Faulted)
	c.Check(client.Stats(), Equals, zteradb.PoolStats{Max: 1})
	c.Check(s.dialer.open(), Equals, 0)
	c.Check(st.Next(), Equals, false)
}

func (s *PackageSuite) TestTruncatedStream(c *C) {
	s.serve(c, scripted(func(w *testserver.ResponseWriter) error {
		w.Record(record(0))
		w.Record(record(1))
		return w.Hangup()
	}))
	client := s.open(c, nil)
	defer client.Close()

	records, err := client.GetAll(context.Background(), finalize(c, allProducts()))
	c.Check(records, IsNil)
	c.Check(errors.Is(err, zteradb.ErrTruncatedStream), Equals, true)
	c.Check(errors.Is(err, zteradb.ErrTransport), Equals, true)
	c.Check(client.Stats(), Equals, zteradb.PoolStats{Max: 1})
	c.Check(s.dialer.open(), Equals, 0)
}

func (s *PackageSuite) TestTruncatedResult(c *C) {
	s.serve(c, scripted(func(w *testserver.ResponseWriter) error {
		return w.Hangup()
	}))
	client := s.open(c, nil)
	defer client.Close()

	_, err := client.Run(context.Background(), finalize(c, query.New("product").Count()))
	c.Check(errors.Is(err, zteradb.ErrTruncatedStream), Equals, true)
	c.Check(err, ErrorMatches, "cannot read result: truncated stream: .*")
}

func (s *PackageSuite) TestTokenExpiredDiscardsSession(c *C) {
	expired := true
	s.serve(c, scripted(func(w *testserver.ResponseWriter) error {
		if expired {
			expired = false
			return w.Error(wire.TokenExpired, "access token expired")
		}
		return w.OK(map[string]any{"count": 1})
	}))
	client := s.open(c, nil)
	defer client.Close()
	ctx := context.Background()

	_, err := client.Run(ctx, finalize(c, query.New("product").Count()))
	var serr *zteradb.ServerError
	c.Assert(errors.As(err, &serr), Equals, true)
	c.Check(serr.Code, Equals, zteradb.CodeTokenExpired)
	c.Check(client.Stats(), Equals, zteradb.PoolStats{Max: 1})

	// The next query authenticates again.
	res, err := client.Run(ctx, finalize(c, query.New("product").Count()))
	c.Assert(err, IsNil)
	c.Check(res.Count, Equals, int64(1))
	c.Check(s.srv.Handshakes(), Equals, 2)
}

func (s *PackageSuite) TestAuthenticationFailureIsNotPooled(c *C) {
	s.srv.RejectAuth(true)
	client := s.open(c, nil)
	defer client.Close()
	ctx := context.Background()

	_, err := client.Run(ctx, finalize(c, query.New("product").Count()))
	c.Check(errors.Is(err, zteradb.ErrAuthentication), Equals, true)
	c.Check(client.Stats(), Equals, zteradb.PoolStats{Max: 1})
	c.Check(s.dialer.open(), Equals, 0)

	s.srv.RejectAuth(false)
	_, err = client.Run(ctx, finalize(c, query.New("product").Count()))
	c.Assert(err, IsNil)
	c.Check(s.srv.Handshakes(), Equals, 2)
	c.Check(client.Stats(), Equals, zteradb.PoolStats{Max: 1, Live: 1, Idle: 1})
}

func (s *PackageSuite) TestOpenWarmsMinSessions(c *C) {
	cfg := s.config()
	cfg.Pool.Min = 2
	cfg.Pool.Max = 3
	client := s.open(c, cfg)
	c.Check(client.Stats(), Equals, zteradb.PoolStats{Min: 2, Max: 3, Live: 2, Idle: 2})
	c.Check(s.srv.Handshakes(), Equals, 2)

	c.Assert(client.Close(), IsNil)
	c.Check(s.dialer.open(), Equals, 0)
	_, err := client.Run(context.Background(), finalize(c, query.New("product").Count()))
	c.Check(errors.Is(err, zteradb.ErrPoolClosed), Equals, true)
}

func (s *PackageSuite) TestOpenErrors(c *C) {
	cfg := s.config()
	cfg.Pool.Min = 1
	s.srv.RejectAuth(true)
	_, err := zteradb.Open(context.Background(), s.srv.Addr(), cfg, zteradb.WithLogger(testutil.NewLogger(c)))
	c.Check(errors.Is(err, zteradb.ErrAuthentication), Equals, true)
	c.Check(err, ErrorMatches, "cannot open client: cannot warm pool: cannot authenticate: .*")

	cfg = s.config()
	cfg.Env = "moon"
	_, err = zteradb.Open(context.Background(), s.srv.Addr(), cfg)
	c.Check(errors.Is(err, config.ErrInvalidConfig), Equals, true)
}

func (s *PackageSuite) TestOpenDefaultConfig(c *C) {
	if _, ok := config.Default(); !ok {
		_, err := zteradb.Open(context.Background(), s.srv.Addr(), nil)
		c.Check(err, ErrorMatches, "cannot open client: invalid config: no config given and no default set")
		cfg := s.config()
		cfg.ApplyDefaults()
		c.Assert(config.SetDefault(cfg), IsNil)
	}

	client, err := zteradb.Open(context.Background(), s.srv.Addr(), nil, zteradb.WithLogger(testutil.NewLogger(c)))
	c.Assert(err, IsNil)
	defer client.Close()
	res, err := client.Run(context.Background(), finalize(c, query.New("product").Count()))
	c.Assert(err, IsNil)
	c.Check(res.Count, Equals, int64(5))
}

func (s *PackageSuite) TestPoolExhausted(c *C) {
	cfg := s.config()
	cfg.Pool.AcquireTimeout = 50 * time.Millisecond
	client := s.open(c, cfg)
	defer client.Close()
	ctx := context.Background()

	st, err := client.Iter(ctx, finalize(c, allProducts()))
	c.Assert(err, IsNil)
	_, err = client.Run(ctx, finalize(c, query.New("product").Count()))
	c.Check(errors.Is(err, zteradb.ErrPoolExhausted), Equals, true)
	c.Check(st.Close(), IsNil)

	_, err = client.Run(ctx, finalize(c, query.New("product").Count()))
	c.Check(err, IsNil)
}

func (s *PackageSuite) TestFrameTimeout(c *C) {
	s.serve(c, scripted(func(w *testserver.ResponseWriter) error {
		return nil
	}))
	client := s.open(c, nil, zteradb.WithFrameTimeout(50*time.Millisecond))
	defer client.Close()

	_, err := client.Run(context.Background(), finalize(c, query.New("product").Count()))
	c.Check(errors.Is(err, zteradb.ErrTransport), Equals, true)
	c.Check(errors.Is(err, os.ErrDeadlineExceeded), Equals, true)
	c.Check(client.Stats(), Equals, zteradb.PoolStats{Max: 1})
}

func (s *PackageSuite) TestCancelStream(c *C) {
	unblock := make(chan struct{})
	defer close(unblock)
	s.serve(c, scripted(func(w *testserver.ResponseWriter) error {
		if err := w.Record(record(0)); err != nil {
			return err
		}
		<-unblock
		return w.Done()
	}))
	client := s.open(c, nil)
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	st, err := client.Iter(ctx, finalize(c, allProducts()))
	c.Assert(err, IsNil)
	c.Assert(st.Next(), Equals, true)
	cancel()
	c.Check(st.Next(), Equals, false)
	c.Check(errors.Is(st.Err(), context.Canceled), Equals, true)
	c.Check(st.Session().State(), Equals, session.Faulted)
	st.Close()
	c.Check(client.Stats(), Equals, zteradb.PoolStats{Max: 1})
}

func (s *PackageSuite) TestMetrics(c *C) {
	reg := prometheus.NewRegistry()
	client := s.open(c, nil, zteradb.WithMetrics(reg, "zteradb"))
	defer client.Close()

	_, err := client.Run(context.Background(), finalize(c, query.New("product").Count()))
	c.Assert(err, IsNil)

	families, err := reg.Gather()
	c.Assert(err, IsNil)
	values := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				values[mf.GetName()] += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				values[mf.GetName()] = m.GetGauge().GetValue()
			}
		}
	}
	c.Check(values["zteradb_pool_acquires_total"], Equals, 1.0)
	c.Check(values["zteradb_pool_dials_total"], Equals, 1.0)
	c.Check(values["zteradb_pool_connections"], Equals, 1.0)
	c.Check(values["zteradb_pool_idle_connections"], Equals, 1.0)
	c.Check(values["zteradb_pool_in_use_connections"], Equals, 0.0)
}
