package httpstore

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/Makepad-fr/tada/internal/errs"
	"github.com/Makepad-fr/tada/internal/gateway"
)

// Table is one remote collection. R is the row type, P the patch type.
type Table[R any, P any] struct {
	c    *Client
	kind gateway.Kind
}

func (t *Table[R, P]) op(verb string) string {
	return verb + " " + string(t.kind)
}

func (t *Table[R, P]) ReadAll(ctx context.Context, owner string, order gateway.Order) ([]R, error) {
	q := url.Values{}
	if s := order.String(); s != "" {
		q.Set("order", s)
	}
	var rows []R
	if err := t.c.do(ctx, t.op("read"), http.MethodGet, t.c.endpoint(q, string(t.kind), owner), nil, &rows); err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []R{}
	}
	return rows, nil
}

func (t *Table[R, P]) Upsert(ctx context.Context, row R, conflictKey string) (R, error) {
	q := url.Values{"on_conflict": {conflictKey}}
	var out R
	err := t.c.do(ctx, t.op("upsert"), http.MethodPut, t.c.endpoint(q, string(t.kind)), row, &out)
	return out, err
}

func (t *Table[R, P]) Insert(ctx context.Context, row R) (R, error) {
	var out R
	err := t.c.do(ctx, t.op("insert"), http.MethodPost, t.c.endpoint(nil, string(t.kind)), row, &out)
	return out, err
}

func (t *Table[R, P]) Update(ctx context.Context, id, owner string, patch P) (R, error) {
	var out R
	err := t.c.do(ctx, t.op("update"), http.MethodPatch, t.c.endpoint(nil, string(t.kind), owner, id), patch, &out)
	return out, err
}

func (t *Table[R, P]) Delete(ctx context.Context, id, owner string) error {
	return t.c.do(ctx, t.op("delete"), http.MethodDelete, t.c.endpoint(nil, string(t.kind), owner, id), nil, nil)
}

// Subscribe opens the owner's change feed. The returned subscription is
// live once Subscribe returns: the server registers the feed before it
// accepts the upgrade.
func (t *Table[R, P]) Subscribe(ctx context.Context, owner string, onChange func(gateway.Change)) (gateway.Subscription, error) {
	op := t.op("subscribe")
	u, err := url.Parse(t.c.endpoint(nil, string(t.kind), owner, "changes"))
	if err != nil {
		return nil, errs.Wrap(errs.Network, op, err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	conn, resp, err := t.c.dialer.DialContext(ctx, u.String(), t.c.header())
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, responseErr(op, resp)
		}
		return nil, errs.Wrap(errs.Network, op, err)
	}

	f := &feed{conn: conn, done: make(chan struct{})}
	go f.read(string(t.kind), onChange)
	return f, nil
}

type feed struct {
	conn     *websocket.Conn
	once     sync.Once
	released atomic.Bool
	done     chan struct{}
}

// read delivers changes until the connection ends, then closes done.
func (f *feed) read(kind string, onChange func(gateway.Change)) {
	defer close(f.done)
	for {
		var c gateway.Change
		if err := f.conn.ReadJSON(&c); err != nil {
			if !f.released.Load() {
				glog.Infof("[http]%s feed dropped = %s", kind, err)
			}
			return
		}
		onChange(c)
	}
}

func (f *feed) Release() {
	f.once.Do(func() {
		f.released.Store(true)
		f.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		f.conn.Close()
	})
}

func (f *feed) Done() <-chan struct{} { return f.done }
