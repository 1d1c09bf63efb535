package server

import (
	"context"
	"net/http"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/Makepad-fr/tada/internal/gateway"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
	pongWait   = pingPeriod + writeWait
	feedBuffer = 64
)

type subscribeFunc func(ctx context.Context, owner string, onChange func(gateway.Change)) (gateway.Subscription, error)

// feed streams the caller's change notifications over a websocket. The
// store subscription is made before the upgrade is accepted, so a client
// whose dial succeeded will see every later write.
func (s *Server) feed(w http.ResponseWriter, r *http.Request, kind gateway.Kind, subscribe subscribeFunc) {
	owner := identityFrom(r.Context()).ID
	changes := make(chan gateway.Change, feedBuffer)
	overflow := make(chan struct{}, 1)

	sub, err := subscribe(r.Context(), owner, func(c gateway.Change) {
		select {
		case changes <- c:
		default:
			// readers re-read on any change, one pending notice is enough
			select {
			case overflow <- struct{}{}:
			default:
			}
		}
	})
	if err != nil {
		writeError(w, err)
		return
	}
	defer sub.Release()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Infof("[server]upgrade error = %s", err)
		return
	}
	defer conn.Close()

	s.metrics.FeedOpened()
	defer s.metrics.FeedClosed()
	glog.V(2).Infof("[server]%s feed opened for %s", kind, owner)

	// reader: only control frames and close are expected
	closed := make(chan struct{})
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		var c gateway.Change
		select {
		case <-closed:
			glog.V(2).Infof("[server]%s feed closed for %s", kind, owner)
			return
		case <-sub.Done():
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
			continue
		case c = <-changes:
		case <-overflow:
			c = gateway.Change{Kind: kind, Owner: owner}
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(c); err != nil {
			glog.V(2).Infof("[server]feed write error = %s", err)
			return
		}
		s.metrics.Pushed()
	}
}
