// Package transport carries the memcache control-plane messages over HTTP:
// a name-routed JSON message server and a client with bounded retries.
/*
 * Copyright (c) 2020, NVIDIA CORPORATION. All rights reserved.
 */
package transport

import (
	"bytes"
	"context"
	"io/ioutil"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/NVIDIA/memcache/cmn"
	jsoniter "github.com/json-iterator/go"
	"github.com/golang/glog"
	"github.com/pkg/errors"
)

const msgPath = "/v1/msg/"

type (
	// Handler processes one decoded message body and returns the reply
	// payload (nil for ack-only messages).
	Handler func(body []byte) (reply interface{}, err error)

	Server struct {
		mu       sync.Mutex
		handlers map[string]Handler
		srv      *http.Server
		listener net.Listener
	}

	Client struct {
		http    *http.Client
		retries int
	}
)

/////////////
// Server //
/////////////

func NewServer(addr string) *Server {
	s := &Server{handlers: make(map[string]Handler)}
	mux := http.NewServeMux()
	mux.HandleFunc(msgPath, s.serve)
	s.srv = &http.Server{Addr: addr, Handler: mux}
	return s
}

func (s *Server) Register(name string, h Handler) {
	s.mu.Lock()
	s.handlers[name] = h
	s.mu.Unlock()
}

// Listen binds the address; the effective endpoint (useful with port 0) is
// available afterwards via Endpoint.
func (s *Server) Listen() (err error) {
	s.listener, err = net.Listen("tcp", s.srv.Addr)
	return errors.Wrapf(err, "failed to listen on %q", s.srv.Addr)
}

func (s *Server) Endpoint() string {
	if s.listener == nil {
		return "http://" + s.srv.Addr
	}
	return "http://" + s.listener.Addr().String()
}

// Run serves until Shutdown.
func (s *Server) Run() error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	glog.Infof("message server listening on %s", s.Endpoint())
	err := s.srv.Serve(s.listener)
	if err == http.ErrServerClosed {
		err = nil
	}
	return err
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	s.srv.Shutdown(ctx)
	cancel()
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Path[len(msgPath):]
	s.mu.Lock()
	h, ok := s.handlers[name]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "unknown message "+name, http.StatusNotFound)
		return
	}
	body, err := ioutil.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	reply, err := h(body)
	if err != nil {
		glog.Errorf("message %q failed: %v", name, err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if reply == nil {
		reply = &struct{}{}
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(cmn.MustMarshal(reply))
}

/////////////
// Client //
/////////////

func NewClient(timeout time.Duration, retries int) *Client {
	return &Client{
		http:    &http.Client{Timeout: timeout},
		retries: cmn.Max(retries, 1),
	}
}

// Call posts the message and decodes the reply. Timeouts retry up to the
// configured limit; a timeout never mutates caller-visible state, so replay
// is safe (handlers dedupe where it is not).
func (c *Client) Call(endpoint, name string, body, reply interface{}) (err error) {
	data := cmn.MustMarshal(body)
	for i := 0; i < c.retries; i++ {
		if i > 0 {
			glog.Warningf("retrying message %q to %s (%d/%d)", name, endpoint, i+1, c.retries)
		}
		var resp *http.Response
		resp, err = c.http.Post(endpoint+msgPath+name, "application/json", bytes.NewReader(data))
		if err != nil {
			if isTimeout(err) {
				err = cmn.NewTimeoutError("message " + name)
				continue
			}
			return errors.Wrapf(err, "message %q to %s", name, endpoint)
		}
		raw, rerr := ioutil.ReadAll(resp.Body)
		resp.Body.Close()
		if rerr != nil {
			return errors.Wrapf(rerr, "message %q to %s", name, endpoint)
		}
		if resp.StatusCode != http.StatusOK {
			return errors.Errorf("message %q to %s: %s: %s", name, endpoint, resp.Status, string(raw))
		}
		if reply != nil {
			if err = jsoniter.Unmarshal(raw, reply); err != nil {
				return errors.Wrapf(err, "message %q reply", name)
			}
		}
		return nil
	}
	return
}

// Tell is a fire-and-expect-acknowledgment call: the far side answering
// false is a protocol violation.
func (c *Client) Tell(endpoint, name string, body interface{}) error {
	var reply struct {
		Ok bool `json:"ok"`
	}
	if err := c.Call(endpoint, name, body, &reply); err != nil {
		return err
	}
	cmn.AssertMsg(reply.Ok, "tell "+name+" rejected by "+endpoint)
	return nil
}

func isTimeout(err error) bool {
	type timeout interface{ Timeout() bool }
	for e := err; e != nil; e = errors.Unwrap(e) {
		if t, ok := e.(timeout); ok && t.Timeout() {
			return true
		}
	}
	return false
}
