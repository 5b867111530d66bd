// Package transport carries the memcache control-plane messages over HTTP:
// a name-routed JSON message server and a client with bounded retries.
/*
 * Copyright (c) 2020, NVIDIA CORPORATION. All rights reserved.
 */
package transport_test

import (
	"testing"
	"time"

	"github.com/NVIDIA/memcache/cmn"
	"github.com/NVIDIA/memcache/transport"
	"github.com/NVIDIA/memcache/tutils/tassert"
	jsoniter "github.com/json-iterator/go"
)

type echoMsg struct {
	Text string `json:"text"`
}

func startServer(t *testing.T) *transport.Server {
	t.Helper()
	srv := transport.NewServer("127.0.0.1:0")
	tassert.CheckFatal(t, srv.Listen())
	go srv.Run()
	return srv
}

func TestCallRoundTrip(t *testing.T) {
	srv := startServer(t)
	defer srv.Shutdown()
	srv.Register("echo", func(body []byte) (interface{}, error) {
		var m echoMsg
		if err := jsoniter.Unmarshal(body, &m); err != nil {
			return nil, err
		}
		return &echoMsg{Text: m.Text + "!"}, nil
	})

	client := transport.NewClient(2*time.Second, 1)
	var reply echoMsg
	err := client.Call(srv.Endpoint(), "echo", &echoMsg{Text: "ping"}, &reply)
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, reply.Text == "ping!", "bad reply %q", reply.Text)
}

func TestUnknownMessage(t *testing.T) {
	srv := startServer(t)
	defer srv.Shutdown()

	client := transport.NewClient(2*time.Second, 1)
	err := client.Call(srv.Endpoint(), "nope", &echoMsg{}, nil)
	tassert.Fatalf(t, err != nil, "unknown message must fail")
}

func TestTell(t *testing.T) {
	srv := startServer(t)
	defer srv.Shutdown()
	srv.Register("ack", func([]byte) (interface{}, error) {
		return &struct {
			Ok bool `json:"ok"`
		}{Ok: true}, nil
	})

	client := transport.NewClient(2*time.Second, 1)
	tassert.CheckFatal(t, client.Tell(srv.Endpoint(), "ack", &echoMsg{}))
}

func TestTimeoutSurfacesAfterRetries(t *testing.T) {
	srv := startServer(t)
	defer srv.Shutdown()
	srv.Register("slow", func([]byte) (interface{}, error) {
		time.Sleep(500 * time.Millisecond)
		return nil, nil
	})

	client := transport.NewClient(50*time.Millisecond, 2)
	err := client.Call(srv.Endpoint(), "slow", &echoMsg{}, nil)
	tassert.Fatalf(t, err != nil, "expected a timeout")
	tassert.Errorf(t, cmn.IsTimeout(err), "expected a timeout error, got %v", err)
}
