package transport

import (
	"context"
	"testing"
	"time"

	"github.com/cbx-nz/sanchez/internal/wire"
)

func TestTCPRoundTrip(t *testing.T) {
	ln, err := ListenTCP("127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenTCP: %v", err)
	}
	defer ln.Close()

	accepted := make(chan Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			t.Errorf("Accept: %v", err)
			return
		}
		accepted <- c
	}()

	client, err := DialTCP(ln.Addr())
	if err != nil {
		t.Fatalf("DialTCP: %v", err)
	}
	defer client.Close()

	server := <-accepted
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	packet := wire.Encode(wire.TypeMetadata, 0, 1, []byte(`{"title":"t"}`))
	if err := client.Send(ctx, packet); err != nil {
		t.Fatalf("Send: %v", err)
	}
	got, err := server.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if string(got) != string(packet) {
		t.Errorf("round trip mismatch: got %x want %x", got, packet)
	}
}

func TestUDPRoundTrip(t *testing.T) {
	server, err := ListenUDP("127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	defer server.Close()

	serverAddr := server.(*udpConn).conn.LocalAddr().String()

	client, err := DialUDP(serverAddr)
	if err != nil {
		t.Fatalf("DialUDP: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	packet := wire.Encode(wire.TypeSync, 5, 1000, nil)
	if err := client.Send(ctx, packet); err != nil {
		t.Fatalf("Send: %v", err)
	}
	got, err := server.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if string(got) != string(packet) {
		t.Errorf("round trip mismatch: got %x want %x", got, packet)
	}
}
