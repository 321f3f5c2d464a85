package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/xbase-dev/xbased/internal/daemonsocket"
	"github.com/xbase-dev/xbased/internal/xbproto"
)

// sendRequest dials the daemon request socket, writes one line-delimited
// Request, and reads back its Response.
func sendRequest(req xbproto.Request) (xbproto.Response, error) {
	address := daemonsocket.Address()
	if socketFlag != "" {
		address = socketFlag
	}

	conn, err := net.DialTimeout("unix", address, 2*time.Second)
	if err != nil {
		return xbproto.Response{}, fmt.Errorf("connecting to xbased at %s (is it running?): %w", address, err)
	}
	defer conn.Close()

	data, err := json.Marshal(req)
	if err != nil {
		return xbproto.Response{}, fmt.Errorf("encoding request: %w", err)
	}
	if _, err := conn.Write(append(data, '\n')); err != nil {
		return xbproto.Response{}, fmt.Errorf("writing request: %w", err)
	}

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return xbproto.Response{}, fmt.Errorf("reading response: %w", err)
	}
	var resp xbproto.Response
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		return xbproto.Response{}, fmt.Errorf("decoding response: %w", err)
	}
	return resp, nil
}
