// Package jrpc dials and serves JSON-RPC connections guarded by a shared-key
// handshake. Both sides exchange random salts and then prove knowledge of
// the key with an HMAC over the full handshake transcript, so an agent never
// executes commands for an unauthenticated peer.
package jrpc

import (
	"bufio"
	"crypto/hmac"
	crypto_rand "crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"hash"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"

	"github.com/replicheck/replicheck/log"
)

const handshakeTimeout = time.Minute

var (
	errBadPeerTag  = errors.New("jrpc: peer presented an invalid tag")
	errBadRequest  = errors.New("jrpc: unexpected handshake request")
	errEmptyResult = errors.New("jrpc: empty handshake result")
)

// Dial connects, authenticates, and returns a ready RPC client.
func Dial(address string, key []byte) (*rpc.Client, error) {
	conn, err := net.DialTimeout("tcp", address, handshakeTimeout)
	if err != nil {
		return nil, err
	}
	s := newStream(conn)
	if err := conn.SetDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		conn.Close()
		return nil, err
	}
	if err := newHandshake(s, key).client(); err != nil {
		conn.Close()
		return nil, err
	}
	if err := conn.SetDeadline(time.Time{}); err != nil {
		conn.Close()
		return nil, err
	}
	return jsonrpc.NewClient(s), nil
}

// Listen accepts connections forever, serving the default RPC registry to
// every peer that completes the handshake.
func Listen(address string, key []byte) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	defer listener.Close()
	log.Info("jrpc: listening on %v", listener.Addr())
	for {
		conn, err := listener.Accept()
		if err != nil {
			return err
		}
		go serveConn(conn, key)
	}
}

func serveConn(conn net.Conn, key []byte) {
	defer conn.Close()
	s := newStream(conn)
	if err := conn.SetDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		return
	}
	if err := newHandshake(s, key).server(); err != nil {
		log.Warning("jrpc: handshake with %v failed: %v", conn.RemoteAddr(), err)
		return
	}
	if err := conn.SetDeadline(time.Time{}); err != nil {
		return
	}
	log.Info("jrpc: serving %v", conn.RemoteAddr())
	jsonrpc.ServeConn(s)
}

// stream adapts a buffered reader plus the raw connection into the
// io.ReadWriteCloser jsonrpc wants, while letting the handshake read lines.
type stream struct {
	conn net.Conn
	r    *bufio.Reader
}

func newStream(conn net.Conn) *stream {
	return &stream{conn: conn, r: bufio.NewReader(conn)}
}

func (s *stream) Read(p []byte) (int, error)  { return s.r.Read(p) }
func (s *stream) Write(p []byte) (int, error) { return s.conn.Write(p) }
func (s *stream) Close() error                { return s.conn.Close() }

type handshake struct {
	s *stream
	h hash.Hash
}

func newHandshake(s *stream, key []byte) *handshake {
	return &handshake{s: s, h: hmac.New(sha256.New, key)}
}

type handshakeMsg struct {
	Method string   `json:"method,omitempty"`
	Params []string `json:"params,omitempty"`
	Result string   `json:"result,omitempty"`
	Error  string   `json:"error,omitempty"`
}

func (hs *handshake) client() error {
	salt, err := randHex()
	if err != nil {
		return err
	}
	if err := hs.send(handshakeMsg{Method: "replicheck.auth0", Params: []string{salt}}); err != nil {
		return err
	}
	if _, err := hs.recvResult(); err != nil {
		return err
	}
	if err := hs.send(handshakeMsg{Method: "replicheck.auth1", Params: []string{hs.tag()}}); err != nil {
		return err
	}
	want := hs.tag()
	got, err := hs.recvResult()
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(got), []byte(want)) {
		return errBadPeerTag
	}
	return nil
}

func (hs *handshake) server() error {
	req, err := hs.recv()
	if err != nil {
		return err
	}
	if req.Method != "replicheck.auth0" || len(req.Params) != 1 {
		hs.send(handshakeMsg{Error: errBadRequest.Error()})
		return errBadRequest
	}
	salt, err := randHex()
	if err != nil {
		return err
	}
	if err := hs.send(handshakeMsg{Result: salt}); err != nil {
		return err
	}
	want := hs.tag()
	req, err = hs.recv()
	if err != nil {
		return err
	}
	if req.Method != "replicheck.auth1" || len(req.Params) != 1 {
		hs.send(handshakeMsg{Error: errBadRequest.Error()})
		return errBadRequest
	}
	if !hmac.Equal([]byte(req.Params[0]), []byte(want)) {
		hs.send(handshakeMsg{Error: errBadPeerTag.Error()})
		return errBadPeerTag
	}
	return hs.send(handshakeMsg{Result: hs.tag()})
}

// tag is the hex HMAC over every handshake line sent or received so far.
func (hs *handshake) tag() string {
	return hex.EncodeToString(hs.h.Sum(nil))
}

func (hs *handshake) send(msg handshakeMsg) error {
	line, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	line = append(line, '\n')
	if _, err := hs.s.Write(line); err != nil {
		return err
	}
	hs.h.Write(line)
	return nil
}

func (hs *handshake) recv() (handshakeMsg, error) {
	var msg handshakeMsg
	line, err := hs.s.r.ReadBytes('\n')
	if err != nil {
		return msg, err
	}
	hs.h.Write(line)
	if err := json.Unmarshal(line, &msg); err != nil {
		return msg, err
	}
	if msg.Error != "" {
		return msg, errors.New("jrpc: " + msg.Error)
	}
	return msg, nil
}

func (hs *handshake) recvResult() (string, error) {
	msg, err := hs.recv()
	if err != nil {
		return "", err
	}
	if msg.Result == "" {
		return "", errEmptyResult
	}
	return msg.Result, nil
}

func randHex() (string, error) {
	var b [16]byte
	if _, err := crypto_rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}
