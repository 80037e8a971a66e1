package rpc

import (
	"encoding/json"
	"fmt"
	"io"
)

// JSONStream frames a sequence of JSON values over a byte stream (a yamux
// Stream in practice). It plays the role the teacher's protocol.
// ControlStream played for otun's register/registered/heartbeat messages,
// generalized to the login/listen/transfer service shape of spec.md §6.
type JSONStream struct {
	enc *json.Encoder
	dec *json.Decoder
	rwc io.ReadWriteCloser
}

// NewJSONStream wraps rwc (typically a *yamux.Stream) for framed JSON I/O.
func NewJSONStream(rwc io.ReadWriteCloser) *JSONStream {
	return &JSONStream{enc: json.NewEncoder(rwc), dec: json.NewDecoder(rwc), rwc: rwc}
}

// Close closes the underlying stream.
func (s *JSONStream) Close() error { return s.rwc.Close() }

// StreamKind is the one-byte tag a client writes as the first byte of every
// yamux stream it opens, so the server's single AcceptStream loop can
// dispatch without a separate stream per RPC kind being distinguishable any
// other way (yamux streams are untyped byte pipes). This plays the role the
// teacher's message-type switch on one shared control stream played,
// generalized to the stream level since spec.md §6 defines three
// independent RPCs rather than one control channel.
type StreamKind byte

const (
	StreamLogin StreamKind = iota
	StreamListen
	StreamTransfer
)

// WriteStreamKind writes the one-byte kind tag (client side, once per
// opened stream).
func WriteStreamKind(w io.Writer, kind StreamKind) error {
	_, err := w.Write([]byte{byte(kind)})
	return err
}

// ReadStreamKind reads the one-byte kind tag (server side, once per
// accepted stream).
func ReadStreamKind(r io.Reader) (StreamKind, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return StreamKind(b[0]), nil
}

// authEnvelope carries the session id every non-login RPC attaches, the
// analogue of the metadata key "authorization" spec.md §6 assumes the
// transport provides natively.
type authEnvelope struct {
	SessionID string `json:"session_id"`
}

// SendAuth writes the session id as the first JSON value on the stream
// (client side).
func (s *JSONStream) SendAuth(sessionID string) error {
	return s.enc.Encode(authEnvelope{SessionID: sessionID})
}

// ReadAuth reads the session id as the first JSON value on the stream
// (server side).
func (s *JSONStream) ReadAuth() (string, error) {
	var env authEnvelope
	if err := s.dec.Decode(&env); err != nil {
		return "", err
	}
	return env.SessionID, nil
}

// loginEnvelope is the one-shot User.login reply: either a LoginReply or a
// StatusError, never both.
type loginEnvelope struct {
	Reply *LoginReply  `json:"reply,omitempty"`
	Error *StatusError `json:"error,omitempty"`
}

// LoginStream carries exactly one LoginBody request and one reply.
type LoginStream struct{ *JSONStream }

// NewLoginStream wraps rwc as a login stream.
func NewLoginStream(rwc io.ReadWriteCloser) *LoginStream {
	return &LoginStream{NewJSONStream(rwc)}
}

// SendRequest writes the LoginBody (client side).
func (s *LoginStream) SendRequest(body LoginBody) error {
	return s.enc.Encode(body)
}

// ReadRequest reads the LoginBody (server side).
func (s *LoginStream) ReadRequest() (LoginBody, error) {
	var body LoginBody
	err := s.dec.Decode(&body)
	return body, err
}

// SendReply writes a successful LoginReply (server side).
func (s *LoginStream) SendReply(reply LoginReply) error {
	return s.enc.Encode(loginEnvelope{Reply: &reply})
}

// SendError writes a failure (server side).
func (s *LoginStream) SendError(err *StatusError) error {
	return s.enc.Encode(loginEnvelope{Error: err})
}

// ReadReply reads the reply envelope (client side), returning either a
// LoginReply or a *StatusError.
func (s *LoginStream) ReadReply() (*LoginReply, error) {
	var env loginEnvelope
	if err := s.dec.Decode(&env); err != nil {
		return nil, err
	}
	if env.Error != nil {
		return nil, env.Error
	}
	if env.Reply == nil {
		return nil, fmt.Errorf("rpc: empty login reply")
	}
	return env.Reply, nil
}

// listenEnvelope is one element of the Tunnel.listen response stream: a
// notification, or a terminal error that ends the stream.
type listenEnvelope struct {
	Notification *ListenNotification `json:"notification,omitempty"`
	Error        *StatusError        `json:"error,omitempty"`
}

// ListenStream carries one ListenParam request followed by a server-push
// stream of ListenNotification values.
type ListenStream struct{ *JSONStream }

// NewListenStream wraps rwc as a listen stream.
func NewListenStream(rwc io.ReadWriteCloser) *ListenStream {
	return &ListenStream{NewJSONStream(rwc)}
}

// SendParam writes the ListenParam (client side, once).
func (s *ListenStream) SendParam(param ListenParam) error {
	return s.enc.Encode(param)
}

// ReadParam reads the ListenParam (server side, once).
func (s *ListenStream) ReadParam() (ListenParam, error) {
	var param ListenParam
	err := s.dec.Decode(&param)
	return param, err
}

// SendNotification pushes one notification (server side).
func (s *ListenStream) SendNotification(n ListenNotification) error {
	return s.enc.Encode(listenEnvelope{Notification: &n})
}

// SendError ends the stream with a failure (server side).
func (s *ListenStream) SendError(err *StatusError) error {
	return s.enc.Encode(listenEnvelope{Error: err})
}

// ReadNotification reads the next notification (client side). Returns the
// *StatusError if the server reported one, or io.EOF when the stream ends.
func (s *ListenStream) ReadNotification() (*ListenNotification, error) {
	var env listenEnvelope
	if err := s.dec.Decode(&env); err != nil {
		return nil, err
	}
	if env.Error != nil {
		return nil, env.Error
	}
	if env.Notification == nil {
		return nil, fmt.Errorf("rpc: empty listen notification")
	}
	return env.Notification, nil
}

// TransferStream is the bidirectional Tunnel.transfer stream: the client
// sends TransferBody, the server sends TransferReply, interleaved by
// conn_id (spec.md §4.4).
type TransferStream struct{ *JSONStream }

// NewTransferStream wraps rwc as a transfer stream.
func NewTransferStream(rwc io.ReadWriteCloser) *TransferStream {
	return &TransferStream{NewJSONStream(rwc)}
}

// SendBody writes a TransferBody (client side).
func (s *TransferStream) SendBody(body TransferBody) error {
	return s.enc.Encode(body)
}

// ReadBody reads the next TransferBody (server side).
func (s *TransferStream) ReadBody() (TransferBody, error) {
	var body TransferBody
	err := s.dec.Decode(&body)
	return body, err
}

// SendReply writes a TransferReply (server side).
func (s *TransferStream) SendReply(reply TransferReply) error {
	return s.enc.Encode(reply)
}

// ReadReply reads the next TransferReply (client side).
func (s *TransferStream) ReadReply() (TransferReply, error) {
	var reply TransferReply
	err := s.dec.Decode(&reply)
	return reply, err
}
