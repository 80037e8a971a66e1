package client

import (
	"io"
	"sync"

	"github.com/zephyrtun/zephyr/internal/rpc"
)

// transferConn adapts one conn_id's slice of the shared transfer stream into
// an io.ReadWriteCloser, the client-side mirror of rpc.ChannelConn (which
// does the same job server-side over rpc.XData channels).
type transferConn struct {
	client  *Client
	connID  string
	inbound <-chan rpc.TransferReply

	buf []byte

	closeOnce sync.Once
}

// Read returns request bytes forwarded from the server, or io.EOF once the
// server sends an empty req_data (the end of the request bytes) or the
// shared stream ends.
func (c *transferConn) Read(p []byte) (int, error) {
	for len(c.buf) == 0 {
		reply, ok := <-c.inbound
		if !ok {
			return 0, io.EOF
		}
		if len(reply.ReqData) == 0 {
			return 0, io.EOF
		}
		c.buf = reply.ReqData
	}
	n := copy(p, c.buf)
	c.buf = c.buf[n:]
	return n, nil
}

// Write sends p as a StatusWorking chunk back to the server.
func (c *transferConn) Write(p []byte) (int, error) {
	body := rpc.TransferBody{ConnID: c.connID, Status: rpc.StatusWorking, RespData: append([]byte(nil), p...)}
	if err := c.client.sendTransferBody(body); err != nil {
		return 0, err
	}
	return len(p), nil
}

// CloseWrite signals StatusDone exactly once, the half-close half of the
// proxy.Bidirectional contract.
func (c *transferConn) CloseWrite() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.client.sendTransferBody(rpc.TransferBody{ConnID: c.connID, Status: rpc.StatusDone})
	})
	return err
}

// Close is CloseWrite under another name; the local connection's own close
// is handled by proxy.Bidirectional on the other leg.
func (c *transferConn) Close() error {
	return c.CloseWrite()
}
