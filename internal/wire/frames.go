// Copyright 2026 The ZTeraDB Go Client Authors.
// Licensed under Apache 2.0, see LICENCE file for details.

package wire

import (
	"encoding/json"
	"fmt"

	"github.com/zteradb/zteradb-go/internal/codec"
)

// RequestType tags client frames.
type RequestType int

const (
	Connect    RequestType = 0x001
	Disconnect RequestType = 0x003
	Query      RequestType = 0x005
	Ping       RequestType = 0x007
)

func (t RequestType) String() string {
	switch t {
	case Connect:
		return "CONNECT"
	case Disconnect:
		return "DISCONNECT"
	case Query:
		return "QUERY"
	case Ping:
		return "PING"
	}
	return fmt.Sprintf("RequestType(%#x)", int(t))
}

// ResponseCode tags server frames.
type ResponseCode int

const (
	Connected       ResponseCode = 0x002
	Disconnected    ResponseCode = 0x004
	ClientAuthError ResponseCode = 0x006
	QueryData       ResponseCode = 0x007
	QueryError      ResponseCode = 0x009
	Pong            ResponseCode = 0x010
	NoAccess        ResponseCode = 0x011
	ParseQueryError ResponseCode = 0x100
	TokenExpired    ResponseCode = 0x400
	InvalidSchema   ResponseCode = 0x401
	FieldError      ResponseCode = 0x402
	ConnectError    ResponseCode = 0x500
	QueryComplete   ResponseCode = 0x608
)

var responseCodeNames = map[ResponseCode]string{
	Connected:       "CONNECTED",
	Disconnected:    "DISCONNECTED",
	ClientAuthError: "CLIENT_AUTH_ERROR",
	QueryData:       "QUERY_DATA",
	QueryError:      "QUERY_ERROR",
	Pong:            "PONG",
	NoAccess:        "NO_ACCESS",
	ParseQueryError: "PARSE_QUERY_ERROR",
	TokenExpired:    "TOKEN_EXPIRED",
	InvalidSchema:   "INVALID_SCHEMA",
	FieldError:      "FIELD_ERROR",
	ConnectError:    "CONNECT_ERROR",
	QueryComplete:   "QUERY_COMPLETE",
}

func (c ResponseCode) String() string {
	if name, ok := responseCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ResponseCode(%#x)", int(c))
}

// Handshake is the first frame sent on a connection. The secret key is never
// sent; RequestToken proves the client knows it.
type Handshake struct {
	RequestType      RequestType `json:"request_type"`
	ClientKey        string      `json:"client_key"`
	AccessKey        string      `json:"access_key"`
	Nonce            string      `json:"nonce"`
	RequestToken     string      `json:"request_token"`
	DatabaseID       string      `json:"database_id"`
	Env              string      `json:"env"`
	ResponseDataType string      `json:"response_data_type"`
}

// ClientAuth is the server's signature over a nonce.
type ClientAuth struct {
	Nonce        string `json:"nonce"`
	RequestToken string `json:"request_token"`
}

// AckData carries the session token granted by the server.
type AckData struct {
	ClientKey         string `json:"client_key"`
	AccessKey         string `json:"access_key"`
	AccessToken       string `json:"access_token"`
	AccessTokenExpire int64  `json:"access_token_expire"`
}

// Ack answers a Handshake.
type Ack struct {
	Error        string       `json:"error,omitempty"`
	ResponseCode ResponseCode `json:"response_code"`
	ClientAuth   ClientAuth   `json:"client_auth"`
	Data         AckData      `json:"data"`
}

// Request is a frame sent on an authenticated connection. Query is set only
// for Query requests.
type Request struct {
	RequestType RequestType     `json:"request_type"`
	ClientKey   string          `json:"client_key"`
	AccessToken string          `json:"access_token"`
	DatabaseID  string          `json:"database_id,omitempty"`
	Env         string          `json:"env,omitempty"`
	Query       *codec.Envelope `json:"query,omitempty"`
}

// Status classifies response frames.
type Status string

const (
	// StatusOK is the single terminal frame of an Insert, Update, Delete or
	// Count, or the answer to a Ping.
	StatusOK Status = "ok"
	// StatusData carries one record of a Select.
	StatusData Status = "data"
	// StatusDone ends a Select.
	StatusDone Status = "done"
	// StatusError ends any request with a server error.
	StatusError Status = "error"
)

// Response is a frame sent by the server after a Request.
type Response struct {
	Seq          int             `json:"seq"`
	Status       Status          `json:"status"`
	ResponseCode ResponseCode    `json:"response_code,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
	Code         int             `json:"code,omitempty"`
	Message      string          `json:"message,omitempty"`
}

// Terminal reports whether no frame follows r for the same request.
func (r *Response) Terminal() bool {
	return r.Status != StatusData
}
