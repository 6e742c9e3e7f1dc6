// File: api/control.go
// Package api defines stream control codes.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// Ctrl is an out-of-band stream control command.
//
// Getters take a pointer argument that receives the value. Setters take the
// value and are rejected with ErrNotClosed unless the stream is closed, except
// where noted.
type Ctrl int

const (
	CtrlNone Ctrl = iota

	// Common.
	CtrlGetSize    // *int64
	CtrlGetOffset  // *int64
	CtrlGetURL     // *string
	CtrlSetURL     // string
	CtrlGetHost    // *string
	CtrlSetHost    // string
	CtrlGetPort    // *int
	CtrlSetPort    // int
	CtrlGetPath    // *string
	CtrlSetPath    // string
	CtrlGetSSL     // *bool
	CtrlSetSSL     // bool
	CtrlGetTimeout // *time.Duration
	CtrlSetTimeout // time.Duration
	CtrlSetWCache  // int, accepted in any phase

	// File.
	CtrlFileGetMode // *int
	CtrlFileSetMode // int (stream.FileMode* flags)
	CtrlFileSetLock // bool

	// Sock.
	CtrlSockGetType   // *int (stream.SockTCP / stream.SockUDP)
	CtrlSockSetType   // int
	CtrlSockGetHandle // *net.Conn
	CtrlSockKeepAlive // bool, accepted in any phase
	CtrlSockGetAddr   // *string, resolved address once opened

	// HTTP.
	CtrlHTTPGetStatus    // *int, response code once opened
	CtrlHTTPSetMethod    // string
	CtrlHTTPSetHead      // key, value string
	CtrlHTTPGetHead      // key string, *string
	CtrlHTTPSetRange     // from, to int64 (to < 0 means open ended)
	CtrlHTTPSetRedirect  // int, maximum redirects (0 disables)
	CtrlHTTPSetVersion   // int, 10 or 11
	CtrlHTTPSetCookies   // http.CookieJar
	CtrlHTTPSetPost      // []byte or io.Reader, optional size int64
	CtrlHTTPSetAutoUnzip // bool

	// Filter.
	CtrlFilterGetStream // *Stream
	CtrlFilterSetStream // Stream
	CtrlFilterGetFilter // *filter.Filter
	CtrlFilterSetFilter // filter.Filter

	// Data.
	CtrlDataSetData // []byte, borrowed
)

var ctrlNames = map[Ctrl]string{
	CtrlGetSize: "get-size", CtrlGetOffset: "get-offset", CtrlGetURL: "get-url",
	CtrlSetURL: "set-url", CtrlGetHost: "get-host", CtrlSetHost: "set-host",
	CtrlGetPort: "get-port", CtrlSetPort: "set-port", CtrlGetPath: "get-path",
	CtrlSetPath: "set-path", CtrlGetSSL: "get-ssl", CtrlSetSSL: "set-ssl",
	CtrlGetTimeout: "get-timeout", CtrlSetTimeout: "set-timeout", CtrlSetWCache: "set-wcache",
	CtrlFileGetMode: "file-get-mode", CtrlFileSetMode: "file-set-mode", CtrlFileSetLock: "file-set-lock",
	CtrlSockGetType: "sock-get-type", CtrlSockSetType: "sock-set-type",
	CtrlSockGetHandle: "sock-get-handle", CtrlSockKeepAlive: "sock-keep-alive", CtrlSockGetAddr: "sock-get-addr",
	CtrlHTTPGetStatus: "http-get-status", CtrlHTTPSetMethod: "http-set-method",
	CtrlHTTPSetHead: "http-set-head", CtrlHTTPGetHead: "http-get-head", CtrlHTTPSetRange: "http-set-range",
	CtrlHTTPSetRedirect: "http-set-redirect", CtrlHTTPSetVersion: "http-set-version",
	CtrlHTTPSetCookies: "http-set-cookies", CtrlHTTPSetPost: "http-set-post",
	CtrlHTTPSetAutoUnzip: "http-set-auto-unzip",
	CtrlFilterGetStream: "filter-get-stream", CtrlFilterSetStream: "filter-set-stream",
	CtrlFilterGetFilter: "filter-get-filter", CtrlFilterSetFilter: "filter-set-filter",
	CtrlDataSetData: "data-set-data",
}

func (c Ctrl) String() string {
	if s, ok := ctrlNames[c]; ok {
		return s
	}
	return "none"
}
