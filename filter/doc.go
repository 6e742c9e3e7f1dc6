// Package filter implements in-flight byte transforms for filter streams.
//
// A Filter buffers leftover input and produced output so that callers can ask
// for output in chunks of a chosen size ("need"). Output is cached until that
// many bytes exist unless the caller flushes. Concrete codecs: chunked
// transfer coding (decode and encode), charset conversion, zip
// (gzip/zlib/raw deflate in both directions) and a pass-through cache.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package filter
