// Package pabotlib implements the coordination server pabot workers talk to
// during a run: named FIFO locks, a parallel key/value store, tag-indexed
// value sets with exclusive leases, and run-once coordination. The package
// also ships the Go client used by pabot itself and by test-side bindings.
//
// # Wire protocol
//
// The protocol is newline-delimited text over TCP. A request is one line of
// tab-separated fields, each field percent-encoded (url.QueryEscape):
//
//	OP[\targ...]\n
//
// A response is one line in one of three shapes:
//
//	OK[\tdata...]        operation succeeded, data fields follow
//	RETRY                resource is contended, poll again
//	ERROR\tKIND\tmessage operation failed
//
// Operations:
//
//	REGISTER caller                  track caller liveness
//	PING caller                      refresh caller liveness
//	DEREGISTER caller                drop caller, release everything it holds
//	ACQUIRE_LOCK name caller         OK when held, RETRY while queued
//	RELEASE_LOCK name caller         ERROR ReleaseWithoutAcquire if not holder
//	RELEASE_LOCKS caller             release every lock held by caller
//	SET key value                    upsert parallel value
//	GET key                          OK value ("" when missing)
//	ACQUIRE_VALUE_SET caller tag...  OK setname,
//	                                 ERROR NoValueSetAvailable when all
//	                                 matching sets are leased (retryable),
//	                                 ERROR NoSuchTag / AcquireWithoutRelease
//	GET_VALUE_FROM_SET key caller    OK value, ERROR NoLease / NoSuchKey
//	RELEASE_VALUE_SET caller         always OK (no-op without lease)
//	ADD_VALUE_TO_SET name k=v...     insert a value set at runtime
//	RUN_ONLY_ONCE id caller          OK first | OK already status | RETRY
//	RUN_ONLY_ONCE_DONE id caller ok  first caller reports completion
//	IGNORE_EXECUTION caller          mark caller's execution ignored
//	IS_IGNORED caller                OK 1|0
package pabotlib

import (
	"fmt"
	"net/url"
	"strings"
)

// Response status tokens.
const (
	statusOK    = "OK"
	statusRetry = "RETRY"
	statusError = "ERROR"
)

// Error kinds carried in ERROR responses.
const (
	ErrNoValueSetAvailable   = "NoValueSetAvailable"
	ErrNoSuchTag             = "NoSuchTag"
	ErrNoSuchKey             = "NoSuchKey"
	ErrNoLease               = "NoLease"
	ErrReleaseWithoutAcquire = "ReleaseWithoutAcquire"
	ErrAcquireWithoutRelease = "AcquireWithoutRelease"
	ErrBadRequest            = "BadRequest"
)

// encodeFields joins fields into one protocol line, percent-encoding each.
func encodeFields(fields []string) string {
	encoded := make([]string, len(fields))
	for i, f := range fields {
		encoded[i] = url.QueryEscape(f)
	}
	return strings.Join(encoded, "\t")
}

// decodeFields splits one protocol line into decoded fields.
func decodeFields(line string) ([]string, error) {
	raw := strings.Split(strings.TrimRight(line, "\r\n"), "\t")
	fields := make([]string, len(raw))
	for i, f := range raw {
		decoded, err := url.QueryUnescape(f)
		if err != nil {
			return nil, fmt.Errorf("malformed field %d: %w", i, err)
		}
		fields[i] = decoded
	}
	return fields, nil
}

// response is the reply the registry sends back to a connection handler.
type response struct {
	status  string
	data    []string
	errKind string
	errMsg  string
}

func okResponse(data ...string) response {
	return response{status: statusOK, data: data}
}

func retryResponse() response {
	return response{status: statusRetry}
}

func errorResponse(kind, format string, args ...interface{}) response {
	return response{status: statusError, errKind: kind, errMsg: fmt.Sprintf(format, args...)}
}

// encode renders the response as a protocol line without the trailing newline.
func (r response) encode() string {
	switch r.status {
	case statusOK:
		return encodeFields(append([]string{statusOK}, r.data...))
	case statusRetry:
		return statusRetry
	default:
		return encodeFields([]string{statusError, r.errKind, r.errMsg})
	}
}

// foldCase lowercases ASCII letters only. Tag and value-set key matching is
// restricted to ASCII case folding.
func foldCase(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
