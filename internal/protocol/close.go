package protocol

import "unicode/utf8"

// Close codes used by the relay.
const (
	CloseNormal        = 1000
	CloseGoingAway     = 1001
	CloseInternalError = 1011
)

const maxCloseReasonBytes = 123

// WireClose makes a close code and reason safe to put in a close frame. Codes
// that may not be sent on the wire (below 1000, 1004-1006, 1015, the
// unassigned 1016-2999 range and above 4999) become 1011 and the reason is
// kept. Reasons are cut at a rune boundary to fit the control frame.
func WireClose(code int, reason string) (int, string) {
	switch {
	case code < 1000, code > 4999:
		code = CloseInternalError
	case code >= 1004 && code <= 1006, code == 1015:
		code = CloseInternalError
	case code > 1015 && code < 3000:
		code = CloseInternalError
	}
	if len(reason) > maxCloseReasonBytes {
		cut := maxCloseReasonBytes
		for cut > 0 && !utf8.RuneStart(reason[cut]) {
			cut--
		}
		reason = reason[:cut]
	}
	return code, reason
}
