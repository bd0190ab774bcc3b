package notify

// UnknownSentinel fills a channel key slot when the project or user is not
// known at the publishing layer. The completion webhook only knows the
// project, so it publishes with the user slot set to this sentinel and
// streaming clients subscribe the same way.
const UnknownSentinel = "none"

// ChannelKey addresses one pub/sub channel. Derived on demand, never
// persisted.
type ChannelKey string

// Key derives the channel key for a (projectID, userID) pair. It is a pure
// function: equal inputs always produce equal keys and distinct pairs can
// never collide, because known slots are length-prefixed and unknown slots
// carry a tag no literal id can produce.
func Key(projectID, userID string) ChannelKey {
	buf := make([]byte, 0, len(projectID)+len(userID)+16)
	buf = appendSlot(buf, projectID)
	buf = append(buf, '/')
	buf = appendSlot(buf, userID)
	return ChannelKey(buf)
}

// appendSlot encodes one key slot. Known values get a length prefix, which
// keeps ("ab","c") and ("a","bc") apart; an empty slot is written as the
// tagged sentinel. The tag matters: an id literally spelling the sentinel
// string must not alias the unknown slot, and it cannot, since literal
// encodings always start with a digit.
func appendSlot(buf []byte, s string) []byte {
	if s == "" {
		buf = append(buf, '*')
		return append(buf, UnknownSentinel...)
	}

	n := len(s)
	var digits [20]byte
	i := len(digits)
	for {
		i--
		digits[i] = byte('0' + n%10)
		n /= 10
		if n == 0 {
			break
		}
	}
	buf = append(buf, digits[i:]...)
	buf = append(buf, ':')
	return append(buf, s...)
}
