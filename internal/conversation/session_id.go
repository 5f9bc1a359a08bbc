package conversation

import (
	"math/rand/v2"
	"strconv"
	"time"
)

const (
	sessionPrefix  = "tt_"
	sessionRandLen = 9
	base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// NewSessionID builds "tt_<epoch ms>_<9 base-36 chars>". The id only needs to
// be unique enough to key a conversation on the webhook side.
func NewSessionID(now time.Time) string {
	buf := make([]byte, 0, len(sessionPrefix)+13+1+sessionRandLen)
	buf = append(buf, sessionPrefix...)
	buf = strconv.AppendInt(buf, now.UnixMilli(), 10)
	buf = append(buf, '_')
	for range sessionRandLen {
		buf = append(buf, base36Alphabet[rand.IntN(len(base36Alphabet))])
	}
	return string(buf)
}
