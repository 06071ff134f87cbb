package ids

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
	codeRnd   = mathrand.New(mathrand.NewSource(time.Now().UnixNano() ^ 0x5a5a))
)

// New returns a lexicographically sortable identifier suitable for storage keys.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// codeAlphabet omits 0/O/1/I so codes survive being read aloud.
const codeAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

// InviteCodeLength is the fixed length of workspace invite codes.
const InviteCodeLength = 6

// NewInviteCode synthesizes a 6-character invite code from a time component
// and a random component. Uniqueness is not guaranteed here; callers must
// check the candidate against existing codes and regenerate on collision.
func NewInviteCode() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	buf := make([]byte, InviteCodeLength)
	now := time.Now().UnixMilli()
	buf[0] = codeAlphabet[int(now/int64(len(codeAlphabet)))%len(codeAlphabet)]
	buf[1] = codeAlphabet[int(now)%len(codeAlphabet)]
	for i := 2; i < InviteCodeLength; i++ {
		buf[i] = codeAlphabet[codeRnd.Intn(len(codeAlphabet))]
	}
	return string(buf)
}
