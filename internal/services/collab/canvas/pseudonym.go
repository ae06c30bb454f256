package canvas

import (
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
	"golang.org/x/text/unicode/norm"
)

const pseudonymContext = "drawroom 2024 user room pseudonym"

const pseudonymBytes = 16

// RoomPseudonym derives the pseudonym a user carries in a room. The result
// is stable for a given user and room and reveals neither.
func RoomPseudonym(userID, room string) string {
	hasher := blake3.NewDeriveKey(pseudonymContext)
	_, _ = hasher.Write([]byte(userID))
	_, _ = hasher.Write([]byte{0})
	_, _ = hasher.Write([]byte(room))
	sum := hasher.Sum(nil)
	return hex.EncodeToString(sum[:pseudonymBytes])
}

// AnonymousPseudonym derives a pseudonym from a fresh random identity.
func AnonymousPseudonym(room string) string {
	return RoomPseudonym(uuid.NewString(), room)
}

// NormalizeRoomName trims and NFC-normalizes a room name so equivalent
// spellings share one key.
func NormalizeRoomName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}
