package store

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/cosmopolite/cosmopolite/server/store/types"
)

// Maximum length of a subject name in bytes after normalization.
const maxSubjectNameLength = 1024

// NormalizeSubjectName returns the NFC form of a subject name with surrounding
// whitespace removed, or an empty string if the name is unusable.
func NormalizeSubjectName(name string) string {
	name = strings.TrimSpace(norm.NFC.String(name))
	if len(name) > maxSubjectNameLength {
		return ""
	}
	return name
}

// SubjectKey derives the subject id from its name and restrictions. The name must be normalized.
// Each part is length-prefixed so that no two different tuples hash the same input.
func SubjectKey(name, readableOnlyBy, writableOnlyBy string) string {
	h := sha256.New()
	var size [4]byte
	for _, part := range []string{name, readableOnlyBy, writableOnlyBy} {
		binary.BigEndian.PutUint32(size[:], uint32(len(part)))
		h.Write(size[:])
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func validOwner(owner string) bool {
	return owner == "" || owner == types.AdminOwner || !types.ParseUid(owner).IsZero()
}
