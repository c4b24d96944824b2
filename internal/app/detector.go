package app

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"github.com/dkeye/tsstatus/internal/domain"
)

// Fingerprint digests a snapshot. Groups are ordered by id before hashing
// so the digest never depends on how the snapshot was assembled; member
// order inside a group is significant.
func Fingerprint(s domain.OccupancySnapshot) string {
	groups := make([]domain.Group, len(s.Groups))
	copy(groups, s.Groups)
	sort.SliceStable(groups, func(i, j int) bool { return groups[i].ID < groups[j].ID })

	var b strings.Builder
	for _, g := range groups {
		b.WriteString("g")
		b.WriteString(strconv.Itoa(int(g.ID)))
		b.WriteString(strconv.Quote(g.Name))
		for _, m := range g.Members {
			b.WriteString("m")
			b.WriteString(strconv.Quote(m))
		}
		b.WriteString(";")
	}
	for _, name := range s.EmptyGroupNames {
		b.WriteString("e")
		b.WriteString(strconv.Quote(name))
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// ShouldRender reports whether s differs from what was last rendered, or
// force is set. It never mutates state.
func ShouldRender(s domain.OccupancySnapshot, lastFingerprint string, force bool) (string, bool) {
	fp := Fingerprint(s)
	return fp, force || fp != lastFingerprint
}
