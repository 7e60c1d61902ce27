package domain

import (
	"crypto/rand"
)

// GroupIDAlphabet excludes 'O' and '0', which are easily confused when a
// group identifier is spoken or handwritten.
const GroupIDAlphabet = "ABCDEFGHIJKLMNPQRSTUVWXYZ123456789"

// GroupIDLength is the fixed identifier length.
const GroupIDLength = 8

// NewGroupID draws a fresh identifier uniformly from the restricted
// alphabet. Identifiers must be unguessable, so the bytes come from
// crypto/rand; rejection sampling keeps the draw unbiased.
func NewGroupID() GroupID {
	const limit = byte(len(GroupIDAlphabet) * (256 / len(GroupIDAlphabet))) // 238

	id := make([]byte, 0, GroupIDLength)
	buf := make([]byte, GroupIDLength*2)
	for len(id) < GroupIDLength {
		rand.Read(buf)
		for _, b := range buf {
			if b >= limit {
				continue
			}
			id = append(id, GroupIDAlphabet[int(b)%len(GroupIDAlphabet)])
			if len(id) == GroupIDLength {
				break
			}
		}
	}
	return GroupID(id)
}
