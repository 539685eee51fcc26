package rowstore

import (
	"hash/fnv"
	"strconv"
)

// Version identifies the content of a row. Trailing empty cells do not
// count, since the remote store trims them.
type Version uint64

func (v Version) String() string {
	return strconv.FormatUint(uint64(v), 16)
}

// VersionOf hashes cells with FNV-64a.
func VersionOf(cells []string) Version {
	n := len(cells)
	for n > 0 && cells[n-1] == "" {
		n--
	}
	h := fnv.New64a()
	for i := 0; i < n; i++ {
		_, _ = h.Write([]byte(cells[i]))
		_, _ = h.Write([]byte{0x1f})
	}
	return Version(h.Sum64())
}
