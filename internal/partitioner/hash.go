package partitioner

import (
	"hash/fnv"

	"github.com/tarungka/wiresql/internal/models"
)

// HashFnv returns the FNV-64a hash of data.
func HashFnv(data []byte) (uint64, error) {
	h := fnv.New64a()
	if _, err := h.Write(data); err != nil {
		return 0, err
	}
	return h.Sum64(), nil
}

// HashKey hashes a record by its key, so that every record with the same
// key lands on the same partition.
func HashKey(rec models.KeyedRecord) (uint64, error) {
	return HashFnv([]byte(rec.Key))
}

// TODO: implement consistent hashing so that changing the partition count
// does not move every key.
