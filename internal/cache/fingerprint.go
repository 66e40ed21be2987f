package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"hash"
	"math"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Fingerprint identifies the report that records produce under rs when topN
// flagged claims are kept. Record order is significant because it decides
// tie-breaks in the ranking.
func Fingerprint(records []domain.PolicyRecord, rs *domain.RuleSet, topN int) string {
	h := sha256.New()

	// Rule set: version, limits and every definition.
	rules, _ := json.Marshal(rs)
	h.Write(rules)
	writeInt(h, int64(topN))

	writeInt(h, int64(len(records)))
	for _, r := range records {
		writeInt(h, r.CustomerID)
		h.Write([]byte(r.Gender))
		h.Write([]byte{0})
		writeInt(h, int64(r.Age))
		writeInt(h, int64(r.CarModelYear))
		writeFloat(h, r.AnnualPremium)
		writeFloat(h, r.TotalLoss)
	}

	return hex.EncodeToString(h.Sum(nil))
}

func writeInt(h hash.Hash, v int64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))
	h.Write(buf[:])
}

func writeFloat(h hash.Hash, v float64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], math.Float64bits(v))
	h.Write(buf[:])
}
