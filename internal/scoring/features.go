// Package scoring holds the feature contract, immutable model snapshots and the
// artifact store that persists them.
package scoring

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/Veraticus/spice-suggest/internal/model"
)

// DefaultDimensions is the size of the hashed feature space.
const DefaultDimensions = 4096

// Feature is one non-zero entry of a sparse vector.
type Feature struct {
	Index int
	Value float64
}

// Vector is a sparse feature vector sorted by index with no duplicate indices.
type Vector []Feature

// Extract computes the feature vector for a transaction. The same transaction
// always yields the same vector for a given dimension count.
//
// Features: lowercase description tokens, the canonical merchant, the amount
// sign and a log10 amount bucket, each hashed with FNV-1a.
func Extract(txn model.Transaction, dimensions int) Vector {
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}

	acc := make(map[int]float64)
	add := func(name string) {
		acc[bucketIndex(name, dimensions)]++
	}

	for _, token := range tokenize(txn.Name) {
		add("tok:" + token)
	}
	if merchant := strings.ToLower(txn.CanonicalMerchant()); merchant != "" {
		add("merchant:" + merchant)
	}
	add("sign:" + amountSign(txn.Amount))
	add("bucket:" + amountBucket(txn.Amount))

	vec := make(Vector, 0, len(acc))
	for idx, val := range acc {
		vec = append(vec, Feature{Index: idx, Value: val})
	}
	sort.Slice(vec, func(i, j int) bool { return vec[i].Index < vec[j].Index })
	return vec
}

// FeatureHash is the hex sha256 of the vector's index:value pairs. Events store
// it instead of raw features.
func FeatureHash(vec Vector) string {
	h := sha256.New()
	for _, f := range vec {
		fmt.Fprintf(h, "%d:%s;", f.Index, strconv.FormatFloat(f.Value, 'g', -1, 64))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func bucketIndex(name string, dimensions int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return int(h.Sum32() % uint32(dimensions))
}

// tokenize splits on anything that is not a letter or digit and drops tokens
// without letters, so store numbers and dates do not pollute the space.
func tokenize(description string) []string {
	fields := strings.FieldsFunc(strings.ToLower(description), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	tokens := fields[:0]
	for _, field := range fields {
		if strings.IndexFunc(field, unicode.IsLetter) < 0 {
			continue
		}
		tokens = append(tokens, field)
	}
	return tokens
}

func amountSign(amount float64) string {
	switch {
	case amount < 0:
		return "neg"
	case amount > 0:
		return "pos"
	}
	return "zero"
}

func amountBucket(amount float64) string {
	abs := math.Abs(amount)
	if abs < 1 {
		return "lt1"
	}
	return strconv.Itoa(int(math.Floor(math.Log10(abs))))
}
