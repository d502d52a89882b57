// Package model defines the core domain models used throughout the application.
package model

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"time"
	"unicode"
)

// Transaction represents a single financial transaction read from the transaction store.
type Transaction struct {
	Date         time.Time
	ID           string
	TenantID     string
	Name         string // Raw transaction description
	MerchantName string // Normalized merchant name, may be empty
	AccountID    string
	Hash         string
	Category     string // Current category, empty when uncategorized
	Amount       float64
}

// GenerateHash creates a unique hash for duplicate detection.
func (t *Transaction) GenerateHash() string {
	data := fmt.Sprintf("%s:%.2f:%s:%s",
		t.Date.Format("2006-01-02"),
		t.Amount,
		t.MerchantName,
		t.AccountID)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// CanonicalMerchant returns the merchant key used for statistics and hints.
// It prefers the normalized merchant name and falls back to normalizing the description.
func (t *Transaction) CanonicalMerchant() string {
	if name := strings.TrimSpace(t.MerchantName); name != "" {
		return name
	}
	return NormalizeMerchant(t.Name)
}

// IsCategorized reports whether the transaction already carries a category.
func (t *Transaction) IsCategorized() bool {
	return strings.TrimSpace(t.Category) != ""
}

// NormalizeMerchant derives a stable merchant key from a raw description.
// Store numbers, reference codes and punctuation are dropped and the
// remaining words are title-cased: "STARBUCKS #1234 SEATTLE" -> "Starbucks Seattle".
func NormalizeMerchant(description string) string {
	fields := strings.FieldsFunc(description, func(r rune) bool {
		return unicode.IsSpace(r) || r == '*' || r == '/' || r == ','
	})

	words := make([]string, 0, len(fields))
	for _, field := range fields {
		if strings.IndexFunc(field, unicode.IsDigit) >= 0 {
			continue
		}
		word := strings.Trim(field, "#.-_'\"")
		if word == "" {
			continue
		}
		runes := []rune(strings.ToLower(word))
		runes[0] = unicode.ToUpper(runes[0])
		words = append(words, string(runes))
	}

	return strings.Join(words, " ")
}
