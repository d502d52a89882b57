// Package ofx reads OFX/QFX statements into transactions awaiting suggestions.
package ofx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"github.com/aclindsa/ofxgo"

	"github.com/Veraticus/spice-suggest/internal/model"
)

var (
	severityRe = regexp.MustCompile(`(?i)<SEVERITY>(Info|Warn|Error)</SEVERITY>`)
	// SGML files sometimes end an opening tag at the line break.
	unclosedTagRe = regexp.MustCompile(`(?m)^(\s*<[A-Z][A-Z0-9._]*[A-Z0-9])$`)
)

// Bank descriptors that precede the merchant.
var descriptorPrefixes = []string{
	"POS PURCHASE ",
	"PURCHASE AUTHORIZED ON ",
	"DEBIT CARD PURCHASE ",
	"ACH DEBIT ",
	"CHECK CARD ",
	"VISA PURCHASE ",
	"MC PURCHASE ",
	"DEBIT PURCHASE ",
}

// Reader converts statements for one tenant.
type Reader struct {
	tenantID string
}

// NewReader creates a reader that stamps transactions with tenantID.
func NewReader(tenantID string) *Reader {
	return &Reader{tenantID: tenantID}
}

// Statement is one parsed OFX document.
type Statement struct {
	Transactions []model.Transaction
	Accounts     []string
}

// Read parses an OFX document. Amounts keep their sign, so debits are negative.
// Transaction IDs are "<account>:<fitid>" to stay unique across accounts.
func (r *Reader) Read(ctx context.Context, src io.Reader) (*Statement, error) {
	raw, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("failed to read OFX data: %w", err)
	}

	resp, err := ofxgo.ParseResponse(strings.NewReader(normalize(string(raw))))
	if err != nil {
		return nil, fmt.Errorf("failed to parse OFX data: %w", err)
	}

	stmt := &Statement{}
	for _, msg := range resp.Bank {
		bank, ok := msg.(*ofxgo.StatementResponse)
		if !ok {
			continue
		}
		r.collect(stmt, string(bank.BankAcctFrom.AcctID), bank.BankTranList)
	}
	for _, msg := range resp.CreditCard {
		card, ok := msg.(*ofxgo.CCStatementResponse)
		if !ok {
			continue
		}
		r.collect(stmt, string(card.CCAcctFrom.AcctID), card.BankTranList)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	slog.Info("Read OFX statement",
		"tenant_id", r.tenantID,
		"accounts", len(stmt.Accounts),
		"transactions", len(stmt.Transactions))
	return stmt, nil
}

func (r *Reader) collect(stmt *Statement, account string, list *ofxgo.TransactionList) {
	if account != "" {
		stmt.Accounts = append(stmt.Accounts, account)
	}
	if list == nil {
		return
	}
	for _, ofxTxn := range list.Transactions {
		stmt.Transactions = append(stmt.Transactions, r.convert(ofxTxn, account))
	}
}

func (r *Reader) convert(ofxTxn ofxgo.Transaction, account string) model.Transaction {
	amount, _ := ofxTxn.TrnAmt.Float64()

	txn := model.Transaction{
		ID:           account + ":" + string(ofxTxn.FiTID),
		TenantID:     r.tenantID,
		Date:         ofxTxn.DtPosted.Time.UTC(),
		Name:         strings.TrimSpace(string(ofxTxn.Name)),
		MerchantName: model.NormalizeMerchant(merchantDescriptor(ofxTxn)),
		Amount:       amount,
		AccountID:    account,
	}
	txn.Hash = txn.GenerateHash()
	return txn
}

// merchantDescriptor picks the text that best names the merchant: the payee
// when present, else the name with bank prefixes removed, else the memo when
// the name says nothing.
func merchantDescriptor(t ofxgo.Transaction) string {
	if t.Payee != nil && t.Payee.Name != "" {
		return string(t.Payee.Name)
	}

	name := strings.TrimSpace(string(t.Name))
	if t.Memo != "" && isGeneric(name) {
		name = strings.TrimSpace(string(t.Memo))
	}

	upper := strings.ToUpper(name)
	for _, prefix := range descriptorPrefixes {
		if strings.HasPrefix(upper, prefix) {
			name = name[len(prefix):]
			break
		}
	}

	// "MM/DD merchant"
	if len(name) > 5 && name[2] == '/' && name[5] == ' ' {
		name = strings.TrimSpace(name[6:])
	}
	return name
}

func isGeneric(name string) bool {
	switch strings.ToUpper(name) {
	case "DEBIT", "CREDIT", "PURCHASE", "PAYMENT", "POS TRANSACTION", "CARD PURCHASE":
		return true
	}
	return false
}

func normalize(content string) string {
	content = strings.TrimLeft(content, " \t\r\n")
	content = severityRe.ReplaceAllStringFunc(content, strings.ToUpper)
	return unclosedTagRe.ReplaceAllString(content, "$1>")
}
