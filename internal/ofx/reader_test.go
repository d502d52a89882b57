package ofx

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/aclindsa/ofxgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/spice-suggest/internal/testutil"
)

const bankStatement = `OFXHEADER:100
DATA:OFXSGML
VERSION:102
SECURITY:NONE
ENCODING:USASCII
CHARSET:1252
COMPRESSION:NONE
OLDFILEUID:NONE
NEWFILEUID:NONE

<OFX>
<SIGNONMSGSRSV1>
<SONRS>
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<DTSERVER>20240315120000[0:GMT]
<LANGUAGE>ENG
</SONRS>
</SIGNONMSGSRSV1>
<BANKMSGSRSV1>
<STMTTRNRS>
<TRNUID>1
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<STMTRS>
<CURDEF>USD
<BANKACCTFROM>
<BANKID>123456789
<ACCTID>1234567890
<ACCTTYPE>CHECKING
</BANKACCTFROM>
<BANKTRANLIST>
<DTSTART>20240101120000[0:GMT]
<DTEND>20240131120000[0:GMT]
<STMTTRN>
<TRNTYPE>DEBIT
<DTPOSTED>20240115120000[0:GMT]
<TRNAMT>-25.50
<FITID>2024011501
<NAME>STARBUCKS STORE #1234
</STMTTRN>
<STMTTRN>
<TRNTYPE>CREDIT
<DTPOSTED>20240120120000[0:GMT]
<TRNAMT>2100.00
<FITID>2024012001
<NAME>ACME PAYROLL
</STMTTRN>
</BANKTRANLIST>
<LEDGERBAL>
<BALAMT>1000.00
<DTASOF>20240131120000[0:GMT]
</LEDGERBAL>
</STMTRS>
</STMTTRNRS>
</BANKMSGSRSV1>
</OFX>`

const cardStatement = `OFXHEADER:100
DATA:OFXSGML
VERSION:102
SECURITY:NONE
ENCODING:USASCII
CHARSET:1252
COMPRESSION:NONE
OLDFILEUID:NONE
NEWFILEUID:NONE

<OFX>
<SIGNONMSGSRSV1>
<SONRS>
<STATUS>
<CODE>0
<SEVERITY>Info
</STATUS>
<DTSERVER>20240315120000[0:GMT]
<LANGUAGE>ENG
</SONRS>
</SIGNONMSGSRSV1>
<CREDITCARDMSGSRSV1>
<CCSTMTTRNRS>
<TRNUID>1
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<CCSTMTRS>
<CURDEF>USD
<CCACCTFROM>
<ACCTID>4111111111111111
</CCACCTFROM>
<BANKTRANLIST>
<DTSTART>20240101120000[0:GMT]
<DTEND>20240131120000[0:GMT]
<STMTTRN>
<TRNTYPE>DEBIT
<DTPOSTED>20240110120000[0:GMT]
<TRNAMT>-45.99
<FITID>CC2024011001
<NAME>AMAZON.COM*RT4Y7HG2
</STMTTRN>
</BANKTRANLIST>
<LEDGERBAL>
<BALAMT>-500.00
<DTASOF>20240131120000[0:GMT]
</LEDGERBAL>
</CCSTMTRS>
</CCSTMTTRNRS>
</CREDITCARDMSGSRSV1>
</OFX>`

func TestReader_BankStatement(t *testing.T) {
	stmt, err := NewReader("tenant-a").Read(context.Background(), strings.NewReader(bankStatement))
	require.NoError(t, err)

	assert.Equal(t, []string{"1234567890"}, stmt.Accounts)
	require.Len(t, stmt.Transactions, 2)

	coffee := stmt.Transactions[0]
	assert.Equal(t, "1234567890:2024011501", coffee.ID)
	assert.Equal(t, "tenant-a", coffee.TenantID)
	assert.Equal(t, "STARBUCKS STORE #1234", coffee.Name)
	assert.Equal(t, "Starbucks Store", coffee.MerchantName)
	assert.InDelta(t, -25.50, coffee.Amount, 1e-9, "debits stay negative")
	assert.Equal(t, time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC), coffee.Date)
	assert.NotEmpty(t, coffee.Hash)
	assert.False(t, coffee.IsCategorized())

	assert.InDelta(t, 2100.0, stmt.Transactions[1].Amount, 1e-9)
}

func TestReader_CardStatement(t *testing.T) {
	stmt, err := NewReader("tenant-a").Read(context.Background(), strings.NewReader(cardStatement))
	require.NoError(t, err)

	require.Len(t, stmt.Transactions, 1)
	txn := stmt.Transactions[0]
	assert.Equal(t, "4111111111111111:CC2024011001", txn.ID)
	assert.Equal(t, "Amazon.com", txn.MerchantName)
	assert.Equal(t, "4111111111111111", txn.AccountID)
}

func TestReader_RejectsGarbage(t *testing.T) {
	for _, input := range []string{"", "not valid OFX"} {
		_, err := NewReader("tenant-a").Read(context.Background(), strings.NewReader(input))
		assert.Error(t, err)
	}
}

func TestMerchantDescriptor(t *testing.T) {
	tests := []struct {
		name string
		txn  ofxgo.Transaction
		want string
	}{
		{name: "bank prefix", txn: ofxgo.Transaction{Name: "POS PURCHASE STARBUCKS"}, want: "STARBUCKS"},
		{name: "debit card prefix", txn: ofxgo.Transaction{Name: "DEBIT CARD PURCHASE WHOLE FOODS"}, want: "WHOLE FOODS"},
		{name: "leading date", txn: ofxgo.Transaction{Name: "03/14 SHELL OIL"}, want: "SHELL OIL"},
		{name: "generic name uses memo", txn: ofxgo.Transaction{Name: "PAYMENT", Memo: "CITY WATER DEPT"}, want: "CITY WATER DEPT"},
		{name: "payee wins", txn: ofxgo.Transaction{Name: "ACH DEBIT 123", Payee: &ofxgo.Payee{Name: "Comcast"}}, want: "Comcast"},
		{name: "clean name", txn: ofxgo.Transaction{Name: "  NETFLIX.COM  "}, want: "NETFLIX.COM"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, merchantDescriptor(tt.txn))
		})
	}
}

func TestReader_ImportIsIdempotent(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		stmt, err := NewReader("tenant-a").Read(ctx, strings.NewReader(bankStatement))
		require.NoError(t, err)
		require.NoError(t, db.Storage.SaveTransactions(ctx, stmt.Transactions))
	}

	pending, err := db.Storage.GetUncategorizedTransactions(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}
