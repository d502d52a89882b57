package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const statement = `OFXHEADER:100
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
</BANKTRANLIST>
<LEDGERBAL>
<BALAMT>1000.00
<DTASOF>20240131120000[0:GMT]
</LEDGERBAL>
</STMTRS>
</STMTTRNRS>
</BANKMSGSRSV1>
</OFX>`

// run executes the CLI against db and returns its output.
func run(t *testing.T, db string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--db", db, "--log-level", "error"}, args...))
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRulesCommands(t *testing.T) {
	db := filepath.Join(t.TempDir(), "spice.db")

	out, err := run(t, db, "rules", "add", "starbucks", "Coffee Shops")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Coffee Shops")

	_, err = run(t, db, "rules", "add", "starbucks reserve", "Coffee Shops")
	assert.Error(t, err, "an equal-priority rule already covers it")

	_, err = run(t, db, "rules", "add", "ab", "Misc")
	assert.Error(t, err, "pattern too short")

	out, err = run(t, db, "rules", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "starbucks")
	assert.NotContains(t, out, "starbucks reserve")
}

func TestImportCommand(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "spice.db")
	file := filepath.Join(dir, "jan.qfx")
	require.NoError(t, os.WriteFile(file, []byte(statement), 0o600))

	out, err := run(t, db, "import", "--tenant", "household", file)
	require.NoError(t, err, out)
	assert.Contains(t, out, "imported 1 transactions")

	_, err = run(t, db, "import", filepath.Join(dir, "*.ofx"))
	assert.Error(t, err, "nothing matches")
}

func TestTenantsCanaryCommand(t *testing.T) {
	db := filepath.Join(t.TempDir(), "spice.db")

	out, err := run(t, db, "tenants", "canary", "household", "25")
	require.NoError(t, err, out)
	assert.Contains(t, out, "25%")

	_, err = run(t, db, "tenants", "canary", "household", "250")
	assert.Error(t, err)

	out, err = run(t, db, "tenants", "canary", "household", "none")
	require.NoError(t, err, out)
	assert.Contains(t, out, "0%")
}

func TestModelsPhaseCommand(t *testing.T) {
	db := filepath.Join(t.TempDir(), "spice.db")

	_, err := run(t, db, "models", "register", "m-1")
	require.NoError(t, err)
	_, err = run(t, db, "models", "register", "m-2")
	require.NoError(t, err)

	_, err = run(t, db, "models", "phase", "m-1", "live")
	require.NoError(t, err)
	_, err = run(t, db, "models", "phase", "m-2", "live")
	assert.Error(t, err, "only one model can be live")

	_, err = run(t, db, "models", "demote", "m-1")
	require.NoError(t, err)
	_, err = run(t, db, "models", "phase", "m-2", "live")
	require.NoError(t, err)

	out, err := run(t, db, "models", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "m-1")
	assert.Contains(t, out, "m-2")
	assert.Contains(t, out, "live")
}
