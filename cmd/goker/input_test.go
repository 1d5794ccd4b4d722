package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goker/goker-ledger/internal/model"
)

func TestParseCSV(t *testing.T) {
	entries, err := parseCSV(strings.NewReader(`participant,buy_in,cash_out,note
A, 10000, 0
B, 5000, 15000, rebuy
C,10000,10000
`))
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, model.Entry{ID: "2", Participant: "A", BuyIn: 10000}, entries[0])
	assert.Equal(t, "rebuy", entries[1].Note)
	assert.Equal(t, int64(15000), entries[1].CashOut)
}

func TestParseCSV_Errors(t *testing.T) {
	_, err := parseCSV(strings.NewReader("A,1\n"))
	assert.Error(t, err)
	_, err = parseCSV(strings.NewReader("A,x,0\n"))
	assert.Error(t, err)
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestSettleCommand_JSON(t *testing.T) {
	path := writeFile(t, "entries.json", `[
		{"participant": "A", "buy_in": 50, "cash_out": 0},
		{"participant": "B", "buy_in": 50, "cash_out": 0},
		{"participant": "C", "buy_in": 0, "cash_out": 100}
	]`)

	var out bytes.Buffer
	cmd := newSettleCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--file", path, "--json"})
	require.NoError(t, cmd.Execute())

	assert.JSONEq(t, `{"mode":"greedy","transfers":[
		{"from":"A","to":"C","amount":50},
		{"from":"B","to":"C","amount":50}
	]}`, out.String())
}

func TestSettleCommand_Unbalanced(t *testing.T) {
	path := writeFile(t, "entries.csv", "A,100,0\nB,0,90\n")

	cmd := newSettleCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--file", path})
	assert.Error(t, cmd.Execute())
}

func TestValidateCommand(t *testing.T) {
	positions := writeFile(t, "positions.json",
		`[{"participant":"A","amount":-100},{"participant":"B","amount":100}]`)
	good := writeFile(t, "good.json", `{"mode":"greedy","transfers":[{"from":"A","to":"B","amount":100}]}`)
	bad := writeFile(t, "bad.json", `{"mode":"greedy","transfers":[{"from":"A","to":"B","amount":60}]}`)

	cmd := newValidateCmd()
	cmd.SetArgs([]string{"--positions", positions, "--plan", good})
	require.NoError(t, cmd.Execute())

	cmd = newValidateCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--positions", positions, "--plan", bad})
	assert.Error(t, cmd.Execute())
}
