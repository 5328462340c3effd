package record

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const header = "Child Name,Child Type,Pricing Group,Pricing Option,Discounts"

func observedParser(opts ...Option) (*Parser, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return NewParser(append(opts, WithLogger(zap.New(core)))...), logs
}

func TestParse_MalformedInput(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"whitespace only", "   \n\t\n"},
		{"no separator", "Child Name\nAda"},
		{"header only", header},
		{"header with blank lines", "\n" + header + "\n\n   \n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table, err := Parse(tt.raw)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformedInput)
			assert.Nil(t, table, "no partial table on input errors")
		})
	}
}

func TestParse_BuildsRecords(t *testing.T) {
	raw := strings.Join([]string{
		header,
		" Ada-Lovelace , Infant , Full Time , 5 Days , Sibling ",
		"Grace Hopper,Toddler,Part Time,3 Days,0",
	}, "\n")

	table, err := Parse(raw)
	require.NoError(t, err)
	require.Equal(t, 2, table.Len())
	assert.Equal(t, []string{"AdaLovelace", "Grace Hopper"}, table.Keys())

	ada, ok := table.Lookup("AdaLovelace")
	require.True(t, ok)
	assert.Equal(t, "AdaLovelace", ada.Key())
	assert.Equal(t, "Infant", ada.Get("Child Type"))
	assert.Equal(t, "Sibling", ada.Get("Discounts"))
	assert.Equal(t, "Ada-Lovelace", ada.Get("Child Name"), "cells keep their original text")

	_, ok = ada.Lookup("Missing Column")
	assert.False(t, ok)

	stats := table.Stats()
	assert.Equal(t, Stats{DataRows: 2, Accepted: 2}, stats)
}

func TestParse_CarriageReturns(t *testing.T) {
	raw := header + "\r\nAda,Infant,Full Time,5 Days,0\r\n"
	table, err := Parse(raw)
	require.NoError(t, err)
	rec, ok := table.Lookup("Ada")
	require.True(t, ok)
	assert.Equal(t, "0", rec.Get("Discounts"))
}

func TestParse_SkipsBadRows(t *testing.T) {
	raw := strings.Join([]string{
		header,
		"Ada,Infant,Full Time,5 Days,0",
		"Too,Few,Cells",
		"Way,Too,Many,Cells,Here,Extra",
		" - ,Infant,Full Time,5 Days,0",
		",Infant,Full Time,5 Days,0",
		"Grace,Toddler,Part Time,3 Days,0",
	}, "\n")

	p, logs := observedParser()
	table, err := p.Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, 2, table.Len())
	assert.Equal(t, Stats{DataRows: 6, Accepted: 2, Malformed: 2, MissingKey: 2}, table.Stats())
	assert.Equal(t, 2, logs.FilterMessage("Skipping row with wrong cell count").Len())
	assert.Equal(t, 2, logs.FilterMessage("Skipping row without a name key").Len())
}

func TestParse_DuplicateKeysLastWriteWins(t *testing.T) {
	raw := strings.Join([]string{
		header,
		"Smith-Jones,Infant,Full Time,5 Days,0",
		"SmithJones,Toddler,Part Time,3 Days,Sibling",
	}, "\n")

	p, logs := observedParser()
	table, err := p.Parse(raw)
	require.NoError(t, err)

	require.Equal(t, 1, table.Len())
	rec, ok := table.Lookup("SmithJones")
	require.True(t, ok)
	assert.Equal(t, map[string]string{
		"Child Name":     "SmithJones",
		"Child Type":     "Toddler",
		"Pricing Group":  "Part Time",
		"Pricing Option": "3 Days",
		"Discounts":      "Sibling",
	}, rec.Fields())

	assert.Equal(t, 1, table.Stats().Duplicates)
	dup := logs.FilterMessage("Duplicate key, later row replaces earlier one").All()
	require.Len(t, dup, 1)
	assert.Equal(t, zapcore.WarnLevel, dup[0].Level)
}

func TestParse_KeySetInvariant(t *testing.T) {
	// Keys are unique and never outnumber the data rows, whatever the mix of names.
	names := []string{"A-B", "AB", "C", "C-", "-C", "D", "E-F-G", "EFG", "H"}
	var b strings.Builder
	b.WriteString(header)
	for i, n := range names {
		fmt.Fprintf(&b, "\n%s,T%d,G,O,0", n, i)
	}

	table, err := Parse(b.String())
	require.NoError(t, err)

	seen := map[string]bool{}
	for _, k := range table.Keys() {
		assert.False(t, seen[k], "duplicate key %q", k)
		seen[k] = true
	}
	assert.LessOrEqual(t, table.Len(), len(names))
	assert.Equal(t, 5, table.Len()) // AB, C, D, EFG, H
}

func TestParse_CustomNameColumn(t *testing.T) {
	raw := "Student,Child Type\nAda-L,Infant"
	table, err := Parse(raw, WithNameColumn("Student"))
	require.NoError(t, err)
	_, ok := table.Lookup("AdaL")
	assert.True(t, ok)
}

func TestParse_MissingNameColumnWarns(t *testing.T) {
	p, logs := observedParser()
	table, err := p.Parse("Name,Type\nAda,Infant")
	require.NoError(t, err)
	assert.Equal(t, 0, table.Len())
	assert.Equal(t, 1, logs.FilterMessage("Header has no name column; every row will be skipped").Len())
}

func TestRecordFieldsIsACopy(t *testing.T) {
	table, err := Parse(header + "\nAda,Infant,Full Time,5 Days,0")
	require.NoError(t, err)

	rec, _ := table.Lookup("Ada")
	fields := rec.Fields()
	fields["Child Type"] = "Changed"

	again, _ := table.Lookup("Ada")
	assert.Equal(t, "Infant", again.Get("Child Type"))
}

func TestNilTable(t *testing.T) {
	var table *Table
	assert.Equal(t, 0, table.Len())
	_, ok := table.Lookup("x")
	assert.False(t, ok)
	assert.Nil(t, table.Keys())
}
