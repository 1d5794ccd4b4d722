package main

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/goker/goker-ledger/internal/model"
)

// readEntries loads an entry snapshot. Files ending in .csv are parsed as
// participant,buy_in,cash_out[,note] rows in minor units with an optional
// header; anything else is a JSON array of entries.
func readEntries(path string) ([]model.Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return parseCSV(f)
	}
	var entries []model.Entry
	if err := json.NewDecoder(f).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return entries, nil
}

func parseCSV(r io.Reader) ([]model.Entry, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var entries []model.Entry
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return entries, nil
		}
		if err != nil {
			return nil, err
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(rec[0]), "participant") {
			continue
		}
		if len(rec) < 3 {
			return nil, fmt.Errorf("line %d: want participant,buy_in,cash_out", line)
		}
		buyIn, err := strconv.ParseInt(strings.TrimSpace(rec[1]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: buy_in: %w", line, err)
		}
		cashOut, err := strconv.ParseInt(strings.TrimSpace(rec[2]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: cash_out: %w", line, err)
		}
		e := model.Entry{
			ID:          strconv.Itoa(line),
			Participant: strings.TrimSpace(rec[0]),
			BuyIn:       buyIn,
			CashOut:     cashOut,
		}
		if len(rec) > 3 {
			e.Note = rec[3]
		}
		entries = append(entries, e)
	}
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
