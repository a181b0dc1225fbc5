// Copyright 2026 The ZTeraDB Go Client Authors.
// Licensed under Apache 2.0, see LICENCE file for details.

package zteradb

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Record is one record of a Select. Numbers are held as json.Number so that
// integers keep their precision.
type Record map[string]any

// Result is the outcome of an Insert, Update, Delete or Count. Only the
// fields relevant to the operation are set.
type Result struct {
	LastInsertID int64 `json:"last_insert_id"`
	IsUpdated    bool  `json:"is_updated"`
	IsDeleted    bool  `json:"is_deleted"`
	RowsAffected int64 `json:"rows_affected"`
	Count        int64 `json:"count"`
}

func decodeResult(data json.RawMessage) (Result, error) {
	var r Result
	if len(data) == 0 {
		return r, nil
	}
	if err := json.Unmarshal(data, &r); err != nil {
		return Result{}, fmt.Errorf("cannot decode result: %w", err)
	}
	return r, nil
}

func decodeRecord(data json.RawMessage) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var r Record
	if err := dec.Decode(&r); err != nil {
		return nil, fmt.Errorf("cannot decode record: %w", err)
	}
	if r == nil {
		return nil, fmt.Errorf("cannot decode record: record is null")
	}
	return r, nil
}
