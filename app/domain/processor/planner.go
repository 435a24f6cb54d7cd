// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package processor

import (
	"errors"
	"fmt"
	"slices"

	"github.com/cloudzero/cloudzero-syncer/app/types"
)

// Chunk splits a list into a matrix of elements with a size of `n`
func Chunk[T any](list []T, n int) [][]T {
	if n <= 0 {
		return [][]T{list}
	}

	var chunks [][]T
	for i := 0; i < len(list); i += n {
		end := min(i+n, len(list))
		chunks = append(chunks, list[i:end])
	}

	return chunks
}

// Plan splits the ordered serials into chunks of at most chunkSize items. The
// concatenation of every chunk's serials equals serials. A serial without a
// matching record stays in Serials and is left out of Records.
func Plan(serials []string, records []types.Record, chunkSize int) ([]types.Chunk, error) {
	if chunkSize <= 0 {
		return nil, errors.Join(ErrInvalidConfig, fmt.Errorf("chunk size must be positive, got %d", chunkSize))
	}

	index := IndexRecords(records)
	groups := Chunk(serials, chunkSize)

	chunks := make([]types.Chunk, 0, len(groups))
	for i, group := range groups {
		recs := make([]types.Record, 0, len(group))
		for _, serial := range group {
			if rec, ok := index[serial]; ok {
				recs = append(recs, rec)
			}
		}
		chunks = append(chunks, types.Chunk{
			Index:   i,
			Serials: slices.Clone(group),
			Records: recs,
		})
	}

	return chunks, nil
}

// IndexRecords keys records by serial. Records with an empty serial are
// dropped; on duplicates the first record wins.
func IndexRecords(records []types.Record) map[string]types.Record {
	index := make(map[string]types.Record, len(records))
	for _, rec := range records {
		if rec.Serial == "" {
			continue
		}
		if _, exists := index[rec.Serial]; !exists {
			index[rec.Serial] = rec
		}
	}
	return index
}

// ResolveItems pairs every serial with its record, preserving order.
func ResolveItems(serials []string, records []types.Record) []types.WorkItem {
	index := IndexRecords(records)
	items := make([]types.WorkItem, 0, len(serials))
	for _, serial := range serials {
		item := types.WorkItem{Serial: serial}
		if rec, ok := index[serial]; ok {
			item.Record = &rec
		}
		items = append(items, item)
	}
	return items
}

// ResolvedSerials returns the serials that have a record, in input order.
func ResolvedSerials(serials []string, records []types.Record) []string {
	out := make([]string, 0, len(serials))
	for _, item := range ResolveItems(serials, records) {
		if item.Resolved() {
			out = append(out, item.Serial)
		}
	}
	return out
}
