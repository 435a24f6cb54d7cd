// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package logging

import (
	"bytes"
	"encoding/json"
	"io"
)

type fieldFilterWriter struct {
	out    io.Writer
	fields []string
}

// NewFieldFilterWriter removes the named top-level fields from every JSON
// line before passing it on. Lines that are not JSON objects are written
// unchanged.
func NewFieldFilterWriter(out io.Writer, fields []string) io.Writer {
	return &fieldFilterWriter{out: out, fields: fields}
}

func (w *fieldFilterWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	body := p
	var suffix []byte
	if bytes.HasSuffix(body, []byte("\n")) {
		body = body[:len(body)-1]
		suffix = []byte("\n")
	}

	var entry map[string]json.RawMessage
	if err := json.Unmarshal(body, &entry); err != nil {
		if _, werr := w.out.Write(p); werr != nil {
			return 0, werr
		}
		return len(p), nil
	}
	for _, f := range w.fields {
		delete(entry, f)
	}

	filtered, err := json.Marshal(entry)
	if err != nil {
		filtered = body
	}
	if _, err := w.out.Write(append(filtered, suffix...)); err != nil {
		return 0, err
	}
	// short writes downstream are not reported to zerolog
	return len(p), nil
}
