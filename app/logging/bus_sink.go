// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/cloudzero/cloudzero-syncer/app/types"
)

// JobIDField is the log field that ties a line to a job.
const JobIDField = "jobId"

type busWriter struct {
	observer types.Observer
}

// BusWriter returns a sink that republishes every log line as a log event.
func BusWriter(observer types.Observer) io.Writer {
	return &busWriter{observer: observer}
}

// Write implements io.Writer. Malformed lines are consumed silently.
func (b *busWriter) Write(p []byte) (int, error) {
	var entry map[string]any
	if err := json.Unmarshal(p, &entry); err != nil {
		return len(p), nil
	}

	ev := types.Event{
		Type:   types.EventLog,
		Fields: make(map[string]string, len(entry)),
	}

	for key, value := range entry {
		ev.Fields[key] = stringify(value)
	}

	ev.Message = ev.Fields[zerolog.MessageFieldName]
	ev.JobID = ev.Fields[JobIDField]
	if ts, ok := ev.Fields[zerolog.TimestampFieldName]; ok {
		if parsed, err := time.Parse(zerolog.TimeFieldFormat, ts); err == nil {
			ev.Time = parsed
		}
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}

	b.observer.Notify(ev)
	return len(p), nil
}

func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return "null"
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case map[string]any, []any:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(raw)
	default:
		return fmt.Sprintf("%v", v)
	}
}
