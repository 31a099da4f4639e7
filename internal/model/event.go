// Package model holds the data types that flow through the pipeline: the
// structured Event produced by parsers, the Batch/EventBatch units handed to
// workers, and the BatchResult/ProcessedEvent units handed back to the sink.
package model

import "time"

// Event is a structured log record. Fields preserve insertion order because
// several output formats (CSV, key=value) render fields in that order.
// Events are created by a parser, mutated in place by script stages, and
// discarded once the formatter has produced output for them.
type Event struct {
	order    []string
	fields   map[string]any
	Raw      string
	Line     int
	Filename string
	HasLine  bool
	Time     time.Time
	HasTime  bool
}

// NewEvent returns an empty Event carrying the given raw line.
func NewEvent(raw string) *Event {
	return &Event{fields: make(map[string]any), Raw: raw}
}

// Set assigns a field, appending it to the order vector the first time it is
// written and overwriting the value (without reordering) on subsequent writes.
func (e *Event) Set(key string, value any) {
	if e.fields == nil {
		e.fields = make(map[string]any)
	}
	if _, ok := e.fields[key]; !ok {
		e.order = append(e.order, key)
	}
	e.fields[key] = value
}

// Get returns a field value and whether it was present.
func (e *Event) Get(key string) (any, bool) {
	v, ok := e.fields[key]
	return v, ok
}

// Delete removes a field, including it from the order vector.
func (e *Event) Delete(key string) {
	if _, ok := e.fields[key]; !ok {
		return
	}
	delete(e.fields, key)
	for i, k := range e.order {
		if k == key {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
}

// Keys returns field names in insertion order.
func (e *Event) Keys() []string {
	out := make([]string, len(e.order))
	copy(out, e.order)
	return out
}

// Len reports the number of fields on the event.
func (e *Event) Len() int { return len(e.order) }

// Map materializes the event as a plain map, for consumption by the
// scripting environment or a Formatter that doesn't need field order.
func (e *Event) Map() map[string]any {
	out := make(map[string]any, len(e.fields))
	for k, v := range e.fields {
		out[k] = v
	}
	return out
}

// ApplyMap reconciles the event's fields against m: fields already present
// keep their position, new keys are appended, and fields m no longer
// contains are dropped. m is typically the mutated script environment map
// after a transform stage has run.
func (e *Event) ApplyMap(m map[string]any) {
	kept := e.order[:0:0]
	for _, k := range e.order {
		if v, ok := m[k]; ok {
			e.fields[k] = v
			kept = append(kept, k)
		} else {
			delete(e.fields, k)
		}
	}
	e.order = kept
	for k, v := range m {
		if _, ok := e.fields[k]; !ok {
			e.Set(k, v)
		}
	}
}

// Clone returns a deep-enough copy suitable for fan-out emission (EmitMultiple).
func (e *Event) Clone() *Event {
	n := &Event{
		order:    append([]string(nil), e.order...),
		fields:   make(map[string]any, len(e.fields)),
		Raw:      e.Raw,
		Line:     e.Line,
		Filename: e.Filename,
		HasLine:  e.HasLine,
		Time:     e.Time,
		HasTime:  e.HasTime,
	}
	for k, v := range e.fields {
		n.fields[k] = v
	}
	return n
}
