package lettings

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/mitchellh/mapstructure"
)

// ErrInvalidPayload is returned when a payload cannot be read as the requested type
var ErrInvalidPayload = errors.New("invalid payload")

// Layouts accepted for timestamps, most specific first
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
	"02/01/2006",
}

var (
	timeType          = reflect.TypeOf(time.Time{})
	appStatusType     = reflect.TypeOf(ApplicationStatus(""))
	viewingStatusType = reflect.TypeOf(ViewingStatus(""))
)

// ParseTime reads a timestamp as RFC3339, a date-only value or unix seconds
// (milliseconds when the number is too large to be seconds). Empty is the zero time.
func ParseTime(v any) (time.Time, error) {
	switch x := v.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return x, nil
	case float64:
		return unixTime(int64(x)), nil
	case int64:
		return unixTime(x), nil
	case int:
		return unixTime(int64(x)), nil
	case fmt.Stringer:
		return parseTimeString(x.String())
	case string:
		return parseTimeString(x)
	}
	return time.Time{}, fmt.Errorf("%w: cannot read %T as a time", ErrInvalidPayload, v)
}

func parseTimeString(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return unixTime(n), nil
	}
	return time.Time{}, fmt.Errorf("%w: unrecognised time %q", ErrInvalidPayload, s)
}

func unixTime(n int64) time.Time {
	if n > 1e12 {
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}

func decodeHook(f reflect.Type, t reflect.Type, data any) (any, error) {
	switch t {
	case timeType:
		if f == timeType {
			return data, nil
		}
		return ParseTime(data)
	case appStatusType:
		return ParseApplicationStatus(fmt.Sprint(data)), nil
	case viewingStatusType:
		return ParseViewingStatus(fmt.Sprint(data)), nil
	}
	return data, nil
}

func decode(in map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       decodeHook,
		WeaklyTypedInput: true,
		TagName:          "json",
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(in); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return nil
}

// NormalizeApplication reads an application payload of any API version
func NormalizeApplication(raw map[string]any) (*Application, error) {
	m := snakeKeys(raw)
	alias(m, "id", "application_id", "_id", "uuid")
	alias(m, "status", "state", "application_status")
	alias(m, "step", "current_step", "stage")
	alias(m, "property_id", "listing_id")
	alias(m, "submitted_at", "submitted_on", "submitted")
	alias(m, "created_at", "created")
	alias(m, "updated_at", "modified_at", "updated")
	if prop, ok := m["property"].(map[string]any); ok {
		if _, ok := m["property_id"]; !ok {
			m["property_id"] = prop["id"]
		}
		delete(m, "property")
	}

	applicant, _ := m["applicant"].(map[string]any)
	applicant = gather(m, applicant, "applicant_", applicantFields)
	if applicant != nil {
		alias(applicant, "date_of_birth", "dob", "birth_date")
		alias(applicant, "annual_income", "income", "salary")
		alias(applicant, "phone", "phone_number", "mobile")
		m["applicant"] = applicant
	}

	guarantor, _ := m["guarantor"].(map[string]any)
	guarantor = gather(m, guarantor, "guarantor_", []string{"name", "email", "phone", "relationship", "annual_income", "income"})
	if guarantor != nil {
		alias(guarantor, "annual_income", "income")
		m["guarantor"] = guarantor
	}

	refs, err := references(m)
	if err != nil {
		return nil, err
	}
	if len(refs) > 0 {
		m["references"] = refs
	} else {
		delete(m, "references")
	}
	alias(m, "documents", "files", "attachments")

	app := &Application{}
	if err := decode(m, app); err != nil {
		return nil, err
	}
	if app.ID == "" {
		return nil, fmt.Errorf("%w: application has no id", ErrInvalidPayload)
	}
	if app.Status == "" {
		app.Status = StatusUnknown
	}
	return app, nil
}

var applicantFields = []string{
	"first_name", "last_name", "email", "phone", "phone_number", "mobile",
	"date_of_birth", "dob", "birth_date", "employer", "job_title", "annual_income", "income", "salary",
}

// references accepts a list, a map keyed by kind, or landlord_reference and
// employer_reference blocks
func references(m map[string]any) ([]any, error) {
	var out []any
	switch refs := m["references"].(type) {
	case nil:
	case []any:
		out = refs
	case map[string]any:
		kinds := make([]string, 0, len(refs))
		for kind := range refs {
			kinds = append(kinds, kind)
		}
		sort.Strings(kinds)
		for _, kind := range kinds {
			if ref, ok := refs[kind].(map[string]any); ok {
				out = append(out, withKind(ref, kind))
			}
		}
	default:
		return nil, fmt.Errorf("%w: references is a %T", ErrInvalidPayload, refs)
	}
	for _, kind := range []ReferenceKind{ReferenceLandlord, ReferenceEmployer} {
		key := string(kind) + "_reference"
		if ref, ok := m[key].(map[string]any); ok {
			out = append(out, withKind(ref, string(kind)))
		}
		delete(m, key)
	}
	for _, r := range out {
		if ref, ok := r.(map[string]any); ok {
			alias(ref, "kind", "type", "reference_type")
			alias(ref, "requested_at", "sent_at", "created_at")
			alias(ref, "company", "employer", "agency")
		}
	}
	return out, nil
}

func withKind(ref map[string]any, kind string) map[string]any {
	if _, ok := ref["kind"]; !ok {
		ref["kind"] = strings.TrimSuffix(kind, "_reference")
	}
	return ref
}

// NormalizeViewingInvite reads a viewing invite payload of any API version
func NormalizeViewingInvite(raw map[string]any) (*ViewingInvite, error) {
	m := snakeKeys(raw)
	alias(m, "id", "invite_id", "viewing_id", "_id")
	alias(m, "status", "state", "response")
	alias(m, "address", "property_address")
	alias(m, "message", "note", "notes")
	alias(m, "created_at", "invited_at", "sent_at")
	alias(m, "slots", "available_slots", "times")
	alias(m, "chosen", "chosen_slot", "selected_slot", "booked_slot")
	if prop, ok := m["property"].(map[string]any); ok {
		if _, ok := m["property_id"]; !ok {
			m["property_id"] = prop["id"]
		}
		if _, ok := m["address"]; !ok {
			m["address"] = prop["address"]
		}
		delete(m, "property")
	}

	if slots, ok := m["slots"].([]any); ok {
		out := make([]any, 0, len(slots))
		for _, s := range slots {
			slot, err := viewingSlot(s)
			if err != nil {
				return nil, err
			}
			out = append(out, slot)
		}
		m["slots"] = out
	}
	if chosen, ok := m["chosen"]; ok && chosen != nil {
		slot, err := viewingSlot(chosen)
		if err != nil {
			return nil, err
		}
		m["chosen"] = slot
	}

	inv := &ViewingInvite{}
	if err := decode(m, inv); err != nil {
		return nil, err
	}
	if inv.ID == "" {
		return nil, fmt.Errorf("%w: viewing invite has no id", ErrInvalidPayload)
	}
	if inv.Status == "" {
		inv.Status = ViewingPending
	}
	return inv, nil
}

// viewingSlot accepts "start/end" intervals, a bare start, or a block with
// start and either end or a duration in minutes
func viewingSlot(v any) (map[string]any, error) {
	switch s := v.(type) {
	case string:
		start, end, _ := strings.Cut(s, "/")
		return map[string]any{"start": start, "end": end}, nil
	case map[string]any:
		alias(s, "start", "start_time", "from", "starts_at")
		alias(s, "end", "end_time", "to", "ends_at")
		if _, ok := s["end"]; !ok {
			if mins, ok := duration(s["duration_minutes"], s["duration"]); ok {
				start, err := ParseTime(s["start"])
				if err != nil {
					return nil, err
				}
				s["end"] = start.Add(time.Duration(mins) * time.Minute)
			}
		}
		return s, nil
	}
	return nil, fmt.Errorf("%w: viewing slot is a %T", ErrInvalidPayload, v)
}

func duration(vals ...any) (int, bool) {
	for _, v := range vals {
		switch x := v.(type) {
		case float64:
			return int(x), true
		case int:
			return x, true
		case string:
			if n, err := strconv.Atoi(x); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

// alias moves the first present alternative onto key unless key is set
func alias(m map[string]any, key string, alts ...string) {
	for _, alt := range alts {
		v, ok := m[alt]
		if !ok {
			continue
		}
		delete(m, alt)
		if _, set := m[key]; !set {
			m[key] = v
		}
	}
}

// gather collects flattened fields into block. Prefixed fields always move;
// bare fields only move for the applicant block.
func gather(m map[string]any, block map[string]any, prefix string, fields []string) map[string]any {
	for _, f := range fields {
		for _, key := range []string{prefix + f, f} {
			if key == f && prefix != "applicant_" {
				continue
			}
			v, ok := m[key]
			if !ok {
				continue
			}
			delete(m, key)
			if block == nil {
				block = map[string]any{}
			}
			if _, set := block[f]; !set {
				block[f] = v
			}
		}
	}
	return block
}

// snakeKeys deep-copies v with every map key in snake_case
func snakeKeys(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[snakeCase(k)] = snakeValue(v)
	}
	return out
}

func snakeValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return snakeKeys(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = snakeValue(e)
		}
		return out
	}
	return v
}

func snakeCase(s string) string {
	rs := []rune(s)
	var b strings.Builder
	for i, r := range rs {
		switch {
		case r == '-' || r == ' ':
			b.WriteRune('_')
		case unicode.IsUpper(r):
			if i > 0 {
				prev := rs[i-1]
				nextLower := i+1 < len(rs) && unicode.IsLower(rs[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					b.WriteRune('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
