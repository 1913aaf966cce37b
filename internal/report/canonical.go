package report

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Domain prefix for report digests. The version suffix enables a future
// algorithm migration without colliding with existing digests.
const digestDomain = "upsync/report/v1"

// MarshalCanonical produces deterministic JSON for the report: object
// keys sorted, strings NFC normalized, no HTML escaping, no floats.
// This is the ONLY serialization used for digest computation, and the
// form persisted to the run-history store, so a report's digest never
// depends on Go map iteration order or encoder defaults.
func MarshalCanonical(r *Report) ([]byte, error) {
	return marshalValue(r.toCanonicalMap())
}

// Digest computes the SHA-256 digest of the canonical report body with
// domain separation: SHA256(domain + 0x00 + canonicalJSON).
func Digest(r *Report) (string, error) {
	body, err := MarshalCanonical(r)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(digestDomain))
	h.Write([]byte{0x00})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// toCanonicalMap flattens the report into plain maps and slices so the
// canonical encoder only ever sees strings, ints, bools, maps, slices.
func (r *Report) toCanonicalMap() map[string]any {
	driftList := make([]any, len(r.Drift))
	for i, f := range r.Drift {
		entry := map[string]any{
			"path":     f.Path,
			"severity": string(f.Severity),
			"matched":  toAnySlice(f.Matched),
		}
		if f.Excerpt != "" {
			entry["excerpt"] = f.Excerpt
		}
		driftList[i] = entry
	}

	m := map[string]any{
		"run_id":            r.RunID,
		"started_at":        r.StartedAt.UTC().Format(time.RFC3339),
		"finished_at":       r.FinishedAt.UTC().Format(time.RFC3339),
		"outcome":           string(r.Outcome),
		"state":             r.State,
		"branch":            r.Branch,
		"upstream":          r.Upstream,
		"ahead":             r.Ahead,
		"behind":            r.Behind,
		"drift":             driftList,
		"resolved_paths":    toAnySlice(r.Resolved),
		"unresolved_paths":  toAnySlice(r.Unresolved),
		"regenerated_paths": toAnySlice(r.Regenerated),
	}
	if r.BackupRef != "" {
		m["backup_ref"] = r.BackupRef
	}
	if r.UpdateBranch != "" {
		m["update_branch"] = r.UpdateBranch
	}
	if r.Error != "" {
		m["error"] = r.Error
	}
	return m
}

func toAnySlice(items []string) []any {
	out := make([]any, len(items))
	for i, s := range items {
		out[i] = s
	}
	return out
}

func marshalValue(v any) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return nil, fmt.Errorf("null is forbidden in canonical report JSON")
	case string:
		return marshalString(val)
	case int:
		return []byte(fmt.Sprintf("%d", val)), nil
	case int64:
		return []byte(fmt.Sprintf("%d", val)), nil
	case bool:
		if val {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case []any:
		return marshalArray(val)
	case map[string]any:
		return marshalObject(val)
	default:
		return nil, fmt.Errorf("unsupported type %T in canonical report JSON", v)
	}
}

// marshalString encodes an NFC-normalized string without HTML escaping.
func marshalString(s string) ([]byte, error) {
	normalized := norm.NFC.String(s)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalized); err != nil {
		return nil, err
	}
	// Encoder appends a trailing newline.
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func marshalArray(arr []any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, elem := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		b, err := marshalValue(elem)
		if err != nil {
			return nil, fmt.Errorf("array[%d]: %w", i, err)
		}
		buf.Write(b)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func marshalObject(obj map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := marshalString(k)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		buf.Write(kb)
		buf.WriteByte(':')

		vb, err := marshalValue(obj[k])
		if err != nil {
			return nil, fmt.Errorf("value for %q: %w", k, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
