package heatrank

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
)

// RankEntry is one ranked title. Heat is kept as the text the API returned
// so formatting never loses precision.
type RankEntry struct {
	Rank int
	Name string
	Heat string
}

var errMalformed = errors.New("malformed response")

var (
	listKeys = []string{"data", "list", "result", "items", "rank"}
	rankKeys = []string{"rank", "position", "index", "no", "top"}
	nameKeys = []string{"name", "title", "movie_name", "moviename", "nm", "keyword"}
	heatKeys = []string{"heat", "score", "value", "hot", "heat_value", "index_value", "num"}
)

// maxListDepth bounds how far data.list style nesting is followed.
const maxListDepth = 4

// parseRank decodes a ranking response. It accepts a top-level array or an
// object carrying the list under one of listKeys, possibly nested. Entries
// keep the order the API returned.
func parseRank(body []byte) ([]RankEntry, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty body", errMalformed)
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformed, err)
	}

	list, ok := findList(v, 0)
	if !ok {
		if obj, isObj := v.(map[string]any); isObj {
			if err := apiError(obj); err != nil {
				return nil, err
			}
		}
		return nil, fmt.Errorf("%w: no ranking list", errMalformed)
	}

	out := make([]RankEntry, 0, len(list))
	for i, item := range list {
		e, ok := toEntry(item, i+1)
		if !ok {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func findList(v any, depth int) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case map[string]any:
		if depth >= maxListDepth {
			return nil, false
		}
		for _, k := range listKeys {
			child, ok := lookup(t, k)
			if !ok {
				continue
			}
			if list, ok := findList(child, depth+1); ok {
				return list, true
			}
		}
	}
	return nil, false
}

// apiError turns {"code": 400, "msg": "..."} into an error. Codes 0 and 200
// mean success.
func apiError(obj map[string]any) error {
	raw, ok := lookup(obj, "code")
	if !ok {
		return nil
	}
	code := text(raw)
	if code == "0" || code == "200" {
		return nil
	}
	msg := ""
	for _, k := range []string{"msg", "message"} {
		if m, ok := lookup(obj, k); ok {
			msg = text(m)
			break
		}
	}
	if msg == "" {
		return fmt.Errorf("api error: code %s", code)
	}
	return fmt.Errorf("api error: code %s: %s", code, msg)
}

func toEntry(item any, pos int) (RankEntry, bool) {
	switch t := item.(type) {
	case string:
		name := strings.TrimSpace(t)
		return RankEntry{Rank: pos, Name: name}, name != ""
	case map[string]any:
		e := RankEntry{Rank: pos}
		if v, ok := first(t, rankKeys); ok {
			if n, err := strconv.Atoi(text(v)); err == nil && n > 0 {
				e.Rank = n
			}
		}
		if v, ok := first(t, nameKeys); ok {
			e.Name = text(v)
		}
		if v, ok := first(t, heatKeys); ok {
			e.Heat = text(v)
		}
		return e, e.Name != ""
	default:
		return RankEntry{}, false
	}
}

func first(obj map[string]any, keys []string) (any, bool) {
	for _, k := range keys {
		if v, ok := lookup(obj, k); ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// lookup matches keys case-insensitively. An exact match wins; otherwise the
// first matching key in sorted order does, so the result is stable.
func lookup(obj map[string]any, key string) (any, bool) {
	if v, ok := obj[key]; ok {
		return v, true
	}
	for _, k := range slices.Sorted(maps.Keys(obj)) {
		if strings.EqualFold(k, key) {
			return obj[k], true
		}
	}
	return nil, false
}

// text renders scalar JSON values without reformatting numbers.
func text(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}
