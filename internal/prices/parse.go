package prices

import (
	"encoding/json"
	"strconv"
	"strings"
)

// parseMids accepts a stream frame {"channel":"allMids","data":{"mids":{...}}},
// a bare {"mids":{...}} or a flat symbol -> price map.
func parseMids(payload map[string]any) map[string]float64 {
	var mids map[string]any
	if data, ok := payload["data"].(map[string]any); ok {
		if raw, ok := data["mids"].(map[string]any); ok {
			mids = raw
		}
	}
	if mids == nil {
		if raw, ok := payload["mids"].(map[string]any); ok {
			mids = raw
		}
	}
	if mids == nil {
		if _, hasData := payload["data"]; !hasData {
			if _, hasChannel := payload["channel"]; !hasChannel {
				mids = payload
			}
		}
	}
	out := make(map[string]float64, len(mids))
	for asset, v := range mids {
		if f, ok := floatFromAny(v); ok && f > 0 {
			out[asset] = f
		}
	}
	return out
}

func floatFromAny(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
