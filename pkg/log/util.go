package log

import (
	"strconv"

	"go.uber.org/zap"
)

// toFields turns the variadic arguments of a log call into zap fields.
//
// Arguments are read as key/value pairs. A zap.Field or an error may appear
// alone in place of a pair. Redacted values are masked here, so no encoder
// ever sees them. A non-string key is logged under invalid_key_N together
// with its value, and a trailing value without a key under arg#N.
func toFields(args ...any) []zap.Field {
	if len(args) == 0 {
		return nil
	}

	fields := make([]zap.Field, 0, len(args)/2+1)
	for i := 0; i < len(args); {
		switch v := args[i].(type) {
		case zap.Field:
			fields = append(fields, v)
			i++
			continue
		case error:
			fields = append(fields, zap.Error(v))
			i++
			continue
		}

		if i == len(args)-1 {
			fields = append(fields, zap.Any("arg#"+strconv.Itoa(i), args[i]))
			break
		}

		fields = append(fields, pair(i/2, args[i], args[i+1]))
		i += 2
	}
	return fields
}

// pair builds the field for one key/value pair. zap.Any picks the typed
// encoder for primitives, durations, times, errors and Stringers.
func pair(n int, key, val any) zap.Field {
	k, ok := key.(string)
	if !ok {
		return zap.Any("invalid_key_"+strconv.Itoa(n), map[string]any{"key": key, "value": val})
	}
	if r, ok := val.(Redacted); ok {
		return zap.String(k, Redact(string(r)))
	}
	return zap.Any(k, val)
}
