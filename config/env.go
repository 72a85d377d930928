package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Environment variable names follow the pattern
//
//	EVENTFLOW_{SECTION}_{FIELD}
//
// with Go field names converted from CamelCase to UPPER_SNAKE_CASE:
//
//	EVENTFLOW_PUBLISHER_MAX_RETRIES=5
//	EVENTFLOW_PUBLISHER_RETRY_DELAY=250ms
//	EVENTFLOW_DEDUP_REDIS_ADDR=localhost:6379
//
// Only fields with set variables are modified, so the overlay composes
// with file values and defaults.

const envPrefix = "EVENTFLOW"

var (
	durationType = reflect.TypeOf(Duration(0))
	stdDuration  = reflect.TypeOf(time.Duration(0))
)

// lookupEnv is swapped in tests.
var lookupEnv = os.LookupEnv

func applyEnv(cfg *Config) error {
	return loadStruct(envPrefix, reflect.ValueOf(cfg).Elem())
}

func loadStruct(prefix string, v reflect.Value) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fv := v.Field(i)
		if !field.IsExported() {
			continue
		}
		key := prefix + "_" + toUpperSnake(field.Name)

		// Duration fields parse "5s", "100ms" rather than an integer.
		if field.Type == durationType || field.Type == stdDuration {
			raw, ok := lookupEnv(key)
			if !ok {
				continue
			}
			d, err := time.ParseDuration(raw)
			if err != nil {
				return fmt.Errorf("config: %s: %w", key, err)
			}
			fv.SetInt(int64(d))
			continue
		}

		if field.Type.Kind() == reflect.Struct {
			if err := loadStruct(key, fv); err != nil {
				return err
			}
			continue
		}

		raw, ok := lookupEnv(key)
		if !ok {
			continue
		}
		if err := setField(fv, raw, key); err != nil {
			return err
		}
	}
	return nil
}

func setField(v reflect.Value, raw, key string) error {
	switch v.Kind() {
	case reflect.String:
		v.SetString(raw)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		v.SetInt(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		v.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		v.SetBool(b)
	default:
		// Unsupported kinds are left to the YAML layer.
	}
	return nil
}

// toUpperSnake converts CamelCase field names to UPPER_SNAKE_CASE:
// BatchTimeout becomes BATCH_TIMEOUT, TTL stays TTL.
func toUpperSnake(name string) string {
	var b strings.Builder
	runes := []rune(name)
	for i, r := range runes {
		if unicode.IsUpper(r) && i > 0 {
			prevLower := unicode.IsLower(runes[i-1])
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if prevLower || nextLower {
				b.WriteByte('_')
			}
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}
