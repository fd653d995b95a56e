package store

import (
	"database/sql"
	"encoding/json"
)

// dbtx abstracts *sql.DB and *sql.Tx so row helpers can run inside or outside
// an explicit transaction.
type dbtx interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// JSON column helpers. Decode failures on locally written columns indicate
// corruption, so they degrade to empty values instead of failing reads.

func encodeJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func decodeStringSlice(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	_ = json.Unmarshal([]byte(s), &out)
	return out
}

func decodeIntMap(s string) map[string]int {
	out := map[string]int{}
	if s != "" {
		_ = json.Unmarshal([]byte(s), &out)
	}
	return out
}

func decodeInt64Map(s string) map[string]int64 {
	out := map[string]int64{}
	if s != "" {
		_ = json.Unmarshal([]byte(s), &out)
	}
	return out
}

func decodeStringMap(s string) map[string]string {
	out := map[string]string{}
	if s != "" {
		_ = json.Unmarshal([]byte(s), &out)
	}
	return out
}
