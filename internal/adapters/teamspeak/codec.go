package teamspeak

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

var escaper = strings.NewReplacer(
	`\`, `\\`,
	`/`, `\/`,
	` `, `\s`,
	`|`, `\p`,
	"\a", `\a`,
	"\b", `\b`,
	"\f", `\f`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
	"\v", `\v`,
)

var unescaper = strings.NewReplacer(
	`\\`, `\`,
	`\/`, `/`,
	`\s`, ` `,
	`\p`, `|`,
	`\a`, "\a",
	`\b`, "\b",
	`\f`, "\f",
	`\n`, "\n",
	`\r`, "\r",
	`\t`, "\t",
	`\v`, "\v",
)

func Escape(s string) string   { return escaper.Replace(s) }
func Unescape(s string) string { return unescaper.Replace(s) }

// Record is one entry of a query response: unescaped values by key.
// Bare flags are stored with an empty value.
type Record map[string]string

func (r Record) Int(key string) (int, error) {
	v, ok := r[key]
	if !ok {
		return 0, fmt.Errorf("missing %s", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("bad %s=%q: %w", key, v, err)
	}
	return n, nil
}

// ParseRecords splits a response line into its '|'-separated records.
func ParseRecords(line string) []Record {
	if line == "" {
		return nil
	}
	parts := strings.Split(line, "|")
	out := make([]Record, 0, len(parts))
	for _, p := range parts {
		out = append(out, parseRecord(p))
	}
	return out
}

func parseRecord(s string) Record {
	rec := Record{}
	for _, tok := range strings.Fields(s) {
		key, value, _ := strings.Cut(tok, "=")
		rec[key] = Unescape(value)
	}
	return rec
}

// command formats a request line; args alternate key and raw value.
func command(name string, args ...string) string {
	var b strings.Builder
	b.WriteString(name)
	for i := 0; i+1 < len(args); i += 2 {
		b.WriteByte(' ')
		b.WriteString(args[i])
		b.WriteByte('=')
		b.WriteString(Escape(args[i+1]))
	}
	return b.String()
}

// QueryError is the non-zero status line that terminates a response.
type QueryError struct {
	ID  int
	Msg string
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query error %d: %s", e.ID, e.Msg)
}

func (e *QueryError) ErrorID() int { return e.ID }

const (
	errIDOK          = 0
	errIDEmptyResult = 1281
)

// parseStatus reads an "error id=N msg=..." line.
func parseStatus(line string) *QueryError {
	rec := parseRecord(strings.TrimPrefix(line, "error "))
	id, err := rec.Int("id")
	if err != nil {
		return &QueryError{ID: -1, Msg: "malformed status line: " + line}
	}
	return &QueryError{ID: id, Msg: rec["msg"]}
}

// splitLines is a bufio.SplitFunc for the query stream. The server ends
// lines with "\n\r", so the '\r' is trimmed on both sides.
func splitLines(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		return i + 1, bytes.Trim(data[:i], "\r"), nil
	}
	if atEOF {
		return len(data), bytes.Trim(data, "\r"), nil
	}
	return 0, nil, nil
}
