package redis

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ServerError is an error reply ("-ERR ...") from the server. The connection
// stays usable after one.
type ServerError string

func (e ServerError) Error() string { return "redis: " + string(e) }

var errMalformed = errors.New("redis: malformed reply")

// appendCommand encodes parts as a RESP array of bulk strings.
func appendCommand(dst []byte, parts ...string) []byte {
	dst = append(dst, '*')
	dst = strconv.AppendInt(dst, int64(len(parts)), 10)
	dst = append(dst, '\r', '\n')
	for _, p := range parts {
		dst = append(dst, '$')
		dst = strconv.AppendInt(dst, int64(len(p)), 10)
		dst = append(dst, '\r', '\n')
		dst = append(dst, p...)
		dst = append(dst, '\r', '\n')
	}
	return dst
}

// readReply decodes one reply. Simple strings come back as string, integers
// as int64, bulk strings as []byte, arrays as []any and nulls as nil.
func readReply(r *bufio.Reader) (any, error) {
	kind, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	line, ok := strings.CutSuffix(line, "\r\n")
	if !ok {
		return nil, errMalformed
	}

	switch kind {
	case '+':
		return line, nil
	case '-':
		return nil, ServerError(line)
	case ':':
		return strconv.ParseInt(line, 10, 64)
	case '$':
		n, err := strconv.Atoi(line)
		if err != nil || n < -1 {
			return nil, errMalformed
		}
		if n == -1 {
			return nil, nil
		}
		data := make([]byte, n+2)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, err
		}
		if data[n] != '\r' || data[n+1] != '\n' {
			return nil, errMalformed
		}
		return data[:n], nil
	case '*':
		n, err := strconv.Atoi(line)
		if err != nil || n < -1 {
			return nil, errMalformed
		}
		if n == -1 {
			return nil, nil
		}
		items := make([]any, n)
		for i := range items {
			if items[i], err = readReply(r); err != nil {
				return nil, err
			}
		}
		return items, nil
	default:
		return nil, fmt.Errorf("%w: unknown type byte %q", errMalformed, kind)
	}
}

func isOK(reply any) bool {
	s, ok := reply.(string)
	return ok && strings.EqualFold(s, "OK")
}

func parseScanReply(reply any) (string, []string, error) {
	parts, ok := reply.([]any)
	if !ok || len(parts) != 2 {
		return "", nil, fmt.Errorf("redis: unexpected SCAN reply %T", reply)
	}
	cursor, ok := parts[0].([]byte)
	if !ok {
		return "", nil, fmt.Errorf("redis: unexpected SCAN cursor %T", parts[0])
	}
	raw, ok := parts[1].([]any)
	if !ok {
		return "", nil, fmt.Errorf("redis: unexpected SCAN keys %T", parts[1])
	}
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		b, ok := k.([]byte)
		if !ok {
			return "", nil, fmt.Errorf("redis: unexpected SCAN key %T", k)
		}
		keys = append(keys, string(b))
	}
	return string(cursor), keys, nil
}

// escapeGlob quotes the MATCH metacharacters in s.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
