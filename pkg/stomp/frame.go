// Package stomp implements the STOMP 1.2 text framing and the lobby
// queue binding of the streaming session.
package stomp

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/harunnryd/confgate/pkg/errorsx"
)

const (
	CommandConnect     = "CONNECT"
	CommandConnected   = "CONNECTED"
	CommandSubscribe   = "SUBSCRIBE"
	CommandUnsubscribe = "UNSUBSCRIBE"
	CommandDisconnect  = "DISCONNECT"
	CommandMessage     = "MESSAGE"
	CommandError       = "ERROR"
	CommandReceipt     = "RECEIPT"
)

const (
	HeaderAcceptVersion = "accept-version"
	HeaderHeartBeat     = "heart-beat"
	HeaderHost          = "host"
	HeaderAuthorization = "Authorization"
	HeaderDestination   = "destination"
	HeaderID            = "id"
	HeaderAck           = "ack"
	HeaderSubscription  = "subscription"
	HeaderMessageID     = "message-id"
	HeaderContentType   = "content-type"
	HeaderContentLength = "content-length"
	HeaderReceiptID     = "receipt-id"
	HeaderMessage       = "message"
	HeaderVersion       = "version"
)

const binding = "stomp"

// Frame is one STOMP frame.
type Frame struct {
	Command string
	Headers map[string]string
	Body    []byte
}

func NewFrame(command string, headers map[string]string, body []byte) Frame {
	if headers == nil {
		headers = map[string]string{}
	}
	return Frame{Command: command, Headers: headers, Body: body}
}

// Header returns the value of key, or "".
func (f Frame) Header(key string) string {
	return f.Headers[key]
}

// IsHeartbeat reports whether data is a heartbeat: an empty message or
// end-of-line bytes only.
func IsHeartbeat(data []byte) bool {
	for _, b := range data {
		if b != '\n' && b != '\r' {
			return false
		}
	}
	return true
}

// Encode writes f in wire form. Header lines are sorted by key so equal
// frames encode to equal bytes.
func Encode(f Frame) []byte {
	var buf bytes.Buffer
	escape := escapes(f.Command)

	buf.WriteString(f.Command)
	buf.WriteByte('\n')

	keys := make([]string, 0, len(f.Headers))
	for k := range f.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if escape {
			buf.WriteString(encodeHeader(k))
			buf.WriteByte(':')
			buf.WriteString(encodeHeader(f.Headers[k]))
		} else {
			buf.WriteString(k)
			buf.WriteByte(':')
			buf.WriteString(f.Headers[k])
		}
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	buf.Write(f.Body)
	buf.WriteByte(0)
	return buf.Bytes()
}

// Decode parses one frame. Heartbeats must be filtered with IsHeartbeat
// first; Decode rejects them.
func Decode(data []byte) (Frame, error) {
	rest := bytes.TrimLeft(data, "\r\n")
	if len(rest) == 0 {
		return Frame{}, decodeErr("heartbeat is not a frame", data, nil)
	}

	line, rest, ok := cutLine(rest)
	if !ok {
		return Frame{}, decodeErr("missing command terminator", data, nil)
	}
	command := line
	if command == "" {
		return Frame{}, decodeErr("empty command", data, nil)
	}
	escape := escapes(command)

	headers := map[string]string{}
	for {
		line, rest, ok = cutLine(rest)
		if !ok {
			return Frame{}, decodeErr("unterminated header block", data, nil)
		}
		if line == "" {
			break
		}
		k, v, found := strings.Cut(line, ":")
		if !found {
			return Frame{}, decodeErr(fmt.Sprintf("malformed header %q", line), data, nil)
		}
		if escape {
			var err error
			if k, err = decodeHeader(k); err != nil {
				return Frame{}, decodeErr("bad header escape", data, err)
			}
			if v, err = decodeHeader(v); err != nil {
				return Frame{}, decodeErr("bad header escape", data, err)
			}
		}
		// Repeated headers: the first one wins.
		if _, dup := headers[k]; !dup {
			headers[k] = v
		}
	}

	var body []byte
	if cl, ok := headers[HeaderContentLength]; ok {
		n, err := strconv.Atoi(cl)
		if err != nil || n < 0 {
			return Frame{}, decodeErr("invalid content-length", data, err)
		}
		if n >= len(rest) || rest[n] != 0 {
			return Frame{}, decodeErr("body shorter than content-length", data, nil)
		}
		body = rest[:n]
	} else {
		i := bytes.IndexByte(rest, 0)
		if i < 0 {
			return Frame{}, decodeErr("missing NUL terminator", data, nil)
		}
		body = rest[:i]
	}
	return Frame{Command: command, Headers: headers, Body: append([]byte(nil), body...)}, nil
}

func cutLine(b []byte) (string, []byte, bool) {
	i := bytes.IndexByte(b, '\n')
	if i < 0 {
		return "", b, false
	}
	return strings.TrimSuffix(string(b[:i]), "\r"), b[i+1:], true
}

// CONNECT and CONNECTED headers are never escaped.
func escapes(command string) bool {
	return command != CommandConnect && command != CommandConnected
}

var headerEncoder = strings.NewReplacer(`\`, `\\`, "\r", `\r`, "\n", `\n`, ":", `\c`)

func encodeHeader(s string) string { return headerEncoder.Replace(s) }

func decodeHeader(s string) (string, error) {
	if !strings.Contains(s, `\`) {
		return s, nil
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		if i+1 >= len(s) {
			return "", fmt.Errorf("dangling escape in %q", s)
		}
		i++
		switch s[i] {
		case '\\':
			b.WriteByte('\\')
		case 'r':
			b.WriteByte('\r')
		case 'n':
			b.WriteByte('\n')
		case 'c':
			b.WriteByte(':')
		default:
			return "", fmt.Errorf("undefined escape \\%c", s[i])
		}
	}
	return b.String(), nil
}

func decodeErr(detail string, raw []byte, err error) error {
	return &errorsx.ProtocolDecodeError{Binding: binding, Detail: detail, Raw: raw, Err: err}
}

// ParseHeartBeat parses a heart-beat header "x,y" in milliseconds. An
// empty value means "0,0".
func ParseHeartBeat(v string) (x, y int, err error) {
	if strings.TrimSpace(v) == "" {
		return 0, 0, nil
	}
	a, b, ok := strings.Cut(v, ",")
	if !ok {
		return 0, 0, fmt.Errorf("heart-beat %q: want two values", v)
	}
	if x, err = strconv.Atoi(strings.TrimSpace(a)); err != nil || x < 0 {
		return 0, 0, fmt.Errorf("heart-beat %q: bad first value", v)
	}
	if y, err = strconv.Atoi(strings.TrimSpace(b)); err != nil || y < 0 {
		return 0, 0, fmt.Errorf("heart-beat %q: bad second value", v)
	}
	return x, y, nil
}

// FormatHeartBeat renders a heart-beat header value.
func FormatHeartBeat(x, y int) string {
	return strconv.Itoa(x) + "," + strconv.Itoa(y)
}
