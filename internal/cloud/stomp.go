package cloud

import (
	"bytes"
	"fmt"
	"strings"
)

// STOMP commands used by the dashboard stream.
const (
	stompConnect     = "CONNECT"
	stompConnected   = "CONNECTED"
	stompSubscribe   = "SUBSCRIBE"
	stompUnsubscribe = "UNSUBSCRIBE"
	stompMessage     = "MESSAGE"
	stompError       = "ERROR"
)

type header struct{ key, value string }

// frame is one STOMP frame: COMMAND\nkey:value\n...\n\nbody\x00
type frame struct {
	command string
	headers []header
	body    []byte
}

func (f frame) header(key string) (string, bool) {
	for _, h := range f.headers {
		if h.key == key {
			return h.value, true
		}
	}
	return "", false
}

var (
	headerEscaper   = strings.NewReplacer(`\`, `\\`, "\r", `\r`, "\n", `\n`, ":", `\c`)
	headerUnescaper = strings.NewReplacer(`\\`, `\`, `\r`, "\r", `\n`, "\n", `\c`, ":")
)

func (f frame) encode() []byte {
	var b bytes.Buffer
	b.WriteString(f.command)
	b.WriteByte('\n')
	for _, h := range f.headers {
		// CONNECT headers are never escaped
		if f.command == stompConnect {
			b.WriteString(h.key + ":" + h.value)
		} else {
			b.WriteString(headerEscaper.Replace(h.key) + ":" + headerEscaper.Replace(h.value))
		}
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	b.Write(f.body)
	b.WriteByte(0)
	return b.Bytes()
}

// decodeFrame parses one frame. A heartbeat (only EOLs) yields ok=false.
func decodeFrame(raw []byte) (f frame, ok bool, err error) {
	raw = bytes.TrimLeft(raw, "\r\n")
	if len(raw) == 0 {
		return frame{}, false, nil
	}
	if i := bytes.IndexByte(raw, 0); i >= 0 {
		raw = raw[:i]
	}

	head, body, found := bytes.Cut(raw, []byte("\n\n"))
	if !found {
		head, body, found = bytes.Cut(raw, []byte("\r\n\r\n"))
	}
	if !found {
		return frame{}, false, fmt.Errorf("%w: no header terminator", ErrBadFrame)
	}

	lines := strings.Split(strings.ReplaceAll(string(head), "\r\n", "\n"), "\n")
	f.command = lines[0]
	if f.command == "" {
		return frame{}, false, fmt.Errorf("%w: empty command", ErrBadFrame)
	}
	for _, line := range lines[1:] {
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			return frame{}, false, fmt.Errorf("%w: header %q", ErrBadFrame, line)
		}
		f.headers = append(f.headers, header{headerUnescaper.Replace(k), headerUnescaper.Replace(v)})
	}
	f.body = body
	return f, true, nil
}
