package mikrotik

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-routeros/routeros/v3"
	"github.com/go-routeros/routeros/v3/proto"
)

// fakeRouter эмулирует таблицы User Manager в памяти.
type fakeRouter struct {
	mu       sync.Mutex
	tables   map[string][]map[string]string
	usage    map[string]int64
	seq      int
	dials    int
	commands []string
	breakNext error         // ошибка транспорта на следующей команде
	block     chan struct{} // если не nil, команды ждут закрытия канала
}

func newFakeRouter() *fakeRouter {
	return &fakeRouter{
		tables: make(map[string][]map[string]string),
		usage:  make(map[string]int64),
	}
}

func (f *fakeRouter) dialer() Dialer {
	return func() (Conn, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.dials++
		return &fakeConn{r: f}, nil
	}
}

func (f *fakeRouter) rows(path string) []map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]string, 0, len(f.tables[path]))
	for _, row := range f.tables[path] {
		c := make(map[string]string, len(row))
		for k, v := range row {
			c[k] = v
		}
		out = append(out, c)
	}
	return out
}

func (f *fakeRouter) insert(path string, row map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	row[".id"] = fmt.Sprintf("*%X", f.seq)
	f.tables[path] = append(f.tables[path], row)
}

func (f *fakeRouter) count(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.commands {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

type fakeConn struct {
	r      *fakeRouter
	closed bool
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func trap(msg string) error {
	return &routeros.DeviceError{Sentence: &proto.Sentence{Word: "!trap", Map: map[string]string{"message": msg}}}
}

func (c *fakeConn) Run(sentence ...string) (*routeros.Reply, error) {
	if c.r.block != nil {
		<-c.r.block
	}
	f := c.r
	f.mu.Lock()
	defer f.mu.Unlock()

	if c.closed {
		return nil, errors.New("use of closed connection")
	}
	if f.breakNext != nil {
		err := f.breakNext
		f.breakNext = nil
		return nil, err
	}

	cmd := sentence[0]
	f.commands = append(f.commands, strings.Join(sentence, " "))
	idx := strings.LastIndex(cmd, "/")
	path, verb := cmd[:idx], cmd[idx+1:]

	args := map[string]string{}
	filters := map[string]string{}
	for _, w := range sentence[1:] {
		switch {
		case strings.HasPrefix(w, "="):
			k, v, _ := strings.Cut(w[1:], "=")
			args[k] = v
		case strings.HasPrefix(w, "?"):
			k, v, _ := strings.Cut(w[1:], "=")
			filters[k] = v
		}
	}

	reply := &routeros.Reply{Done: &proto.Sentence{Word: "!done", Map: map[string]string{}}}
	switch verb {
	case "print":
		if path == "/system/identity" {
			reply.Re = append(reply.Re, &proto.Sentence{Word: "!re", Map: map[string]string{"name": "MikroTik"}})
			return reply, nil
		}
		for _, row := range f.tables[path] {
			if matches(row, filters) {
				c := map[string]string{}
				for k, v := range row {
					c[k] = v
				}
				reply.Re = append(reply.Re, &proto.Sentence{Word: "!re", Map: c})
			}
		}
	case "add":
		if path == pathUserProfile && !f.exists(pathProfile, "name", args["profile"]) {
			return nil, trap("input does not match any value of profile")
		}
		if name := args["name"]; name != "" && f.exists(path, "name", name) {
			return nil, trap("failure: entry already exists")
		}
		f.seq++
		args[".id"] = fmt.Sprintf("*%X", f.seq)
		f.tables[path] = append(f.tables[path], args)
		reply.Done.Map["ret"] = args[".id"]
	case "set":
		row := f.byID(path, args[".id"])
		if row == nil {
			return nil, trap("no such item")
		}
		for k, v := range args {
			row[k] = v
		}
	case "remove":
		rows := f.tables[path]
		for i, row := range rows {
			if row[".id"] == args[".id"] {
				f.tables[path] = append(rows[:i], rows[i+1:]...)
				return reply, nil
			}
		}
		return nil, trap("no such item")
	case "monitor":
		row := f.byID(path, args[".id"])
		if row == nil {
			return nil, trap("no such item")
		}
		reply.Re = append(reply.Re, &proto.Sentence{Word: "!re", Map: map[string]string{
			"total-download": fmt.Sprint(f.usage[row["name"]]),
		}})
	default:
		return nil, trap("unknown command")
	}
	return reply, nil
}

func (f *fakeRouter) exists(path, key, value string) bool {
	for _, row := range f.tables[path] {
		if row[key] == value {
			return true
		}
	}
	return false
}

func (f *fakeRouter) byID(path, id string) map[string]string {
	for _, row := range f.tables[path] {
		if row[".id"] == id {
			return row
		}
	}
	return nil
}

func matches(row, filters map[string]string) bool {
	for k, v := range filters {
		if row[k] != v {
			return false
		}
	}
	return true
}
