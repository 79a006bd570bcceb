package mikrotik

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/go-routeros/routeros/v3"
)

// Conn — соединение с RouterOS API.
type Conn interface {
	Run(sentence ...string) (*routeros.Reply, error)
	Close() error
}

// Dialer открывает новое соединение.
type Dialer func() (Conn, error)

type routerConn struct {
	c *routeros.Client
}

func (r routerConn) Run(sentence ...string) (*routeros.Reply, error) {
	return r.c.Run(sentence...)
}

func (r routerConn) Close() error {
	r.c.Close()
	return nil
}

// TCPDialer подключается к API роутера (порт 8728) с таймаутом.
func TCPDialer(host string, port int, username, password string, timeout time.Duration) Dialer {
	addr := net.JoinHostPort(host, fmt.Sprint(port))
	return func() (Conn, error) {
		c, err := routeros.DialTimeout(addr, username, password, timeout)
		if err != nil {
			return nil, err
		}
		return routerConn{c: c}, nil
	}
}

// deviceMessage возвращает текст !trap, если ошибка пришла от роутера.
func deviceMessage(err error) (string, bool) {
	var devErr *routeros.DeviceError
	if !errors.As(err, &devErr) {
		return "", false
	}
	if devErr.Sentence != nil {
		if msg := devErr.Sentence.Map["message"]; msg != "" {
			return msg, true
		}
	}
	return devErr.Error(), true
}
