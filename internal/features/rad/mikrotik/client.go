// Package mikrotik — клиент MikroTik User Manager v7 через RouterOS API.
//
// Пути: /user-manager/user, /user-manager/user-profile, /user-manager/profile,
// /user-manager/limitation, /user-manager/profile-limitation, /user-manager/session.
// Ответ !trap считается отказом роутера, ошибки сети и таймауты — недоступностью;
// после них соединение закрывается и при следующем вызове открывается заново.
package mikrotik

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-routeros/routeros/v3"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/vpn-shop/internal/features/rad"
)

const (
	pathUser         = "/user-manager/user"
	pathUserProfile  = "/user-manager/user-profile"
	pathProfile      = "/user-manager/profile"
	pathLimitation   = "/user-manager/limitation"
	pathProfileLimit = "/user-manager/profile-limitation"
	pathSession      = "/user-manager/session"

	// Сколько последних токенов операций держать в комментарии лимита.
	maxTokens = 20
)

// Client — клиент одного роутера. Вызовы идут последовательно
// через одно соединение.
type Client struct {
	name string
	dial Dialer
	sem  chan struct{}
	conn Conn
}

// New создаёт клиент. Соединение открывается при первом вызове.
func New(name string, dial Dialer) *Client {
	return &Client{
		name: name,
		dial: dial,
		sem:  make(chan struct{}, 1),
	}
}

var _ rad.Directory = (*Client)(nil)

// Close закрывает соединение.
func (c *Client) Close() error {
	c.sem <- struct{}{}
	defer func() { <-c.sem }()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// session — последовательность команд внутри одного вызова.
type session struct {
	c    *Client
	conn Conn
	op   string
}

func (s *session) run(sentence ...string) (*routeros.Reply, error) {
	reply, err := s.conn.Run(sentence...)
	if err != nil {
		if msg, ok := deviceMessage(err); ok {
			return nil, rad.NewError(s.op, s.c.name, rad.ErrRejected, err, msg)
		}
		return nil, rad.NewError(s.op, s.c.name, rad.ErrUnreachable, err, "")
	}
	return reply, nil
}

// find возвращает строки таблицы, подходящие под фильтр ?k=v.
func (s *session) find(path string, filter ...string) ([]map[string]string, error) {
	words := []string{path + "/print"}
	for _, f := range filter {
		words = append(words, "?"+f)
	}
	reply, err := s.run(words...)
	if err != nil {
		return nil, err
	}
	rows := make([]map[string]string, 0, len(reply.Re))
	for _, re := range reply.Re {
		rows = append(rows, re.Map)
	}
	return rows, nil
}

func (s *session) findOne(path string, filter ...string) (map[string]string, error) {
	rows, err := s.find(path, filter...)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

func (s *session) notFound(username string) error {
	return rad.NewError(s.op, s.c.name, rad.ErrNotFound, nil, username)
}

// do захватывает соединение и выполняет fn. Если ctx истёк раньше,
// соединение закрывается, чтобы зависший вызов не держал роутер.
func (c *Client) do(ctx context.Context, op string, fn func(s *session) error) error {
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return rad.NewError(op, c.name, rad.ErrUnreachable, ctx.Err(), "соединение занято")
	}
	release := func() { <-c.sem }

	if c.conn == nil {
		conn, err := c.dial()
		if err != nil {
			release()
			return rad.NewError(op, c.name, rad.ErrUnreachable, err, "")
		}
		c.conn = conn
	}
	conn := c.conn

	done := make(chan error, 1)
	go func() {
		done <- fn(&session{c: c, conn: conn, op: op})
	}()

	select {
	case err := <-done:
		if rad.Retryable(err) {
			c.drop(conn)
		}
		release()
		return err
	case <-ctx.Done():
		c.drop(conn)
		release()
		return rad.NewError(op, c.name, rad.ErrUnreachable, ctx.Err(), "таймаут")
	}
}

// drop закрывает соединение после сетевой ошибки. Вызывается под sem.
func (c *Client) drop(conn Conn) {
	if c.conn != conn {
		return
	}
	if err := conn.Close(); err != nil {
		log.WithField("backend", c.name).Debugf("Ошибка закрытия соединения: %v", err)
	}
	c.conn = nil
}

// Ping проверяет соединение.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, "ping", func(s *session) error {
		_, err := s.run("/system/identity/print")
		return err
	})
}

// EnsureProfile создаёт профиль тарифа с лимитом lim_<name> или обновляет его.
func (c *Client) EnsureProfile(ctx context.Context, spec rad.ProfileSpec) error {
	return c.do(ctx, "ensure_profile", func(s *session) error {
		limName := "lim_" + spec.Name
		limArgs := []string{"=transfer-limit=" + strconv.FormatInt(spec.DataCapBytes, 10)}
		if rx, tx, ok := strings.Cut(spec.RateLimit, "/"); ok {
			limArgs = append(limArgs, "=rate-limit-rx="+rx, "=rate-limit-tx="+tx)
		}
		if err := s.upsert(pathLimitation, limName, limArgs...); err != nil {
			return err
		}
		if err := s.upsert(pathProfile, spec.Name,
			fmt.Sprintf("=validity=%dd", spec.ValidityDays), "=starts-when=assigned"); err != nil {
			return err
		}
		link, err := s.findOne(pathProfileLimit, "profile="+spec.Name, "limitation="+limName)
		if err != nil {
			return err
		}
		if link == nil {
			_, err = s.run(pathProfileLimit+"/add", "=profile="+spec.Name, "=limitation="+limName)
		}
		return err
	})
}

// upsert добавляет запись с именем name или обновляет её поля.
func (s *session) upsert(path, name string, args ...string) error {
	row, err := s.findOne(path, "name="+name)
	if err != nil {
		return err
	}
	if row == nil {
		_, err = s.run(append([]string{path + "/add", "=name=" + name}, args...)...)
		return err
	}
	_, err = s.run(append([]string{path + "/set", "=.id=" + row[".id"]}, args...)...)
	return err
}

// CreateAccount заводит пользователя и назначает ему профиль.
// Повтор с тем же профилем ничего не делает.
func (c *Client) CreateAccount(ctx context.Context, username, secret, profile string) error {
	return c.do(ctx, "create", func(s *session) error {
		user, err := s.findOne(pathUser, "name="+username)
		if err != nil {
			return err
		}
		if user == nil {
			if _, err := s.run(pathUser+"/add", "=name="+username, "=password="+secret); err != nil {
				return err
			}
		} else {
			assigned, err := s.find(pathUserProfile, "user="+username)
			if err != nil {
				return err
			}
			for _, up := range assigned {
				if up["profile"] == profile {
					return nil
				}
			}
			if len(assigned) > 0 {
				return rad.NewError(s.op, c.name, rad.ErrAlreadyExists, nil,
					fmt.Sprintf("%s уже с профилем %s", username, assigned[0]["profile"]))
			}
		}
		_, err = s.run(pathUserProfile+"/add", "=user="+username, "=profile="+profile)
		return err
	})
}

// AccountStatus читает состояние пользователя. Нет пользователя — Exists=false.
func (c *Client) AccountStatus(ctx context.Context, username string) (*rad.AccountStatus, error) {
	var st *rad.AccountStatus
	err := c.do(ctx, "status", func(s *session) error {
		user, err := s.findOne(pathUser, "name="+username)
		if err != nil {
			return err
		}
		if user == nil {
			st = &rad.AccountStatus{}
			return nil
		}
		st = &rad.AccountStatus{
			Exists:  true,
			Enabled: !isTrue(user["disabled"]),
		}

		usage, err := s.run(pathUser+"/monitor", "=.id="+user[".id"], "=once=")
		if err != nil {
			return err
		}
		if len(usage.Re) > 0 {
			st.UsedBytes = parseInt(usage.Re[0].Map["total-download"])
		} else {
			st.UsedBytes = parseInt(user["download-used"])
		}

		assigned, err := s.find(pathUserProfile, "user="+username)
		if err != nil {
			return err
		}
		for _, up := range assigned {
			if strings.HasPrefix(up["profile"], "ext_") {
				continue
			}
			if st.Profile == "" {
				st.Profile = up["profile"]
			}
		}
		st.ExpiresAt = latestEnd(assigned)

		if st.Profile != "" {
			lim, err := s.findOne(pathLimitation, "name=lim_"+st.Profile)
			if err != nil {
				return err
			}
			st.AllowanceBytes += parseInt(lim["transfer-limit"])
		}
		extra, err := s.findOne(pathLimitation, "name="+username)
		if err != nil {
			return err
		}
		st.AllowanceBytes += parseInt(extra["transfer-limit"])

		sessions, err := s.find(pathSession, "user="+username, "active=true")
		if err != nil {
			return err
		}
		st.ActiveSessions = len(sessions)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

func (c *Client) setUser(ctx context.Context, op, username string, args ...string) error {
	return c.do(ctx, op, func(s *session) error {
		user, err := s.findOne(pathUser, "name="+username)
		if err != nil {
			return err
		}
		if user == nil {
			return s.notFound(username)
		}
		_, err = s.run(append([]string{pathUser + "/set", "=.id=" + user[".id"]}, args...)...)
		return err
	})
}

func (c *Client) Disable(ctx context.Context, username string) error {
	return c.setUser(ctx, "disable", username, "=disabled=yes")
}

func (c *Client) Enable(ctx context.Context, username string) error {
	return c.setUser(ctx, "enable", username, "=disabled=no")
}

func (c *Client) ResetSecret(ctx context.Context, username, secret string) error {
	return c.setUser(ctx, "reset_secret", username, "=password="+secret)
}

// ExtendValidity назначает пользователю профиль продления ext_<N>d.
// User Manager ставит его в очередь после текущего, срок суммируется.
// Назначение помечено comment=op:<token>, повтор с тем же token ничего не делает.
func (c *Client) ExtendValidity(ctx context.Context, username string, days int, token string) error {
	return c.do(ctx, "extend", func(s *session) error {
		user, err := s.findOne(pathUser, "name="+username)
		if err != nil {
			return err
		}
		if user == nil {
			return s.notFound(username)
		}
		applied, err := s.findOne(pathUserProfile, "user="+username, "comment=op:"+token)
		if err != nil || applied != nil {
			return err
		}

		ext := fmt.Sprintf("ext_%dd", days)
		profile, err := s.findOne(pathProfile, "name="+ext)
		if err != nil {
			return err
		}
		if profile == nil {
			if _, err := s.run(pathProfile+"/add", "=name="+ext,
				fmt.Sprintf("=validity=%dd", days), "=starts-when=assigned"); err != nil {
				return err
			}
		}
		_, err = s.run(pathUserProfile+"/add", "=user="+username, "=profile="+ext, "=comment=op:"+token)
		return err
	})
}

// GrantAdditionalData увеличивает персональный лимит пользователя
// (limitation с именем пользователя). Применённые token хранятся в комментарии.
func (c *Client) GrantAdditionalData(ctx context.Context, username string, bytes int64, token string) error {
	return c.do(ctx, "grant_data", func(s *session) error {
		user, err := s.findOne(pathUser, "name="+username)
		if err != nil {
			return err
		}
		if user == nil {
			return s.notFound(username)
		}
		lim, err := s.findOne(pathLimitation, "name="+username)
		if err != nil {
			return err
		}
		if lim == nil {
			_, err = s.run(pathLimitation+"/add", "=name="+username,
				"=transfer-limit="+strconv.FormatInt(bytes, 10), "=comment=op:"+token)
			return err
		}
		tokens := parseTokens(lim["comment"])
		for _, t := range tokens {
			if t == token {
				return nil
			}
		}
		total := parseInt(lim["transfer-limit"]) + bytes
		_, err = s.run(pathLimitation+"/set", "=.id="+lim[".id"],
			"=transfer-limit="+strconv.FormatInt(total, 10),
			"=comment="+formatTokens(append(tokens, token)))
		return err
	})
}

// DisconnectSessions разрывает активные сессии пользователя.
func (c *Client) DisconnectSessions(ctx context.Context, username string) error {
	return c.do(ctx, "disconnect", func(s *session) error {
		return s.disconnect(username)
	})
}

func (s *session) disconnect(username string) error {
	sessions, err := s.find(pathSession, "user="+username, "active=true")
	if err != nil {
		return err
	}
	for _, sess := range sessions {
		if _, err := s.run(pathSession+"/remove", "=.id="+sess[".id"]); err != nil {
			return err
		}
	}
	return nil
}

// DeleteAccount удаляет пользователя, его профили и персональный лимит.
// Отсутствующий пользователь — не ошибка.
func (c *Client) DeleteAccount(ctx context.Context, username string) error {
	return c.do(ctx, "delete", func(s *session) error {
		if err := s.disconnect(username); err != nil {
			return err
		}
		assigned, err := s.find(pathUserProfile, "user="+username)
		if err != nil {
			return err
		}
		for _, up := range assigned {
			if _, err := s.run(pathUserProfile+"/remove", "=.id="+up[".id"]); err != nil {
				return err
			}
		}
		if lim, err := s.findOne(pathLimitation, "name="+username); err != nil {
			return err
		} else if lim != nil {
			if _, err := s.run(pathLimitation+"/remove", "=.id="+lim[".id"]); err != nil {
				return err
			}
		}
		user, err := s.findOne(pathUser, "name="+username)
		if err != nil || user == nil {
			return err
		}
		_, err = s.run(pathUser+"/remove", "=.id="+user[".id"])
		return err
	})
}

func isTrue(v string) bool {
	return v == "true" || v == "yes"
}

func parseInt(v string) int64 {
	n, _ := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	return n
}

func parseTokens(comment string) []string {
	var out []string
	for _, part := range strings.Split(comment, ",") {
		if t, ok := strings.CutPrefix(strings.TrimSpace(part), "op:"); ok && t != "" {
			out = append(out, t)
		}
	}
	return out
}

func formatTokens(tokens []string) string {
	if len(tokens) > maxTokens {
		tokens = tokens[len(tokens)-maxTokens:]
	}
	parts := make([]string, len(tokens))
	for i, t := range tokens {
		parts[i] = "op:" + t
	}
	return strings.Join(parts, ",")
}

// Форматы end-time в разных версиях RouterOS 7.
var endTimeLayouts = []string{
	"2006-01-02 15:04:05",
	"Jan/02/2006 15:04:05",
}

// latestEnd возвращает самый поздний end-time среди назначенных профилей.
func latestEnd(assigned []map[string]string) *time.Time {
	var ends []time.Time
	for _, up := range assigned {
		raw := strings.ToLower(strings.TrimSpace(up["end-time"]))
		if raw == "" || raw == "unlimited" {
			continue
		}
		for _, layout := range endTimeLayouts {
			if t, err := time.ParseInLocation(layout, raw, time.Local); err == nil {
				ends = append(ends, t)
				break
			}
		}
	}
	if len(ends) == 0 {
		return nil
	}
	sort.Slice(ends, func(i, j int) bool { return ends[i].Before(ends[j]) })
	return &ends[len(ends)-1]
}
