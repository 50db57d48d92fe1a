package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/core/persist"
)

// Persisted cookie location.
const (
	CredentialsRoot  = "credentials"
	CookiesPartition = "cookies"
)

type storedCookie struct {
	URL      string    `json:"url"`
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Path     string    `json:"path,omitempty"`
	Domain   string    `json:"domain,omitempty"`
	Expires  time.Time `json:"expires,omitempty"`
	Secure   bool      `json:"secure,omitempty"`
	HttpOnly bool      `json:"httpOnly,omitempty"`
}

// PersistentJar is an http.CookieJar whose cookies survive a reload.
type PersistentJar struct {
	jar    *cookiejar.Jar
	repo   persist.Repository
	logger core.Logger

	mu      sync.Mutex
	cookies map[string]storedCookie // by url|name
}

var _ http.CookieJar = (*PersistentJar)(nil)

// NewPersistentJar restores the cookies saved in repo.
func NewPersistentJar(ctx context.Context, repo persist.Repository, logger core.Logger) (*PersistentJar, error) {
	if logger == nil {
		logger = core.NopLogger{}
	}
	pj := &PersistentJar{repo: repo, logger: logger}
	if err := pj.reset(); err != nil {
		return nil, err
	}

	payloads, err := repo.LoadAll(ctx, CredentialsRoot)
	if err != nil {
		return nil, errors.Wrap(err, "loading cookies")
	}
	payload, ok := payloads[CookiesPartition]
	if !ok {
		return pj, nil
	}
	var stored []storedCookie
	if err = json.Unmarshal(payload, &stored); err != nil {
		logger.Warn("discarding unreadable cookies", err)
		return pj, nil
	}

	now := time.Now()
	for _, sc := range stored {
		if !sc.Expires.IsZero() && sc.Expires.Before(now) {
			continue
		}
		u, err := url.Parse(sc.URL)
		if err != nil {
			continue
		}
		pj.cookies[sc.URL+"|"+sc.Name] = sc // URL already ends with the cookie path
		pj.jar.SetCookies(u, []*http.Cookie{{
			Name: sc.Name, Value: sc.Value, Path: sc.Path, Domain: sc.Domain,
			Expires: sc.Expires, Secure: sc.Secure, HttpOnly: sc.HttpOnly,
		}})
	}
	return pj, nil
}

func (pj *PersistentJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	pj.current().SetCookies(u, cookies)

	origin := u.Scheme + "://" + u.Host
	now := time.Now()
	pj.mu.Lock()
	for _, c := range cookies {
		path := c.Path
		if path == "" {
			path = defaultCookiePath(u.Path)
		}
		id := origin + path + "|" + c.Name
		expires := c.Expires
		if c.MaxAge > 0 {
			expires = now.Add(time.Duration(c.MaxAge) * time.Second)
		}
		if c.MaxAge < 0 || (!expires.IsZero() && expires.Before(now)) {
			delete(pj.cookies, id)
			continue
		}
		pj.cookies[id] = storedCookie{
			URL: origin + path, Name: c.Name, Value: c.Value, Path: path, Domain: c.Domain,
			Expires: expires, Secure: c.Secure, HttpOnly: c.HttpOnly,
		}
	}
	stored := make([]storedCookie, 0, len(pj.cookies))
	for _, sc := range pj.cookies {
		stored = append(stored, sc)
	}
	pj.mu.Unlock()

	pj.save(stored)
}

func (pj *PersistentJar) Cookies(u *url.URL) []*http.Cookie {
	return pj.current().Cookies(u)
}

func (pj *PersistentJar) current() *cookiejar.Jar {
	pj.mu.Lock()
	defer pj.mu.Unlock()
	return pj.jar
}

// Purge deletes the saved cookies.
func (pj *PersistentJar) Purge(ctx context.Context) error {
	return errors.Wrap(pj.repo.Purge(ctx, CredentialsRoot), "purging cookies")
}

// Reset empties the in-memory jar.
func (pj *PersistentJar) Reset() {
	if err := pj.reset(); err != nil {
		pj.logger.Error("resetting cookie jar", err)
	}
}

func (pj *PersistentJar) reset() error {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return errors.Wrap(err, "creating cookie jar")
	}
	pj.mu.Lock()
	pj.jar = jar
	pj.cookies = make(map[string]storedCookie)
	pj.mu.Unlock()
	return nil
}

func (pj *PersistentJar) save(stored []storedCookie) {
	payload, err := json.Marshal(stored)
	if err != nil {
		pj.logger.Error("encoding cookies", err)
		return
	}
	if err = pj.repo.Save(context.Background(), CredentialsRoot, CookiesPartition, payload); err != nil {
		pj.logger.Error("saving cookies", err)
	}
}

// defaultCookiePath is the path a cookie without Path attribute is scoped to (RFC 6265 5.1.4).
func defaultCookiePath(p string) string {
	if p == "" || p[0] != '/' {
		return "/"
	}
	i := strings.LastIndex(p, "/")
	if i == 0 {
		return "/"
	}
	return p[:i]
}
