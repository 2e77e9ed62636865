package router

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// URI is a parsed endpoint address of the form scheme:name?options or
// scheme://host/path?options. Options are read through the typed getters,
// which record parse errors and which keys were consumed.
type URI struct {
	raw    string
	u      *url.URL
	params url.Values
	used   map[string]bool
	errs   []error
}

func ParseURI(raw string) (*URI, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty uri", ErrInvalidURI)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURI, err)
	}
	if u.Scheme == "" {
		return nil, fmt.Errorf("%w: %q has no scheme", ErrInvalidURI, raw)
	}
	params, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidURI, raw, err)
	}
	return &URI{raw: raw, u: u, params: params, used: map[string]bool{}}, nil
}

func (u *URI) String() string      { return u.raw }
func (u *URI) Scheme() string      { return strings.ToLower(u.u.Scheme) }
func (u *URI) Host() string        { return u.u.Host }
func (u *URI) Path() string        { return u.u.Path }
func (u *URI) User() *url.Userinfo { return u.u.User }

// Name is the part after the scheme: the opaque section for scheme:name
// URIs, host plus path otherwise.
func (u *URI) Name() string {
	if u.u.Opaque != "" {
		return u.u.Opaque
	}
	return u.u.Host + u.u.Path
}

func (u *URI) lookup(key string) (string, bool) {
	vs, ok := u.params[key]
	if !ok {
		return "", false
	}
	u.used[key] = true
	if len(vs) == 0 {
		return "", true
	}
	return vs[len(vs)-1], true
}

func (u *URI) Param(key, def string) string {
	if v, ok := u.lookup(key); ok {
		return v
	}
	return def
}

func (u *URI) Int(key string, def int) int {
	v, ok := u.lookup(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		u.errs = append(u.errs, fmt.Errorf("option %s: %q is not an integer", key, v))
		return def
	}
	return n
}

func (u *URI) Bool(key string, def bool) bool {
	v, ok := u.lookup(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		u.errs = append(u.errs, fmt.Errorf("option %s: %q is not a boolean", key, v))
		return def
	}
	return b
}

// Duration accepts Go durations ("1.5s") and bare integers as milliseconds.
func (u *URI) Duration(key string, def time.Duration) time.Duration {
	v, ok := u.lookup(key)
	if !ok {
		return def
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		u.errs = append(u.errs, fmt.Errorf("option %s: %q is not a duration", key, v))
		return def
	}
	return d
}

// List splits a comma separated option.
func (u *URI) List(key string) []string {
	v, ok := u.lookup(key)
	if !ok || v == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Require records an error when the option is missing or empty.
func (u *URI) Require(key, val string) {
	if val == "" {
		u.errs = append(u.errs, fmt.Errorf("option %s is required", key))
	}
}

// Err returns every option error recorded so far, plus one for each option no
// getter consumed.
func (u *URI) Err() error {
	errs := append([]error(nil), u.errs...)
	if unused := u.Unused(); len(unused) > 0 {
		errs = append(errs, fmt.Errorf("%w: %s", ErrUnknownOption, strings.Join(unused, ", ")))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%s: %w", u.raw, errors.Join(errs...))
}

func (u *URI) Unused() []string {
	var out []string
	for k := range u.params {
		if !u.used[k] {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
