package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

const shareLinkPrefix = "tg://proxy?"

// ShareLink is what a tg://proxy link carries.
type ShareLink struct {
	Host   string
	Port   int
	Secret string
}

func (l ShareLink) Addr() string {
	return net.JoinHostPort(l.Host, strconv.Itoa(l.Port))
}

// BuildShareLink builds a tg://proxy link for cfg.
// advertiseHost wins over cfg.PublicHost; a wildcard listen host is never advertised.
func BuildShareLink(cfg *Config, advertiseHost string) (string, error) {
	if cfg == nil {
		return "", errors.New("nil config")
	}

	host := strings.TrimSpace(advertiseHost)
	if host == "" {
		host = cfg.PublicHost
	}
	if host == "" && cfg.Host != DefaultHost && cfg.Host != "" && cfg.Host != "::" {
		host = cfg.Host
	}
	if host == "" {
		return "", errors.New("cannot derive public host; set public_host or pass --public-host")
	}
	if cfg.Port <= 0 {
		return "", fmt.Errorf("invalid port %d", cfg.Port)
	}
	if _, err := cfg.SecretBytes(); err != nil {
		return "", err
	}

	// tg:// 客户端对参数顺序敏感，手动拼接
	return fmt.Sprintf("%sserver=%s&port=%d&secret=%s",
		shareLinkPrefix, url.QueryEscape(host), cfg.Port, cfg.Secret), nil
}

// ParseShareLink accepts tg://proxy and https://t.me/proxy links.
func ParseShareLink(link string) (*ShareLink, error) {
	link = strings.TrimSpace(link)

	var rawQuery string
	switch {
	case strings.HasPrefix(link, shareLinkPrefix):
		rawQuery = strings.TrimPrefix(link, shareLinkPrefix)
	case strings.HasPrefix(link, "https://t.me/proxy?"):
		rawQuery = strings.TrimPrefix(link, "https://t.me/proxy?")
	default:
		return nil, errors.New("invalid scheme")
	}

	q, err := url.ParseQuery(rawQuery)
	if err != nil {
		return nil, fmt.Errorf("decode share link failed: %w", err)
	}

	out := &ShareLink{
		Host:   q.Get("server"),
		Secret: strings.ToLower(q.Get("secret")),
	}
	if out.Host == "" || q.Get("port") == "" || out.Secret == "" {
		return nil, errors.New("share link missing required fields")
	}
	out.Port, err = strconv.Atoi(q.Get("port"))
	if err != nil || out.Port <= 0 || out.Port > 65535 {
		return nil, fmt.Errorf("invalid port in share link: %q", q.Get("port"))
	}
	if _, err := (&Config{Secret: out.Secret}).SecretBytes(); err != nil {
		return nil, err
	}
	return out, nil
}
