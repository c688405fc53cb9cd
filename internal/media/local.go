package media

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Local keeps documents under Root and serves them through expiring links
// signed with HMAC-SHA256 over "key|exp".
type Local struct {
	Root    string
	BaseURL string
	Secret  []byte
	Now     func() time.Time
}

func NewLocal(root, baseURL, secret string) (*Local, error) {
	if secret == "" {
		return nil, errors.New("media: local backend needs a signing secret")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("media: create upload dir: %w", err)
	}
	return &Local{Root: root, BaseURL: strings.TrimRight(baseURL, "/"), Secret: []byte(secret), Now: time.Now}, nil
}

func (l *Local) path(key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	return filepath.Join(l.Root, key), nil
}

func (l *Local) Save(_ context.Context, key string, r io.Reader) error {
	p, err := l.path(key)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(l.Root, ".upload-*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), p)
}

func (l *Local) Exists(_ context.Context, key string) (bool, error) {
	p, err := l.path(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

func (l *Local) Delete(_ context.Context, key string) (bool, error) {
	p, err := l.path(key)
	if err != nil {
		return false, err
	}
	err = os.Remove(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

func (l *Local) PublicURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	if ttl < time.Second {
		ttl = time.Second
	}
	exp := l.now().Add(ttl).Unix()
	q := url.Values{}
	q.Set("exp", strconv.FormatInt(exp, 10))
	q.Set("sig", l.sign(key, exp))
	return l.BaseURL + "/v1/media/" + url.PathEscape(key) + "?" + q.Encode(), nil
}

func (l *Local) LocalPath(key string) (string, bool) {
	p, err := l.path(key)
	if err != nil {
		return "", false
	}
	return p, true
}

// Verify checks a link produced by PublicURL.
func (l *Local) Verify(key, exp, sig string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	expires, err := strconv.ParseInt(exp, 10, 64)
	if err != nil {
		return ErrSignature
	}
	if l.now().Unix() > expires {
		return ErrExpired
	}
	if !hmac.Equal([]byte(l.sign(key, expires)), []byte(strings.ToLower(sig))) {
		return ErrSignature
	}
	return nil
}

func (l *Local) sign(key string, exp int64) string {
	mac := hmac.New(sha256.New, l.Secret)
	mac.Write([]byte(key + "|" + strconv.FormatInt(exp, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

func (l *Local) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}
