// Package sharelink renders the client import link for the tunneled service
// once the public hostname is known.
package sharelink

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/uuid/v5"
)

const (
	// Scheme prefixes every link
	Scheme = "vmess://"
	// EarlyDataQuery is appended to the upgrade path
	EarlyDataQuery = "ed=2048"
)

// Params describe how a client reaches the service through the tunnel
type Params struct {
	// Name is the label shown in clients
	Name string
	// Address is the edge address clients connect to
	Address string
	Port    int
	// ID is the client UUID; a random one is generated when empty
	ID string
	// Hostname is the public tunnel hostname, used as Host and SNI
	Hostname string
	// UpgradePath is the websocket path the port-mux routes to the backend
	UpgradePath string
}

// Link is the JSON document carried by a vmess:// link. Field order follows
// what clients conventionally emit.
type Link struct {
	V    string `json:"v"`
	PS   string `json:"ps"`
	Add  string `json:"add"`
	Port int    `json:"port"`
	ID   string `json:"id"`
	Aid  string `json:"aid"`
	Scy  string `json:"scy"`
	Net  string `json:"net"`
	Type string `json:"type"`
	Host string `json:"host"`
	Path string `json:"path"`
	TLS  string `json:"tls"`
	SNI  string `json:"sni"`
	ALPN string `json:"alpn"`
	FP   string `json:"fp"`
}

// New validates p and builds the link document
func New(p Params) (*Link, error) {
	if p.Hostname == "" {
		return nil, fmt.Errorf("sharelink: no hostname")
	}
	if p.Address == "" {
		p.Address = p.Hostname
	}
	if p.Port <= 0 || p.Port > 65535 {
		return nil, fmt.Errorf("sharelink: bad port %d", p.Port)
	}
	id, err := parseID(p.ID)
	if err != nil {
		return nil, err
	}
	path := p.UpgradePath
	if path == "" {
		path = "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return &Link{
		V:    "2",
		PS:   p.Name,
		Add:  p.Address,
		Port: p.Port,
		ID:   id.String(),
		Aid:  "0",
		Scy:  "none",
		Net:  "ws",
		Type: "none",
		Host: p.Hostname,
		Path: path + "?" + EarlyDataQuery,
		TLS:  "tls",
		SNI:  p.Hostname,
	}, nil
}

func parseID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.NewV4()
	}
	id, err := uuid.FromString(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("sharelink: bad client id %q: %w", s, err)
	}
	return id, nil
}

// String renders the link
func (l *Link) String() string {
	b, err := json.Marshal(l)
	if err != nil {
		// Link has only string and int fields
		panic(err)
	}
	return Scheme + base64.StdEncoding.EncodeToString(b)
}

// Parse decodes a link produced by String
func Parse(s string) (*Link, error) {
	if !strings.HasPrefix(s, Scheme) {
		return nil, fmt.Errorf("sharelink: missing %s prefix", Scheme)
	}
	b, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s[len(Scheme):]))
	if err != nil {
		return nil, fmt.Errorf("sharelink: %w", err)
	}
	l := &Link{}
	if err := json.Unmarshal(b, l); err != nil {
		return nil, fmt.Errorf("sharelink: %w", err)
	}
	return l, nil
}

// WriteFile replaces path with link. Readers never see a partial file.
func WriteFile(path string, link string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.WriteString(link); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
