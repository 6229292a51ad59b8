package sharelink

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
)

const testID = "96ce5271-7a3b-455b-adb3-69772d34d34e"

func TestLinkFields(t *testing.T) {
	l, err := New(Params{
		Name:        "app.koyeb.com",
		Address:     "www.visa.com.tw",
		Port:        443,
		ID:          testID,
		Hostname:    "alpha-beta.trycloudflare.com",
		UpgradePath: "/king",
	})
	require.NoError(t, err)

	s := l.String()
	require.True(t, strings.HasPrefix(s, "vmess://"))
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(s, "vmess://"))
	require.NoError(t, err)
	require.JSONEq(t, `{
		"v": "2", "ps": "app.koyeb.com", "add": "www.visa.com.tw", "port": 443,
		"id": "96ce5271-7a3b-455b-adb3-69772d34d34e", "aid": "0", "scy": "none",
		"net": "ws", "type": "none", "host": "alpha-beta.trycloudflare.com",
		"path": "/king?ed=2048", "tls": "tls", "sni": "alpha-beta.trycloudflare.com",
		"alpn": "", "fp": ""
	}`, string(raw))
	// field order is stable
	require.True(t, strings.HasPrefix(string(raw), `{"v":"2","ps":`))

	back, err := Parse(s)
	require.NoError(t, err)
	require.Equal(t, l, back)
}

func TestLinkDefaults(t *testing.T) {
	l, err := New(Params{Port: 443, Hostname: "h.trycloudflare.com", UpgradePath: "king"})
	require.NoError(t, err)
	require.Equal(t, "h.trycloudflare.com", l.Add)
	require.Equal(t, "/king?ed=2048", l.Path)

	id, err := uuid.FromString(l.ID)
	require.NoError(t, err)
	require.Equal(t, byte(4), id.Version())
}

func TestLinkRejectsBadInput(t *testing.T) {
	_, err := New(Params{Port: 443, Hostname: "h", ID: "not-a-uuid"})
	require.ErrorContains(t, err, "bad client id")

	_, err = New(Params{Port: 0, Hostname: "h", ID: testID})
	require.ErrorContains(t, err, "bad port")

	_, err = New(Params{Port: 443, ID: testID})
	require.ErrorContains(t, err, "no hostname")

	_, err = Parse("trojan://abc")
	require.Error(t, err)
}

func TestWriteFileReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "link.txt")
	require.NoError(t, WriteFile(path, "vmess://first"))
	require.NoError(t, WriteFile(path, "vmess://second"))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "vmess://second", string(b))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}
