package catalog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCatalog = `{
  "tag": "bento/ubuntu-18.04",
  "username": "bento",
  "name": "ubuntu-18.04",
  "versions": [
    {
      "version": "aaa",
      "status": "active",
      "providers": [
        {"name": "vmware_desktop", "url": "https://vagrantcloud.com/bento/boxes/ubuntu-18.04/versions/aaa/providers/vmware_desktop.box"}
      ]
    },
    {
      "version": "201912.04.0",
      "providers": [
        {"name": "virtualbox", "url": "https://example.com/vb-201912.box"},
        {"name": "vmware_desktop", "url": "https://example.com/vmw-201912.box", "checksum": "abc", "checksum_type": "sha256"}
      ]
    },
    {
      "version": "202001.16.0",
      "providers": [
        {"name": "virtualbox", "url": "https://example.com/vb-202001.box"}
      ]
    },
    {
      "version": "201801.02.0",
      "providers": [
        {"name": "vmware_desktop", "url": "https://example.com/vmw-201801.box"}
      ]
    }
  ]
}`

func mustParse(t *testing.T, s string) *Catalog {
	t.Helper()
	c, err := Parse([]byte(s))
	require.NoError(t, err)
	return c
}

func TestBoxName(t *testing.T) {
	tests := []struct {
		name string
		c    Catalog
		want string
	}{
		{name: "tag", c: Catalog{Tag: "bento/a", Username: "x", Name: "y"}, want: "bento/a"},
		{name: "username and name", c: Catalog{Username: "bento", Name: "a"}, want: "bento/a"},
		{name: "name only", c: Catalog{Name: "a"}, want: "a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.c.BoxName())
		})
	}
}

func TestSelect(t *testing.T) {
	c := mustParse(t, testCatalog)

	tests := []struct {
		name        string
		version     string
		provider    string
		wantVersion string
		wantURL     string
		wantErr     bool
	}{
		{
			name:        "latest vmware",
			wantVersion: "201912.04.0",
			wantURL:     "https://example.com/vmw-201912.box",
		},
		{
			name:        "latest virtualbox",
			provider:    "virtualbox",
			wantVersion: "202001.16.0",
			wantURL:     "https://example.com/vb-202001.box",
		},
		{
			name:        "explicit version",
			version:     "aaa",
			wantVersion: "aaa",
			wantURL:     "https://vagrantcloud.com/bento/boxes/ubuntu-18.04/versions/aaa/providers/vmware_desktop.box",
		},
		{
			name:        "exact provider name",
			version:     "201801.02.0",
			provider:    "vmware_desktop",
			wantVersion: "201801.02.0",
			wantURL:     "https://example.com/vmw-201801.box",
		},
		{
			name:    "missing version",
			version: "9.9.9",
			wantErr: true,
		},
		{
			name:     "version without provider",
			version:  "202001.16.0",
			provider: "vmware",
			wantErr:  true,
		},
		{
			name:     "unknown provider",
			provider: "parallels",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, p, err := c.Select(tt.version, tt.provider)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrNoMatch))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantVersion, v.Version)
			assert.Equal(t, tt.wantURL, p.URL)
		})
	}
}

func TestSelect_UnparsableVersionsKeepOrder(t *testing.T) {
	c := mustParse(t, `{"name": "x", "versions": [
		{"version": "first", "providers": [{"name": "vmware_desktop", "url": "u1"}]},
		{"version": "second", "providers": [{"name": "vmware_desktop", "url": "u2"}]}
	]}`)

	v, _, err := c.Select("", "")
	require.NoError(t, err)
	assert.Equal(t, "first", v.Version)
}

func TestSelect_Empty(t *testing.T) {
	_, _, err := (&Catalog{}).Select("", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoMatch))
}

func TestMatchProvider(t *testing.T) {
	assert.True(t, MatchProvider("vmware_desktop", "vmware"))
	assert.True(t, MatchProvider("vmware", "vmware"))
	assert.False(t, MatchProvider("vmwarefusion", "vmware"))
	assert.False(t, MatchProvider("virtualbox", "vmware"))
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte("{"))
	require.Error(t, err)
}

func TestHTTPClient_Fetch(t *testing.T) {
	var gotPath, gotAccept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAccept = r.Header.Get("Accept")
		_, _ = w.Write([]byte(testCatalog))
	}))
	defer srv.Close()

	c, err := NewHTTPClient(srv.URL+"/", nil).Fetch(context.Background(), "bento", "ubuntu-18.04")
	require.NoError(t, err)
	assert.Equal(t, "/bento/boxes/ubuntu-18.04", gotPath)
	assert.Equal(t, "application/json", gotAccept)
	assert.Equal(t, "bento/ubuntu-18.04", c.BoxName())
	assert.Len(t, c.Versions, 4)
}

func TestHTTPClient_FetchNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := NewHTTPClient(srv.URL, nil).Fetch(context.Background(), "bento", "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}
